//go:build !rp2040 && !rp2350

// dhtprobe reads a DHT22 on a host GPIO and prints the results, bypassing
// the bus and HAL. It drives the same periph.io pin path the node's host
// provider uses, which makes it the first stop for wiring problems.
//
//	dhtprobe -pin 4 -count 5 -interval 2s
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"envnode-go/drivers/dht22"
)

var (
	pin      = flag.Int("pin", 4, "GPIO number of the sensor line")
	count    = flag.Int("count", 0, "number of reads; 0 reads forever")
	interval = flag.Duration("interval", 2*time.Second, "pause between reads (min 1s)")
)

func main() {
	flag.Parse()
	if *interval < time.Second {
		// The sensor needs about a second between transactions.
		*interval = time.Second
	}

	if _, err := host.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "dhtprobe: periph init:", err)
		os.Exit(1)
	}
	p := gpioreg.ByName("GPIO" + strconv.Itoa(*pin))
	if p == nil {
		fmt.Fprintln(os.Stderr, "dhtprobe: no such pin: GPIO"+strconv.Itoa(*pin))
		os.Exit(1)
	}

	drv := dht22.New(line{p: p})
	if err := drv.Configure(); err != nil {
		fmt.Fprintln(os.Stderr, "dhtprobe:", err)
		os.Exit(1)
	}

	for n := 1; *count == 0 || n <= *count; n++ {
		if n > 1 {
			time.Sleep(*interval)
		}
		r, err := drv.Read()
		if err != nil {
			fmt.Printf("read %d: %v\n", n, err)
			continue
		}
		fmt.Printf("read %d: %.1f°C  %.1f%%RH  (checksum 0x%02X)\n",
			n, r.Celsius(), r.RelHumidity(), r.Checksum)
	}
}

// line adapts a periph pin to the driver's line interface, mirroring the
// node's host provider.
type line struct {
	p gpio.PinIO
}

func (l line) ConfigureOutput(level bool) error { return l.p.Out(gpio.Level(level)) }

func (l line) ConfigureInput(pull dht22.Pull) error {
	g := gpio.Float
	if pull == dht22.PullUp {
		g = gpio.PullUp
	}
	return l.p.In(g, gpio.NoEdge)
}

func (l line) Set(level bool) error { return l.p.Out(gpio.Level(level)) }
func (l line) Get() bool            { return l.p.Read() == gpio.High }

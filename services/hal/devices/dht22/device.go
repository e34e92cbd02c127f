// services/hal/devices/dht22/device.go
package dht22dev

import (
	"context"
	"time"

	"envnode-go/errcode"
	"envnode-go/services/hal/internal/core"
	"envnode-go/types"
	"envnode-go/x/timex"

	"envnode-go/drivers/dht22"
)

// sensor is the slice of the driver the device needs; tests substitute a
// fake behind it.
type sensor interface {
	Configure(cfgs ...dht22.Config) error
	Read() (dht22.Reading, error)
}

// Device exposes one sensor as two env capabilities (temperature and
// humidity). A single transaction serves both, so reads are serialised on
// the device's own worker; Control never blocks on the wire protocol.
type Device struct {
	id    string
	name  string
	pinN  int
	every time.Duration

	reg    core.ResourceRegistry
	pub    core.EventEmitter
	drv    sensor
	drvCfg dht22.Config

	addrTemp core.CapAddr
	addrHum  core.CapAddr

	jobs chan struct{}
	quit chan struct{}
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{
		{
			Domain: "env",
			Kind:   types.KindTemperature,
			Name:   d.name,
			Info: types.Info{
				SchemaVersion: 1, Driver: "dht22",
				Detail: types.TemperatureInfo{Sensor: "dht22", Pin: d.pinN},
			},
			// One schedule drives the shared transaction; the humidity
			// value rides along on each read.
			Poll: core.PollSpec{Verb: "read", Every: d.every, Jitter: pollJitter, MinEvery: minPeriod},
		},
		{
			Domain: "env",
			Kind:   types.KindHumidity,
			Name:   d.name,
			Info: types.Info{
				SchemaVersion: 1, Driver: "dht22",
				Detail: types.HumidityInfo{Sensor: "dht22", Pin: d.pinN},
			},
		},
	}
}

func (d *Device) Init(ctx context.Context) error {
	d.addrTemp = core.CapAddr{Domain: "env", Kind: string(types.KindTemperature), Name: d.name}
	d.addrHum = core.CapAddr{Domain: "env", Kind: string(types.KindHumidity), Name: d.name}
	// Parks the line as an idle-high output.
	if err := d.drv.Configure(d.drvCfg); err != nil {
		return err
	}
	go d.run()
	return nil
}

func (d *Device) Close() error {
	close(d.quit)
	if d.reg != nil {
		d.reg.ReleaseGPIO(d.id, d.pinN)
	}
	return nil
}

func (d *Device) Control(_ core.CapAddr, verb string, _ any) (core.EnqueueResult, error) {
	switch verb {
	case "read", "read_now":
		select {
		case d.jobs <- struct{}{}:
			return core.EnqueueResult{OK: true}, nil
		default:
			// A read is already running with one more pending.
			return core.EnqueueResult{OK: false, Error: errcode.Busy}, nil
		}
	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
}

func (d *Device) run() {
	for {
		select {
		case <-d.quit:
			return
		case <-d.jobs:
			d.readOnce()
		}
	}
}

// readOnce performs one wire transaction and publishes both channels with a
// shared timestamp, or a degraded status carrying the short error code.
func (d *Device) readOnce() {
	unguard := guardJitter()
	r, err := d.drv.Read()
	unguard()

	ts := timex.NowMs()
	if err != nil {
		code := string(errcode.MapDriverErr(err))
		d.pub.Emit(core.Event{Addr: d.addrTemp, Err: code, TSms: ts})
		d.pub.Emit(core.Event{Addr: d.addrHum, Err: code, TSms: ts})
		return
	}
	d.pub.Emit(core.Event{Addr: d.addrTemp, Payload: types.TemperatureValue{DeciC: r.DeciC}, TSms: ts})
	d.pub.Emit(core.Event{Addr: d.addrHum, Payload: types.HumidityValue{DeciRH: r.DeciRH}, TSms: ts})
}

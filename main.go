// envnode: reads a DHT22 over one GPIO line, publishes the decoded values
// on the in-process bus, and forwards hal/# and node/# to the uplink.
package main

import (
	"context"
	"time"

	"envnode-go/bus"
	"envnode-go/services/config"
	"envnode-go/services/hal"
	"envnode-go/services/heartbeat"
	"envnode-go/services/uplink"
)

func main() {
	// On USB-serial targets, give the CDC console time to enumerate.
	time.Sleep(bootDelay)
	println("[main] envnode starting, profile:", profileName)

	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, profileName)
	b := bus.NewBus(16)

	hb := &heartbeat.Service{}
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		println("[main] heartbeat start failed:", err.Error())
	}
	go uplink.Start(ctx, b.NewConnection("uplink"))
	go hal.Run(ctx, b.NewConnection("hal"))

	// Config goes out last; retained per-key replay covers any service
	// that subscribes after its section was published.
	config.NewConfigService().Start(ctx, b.NewConnection("config"))

	select {}
}

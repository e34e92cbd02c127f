// services/hal/hal.go
// Package hal runs the hardware abstraction service: it consumes the device
// table from config, builds and owns devices, and publishes their
// capabilities on the bus.
package hal

import (
	"context"

	"envnode-go/bus"
	"envnode-go/services/hal/internal/core"
	"envnode-go/services/hal/internal/provider"

	// Device builders register themselves by type name.
	_ "envnode-go/services/hal/devices/dht22"
	_ "envnode-go/services/hal/devices/led"
)

// Run blocks until ctx is cancelled. Pin and peripheral access comes from
// the platform provider selected at build time.
func Run(ctx context.Context, conn *bus.Connection) {
	core.NewHAL(conn, provider.NewResources()).Run(ctx)
}

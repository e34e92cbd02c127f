package core

import (
	"context"
	"time"

	"envnode-go/errcode"
	"envnode-go/types"
)

// ---- Capability & device model ----

// CapAddr is the bus identity of one capability:
// hal/cap/<domain>/<kind>/<name>.
type CapAddr struct {
	Domain string
	Kind   string
	Name   string
}

// PollSpec declares a periodic control verb for a capability. Zero Every
// means no schedule. MinEvery is the floor applied to set_rate requests.
type PollSpec struct {
	Verb     string
	Every    time.Duration
	Jitter   time.Duration
	MinEvery time.Duration
}

type CapabilitySpec struct {
	Domain string // inferred from Kind when empty
	Kind   types.Kind
	Name   string // defaults to the device ID
	Info   types.Info
	Poll   PollSpec
}

// EnqueueResult reports whether a control verb was accepted. Slow devices
// queue the work and answer OK before it runs; Error carries the short code
// for a rejection.
type EnqueueResult struct {
	OK    bool
	Error errcode.Code
}

type Device interface {
	ID() string
	Capabilities() []CapabilitySpec
	Init(ctx context.Context) error
	// Control must not block. Work that takes real time goes through the
	// device's own worker; telemetry comes back via the event emitter.
	Control(addr CapAddr, verb string, payload any) (EnqueueResult, error)
	Close() error
}

// Builder input
type BuilderInput struct {
	ID, Type string
	Params   any
	Res      Resources
}

type Builder interface {
	Build(ctx context.Context, in BuilderInput) (Device, error)
}

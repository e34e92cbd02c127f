package core

import (
	"errors"
	"image/color"
)

// ---- GPIO handles ----

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// GPIOHandle drives one claimed pin. Set is fallible because the platform
// write can be (periph's Out returns an error); drivers that distinguish
// line faults from timeouts depend on seeing that failure.
type GPIOHandle interface {
	Number() int
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool) error
	Get() bool
	Toggle()
}

// ---- Addressable LED strips ----

// PixelOwner drives a chain of smart pixels on one pin. Providers without
// the peripheral return ErrUnsupported from ClaimPixels.
type PixelOwner interface {
	WriteColors(buf []color.RGBA) error
}

// ---- Device → HAL telemetry (single shape) ----
// An Event is normally a value update for a capability, published retained
// to .../value. IsEvent selects the non-retained .../event topic instead.
// A non-empty Err suppresses both and publishes .../status=degraded.

type Event struct {
	Addr     CapAddr
	Payload  any    // typed value payload (e.g. types.TemperatureValue)
	TSms     int64  // ms timestamp
	Err      string // "timeout","line_fault","bad_checksum",...
	IsEvent  bool
	EventTag string // optional subtopic tag for events
}

// ---- Event emission (devices → HAL) ----

type EventEmitter interface {
	// Emit tries to enqueue an Event for HAL publication.
	// It must be non-blocking; false indicates a drop under pressure.
	Emit(ev Event) bool
}

// ---- HAL-injected resources ----

type Resources struct {
	Reg ResourceRegistry
	Pub EventEmitter // provided by HAL; devices use it to emit values/events
}

// ---- Unified registry interface ----

type ResourceRegistry interface {
	// GPIO
	ClaimGPIO(devID string, pin int) (GPIOHandle, error)
	ReleaseGPIO(devID string, pin int)

	// Smart pixel chains
	ClaimPixels(devID string, pin int) (PixelOwner, error)
	ReleasePixels(devID string, pin int)
}

// Short error codes

var (
	ErrUnknownPin  = errors.New("unknown_pin")
	ErrPinInUse    = errors.New("pin_in_use")
	ErrUnsupported = errors.New("unsupported")
)

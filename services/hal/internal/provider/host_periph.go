//go:build !rp2040 && !rp2350 && !rpi

package provider

import (
	"strconv"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"envnode-go/services/hal/internal/core"
)

// Ensure the provider satisfies the contract at compile time.
var _ core.ResourceRegistry = (*hostRegistry)(nil)

// -----------------------------------------------------------------------------
// GPIO handle
// -----------------------------------------------------------------------------

type hostGPIO struct {
	p gpio.PinIO
	n int
}

func (g *hostGPIO) Number() int { return g.n }

func (g *hostGPIO) ConfigureInput(pull core.Pull) error {
	var p gpio.Pull
	switch pull {
	case core.PullUp:
		p = gpio.PullUp
	case core.PullDown:
		p = gpio.PullDown
	default:
		p = gpio.Float
	}
	return g.p.In(p, gpio.NoEdge)
}

func (g *hostGPIO) ConfigureOutput(initial bool) error {
	return g.p.Out(gpio.Level(initial))
}

func (g *hostGPIO) Set(b bool) error { return g.p.Out(gpio.Level(b)) }
func (g *hostGPIO) Get() bool        { return g.p.Read() == gpio.High }
func (g *hostGPIO) Toggle()          { _ = g.p.Out(!g.p.Read()) }

// -----------------------------------------------------------------------------
// Resource registry
// -----------------------------------------------------------------------------

type hostRegistry struct {
	mu     sync.Mutex
	owners map[int]string
	gpios  map[int]*hostGPIO
}

var (
	hostOnce    sync.Once
	hostInitErr error
)

// NewResources initialises the periph host drivers once and returns the
// registry. An init failure is logged; pin claims will then fail with
// unknown_pin.
func NewResources() core.Resources {
	hostOnce.Do(func() { _, hostInitErr = host.Init() })
	if hostInitErr != nil {
		println("[provider] periph host init failed:", hostInitErr.Error())
	}
	return core.Resources{Reg: &hostRegistry{
		owners: map[int]string{},
		gpios:  map[int]*hostGPIO{},
	}}
}

func (r *hostRegistry) ClaimGPIO(devID string, pin int) (core.GPIOHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, inUse := r.owners[pin]; inUse && owner != devID {
		return nil, core.ErrPinInUse
	}
	h := r.gpios[pin]
	if h == nil {
		p := gpioreg.ByName("GPIO" + strconv.Itoa(pin))
		if p == nil {
			return nil, core.ErrUnknownPin
		}
		h = &hostGPIO{p: p, n: pin}
		r.gpios[pin] = h
	}
	r.owners[pin] = devID
	return h, nil
}

func (r *hostRegistry) ReleaseGPIO(devID string, pin int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[pin]; ok && owner == devID {
		if h := r.gpios[pin]; h != nil {
			_ = h.p.In(gpio.Float, gpio.NoEdge)
		}
		delete(r.owners, pin)
	}
}

func (r *hostRegistry) ClaimPixels(string, int) (core.PixelOwner, error) {
	return nil, core.ErrUnsupported
}

func (r *hostRegistry) ReleasePixels(string, int) {}

//go:build rp2040 || rp2350

package provider

import (
	"image/color"
	"machine"
	"sync"

	"tinygo.org/x/drivers/ws2812"

	"envnode-go/services/hal/internal/core"
)

var _ core.ResourceRegistry = (*rp2Registry)(nil)

const rp2GPIOMax = 29

// -----------------------------------------------------------------------------
// GPIO handle
// -----------------------------------------------------------------------------

type rp2GPIO struct {
	p machine.Pin
	n int
}

func (g *rp2GPIO) Number() int { return g.n }

func (g *rp2GPIO) ConfigureInput(pull core.Pull) error {
	var mode machine.PinMode
	switch pull {
	case core.PullUp:
		mode = machine.PinInputPullup
	case core.PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	g.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (g *rp2GPIO) ConfigureOutput(initial bool) error {
	g.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	g.p.Set(initial)
	return nil
}

func (g *rp2GPIO) Set(b bool) error { g.p.Set(b); return nil }
func (g *rp2GPIO) Get() bool        { return g.p.Get() }
func (g *rp2GPIO) Toggle() {
	if g.p.Get() {
		g.p.Low()
	} else {
		g.p.High()
	}
}

// -----------------------------------------------------------------------------
// Pixel chain handle
// -----------------------------------------------------------------------------

type rp2Pixels struct {
	d ws2812.Device
}

func (x *rp2Pixels) WriteColors(buf []color.RGBA) error { return x.d.WriteColors(buf) }

// -----------------------------------------------------------------------------
// Resource registry
// -----------------------------------------------------------------------------

type rp2Registry struct {
	mu     sync.Mutex
	owners map[int]string
	gpios  map[int]*rp2GPIO
}

func NewResources() core.Resources {
	return core.Resources{Reg: &rp2Registry{
		owners: map[int]string{},
		gpios:  map[int]*rp2GPIO{},
	}}
}

func (r *rp2Registry) claim(devID string, pin int) error {
	if pin < 0 || pin > rp2GPIOMax {
		return core.ErrUnknownPin
	}
	if owner, inUse := r.owners[pin]; inUse && owner != devID {
		return core.ErrPinInUse
	}
	r.owners[pin] = devID
	return nil
}

func (r *rp2Registry) ClaimGPIO(devID string, pin int) (core.GPIOHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claim(devID, pin); err != nil {
		return nil, err
	}
	h := r.gpios[pin]
	if h == nil {
		h = &rp2GPIO{p: machine.Pin(pin), n: pin}
		r.gpios[pin] = h
	}
	return h, nil
}

func (r *rp2Registry) ReleaseGPIO(devID string, pin int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[pin]; ok && owner == devID {
		machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinInput})
		delete(r.owners, pin)
	}
}

func (r *rp2Registry) ClaimPixels(devID string, pin int) (core.PixelOwner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claim(devID, pin); err != nil {
		return nil, err
	}
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &rp2Pixels{d: ws2812.New(p)}, nil
}

func (r *rp2Registry) ReleasePixels(devID string, pin int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[pin]; ok && owner == devID {
		machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinInput})
		delete(r.owners, pin)
	}
}

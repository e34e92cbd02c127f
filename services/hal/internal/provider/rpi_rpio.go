//go:build rpi

package provider

import (
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"

	"envnode-go/services/hal/internal/core"
)

var _ core.ResourceRegistry = (*rpiRegistry)(nil)

// BCM numbering; header pins end at GPIO27.
const rpiGPIOMax = 27

// -----------------------------------------------------------------------------
// GPIO handle
// -----------------------------------------------------------------------------

// rpiGPIO drives a pin through the memory-mapped register file, which keeps
// Get cheap enough for tight polling loops.
type rpiGPIO struct {
	p rpio.Pin
}

func (g *rpiGPIO) Number() int { return int(g.p) }

func (g *rpiGPIO) ConfigureInput(pull core.Pull) error {
	g.p.Input()
	switch pull {
	case core.PullUp:
		g.p.PullUp()
	case core.PullDown:
		g.p.PullDown()
	default:
		g.p.PullOff()
	}
	return nil
}

func (g *rpiGPIO) ConfigureOutput(initial bool) error {
	g.p.Output()
	return g.Set(initial)
}

// Set cannot fail on mmap'd registers; the error return satisfies the
// handle contract.
func (g *rpiGPIO) Set(b bool) error {
	if b {
		g.p.High()
	} else {
		g.p.Low()
	}
	return nil
}

func (g *rpiGPIO) Get() bool { return g.p.Read() == rpio.High }
func (g *rpiGPIO) Toggle()   { g.p.Toggle() }

// -----------------------------------------------------------------------------
// Resource registry
// -----------------------------------------------------------------------------

type rpiRegistry struct {
	mu     sync.Mutex
	owners map[int]string
}

var (
	rpioOnce    sync.Once
	rpioOpenErr error
)

func NewResources() core.Resources {
	rpioOnce.Do(func() { rpioOpenErr = rpio.Open() })
	if rpioOpenErr != nil {
		println("[provider] rpio open failed:", rpioOpenErr.Error())
	}
	return core.Resources{Reg: &rpiRegistry{owners: map[int]string{}}}
}

func (r *rpiRegistry) ClaimGPIO(devID string, pin int) (core.GPIOHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rpioOpenErr != nil || pin < 0 || pin > rpiGPIOMax {
		return nil, core.ErrUnknownPin
	}
	if owner, inUse := r.owners[pin]; inUse && owner != devID {
		return nil, core.ErrPinInUse
	}
	r.owners[pin] = devID
	return &rpiGPIO{p: rpio.Pin(pin)}, nil
}

func (r *rpiRegistry) ReleaseGPIO(devID string, pin int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[pin]; ok && owner == devID {
		p := rpio.Pin(pin)
		p.Input()
		p.PullOff()
		delete(r.owners, pin)
	}
}

func (r *rpiRegistry) ClaimPixels(string, int) (core.PixelOwner, error) {
	return nil, core.ErrUnsupported
}

func (r *rpiRegistry) ReleasePixels(string, int) {}

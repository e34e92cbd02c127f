package led

import (
	"context"
	"errors"
	"image/color"
	"sync"
	"testing"

	"envnode-go/errcode"
	"envnode-go/services/hal/internal/core"
	"envnode-go/types"
)

// ---- Test doubles ----

type fakePin struct {
	n      int
	level  bool
	config string
	pull   core.Pull
	setErr error
}

func (p *fakePin) Number() int { return p.n }
func (p *fakePin) ConfigureInput(pull core.Pull) error {
	p.config, p.pull = "in", pull
	return nil
}
func (p *fakePin) ConfigureOutput(initial bool) error {
	p.config, p.level = "out", initial
	return nil
}
func (p *fakePin) Set(b bool) error {
	if p.setErr != nil {
		return p.setErr
	}
	p.level = b
	return nil
}
func (p *fakePin) Get() bool { return p.level }
func (p *fakePin) Toggle()   { p.level = !p.level }

type fakePixels struct {
	writes [][]color.RGBA
	err    error
}

func (f *fakePixels) WriteColors(buf []color.RGBA) error {
	if f.err != nil {
		return f.err
	}
	cp := make([]color.RGBA, len(buf))
	copy(cp, buf)
	f.writes = append(f.writes, cp)
	return nil
}

type fakeRegistry struct {
	pin      *fakePin
	px       *fakePixels
	pxErr    error
	released []int
}

func (r *fakeRegistry) ClaimGPIO(devID string, pin int) (core.GPIOHandle, error) {
	r.pin = &fakePin{n: pin}
	return r.pin, nil
}
func (r *fakeRegistry) ReleaseGPIO(devID string, pin int) { r.released = append(r.released, pin) }
func (r *fakeRegistry) ClaimPixels(devID string, pin int) (core.PixelOwner, error) {
	if r.pxErr != nil {
		return nil, r.pxErr
	}
	if r.px == nil {
		r.px = &fakePixels{}
	}
	return r.px, nil
}
func (r *fakeRegistry) ReleasePixels(devID string, pin int) { r.released = append(r.released, pin) }

type captureEmitter struct {
	mu     sync.Mutex
	events []core.Event
}

func (c *captureEmitter) Emit(ev core.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return true
}

func (c *captureEmitter) last(t *testing.T) core.Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		t.Fatal("no events emitted")
	}
	return c.events[len(c.events)-1]
}

func buildLED(t *testing.T, params any) (*Device, *fakeRegistry, *captureEmitter) {
	t.Helper()
	reg := &fakeRegistry{}
	em := &captureEmitter{}
	dev, err := builder{}.Build(context.Background(), core.BuilderInput{
		ID: "led0", Type: "gpio_led",
		Params: params,
		Res:    core.Resources{Reg: reg, Pub: em},
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	return dev.(*Device), reg, em
}

// ---- GPIO LED ----

func TestLEDInitDrivesInitialLevel(t *testing.T) {
	d, reg, em := buildLED(t, map[string]any{"pin": float64(17), "initial": true})
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if reg.pin.config != "out" || !reg.pin.level {
		t.Fatalf("pin state = %q/%v (want out/high)", reg.pin.config, reg.pin.level)
	}
	v, ok := em.last(t).Payload.(types.LEDValue)
	if !ok || v.Level != 1 {
		t.Fatalf("initial value = %#v (want level 1)", em.last(t).Payload)
	}
}

func TestLEDSetToggleRead(t *testing.T) {
	d, reg, em := buildLED(t, Params{Pin: 5})
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	res, err := d.Control(d.addr, "set", types.LEDSet{Level: true})
	if err != nil || !res.OK {
		t.Fatalf("set: res=%+v err=%v", res, err)
	}
	if !reg.pin.level {
		t.Fatal("pin not driven high by set")
	}
	if v := em.last(t).Payload.(types.LEDValue); v.Level != 1 {
		t.Fatalf("value after set = %d (want 1)", v.Level)
	}

	// Map payload form, as it arrives off the wire.
	res, err = d.Control(d.addr, "set", map[string]any{"level": false})
	if err != nil || !res.OK {
		t.Fatalf("set(map): res=%+v err=%v", res, err)
	}
	if reg.pin.level {
		t.Fatal("pin not driven low by set(map)")
	}

	if res, _ := d.Control(d.addr, "toggle", nil); !res.OK {
		t.Fatalf("toggle rejected: %+v", res)
	}
	if !reg.pin.level {
		t.Fatal("toggle did not flip the pin")
	}

	if res, _ := d.Control(d.addr, "read", nil); !res.OK {
		t.Fatalf("read rejected: %+v", res)
	}
	if v := em.last(t).Payload.(types.LEDValue); v.Level != 1 {
		t.Fatalf("value after read = %d (want 1)", v.Level)
	}
}

func TestLEDActiveLowInvertsPhysicalLevel(t *testing.T) {
	d, reg, _ := buildLED(t, Params{Pin: 5, ActiveLow: true, Initial: true})
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	// Logical on = physical low.
	if reg.pin.level {
		t.Fatal("active-low initial on should park the pin low")
	}
	if !d.getLogical() {
		t.Fatal("logical state should read on")
	}

	d.Control(d.addr, "set", types.LEDSet{Level: false})
	if !reg.pin.level {
		t.Fatal("active-low off should drive the pin high")
	}
}

func TestLEDRejectsBadPayloadAndVerb(t *testing.T) {
	d, _, _ := buildLED(t, Params{Pin: 5})

	res, err := d.Control(d.addr, "set", "nonsense")
	if err != nil || res.OK || res.Error != errcode.InvalidPayload {
		t.Fatalf("bad payload: res=%+v err=%v", res, err)
	}
	res, err = d.Control(d.addr, "blink", nil)
	if err != nil || res.OK || res.Error != errcode.Unsupported {
		t.Fatalf("bad verb: res=%+v err=%v", res, err)
	}
}

func TestLEDSetReportsLineFault(t *testing.T) {
	d, reg, em := buildLED(t, Params{Pin: 5})
	before := len(em.events)
	reg.pin.setErr = errors.New("gpio write rejected")

	res, err := d.Control(d.addr, "set", types.LEDSet{Level: true})
	if err != nil || res.OK || res.Error != errcode.LineFault {
		t.Fatalf("failing set: res=%+v err=%v (want line_fault)", res, err)
	}
	res, err = d.Control(d.addr, "toggle", nil)
	if err != nil || res.OK || res.Error != errcode.LineFault {
		t.Fatalf("failing toggle: res=%+v err=%v (want line_fault)", res, err)
	}
	if len(em.events) != before {
		t.Fatalf("value emitted despite failed write: %+v", em.events[len(em.events)-1])
	}
}

func TestLEDCloseReleasesPin(t *testing.T) {
	d, reg, _ := buildLED(t, Params{Pin: 9})
	if err := d.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if len(reg.released) != 1 || reg.released[0] != 9 {
		t.Fatalf("released = %v (want [9])", reg.released)
	}
}

func TestLEDCapability(t *testing.T) {
	d, _, _ := buildLED(t, Params{Pin: 9, Name: "status"})
	caps := d.Capabilities()
	if len(caps) != 1 {
		t.Fatalf("capabilities = %d (want 1)", len(caps))
	}
	c := caps[0]
	if c.Domain != "io" || c.Kind != types.KindLED || c.Name != "status" {
		t.Fatalf("capability = %+v", c)
	}
	info, ok := c.Info.Detail.(types.LEDInfo)
	if !ok || info.Pin != 9 {
		t.Fatalf("info detail = %#v", c.Info.Detail)
	}
	if c.Poll.Verb != "" {
		t.Fatalf("unexpected poll schedule: %+v", c.Poll)
	}
}

// ---- WS2812 chain ----

func buildPixels(t *testing.T, params any) (*PixelDevice, *fakeRegistry, *captureEmitter) {
	t.Helper()
	reg := &fakeRegistry{}
	em := &captureEmitter{}
	dev, err := pixelBuilder{}.Build(context.Background(), core.BuilderInput{
		ID: "strip0", Type: "led_ws2812",
		Params: params,
		Res:    core.Resources{Reg: reg, Pub: em},
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	return dev.(*PixelDevice), reg, em
}

func TestPixelsSetWritesWholeChain(t *testing.T) {
	d, reg, em := buildPixels(t, map[string]any{"pin": float64(16), "count": float64(3)})
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	// Init clears the chain.
	if n := len(reg.px.writes); n != 1 || len(reg.px.writes[0]) != 3 {
		t.Fatalf("init writes = %d×%d", n, len(reg.px.writes[0]))
	}
	for _, c := range reg.px.writes[0] {
		if c != (color.RGBA{}) {
			t.Fatalf("init color = %+v (want off)", c)
		}
	}

	res, err := d.Control(d.addr, "set", types.LEDSet{Level: true})
	if err != nil || !res.OK {
		t.Fatalf("set: res=%+v err=%v", res, err)
	}
	w := reg.px.writes[len(reg.px.writes)-1]
	for _, c := range w {
		if c != (color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF}) {
			t.Fatalf("set color = %+v (want white)", c)
		}
	}
	if v := em.last(t).Payload.(types.LEDValue); v.Level != 1 {
		t.Fatalf("value after set = %d (want 1)", v.Level)
	}

	if res, _ := d.Control(d.addr, "toggle", nil); !res.OK {
		t.Fatal("toggle rejected")
	}
	w = reg.px.writes[len(reg.px.writes)-1]
	if w[0] != (color.RGBA{}) {
		t.Fatalf("toggle color = %+v (want off)", w[0])
	}
}

func TestPixelsWriteFailureReportsCode(t *testing.T) {
	d, reg, _ := buildPixels(t, PixelParams{Pin: 16})
	reg.px.err = errors.New("dma underrun")

	res, err := d.Control(d.addr, "set", types.LEDSet{Level: true})
	if err != nil || res.OK {
		t.Fatalf("set should fail cleanly: res=%+v err=%v", res, err)
	}
	if res.Error != errcode.Error {
		t.Fatalf("error code = %v (want generic)", res.Error)
	}
	// Logical state must not advance past a failed write.
	if d.on {
		t.Fatal("state advanced despite write failure")
	}
}

func TestPixelsClaimUnsupported(t *testing.T) {
	reg := &fakeRegistry{pxErr: core.ErrUnsupported}
	_, err := pixelBuilder{}.Build(context.Background(), core.BuilderInput{
		ID: "strip0", Type: "led_ws2812",
		Params: PixelParams{Pin: 16},
		Res:    core.Resources{Reg: reg, Pub: &captureEmitter{}},
	})
	if !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("err = %v (want unsupported)", err)
	}
}

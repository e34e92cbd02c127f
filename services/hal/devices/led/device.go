package led

import (
	"context"

	"envnode-go/errcode"
	"envnode-go/services/hal/internal/core"
	"envnode-go/types"
	"envnode-go/x/timex"
)

// Device drives one LED on a plain GPIO. Everything is immediate: the pin
// write happens inside Control, so there is no worker and no queue.
type Device struct {
	id        string
	name      string
	pinN      int
	activeLow bool
	initial   bool

	pin core.GPIOHandle
	reg core.ResourceRegistry
	pub core.EventEmitter

	addr core.CapAddr
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{{
		Domain: "io",
		Kind:   types.KindLED,
		Name:   d.name,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "gpio_led",
			Detail:        types.LEDInfo{Pin: d.pinN},
		},
	}}
}

func (d *Device) Init(ctx context.Context) error {
	level := d.initial
	if d.activeLow {
		level = !level
	}
	if err := d.pin.ConfigureOutput(level); err != nil {
		return err
	}
	d.emitValueNow()
	return nil
}

func (d *Device) Close() error {
	if d.reg != nil {
		d.reg.ReleaseGPIO(d.id, d.pinN)
	}
	return nil
}

func (d *Device) Control(_ core.CapAddr, verb string, payload any) (core.EnqueueResult, error) {
	switch verb {
	case "set":
		on, ok := levelOf(payload)
		if !ok {
			return core.EnqueueResult{OK: false, Error: errcode.InvalidPayload}, nil
		}
		if err := d.setLogical(on); err != nil {
			return core.EnqueueResult{OK: false, Error: errcode.LineFault}, nil
		}
		d.emitValueNow()
		return core.EnqueueResult{OK: true}, nil
	case "toggle":
		if err := d.setLogical(!d.getLogical()); err != nil {
			return core.EnqueueResult{OK: false, Error: errcode.LineFault}, nil
		}
		d.emitValueNow()
		return core.EnqueueResult{OK: true}, nil
	case "read":
		d.emitValueNow()
		return core.EnqueueResult{OK: true}, nil
	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
}

func (d *Device) setLogical(on bool) error {
	level := on
	if d.activeLow {
		level = !level
	}
	return d.pin.Set(level)
}

func (d *Device) getLogical() bool {
	level := d.pin.Get()
	if d.activeLow {
		level = !level
	}
	return level
}

func (d *Device) emitValueNow() {
	var v uint8
	if d.getLogical() {
		v = 1
	}
	_ = d.pub.Emit(core.Event{
		Addr:    d.addr,
		Payload: types.LEDValue{Level: v},
		TSms:    timex.NowMs(),
	})
}

// levelOf accepts the typed set payload or its decoded-JSON map form.
func levelOf(payload any) (bool, bool) {
	switch p := payload.(type) {
	case types.LEDSet:
		return p.Level, true
	case *types.LEDSet:
		return p.Level, true
	case map[string]any:
		b, ok := p["level"].(bool)
		return b, ok
	default:
		return false, false
	}
}

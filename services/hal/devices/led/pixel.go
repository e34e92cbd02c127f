package led

import (
	"context"
	"image/color"

	"envnode-go/errcode"
	"envnode-go/services/hal/internal/core"
	"envnode-go/types"
	"envnode-go/x/timex"
)

func init() { core.RegisterBuilder("led_ws2812", pixelBuilder{}) }

// PixelParams configures a WS2812 chain treated as one logical LED: "set"
// lights or clears the whole chain. Providers without the peripheral fail
// the claim, so the builder only succeeds where the strip can be driven.
type PixelParams struct {
	Pin   int
	Count int    // pixels on the chain; 0 = 1
	Name  string // capability name; defaults to the device ID
}

type pixelBuilder struct{}

func (pixelBuilder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, err := parsePixelParams(in.Params)
	if err != nil {
		return nil, err
	}
	if p.Pin < 0 {
		return nil, errcode.InvalidParams
	}
	if p.Count <= 0 {
		p.Count = 1
	}
	px, err := in.Res.Reg.ClaimPixels(in.ID, p.Pin)
	if err != nil {
		return nil, err
	}
	d := &PixelDevice{
		id:   in.ID,
		name: p.Name,
		pinN: p.Pin,
		buf:  make([]color.RGBA, p.Count),
		px:   px,
		reg:  in.Res.Reg,
		pub:  in.Res.Pub,
	}
	if d.name == "" {
		d.name = in.ID
	}
	d.addr = core.CapAddr{Domain: "io", Kind: string(types.KindLED), Name: d.name}
	return d, nil
}

func parsePixelParams(v any) (PixelParams, error) {
	switch p := v.(type) {
	case PixelParams:
		return p, nil
	case *PixelParams:
		return *p, nil
	case map[string]any:
		var out PixelParams
		if n, ok := p["pin"].(float64); ok {
			out.Pin = int(n)
		}
		if n, ok := p["count"].(float64); ok {
			out.Count = int(n)
		}
		out.Name, _ = p["name"].(string)
		return out, nil
	default:
		return PixelParams{}, errcode.InvalidParams
	}
}

type PixelDevice struct {
	id   string
	name string
	pinN int
	on   bool
	buf  []color.RGBA

	px  core.PixelOwner
	reg core.ResourceRegistry
	pub core.EventEmitter

	addr core.CapAddr
}

func (d *PixelDevice) ID() string { return d.id }

func (d *PixelDevice) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{{
		Domain: "io",
		Kind:   types.KindLED,
		Name:   d.name,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "led_ws2812",
			Detail:        types.LEDInfo{Pin: d.pinN},
		},
	}}
}

func (d *PixelDevice) Init(ctx context.Context) error {
	if err := d.write(false); err != nil {
		return err
	}
	d.emitValueNow()
	return nil
}

func (d *PixelDevice) Close() error {
	if d.reg != nil {
		d.reg.ReleasePixels(d.id, d.pinN)
	}
	return nil
}

func (d *PixelDevice) Control(_ core.CapAddr, verb string, payload any) (core.EnqueueResult, error) {
	switch verb {
	case "set":
		on, ok := levelOf(payload)
		if !ok {
			return core.EnqueueResult{OK: false, Error: errcode.InvalidPayload}, nil
		}
		if err := d.write(on); err != nil {
			return core.EnqueueResult{OK: false, Error: errcode.Of(err)}, nil
		}
		d.emitValueNow()
		return core.EnqueueResult{OK: true}, nil
	case "toggle":
		if err := d.write(!d.on); err != nil {
			return core.EnqueueResult{OK: false, Error: errcode.Of(err)}, nil
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

func (d *PixelDevice) write(on bool) error {
	c := color.RGBA{}
	if on {
		c = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF}
	}
	for i := range d.buf {
		d.buf[i] = c
	}
	if err := d.px.WriteColors(d.buf); err != nil {
		return err
	}
	d.on = on
	return nil
}

func (d *PixelDevice) emitValueNow() {
	var v uint8
	if d.on {
		v = 1
	}
	_ = d.pub.Emit(core.Event{
		Addr:    d.addr,
		Payload: types.LEDValue{Level: v},
		TSms:    timex.NowMs(),
	})
}

package led

import (
	"context"

	"envnode-go/errcode"
	"envnode-go/services/hal/internal/core"
	"envnode-go/types"
)

func init() { core.RegisterBuilder("gpio_led", builder{}) }

type Params struct {
	Pin       int
	ActiveLow bool
	Initial   bool
	Name      string // capability name; defaults to the device ID
}

type builder struct{}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, err := parseParams(in.Params)
	if err != nil {
		return nil, err
	}
	if p.Pin < 0 {
		return nil, errcode.InvalidParams
	}
	h, err := in.Res.Reg.ClaimGPIO(in.ID, p.Pin)
	if err != nil {
		return nil, err
	}
	d := &Device{
		id:        in.ID,
		name:      p.Name,
		pinN:      p.Pin,
		activeLow: p.ActiveLow,
		initial:   p.Initial,
		pin:       h,
		reg:       in.Res.Reg,
		pub:       in.Res.Pub,
	}
	if d.name == "" {
		d.name = in.ID
	}
	d.addr = core.CapAddr{Domain: "io", Kind: string(types.KindLED), Name: d.name}
	return d, nil
}

func parseParams(v any) (Params, error) {
	switch p := v.(type) {
	case Params:
		return p, nil
	case *Params:
		return *p, nil
	case map[string]any:
		var out Params
		if n, ok := p["pin"].(float64); ok {
			out.Pin = int(n)
		}
		out.ActiveLow, _ = p["active_low"].(bool)
		out.Initial, _ = p["initial"].(bool)
		out.Name, _ = p["name"].(string)
		return out, nil
	default:
		return Params{}, errcode.InvalidParams
	}
}

// services/hal/devices/dht22/builder.go
package dht22dev

import (
	"context"
	"time"

	"envnode-go/errcode"
	"envnode-go/services/hal/internal/core"
	"envnode-go/x/mathx"

	"envnode-go/drivers/dht22"
)

func init() { core.RegisterBuilder("dht22", builder{}) }

const (
	defaultPeriod = 10 * time.Second
	// The sensor needs its internal cycle to settle between transactions;
	// faster polling just reads stale or garbled frames.
	minPeriod  = time.Second
	pollJitter = 250 * time.Millisecond
)

type Params struct {
	Pin     int
	PeriodS int    // poll period in seconds; 0 = default
	Name    string // capability name; defaults to the device ID
	Pull    string // "up" (default) or "none"

	// Timing overrides in µs; zero keeps the protocol defaults. Exposed
	// because batch tolerances and wiring length shift the safe margins.
	RequestLowUs      int
	RequestHighUs     int
	HandshakeUs       int
	HandshakeMarginUs int
	BitLowUs          int
	BitHighUs         int
	BitThresholdUs    int
	BitMarginUs       int
	SettleUs          int
}

func (p Params) driverConfig() dht22.Config {
	us := func(n int) time.Duration { return time.Duration(n) * time.Microsecond }
	cfg := dht22.Config{
		RequestLow:      us(p.RequestLowUs),
		RequestHigh:     us(p.RequestHighUs),
		Handshake:       us(p.HandshakeUs),
		HandshakeMargin: us(p.HandshakeMarginUs),
		BitLow:          us(p.BitLowUs),
		BitHigh:         us(p.BitHighUs),
		BitThreshold:    us(p.BitThresholdUs),
		BitMargin:       us(p.BitMarginUs),
		Settle:          us(p.SettleUs),
	}
	if p.Pull == "none" {
		cfg.Pull = dht22.PullNone
	}
	return cfg
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
	every := time.Duration(p.PeriodS) * time.Second
	if every <= 0 {
		every = defaultPeriod
	}
	every = mathx.Max(every, minPeriod)

	h, err := in.Res.Reg.ClaimGPIO(in.ID, p.Pin)
	if err != nil {
		return nil, err
	}

	d := &Device{
		id:     in.ID,
		pinN:   p.Pin,
		name:   p.Name,
		every:  every,
		reg:    in.Res.Reg,
		pub:    in.Res.Pub,
		drvCfg: p.driverConfig(),
		jobs:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	if d.name == "" {
		d.name = in.ID
	}
	drv := dht22.New(lineAdapter{h: h})
	d.drv = &drv
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
		out.Pin = pint(p, "pin")
		out.PeriodS = pint(p, "period_s")
		out.Name, _ = p["name"].(string)
		out.Pull, _ = p["pull"].(string)
		out.RequestLowUs = pint(p, "request_low_us")
		out.RequestHighUs = pint(p, "request_high_us")
		out.HandshakeUs = pint(p, "handshake_us")
		out.HandshakeMarginUs = pint(p, "handshake_margin_us")
		out.BitLowUs = pint(p, "bit_low_us")
		out.BitHighUs = pint(p, "bit_high_us")
		out.BitThresholdUs = pint(p, "bit_threshold_us")
		out.BitMarginUs = pint(p, "bit_margin_us")
		out.SettleUs = pint(p, "settle_us")
		return out, nil
	default:
		return Params{}, errcode.InvalidParams
	}
}

// JSON numbers decode as float64.
func pint(m map[string]any, k string) int {
	if v, ok := m[k].(float64); ok {
		return int(v)
	}
	return 0
}

// lineAdapter bridges the HAL pin handle to the driver's line interface;
// the two packages declare pull bias independently.
type lineAdapter struct {
	h core.GPIOHandle
}

func (a lineAdapter) ConfigureOutput(level bool) error { return a.h.ConfigureOutput(level) }

func (a lineAdapter) ConfigureInput(pull dht22.Pull) error {
	p := core.PullNone
	if pull == dht22.PullUp {
		p = core.PullUp
	}
	return a.h.ConfigureInput(p)
}

func (a lineAdapter) Set(level bool) error { return a.h.Set(level) }
func (a lineAdapter) Get() bool            { return a.h.Get() }

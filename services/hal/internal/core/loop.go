package core

import (
	"context"
	"time"

	"envnode-go/bus"
	"envnode-go/errcode"
	"envnode-go/types"
	"envnode-go/x/mathx"
	"envnode-go/x/timex"
)

const (
	eventQueueLen = 16
	pollQueueLen  = 8
)

type capKey struct {
	domain string
	kind   string
	name   string
}

type capEntry struct {
	devID string
	poll  PollSpec
}

type HAL struct {
	conn *bus.Connection
	res  Resources

	// Device registry
	dev map[string]Device // devID -> device

	// Capability index: (domain,kind,name) -> owner + poll spec
	capIndex map[capKey]capEntry

	cfgSub  *bus.Subscription
	ctrlSub *bus.Subscription

	// Single-threaded publication of device events
	evCh chan Event

	poller *Poller
	pollCh chan PollReq
}

func NewHAL(conn *bus.Connection, res Resources) *HAL {
	h := &HAL{
		conn:     conn,
		res:      res,
		dev:      map[string]Device{},
		capIndex: map[capKey]capEntry{},
		evCh:     make(chan Event, eventQueueLen),
		pollCh:   make(chan PollReq, pollQueueLen),
	}
	h.poller = NewPoller(h.pollCh)
	// HAL provides the emitter to devices.
	h.res.Pub = h
	return h
}

func (h *HAL) Run(ctx context.Context) {
	h.cfgSub = h.conn.Subscribe(topicConfigHAL())
	h.ctrlSub = h.conn.Subscribe(ctrlWildcard())
	defer h.conn.Unsubscribe(h.cfgSub)
	defer h.conn.Unsubscribe(h.ctrlSub)

	go h.poller.Run(ctx)

	h.pubHALState("idle", "awaiting_config")
	ready := false
	for {
		select {
		case <-ctx.Done():
			h.closeDevices()
			h.pubHALState("stopped", "context_cancelled")
			return
		case msg := <-h.cfgSub.Channel():
			if cfg, ok := decodeHALConfig(msg.Payload); ok {
				// applyConfig is additive and idempotent for existing devices.
				h.applyConfig(ctx, cfg)
				if !ready {
					ready = true
					h.pubHALState("ready", "")
				}
			}
		case m := <-h.ctrlSub.Channel():
			if !ready {
				// Reject controls until HAL has a configuration.
				h.replyErr(m, errcode.HALNotReady)
				continue
			}
			h.handleControl(m) // strictly non-blocking
		case req := <-h.pollCh:
			h.handlePoll(req)
		case ev := <-h.evCh:
			// All device→HAL telemetry is published from this goroutine.
			h.handleEvent(ev)
		}
	}
}

func (h *HAL) applyConfig(ctx context.Context, cfg types.HALConfig) {
	for i := range cfg.Devices {
		dc := cfg.Devices[i]
		if _, exists := h.dev[dc.ID]; exists {
			continue
		}
		b, ok := lookupBuilder(dc.Type)
		if !ok {
			println("[hal] no builder for type:", dc.Type, "id:", dc.ID)
			continue
		}
		dev, err := b.Build(ctx, BuilderInput{
			ID:     dc.ID,
			Type:   dc.Type,
			Params: dc.Params,
			Res:    h.res,
		})
		if err != nil {
			println("[hal] build failed for:", dc.ID, "err:", err.Error())
			continue
		}
		if err := dev.Init(ctx); err != nil {
			println("[hal] init failed for:", dc.ID, "err:", err.Error())
			_ = dev.Close()
			continue
		}
		h.dev[dev.ID()] = dev

		// Register capabilities, publish retained info + initial status:down,
		// arm any declared poll schedule.
		for _, cs := range dev.Capabilities() {
			k := string(cs.Kind)
			domain := cs.Domain
			if domain == "" {
				domain = defaultDomainFor(k)
			}
			name := cs.Name
			if name == "" {
				name = dev.ID()
			}

			h.capIndex[capKey{domain: domain, kind: k, name: name}] = capEntry{
				devID: dev.ID(),
				poll:  cs.Poll,
			}

			h.conn.Publish(h.conn.NewMessage(
				capInfo(domain, k, name),
				types.Info{SchemaVersion: cs.Info.SchemaVersion, Driver: cs.Info.Driver, Detail: cs.Info.Detail},
				true,
			))
			h.conn.Publish(h.conn.NewMessage(
				capStatus(domain, k, name),
				types.CapabilityStatus{Link: types.LinkDown, TSms: timex.NowMs()},
				true,
			))

			if cs.Poll.Every > 0 && cs.Poll.Verb != "" {
				h.poller.Upsert(CapAddr{Domain: domain, Kind: k, Name: name},
					cs.Poll.Verb, cs.Poll.Every, cs.Poll.Jitter)
			}
		}
	}
}

func (h *HAL) handleControl(msg *bus.Message) {
	// hal/cap/<domain>/<kind>/<name>/control/<verb>
	if msg.Topic.Len() < 7 {
		h.replyErr(msg, errcode.InvalidTopic)
		return
	}
	domain, _ := msg.Topic.At(2).(string)
	kind, _ := msg.Topic.At(3).(string)
	name, _ := msg.Topic.At(4).(string)
	verb, _ := msg.Topic.At(6).(string)

	entry, ok := h.capIndex[capKey{domain: domain, kind: kind, name: name}]
	if !ok {
		h.replyErr(msg, errcode.UnknownCapability)
		return
	}
	addr := CapAddr{Domain: domain, Kind: kind, Name: name}

	// Poll cadence is owned by the HAL, not the device.
	if verb == "set_rate" {
		h.handleSetRate(msg, addr, entry)
		return
	}

	dev := h.dev[entry.devID]
	if dev == nil {
		h.replyErr(msg, errcode.Error) // defensive fallback
		return
	}

	res, err := dev.Control(addr, verb, msg.Payload)
	if err != nil {
		h.replyFromError(msg, err)
		return
	}
	if !msg.CanReply() {
		return
	}
	if res.OK {
		h.replyOK(msg)
		return
	}
	code := res.Error
	if code == "" {
		code = errcode.Busy
	}
	h.conn.Reply(msg, types.ErrorReply{OK: false, Error: string(code)}, false)
}

func (h *HAL) handleSetRate(msg *bus.Message, addr CapAddr, entry capEntry) {
	if entry.poll.Verb == "" {
		h.replyErr(msg, errcode.Unsupported)
		return
	}
	var periodMs uint32
	switch p := msg.Payload.(type) {
	case types.SetRate:
		periodMs = p.PeriodMs
	case map[string]any:
		if v, ok := p["period_ms"].(float64); ok {
			periodMs = uint32(v)
		}
	}
	if periodMs == 0 {
		h.replyErr(msg, errcode.InvalidPayload)
		return
	}

	period := time.Duration(periodMs) * time.Millisecond
	if entry.poll.MinEvery > 0 {
		period = mathx.Max(period, entry.poll.MinEvery)
	}
	h.poller.Upsert(addr, entry.poll.Verb, period, entry.poll.Jitter)

	if msg.CanReply() {
		h.conn.Reply(msg, types.SetRateAck{OK: true, PeriodMs: uint32(period / time.Millisecond)}, false)
	}
}

func (h *HAL) handlePoll(req PollReq) {
	entry, ok := h.capIndex[capKey{domain: req.Addr.Domain, kind: req.Addr.Kind, name: req.Addr.Name}]
	if !ok {
		// Capability vanished; drop its schedule.
		h.poller.Stop(req.Addr, req.Verb)
		return
	}
	dev := h.dev[entry.devID]
	if dev == nil {
		return
	}
	if _, err := dev.Control(req.Addr, req.Verb, nil); err != nil {
		println("[hal] poll failed for:", entry.devID, "err:", err.Error())
	}
}

func (h *HAL) handleEvent(ev Event) {
	d := ev.Addr.Domain
	k := ev.Addr.Kind
	n := ev.Addr.Name

	// 1) Error → retained status:degraded; no value/event published.
	if ev.Err != "" {
		h.conn.Publish(h.conn.NewMessage(
			capStatus(d, k, n),
			types.CapabilityStatus{Link: types.LinkDegraded, TSms: ev.TSms, Error: ev.Err},
			true,
		))
		return
	}

	// 2) Success: event vs value
	if ev.IsEvent {
		if ev.EventTag != "" {
			h.conn.Publish(h.conn.NewMessage(capEventTagged(d, k, n, ev.EventTag), ev.Payload, false))
		} else {
			h.conn.Publish(h.conn.NewMessage(capEvent(d, k, n), ev.Payload, false))
		}
	} else {
		h.conn.Publish(h.conn.NewMessage(capValue(d, k, n), ev.Payload, true))
		// A fresh value re-spaces the periodic poll.
		if e, ok := h.capIndex[capKey{domain: d, kind: k, name: n}]; ok && e.poll.Verb != "" {
			h.poller.BumpAfter(ev.Addr, e.poll.Verb, ev.TSms*int64(time.Millisecond))
		}
	}
	// Retained status: up
	h.conn.Publish(h.conn.NewMessage(
		capStatus(d, k, n),
		types.CapabilityStatus{Link: types.LinkUp, TSms: ev.TSms},
		true,
	))
}

func (h *HAL) closeDevices() {
	for id, dev := range h.dev {
		if err := dev.Close(); err != nil {
			println("[hal] close failed for:", id, "err:", err.Error())
		}
	}
}

func (h *HAL) pubHALState(level, status string) {
	h.conn.Publish(h.conn.NewMessage(
		topicHALState(),
		types.HALState{Level: level, Status: status, TSms: timex.NowMs()},
		true,
	))
}

func defaultDomainFor(kind string) string {
	switch kind {
	case "temperature", "humidity":
		return "env"
	default:
		return "io"
	}
}

// ---- HAL as EventEmitter (enqueue to single publisher) ----

func (h *HAL) Emit(ev Event) bool {
	select {
	case h.evCh <- ev:
		return true
	default:
		return false
	}
}

// uplink/uplink.go
package uplink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"envnode-go/bus"
	"envnode-go/x/mathx"
	"envnode-go/x/timex"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the uplink service. It blocks until ctx is cancelled.
// It listens for JSON config on topic {"config","uplink"} and (re)configures
// the link. While a link is up, every hal/# and node/# publication is
// forwarded as a Record; retained replay on (re)subscribe makes each fresh
// link start with a full state snapshot.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.T("uplink", "state"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/uplink".
type Config struct {
	Transport TransportConfig `json:"transport"`
}

type TransportConfig struct {
	// "uart", "mqtt", or other names registered via RegisterTransport.
	Type string      `json:"type"`
	UART *UARTConfig `json:"uart,omitempty"`
	MQTT *MQTTConfig `json:"mqtt,omitempty"`
}

// UARTConfig carries enough information for an injected dialler to open the
// UART. Pin mapping and UART instance selection happen inside UARTDial.
type UARTConfig struct {
	Baud  int `json:"baud"`
	RxPin int `json:"rx_pin"` // platform-specific numeric IDs
	TxPin int `json:"tx_pin"`
}

type MQTTConfig struct {
	Broker   string `json:"broker"`              // e.g. "tcp://10.0.0.2:1883"
	ClientID string `json:"client_id,omitempty"` // defaults to a machine-derived ID
	Prefix   string `json:"prefix,omitempty"`    // remote topic prefix, e.g. "nodes/shed"
}

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// Record is one forwarded bus message. Topic tokens are flattened with '/'.
type Record struct {
	Topic   string `json:"t"`
	Payload any    `json:"p"`
	TSms    int64  `json:"ts_ms"`
}

// Sink is an open link accepting records. Send may block briefly but must
// return an error once the link is dead so the supervisor can redial.
type Sink interface {
	Send(rec Record) error
	Close() error
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
	curCfg atomic.Value // stores Config
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "uplink"))
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	// Cancel any existing run.
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	s.curCfg.Store(cfg)
	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and forwarding
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sink, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		err = s.pump(ctx, sink)
		_ = sink.Close()
		if err == nil {
			// Context cancelled: clean shutdown, restart only on new config.
			return
		}
		delay := backoff()
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

// pump owns the active link lifetime. Subscribing inside the pump means the
// retained hal/# and node/# state replays down every fresh link.
func (s *Service) pump(ctx context.Context, sink Sink) error {
	halSub := s.conn.Subscribe(bus.T("hal", "#"))
	defer s.conn.Unsubscribe(halSub)
	nodeSub := s.conn.Subscribe(bus.T("node", "#"))
	defer s.conn.Unsubscribe(nodeSub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-halSub.Channel():
			if !ok {
				return errors.New("hal subscription closed")
			}
			if err := s.forward(sink, m); err != nil {
				return err
			}
		case m, ok := <-nodeSub.Channel():
			if !ok {
				return errors.New("node subscription closed")
			}
			if err := s.forward(sink, m); err != nil {
				return err
			}
		}
	}
}

func (s *Service) forward(sink Sink, m *bus.Message) error {
	if localOnly(m.Topic) {
		return nil
	}
	return sink.Send(Record{
		Topic:   topicString(m.Topic),
		Payload: m.Payload,
		TSms:    timex.NowMs(),
	})
}

// localOnly filters traffic that must not leave the node: control requests
// stay between local services and their callers.
func localOnly(t bus.Topic) bool {
	for i := 0; i < t.Len(); i++ {
		if s, ok := t.At(i).(string); ok && s == "control" {
			return true
		}
	}
	return false
}

func topicString(t bus.Topic) string {
	var b strings.Builder
	for i := 0; i < t.Len(); i++ {
		if i > 0 {
			b.WriteByte('/')
		}
		switch v := t.At(i).(type) {
		case string:
			b.WriteString(v)
		case int:
			b.WriteString(strconv.Itoa(v))
		case int32:
			b.WriteString(strconv.Itoa(int(v)))
		case int64:
			b.WriteString(strconv.FormatInt(v, 10))
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport is a pluggable link dialler/owner.
type Transport interface {
	Open(ctx context.Context) (Sink, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu     sync.RWMutex
	registry  = map[string]transportFactory{}
	errNoDial = errors.New("UARTDial not installed")
)

// RegisterTransport allows external packages to add transports (eg. "ws", "tcp").
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "uart":
		return newUARTTransport(cfg)
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

// -----------------------------------------------------------------------------
// UART transport: framed records over a byte stream
// -----------------------------------------------------------------------------

// UARTDial is installed by platform code. It must open and return an
// io.ReadWriteCloser over the configured UART.
var UARTDial func(ctx context.Context, u UARTConfig) (io.ReadWriteCloser, error)

type uartTransport struct {
	cfg TransportConfig
}

func newUARTTransport(cfg TransportConfig) (Transport, error) {
	if cfg.UART == nil {
		return nil, errors.New("uart transport requires uart config")
	}
	return &uartTransport{cfg: cfg}, nil
}

func (u *uartTransport) Open(ctx context.Context) (Sink, error) {
	if UARTDial == nil {
		return nil, errNoDial
	}
	rwc, err := UARTDial(ctx, *u.cfg.UART)
	if err != nil {
		return nil, err
	}
	return newFrameSink(rwc), nil
}

func (u *uartTransport) String() string { return "uart" }

// frameSink writes each record as a JSON frame and answers peer pings in the
// background. The first read or write failure poisons the sink.
type frameSink struct {
	rwc io.ReadWriteCloser
	wr  *framedWriter

	mu  sync.Mutex // serialises writes and guards err
	err error
}

func newFrameSink(rwc io.ReadWriteCloser) *frameSink {
	fs := &frameSink{rwc: rwc, wr: newFramedWriter(rwc)}
	go fs.readLoop()
	return fs
}

func (fs *frameSink) readLoop() {
	rd := newFramedReader(fs.rwc)
	for {
		f, err := rd.ReadFrame()
		if err != nil {
			fs.fail(err)
			return
		}
		switch f.Type {
		case framePing:
			_ = fs.writeFrame(Frame{Type: framePong})
		case framePong:
			// Keepalive answer; nothing to do.
		case frameClose:
			fs.fail(io.EOF)
			return
		}
	}
}

func (fs *frameSink) fail(err error) {
	fs.mu.Lock()
	if fs.err == nil {
		fs.err = err
	}
	fs.mu.Unlock()
}

func (fs *frameSink) writeFrame(f Frame) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.err != nil {
		return fs.err
	}
	if err := fs.wr.WriteFrame(f); err != nil {
		fs.err = err
		return err
	}
	return nil
}

func (fs *frameSink) Send(rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return fs.writeFrame(Frame{Type: framePub, Payload: payload})
}

// Close poisons the sink and closes the stream. No close frame is sent:
// a peer that stopped reading would park that write forever.
func (fs *frameSink) Close() error {
	fs.fail(io.ErrClosedPipe)
	return fs.rwc.Close()
}

// -----------------------------------------------------------------------------
// Framing
// -----------------------------------------------------------------------------

const (
	framePing  byte = 0x01
	framePong  byte = 0x02
	framePub   byte = 0x10
	frameSub   byte = 0x11
	frameUnsub byte = 0x12
	frameAck   byte = 0x13
	frameClose byte = 0x7f
)

// Frame is a length-prefixed frame: type byte, big-endian uint16 length,
// payload.
type Frame struct {
	Type    byte
	Payload []byte
}

type framedReader struct{ r io.Reader }
type framedWriter struct{ w io.Writer }

func newFramedReader(r io.Reader) *framedReader { return &framedReader{r: r} }
func newFramedWriter(w io.Writer) *framedWriter { return &framedWriter{w: w} }

func (fr *framedReader) ReadFrame() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	typ := hdr[0]
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: typ, Payload: buf}, nil
}

func (fw *framedWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > 0xFFFF {
		return fmt.Errorf("frame too large: %d", len(f.Payload))
	}
	hdr := []byte{f.Type, byte(len(f.Payload) >> 8), byte(len(f.Payload) & 0xFF)}
	if _, err := fw.w.Write(hdr); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		_, err := fw.w.Write(f.Payload)
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, err
		}
	case map[string]any:
		// Already a decoded object (the config service's shape); re-marshal
		// for simplicity.
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	if cfg.Transport.Type == "" {
		return cfg, errors.New("config missing transport type")
	}
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "error", "idle"
		"status": status, // short machine string
		"ts_ms":  timex.NowMs(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	msg := s.conn.NewMessage(s.stateTopic, payload, true)
	s.conn.Publish(msg)
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur = mathx.Clamp(cur*2, min, max)
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

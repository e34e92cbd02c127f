package dht22

import (
	"errors"
	"testing"
	"time"
)

// Compile-time interface checks.
var (
	_ Line  = (*simLine)(nil)
	_ Clock = (*simLine)(nil)
	_ Clock = (*spinClock)(nil)
)

// segment is one stretch of line level in a simulated sensor answer.
type segment struct {
	level bool
	dur   time.Duration
}

// simLine plays a recorded waveform against the driver. It implements both
// Line and Clock so that polling and busy-waiting advance the same virtual
// time the driver measures with. Each Get costs pollCost, which keeps edge
// detection deterministic: with 1 µs polls and µs-aligned segments, a
// measured high phase equals its segment duration exactly.
type simLine struct {
	t        time.Duration
	pollCost time.Duration

	wave []segment
	tail bool // level once the waveform is exhausted

	released bool
	relAt    time.Duration
	outLevel bool
	pull     Pull

	outLowAt  time.Duration
	outHighAt time.Duration

	failOutput bool
	failSet    bool
	failInput  bool
}

func newSimLine(wave []segment) *simLine {
	return &simLine{pollCost: time.Microsecond, wave: wave, tail: true}
}

func (l *simLine) ConfigureOutput(level bool) error {
	if l.failOutput {
		return errors.New("sim: gpio rejected")
	}
	l.released = false
	l.outLevel = level
	if !level {
		l.outLowAt = l.t
	}
	return nil
}

func (l *simLine) Set(level bool) error {
	if l.failSet {
		return errors.New("sim: gpio rejected")
	}
	l.outLevel = level
	if level {
		l.outHighAt = l.t
	}
	return nil
}

func (l *simLine) ConfigureInput(pull Pull) error {
	if l.failInput {
		return errors.New("sim: gpio rejected")
	}
	l.pull = pull
	l.released = true
	l.relAt = l.t
	return nil
}

func (l *simLine) Get() bool {
	lv := l.levelAt(l.t)
	l.t += l.pollCost
	return lv
}

func (l *simLine) levelAt(t time.Duration) bool {
	if !l.released {
		return l.outLevel
	}
	x := t - l.relAt
	for _, s := range l.wave {
		if x < s.dur {
			return s.level
		}
		x -= s.dur
	}
	return l.tail
}

func (l *simLine) Now() time.Duration       { return l.t }
func (l *simLine) BusyWait(d time.Duration) { l.t += d }

// sensorWave builds the sensor's answer for one frame: handshake, 40
// pulse-width encoded bits, then the closing low pulse before the line
// floats back high.
func sensorWave(frame [5]byte) []segment {
	segs := make([]segment, 0, 2+2*frameBits+1)
	segs = append(segs,
		segment{false, 80 * time.Microsecond},
		segment{true, 80 * time.Microsecond})
	for i := 0; i < frameBits; i++ {
		high := 26 * time.Microsecond
		if frame[i/8]>>(7-uint(i%8))&1 == 1 {
			high = 70 * time.Microsecond
		}
		segs = append(segs,
			segment{false, 50 * time.Microsecond},
			segment{true, high})
	}
	return append(segs, segment{false, 50 * time.Microsecond})
}

// waveWithHighs is sensorWave with an explicit high-phase duration per bit.
func waveWithHighs(highs [frameBits]time.Duration) []segment {
	segs := make([]segment, 0, 2+2*frameBits+1)
	segs = append(segs,
		segment{false, 80 * time.Microsecond},
		segment{true, 80 * time.Microsecond})
	for _, h := range highs {
		segs = append(segs, segment{false, 50 * time.Microsecond}, segment{true, h})
	}
	return append(segs, segment{false, 50 * time.Microsecond})
}

// encodeFrame is the inverse of decodeFrame, used to generate test frames.
func encodeFrame(deciRH uint16, deciC int16) [5]byte {
	var b [5]byte
	b[0] = byte(deciRH >> 8)
	b[1] = byte(deciRH)
	m := deciC
	if m < 0 {
		m = -m
		b[2] = 0x80
	}
	b[2] |= byte(m >> 8)
	b[3] = byte(m)
	b[4] = b[0] + b[1] + b[2] + b[3]
	return b
}

func simDevice(t *testing.T, sim *simLine) *Device {
	t.Helper()
	d := New(sim)
	if err := d.Configure(Config{Clock: sim}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return &d
}

func TestReadDecodesKnownFrame(t *testing.T) {
	// 54.0 %RH, 26.1 °C.
	frame := [5]byte{0x02, 0x1C, 0x01, 0x05, 0x24}
	sim := newSimLine(sensorWave(frame))
	d := simDevice(t, sim)

	r, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.DeciRH != 540 {
		t.Errorf("DeciRH = %d, want 540", r.DeciRH)
	}
	if r.DeciC != 261 {
		t.Errorf("DeciC = %d, want 261", r.DeciC)
	}
	if r.Checksum != 0x24 {
		t.Errorf("Checksum = %#x, want 0x24", r.Checksum)
	}
	if r.RelHumidity() != 54.0 {
		t.Errorf("RelHumidity = %v, want 54.0", r.RelHumidity())
	}
	if r.Celsius() != 26.1 {
		t.Errorf("Celsius = %v, want 26.1", r.Celsius())
	}
}

func TestReadNegativeTemperature(t *testing.T) {
	// Sign bit set on the temperature high byte, magnitude 0x0105.
	frame := [5]byte{0x02, 0x1C, 0x81, 0x05, 0xA4}
	sim := newSimLine(sensorWave(frame))
	d := simDevice(t, sim)

	r, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.DeciC != -261 {
		t.Errorf("DeciC = %d, want -261", r.DeciC)
	}
	if r.Celsius() != -26.1 {
		t.Errorf("Celsius = %v, want -26.1", r.Celsius())
	}
}

func TestReadChecksumMismatch(t *testing.T) {
	frame := [5]byte{0x02, 0x1C, 0x01, 0x05, 0x25} // checksum off by one
	sim := newSimLine(sensorWave(frame))
	d := simDevice(t, sim)

	r, err := d.Read()
	if err != ErrBadChecksum {
		t.Fatalf("Read error = %v, want ErrBadChecksum", err)
	}
	if r != (Reading{}) {
		t.Errorf("Reading = %+v, want zero value on error", r)
	}
}

func TestBitThresholdBoundary(t *testing.T) {
	// A high phase of exactly the threshold decodes as 1; one microsecond
	// under it decodes as 0.
	var highs [frameBits]time.Duration
	for i := range highs {
		highs[i] = 26 * time.Microsecond
	}
	highs[0] = 40 * time.Microsecond  // humidity MSB
	highs[32] = 40 * time.Microsecond // checksum MSB keeps the frame valid

	sim := newSimLine(waveWithHighs(highs))
	d := simDevice(t, sim)
	r, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.DeciRH != 0x8000 {
		t.Errorf("DeciRH = %#x, want 0x8000 (threshold-length pulse is a 1)", r.DeciRH)
	}

	highs[0] = 39 * time.Microsecond
	highs[32] = 26 * time.Microsecond
	sim = newSimLine(waveWithHighs(highs))
	d = simDevice(t, sim)
	r, err = d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.DeciRH != 0 {
		t.Errorf("DeciRH = %#x, want 0 (sub-threshold pulse is a 0)", r.DeciRH)
	}
}

func TestHandshakeTimeoutStuckLow(t *testing.T) {
	sim := newSimLine(nil)
	sim.tail = false // sensor absent, line pinned low
	d := simDevice(t, sim)

	r, err := d.Read()
	if err != ErrTimeout {
		t.Fatalf("Read error = %v, want ErrTimeout", err)
	}
	if r != (Reading{}) {
		t.Errorf("Reading = %+v, want zero value on timeout", r)
	}
}

func TestHandshakeTimeoutStuckHigh(t *testing.T) {
	sim := newSimLine(nil) // tail high: pull-up with nothing driving
	d := simDevice(t, sim)

	if _, err := d.Read(); err != ErrTimeout {
		t.Fatalf("Read error = %v, want ErrTimeout", err)
	}
}

func TestBitTimeoutAfterPartialFrame(t *testing.T) {
	// Handshake plus three clean bits, then a high phase that never ends.
	wave := []segment{
		{false, 80 * time.Microsecond},
		{true, 80 * time.Microsecond},
		{false, 50 * time.Microsecond}, {true, 70 * time.Microsecond},
		{false, 50 * time.Microsecond}, {true, 26 * time.Microsecond},
		{false, 50 * time.Microsecond}, {true, 70 * time.Microsecond},
		{false, 50 * time.Microsecond},
	}
	sim := newSimLine(wave) // tail stays high
	d := simDevice(t, sim)

	r, err := d.Read()
	if err != ErrTimeout {
		t.Fatalf("Read error = %v, want ErrTimeout", err)
	}
	if r != (Reading{}) {
		t.Errorf("Reading = %+v, want zero value after partial frame", r)
	}
}

func TestLineFaultOnConfigure(t *testing.T) {
	sim := newSimLine(nil)
	sim.failOutput = true
	d := New(sim)
	if err := d.Configure(Config{Clock: sim}); err != ErrLineFault {
		t.Fatalf("Configure error = %v, want ErrLineFault", err)
	}
}

func TestLineFaultDuringRequest(t *testing.T) {
	sim := newSimLine(nil)
	d := simDevice(t, sim)
	sim.failSet = true
	if _, err := d.Read(); err != ErrLineFault {
		t.Fatalf("Read error = %v, want ErrLineFault", err)
	}

	sim = newSimLine(nil)
	d = simDevice(t, sim)
	sim.failInput = true
	if _, err := d.Read(); err != ErrLineFault {
		t.Fatalf("Read error = %v, want ErrLineFault", err)
	}
}

func TestRequestDriveSequence(t *testing.T) {
	frame := encodeFrame(540, 261)
	sim := newSimLine(sensorWave(frame))
	d := simDevice(t, sim)

	if _, err := d.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := sim.outHighAt - sim.outLowAt; got != DefaultRequestLow {
		t.Errorf("request low hold = %v, want %v", got, DefaultRequestLow)
	}
	if got := sim.relAt - sim.outHighAt; got != DefaultRequestHigh {
		t.Errorf("request high hold = %v, want %v", got, DefaultRequestHigh)
	}
	if sim.pull != PullUp {
		t.Errorf("input pull = %v, want PullUp", sim.pull)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		rh uint16
		c  int16
	}{
		{540, 261},
		{0, 0},
		{1000, -261},
		{123, -5},
		{999, 805},
	}
	for _, tc := range cases {
		sim := newSimLine(sensorWave(encodeFrame(tc.rh, tc.c)))
		d := simDevice(t, sim)
		r, err := d.Read()
		if err != nil {
			t.Fatalf("Read(%d, %d): %v", tc.rh, tc.c, err)
		}
		if r.DeciRH != tc.rh || r.DeciC != tc.c {
			t.Errorf("round trip (%d, %d) -> (%d, %d)", tc.rh, tc.c, r.DeciRH, r.DeciC)
		}
	}
}

func TestDecodeFrame(t *testing.T) {
	r, err := decodeFrame([5]byte{0x02, 0x8F, 0x01, 0x10, 0xA2})
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if r.DeciRH != 0x028F || r.DeciC != 0x0110 {
		t.Errorf("decoded (%d, %d), want (655, 272)", r.DeciRH, r.DeciC)
	}

	// Checksum keeps only the low 8 bits of the sum.
	if _, err := decodeFrame([5]byte{0xFF, 0xFF, 0x00, 0x02, 0x00}); err != nil {
		t.Errorf("wrapped checksum rejected: %v", err)
	}

	if _, err := decodeFrame([5]byte{0x02, 0x8F, 0x01, 0x10, 0xA3}); err != ErrBadChecksum {
		t.Errorf("corrupt frame error = %v, want ErrBadChecksum", err)
	}
}

func TestConfigureDefaultsAndOverrides(t *testing.T) {
	sim := newSimLine(nil)
	d := New(sim)
	err := d.Configure(Config{
		Clock:        sim,
		BitThreshold: 35 * time.Microsecond,
		Handshake:    100 * time.Microsecond,
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if d.cfg.BitThreshold != 35*time.Microsecond {
		t.Errorf("BitThreshold = %v, want override 35µs", d.cfg.BitThreshold)
	}
	if d.cfg.Handshake != 100*time.Microsecond {
		t.Errorf("Handshake = %v, want override 100µs", d.cfg.Handshake)
	}
	if d.cfg.RequestLow != DefaultRequestLow {
		t.Errorf("RequestLow = %v, want default %v", d.cfg.RequestLow, DefaultRequestLow)
	}
	if d.cfg.Settle != DefaultSettle {
		t.Errorf("Settle = %v, want default %v", d.cfg.Settle, DefaultSettle)
	}
	if !sim.outLevel || sim.released {
		t.Error("Configure should park the line as an idle-high output")
	}
}

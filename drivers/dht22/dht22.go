// Package dht22 provides a bit-banged driver for the DHT22 (AM2302)
// humidity/temperature sensor, which signals over a single GPIO line with
// pulse-width encoded bits.
//
//	d := dht22.New(line)
//	if err := d.Configure(); err != nil { ... }
//	r, err := d.Read() // one ~7.2 ms transaction
//
// Read blocks for the whole transaction and spins on the monotonic clock for
// every timing-sensitive wait; a scheduler wakeup can be late by more than a
// whole bit period, so the driver never sleeps or yields mid-read. Callers
// should leave about a second between reads so the sensor's internal cycle
// can settle; Read does not enforce that spacing and never retries.
//
// The driver holds no state between transactions. Each Read returns a fresh
// Reading or one of ErrLineFault, ErrTimeout, ErrBadChecksum. Fixed-point
// results are tenths of units (deci-°C and deci-%RH); float accessors are
// provided for convenience.
package dht22

import (
	"errors"
	"time"
)

// Frame geometry: 2 humidity bytes, 2 temperature bytes, 1 checksum byte,
// transmitted MSB-first per byte.
const (
	frameBytes = 5
	frameBits  = frameBytes * 8
)

// Default protocol timings. Tolerances vary by sensor batch and wiring
// length, so every value can be overridden via Config.
const (
	// Request pulse: hold the line low, then briefly high, then release it.
	DefaultRequestLow  = 3 * time.Millisecond
	DefaultRequestHigh = 20 * time.Microsecond

	// Handshake: the sensor answers with ~80 µs low then ~80 µs high.
	DefaultHandshake       = 80 * time.Microsecond
	DefaultHandshakeMargin = 10 * time.Microsecond

	// Bits: ~50 µs low, then high for ~26 µs (0) or ~70 µs (1).
	DefaultBitLow       = 50 * time.Microsecond
	DefaultBitHigh      = 70 * time.Microsecond
	DefaultBitMargin    = 20 * time.Microsecond
	DefaultBitThreshold = 40 * time.Microsecond

	// Pause after each bit before polling again, to absorb transition
	// ringing on the line. Measured on real hardware, not from the
	// datasheet.
	DefaultSettle = 10 * time.Microsecond
)

// Errors returned by the driver.
var (
	ErrLineFault   = errors.New("dht22: line fault")
	ErrTimeout     = errors.New("dht22: timeout")
	ErrBadChecksum = errors.New("dht22: bad checksum")
)

// Pull selects the input bias applied when the sensor drives the line.
type Pull uint8

const (
	PullUp Pull = iota
	PullNone
)

// Line is the single GPIO line shared with the sensor. Level true is high.
// Get must be cheap enough to poll in a tight loop.
type Line interface {
	ConfigureOutput(level bool) error
	ConfigureInput(pull Pull) error
	Set(level bool) error
	Get() bool
}

// Clock supplies monotonic time for pulse measurement. BusyWait must spin
// rather than sleep; see the package comment.
type Clock interface {
	// Now reports monotonic elapsed time from an arbitrary fixed origin.
	Now() time.Duration
	// BusyWait blocks for at least d without yielding to the scheduler.
	BusyWait(d time.Duration)
}

// Config controls protocol timing. All fields are optional; zero values take
// the Default* constants above.
type Config struct {
	RequestLow      time.Duration
	RequestHigh     time.Duration
	Handshake       time.Duration
	HandshakeMargin time.Duration
	BitLow          time.Duration
	BitHigh         time.Duration
	// BitThreshold splits the measured high-phase duration: shorter decodes
	// as 0, equal or longer as 1.
	BitThreshold time.Duration
	BitMargin    time.Duration
	Settle       time.Duration

	// Pull is applied when the line is released to the sensor.
	Pull Pull
	// Clock defaults to a spin clock backed by time.Since.
	Clock Clock
}

// Device drives one sensor over one line.
type Device struct {
	line Line
	cfg  Config
}

// Reading is one validated measurement. Checksum is the raw fifth frame
// byte, kept for diagnostics; it has already been verified.
type Reading struct {
	// DeciRH is relative humidity in tenths of a percent (540 = 54.0 %RH).
	DeciRH uint16
	// DeciC is temperature in tenths of °C, negative below zero.
	DeciC    int16
	Checksum byte
}

// RelHumidity returns relative humidity in percent. Prefer DeciRH for
// fixed-point.
func (r Reading) RelHumidity() float32 { return float32(r.DeciRH) / 10 }

// Celsius returns °C. Prefer DeciC for fixed-point.
func (r Reading) Celsius() float32 { return float32(r.DeciC) / 10 }

// New creates a driver for the sensor on line. This only creates the Device
// object; it does not touch the line.
func New(line Line) Device {
	return Device{line: line}
}

// Configure applies optional config and parks the line as an idle-high
// output, ready for the first request. It may be called with no cfg.
func (d *Device) Configure(cfgs ...Config) error {
	var c Config
	if len(cfgs) > 0 {
		c = cfgs[0]
	}
	if c.RequestLow <= 0 {
		c.RequestLow = DefaultRequestLow
	}
	if c.RequestHigh <= 0 {
		c.RequestHigh = DefaultRequestHigh
	}
	if c.Handshake <= 0 {
		c.Handshake = DefaultHandshake
	}
	if c.HandshakeMargin <= 0 {
		c.HandshakeMargin = DefaultHandshakeMargin
	}
	if c.BitLow <= 0 {
		c.BitLow = DefaultBitLow
	}
	if c.BitHigh <= 0 {
		c.BitHigh = DefaultBitHigh
	}
	if c.BitThreshold <= 0 {
		c.BitThreshold = DefaultBitThreshold
	}
	if c.BitMargin <= 0 {
		c.BitMargin = DefaultBitMargin
	}
	if c.Settle <= 0 {
		c.Settle = DefaultSettle
	}
	if c.Clock == nil {
		c.Clock = newSpinClock()
	}
	d.cfg = c

	if err := d.line.ConfigureOutput(true); err != nil {
		return ErrLineFault
	}
	return nil
}

// Read performs one complete transaction: request, handshake, 40-bit sample,
// checksum validation, decode. It is a single attempt with no internal
// retry; any retry policy belongs to the caller. The caller must also
// serialize reads per line, the sensor cannot service overlapping
// transactions.
func (d *Device) Read() (Reading, error) {
	// Ensure the device has been configured at least once.
	if d.cfg.Clock == nil {
		if err := d.Configure(); err != nil {
			return Reading{}, err
		}
	}

	if err := d.request(); err != nil {
		return Reading{}, err
	}
	if err := d.handshake(); err != nil {
		return Reading{}, err
	}
	var buf [frameBytes]byte
	if err := d.sample(&buf); err != nil {
		return Reading{}, err
	}
	return decodeFrame(buf)
}

// request wakes the sensor: drive the line low for RequestLow, high for
// RequestHigh, then release it to the sensor as an input.
func (d *Device) request() error {
	if err := d.line.ConfigureOutput(false); err != nil {
		return ErrLineFault
	}
	d.cfg.Clock.BusyWait(d.cfg.RequestLow)
	if err := d.line.Set(true); err != nil {
		return ErrLineFault
	}
	d.cfg.Clock.BusyWait(d.cfg.RequestHigh)
	if err := d.line.ConfigureInput(d.cfg.Pull); err != nil {
		return ErrLineFault
	}
	return nil
}

// handshake waits out the sensor's low-then-high answer pulse. Each half is
// bounded; a sensor that never answers leaves the line pinned at one level
// and trips one of the two bounds.
func (d *Device) handshake() error {
	bound := d.cfg.Handshake + d.cfg.HandshakeMargin
	if _, err := d.awaitLevel(true, bound); err != nil {
		return err
	}
	if _, err := d.awaitLevel(false, bound); err != nil {
		return err
	}
	return nil
}

// sample reads the 40-bit frame. Each bit starts with a fixed-length low
// phase; the length of the following high phase encodes the bit value.
func (d *Device) sample(buf *[frameBytes]byte) error {
	lowBound := d.cfg.BitLow + d.cfg.BitMargin
	highBound := d.cfg.BitHigh + d.cfg.BitMargin
	for i := 0; i < frameBits; i++ {
		if _, err := d.awaitLevel(true, lowBound); err != nil {
			return err
		}
		high, err := d.awaitLevel(false, highBound)
		if err != nil {
			return err
		}
		buf[i/8] <<= 1
		if high >= d.cfg.BitThreshold {
			buf[i/8] |= 1
		}
		d.cfg.Clock.BusyWait(d.cfg.Settle)
	}
	return nil
}

// awaitLevel spins until the line reads level, returning the time spent
// waiting, or ErrTimeout once the wait exceeds bound.
func (d *Device) awaitLevel(level bool, bound time.Duration) (time.Duration, error) {
	clk := d.cfg.Clock
	start := clk.Now()
	for d.line.Get() != level {
		if clk.Now()-start > bound {
			return 0, ErrTimeout
		}
	}
	return clk.Now() - start, nil
}

// decodeFrame validates the checksum and converts the raw frame. The sensor
// reports both channels in tenths of their unit; the top bit of the
// temperature high byte is a sign flag, the remaining 15 bits a magnitude.
func decodeFrame(buf [frameBytes]byte) (Reading, error) {
	if buf[0]+buf[1]+buf[2]+buf[3] != buf[4] {
		return Reading{}, ErrBadChecksum
	}
	t := int16(buf[2]&0x7F)<<8 | int16(buf[3])
	if buf[2]&0x80 != 0 {
		t = -t
	}
	return Reading{
		DeciRH:   uint16(buf[0])<<8 | uint16(buf[1]),
		DeciC:    t,
		Checksum: buf[4],
	}, nil
}

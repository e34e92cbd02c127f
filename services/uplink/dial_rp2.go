//go:build rp2040 || rp2350

package uplink

import (
	"context"
	"io"
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

// The RP2 build dials the uplink over UART0. Pin and baud come from the
// uart section of the uplink config; zero values fall back to the uartx
// defaults for the board.

func init() { UARTDial = dialUART }

func dialUART(_ context.Context, cfg UARTConfig) (io.ReadWriteCloser, error) {
	hw := uartx.UART0
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: uint32(cfg.Baud),
		TX:       machine.Pin(cfg.TxPin),
		RX:       machine.Pin(cfg.RxPin),
	}); err != nil {
		return nil, err
	}
	return &uartPort{u: hw}, nil
}

type uartPort struct{ u *uartx.UART }

func (p *uartPort) Write(b []byte) (int, error) { return p.u.Write(b) }

func (p *uartPort) Read(b []byte) (int, error) {
	return p.u.RecvSomeContext(context.Background(), b)
}

// Close leaves the hardware UART configured; the next dial reuses it.
func (p *uartPort) Close() error { return nil }

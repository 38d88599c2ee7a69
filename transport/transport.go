// Package transport defines the byte-transport contract (spec.md §6) and a
// serial-port implementation, carried over from the teacher's
// modem/transport.go.
package transport

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Transport is an established, full-duplex byte stream to a modem. No line
// framing is imposed by the transport; that is the digester's job.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a modem. It is consulted only during client
// construction.
type Dialer interface {
	// Dial creates and returns a connected Transport, respecting ctx
	// cancellation and deadlines.
	Dial(ctx context.Context) (Transport, error)
}

// SerialDialer opens a modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the OS device path (e.g. "/dev/ttyUSB0", "COM3").
	PortName string
	// BaudRate configures the serial port; 0 uses the library default.
	BaudRate int
	// Mode configures the serial port fully. If set, BaudRate is ignored;
	// if nil, a Mode is built from BaudRate (or the library default).
	Mode *serial.Mode
}

func (d SerialDialer) mode() *serial.Mode {
	if d.Mode != nil {
		return d.Mode
	}
	if d.BaudRate == 0 {
		return nil
	}
	return &serial.Mode{BaudRate: d.BaudRate}
}

// Dial opens the serial port. If ctx is canceled before the open completes,
// Dial returns ctx.Err(); if the port opens concurrently with cancellation,
// it is closed before returning to avoid leaking the file descriptor.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if d.PortName == "" {
		return nil, errors.New("atrt: serial port name is required")
	}
	if ctx == nil {
		return nil, errors.New("atrt: context is nil")
	}

	type result struct {
		p   serial.Port
		err error
	}
	ch := make(chan result, 1)

	go func() {
		p, err := serial.Open(d.PortName, d.mode())
		ch <- result{p: p, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			r := <-ch
			if r.err == nil && r.p != nil {
				_ = r.p.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("open serial port %q: %w", d.PortName, r.err)
		}
		return r.p, nil
	}
}

package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/ivanzxc/go-glucose-stream/internal/config"
	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

// ConnectionError is a failed attempt to reach the wristband.
type ConnectionError struct {
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("device: cannot connect to %s: %v", e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Port is the part of serial.Port the reader needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a port; tests swap in an in-memory one.
type Opener func(name string, baud int) (Port, error)

func OpenSerialPort(name string, baud int) (Port, error) {
	return serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

type Options struct {
	Port        string
	Baud        int
	Settle      time.Duration // wait after open before the first read
	ReadTimeout time.Duration // bound on each read, at most one tick
}

const maxLine = 256

// Serial reads newline-terminated protocol lines from a port.
type Serial struct {
	name    string
	port    Port
	chunk   []byte
	pending []byte

	closeOnce sync.Once
	closeErr  error
}

// Open opens and configures the port, then lets the board settle.
func Open(ctx context.Context, opts Options, open Opener) (*Serial, error) {
	if err := config.ValidateBaud(opts.Baud); err != nil {
		return nil, err
	}
	if open == nil {
		open = OpenSerialPort
	}
	if opts.ReadTimeout <= 0 || opts.ReadTimeout > time.Second {
		opts.ReadTimeout = time.Second
	}

	p, err := open(opts.Port, opts.Baud)
	if err != nil {
		return nil, &ConnectionError{Port: opts.Port, Err: err}
	}
	if err := p.SetReadTimeout(opts.ReadTimeout); err != nil {
		p.Close()
		return nil, &ConnectionError{Port: opts.Port, Err: fmt.Errorf("set read timeout: %w", err)}
	}

	if opts.Settle > 0 {
		t := time.NewTimer(opts.Settle)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			p.Close()
			return nil, &ConnectionError{Port: opts.Port, Err: ctx.Err()}
		}
	}

	return &Serial{name: opts.Port, port: p, chunk: make([]byte, 64)}, nil
}

func (s *Serial) Name() string { return s.name }

// ReadLine returns the next complete line, or sensor.ErrNoLine when the read
// timed out first.
func (s *Serial) ReadLine(ctx context.Context) (string, error) {
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := string(bytes.TrimRight(s.pending[:i], "\r"))
			s.pending = append(s.pending[:0], s.pending[i+1:]...)
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := s.port.Read(s.chunk)
		if n > 0 {
			s.pending = append(s.pending, s.chunk[:n]...)
			if len(s.pending) > maxLine && bytes.IndexByte(s.pending, '\n') < 0 {
				s.pending = s.pending[:0]
			}
		}
		if err != nil {
			var pe *serial.PortError
			if errors.As(err, &pe) && pe.Code() == serial.PortClosed {
				return "", io.EOF
			}
			return "", err
		}
		if n == 0 {
			return "", sensor.ErrNoLine
		}
	}
}

// Close may be called from another goroutine to unblock ReadLine, and more
// than once.
func (s *Serial) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.port.Close() })
	return s.closeErr
}

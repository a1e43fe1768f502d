package sensor

import (
	"context"
	"errors"
)

// Source yields at most one reading per tick. ok=false means no update;
// the caller keeps using its last reading.
type Source interface {
	Poll() (r Reading, ok bool)
}

// Manual always returns the same user-set values.
type Manual struct {
	Reading Reading
}

func (m Manual) Poll() (Reading, bool) { return m.Reading, true }

// Latest is a single-writer/single-reader cell. A capacity-1 channel keeps
// only the newest value; Take never blocks.
type Latest struct {
	ch chan Reading
}

func NewLatest() *Latest {
	return &Latest{ch: make(chan Reading, 1)}
}

// Put replaces any reading the consumer has not taken yet.
func (l *Latest) Put(r Reading) {
	for {
		select {
		case l.ch <- r:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}

// Take returns the newest reading published since the previous Take.
func (l *Latest) Take() (Reading, bool) {
	select {
	case r := <-l.ch:
		return r, true
	default:
		return Reading{}, false
	}
}

func (l *Latest) Poll() (Reading, bool) { return l.Take() }

// Any polls each source in order and returns the first fresh reading.
type Any []Source

func (a Any) Poll() (Reading, bool) {
	for _, s := range a {
		if r, ok := s.Poll(); ok {
			return r, true
		}
	}
	return Reading{}, false
}

// LineReader returns one protocol line per call. Implementations should
// bound each call (e.g. a port read timeout) and return ctx.Err() once
// the context ends.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// ListenHooks receive listener events; nil hooks are skipped.
type ListenHooks struct {
	OnReading func(Reading)
	OnInvalid func(line string, err error)
	OnIgnored func(line string)
}

// Listen pumps lines from r into dst until ctx ends or r fails with
// anything other than ErrNoLine.
// Bad lines are reported and skipped.
func Listen(ctx context.Context, r LineReader, dst *Latest, hooks ListenHooks) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := r.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, ErrNoLine) {
				continue
			}
			return err
		}

		reading, err := ParseLine(line)
		switch {
		case err == nil:
			dst.Put(reading)
			if hooks.OnReading != nil {
				hooks.OnReading(reading)
			}
		case errors.Is(err, ErrNotData):
			if hooks.OnIgnored != nil {
				hooks.OnIgnored(line)
			}
		default:
			if hooks.OnInvalid != nil {
				hooks.OnInvalid(line, err)
			}
		}
	}
}

// ErrNoLine is returned by a LineReader whose read timed out without a full line.
var ErrNoLine = errors.New("sensor: no line available")

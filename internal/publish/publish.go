// Package publish fans each tick out to the configured message transports.
package publish

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ivanzxc/go-glucose-stream/internal/sampler"
	"github.com/ivanzxc/go-glucose-stream/internal/stream"
)

type Sink interface {
	Name() string
	Publish(ctx context.Context, msg stream.SampleMsg, payload []byte) error
	Close() error
}

// Fanout is a sampler.Emitter that hands every update to all sinks. A sink
// failure is logged and never stops the run.
type Fanout struct {
	sinks []Sink
	log   *slog.Logger

	// OnError, if set, is called for every failed publish (metrics).
	OnError func(sink string)
}

func NewFanout(log *slog.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{sinks: sinks, log: log}
}

func (f *Fanout) Add(s Sink) { f.sinks = append(f.sinks, s) }

func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Emit(ctx context.Context, u sampler.Update) {
	if len(f.sinks) == 0 {
		return
	}
	msg := stream.NewSampleMsg(u)
	payload, err := msg.Marshal()
	if err != nil {
		f.log.Error("marshal failed", "err", err)
		return
	}
	for _, s := range f.sinks {
		if err := s.Publish(ctx, msg, payload); err != nil {
			f.log.Warn("publish failed", "sink", s.Name(), "run", msg.RunID, "tick", msg.Tick, "err", err)
			if f.OnError != nil {
				f.OnError(s.Name())
			}
		}
	}
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

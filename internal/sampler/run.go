package sampler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ivanzxc/go-glucose-stream/internal/analysis"
	"github.com/ivanzxc/go-glucose-stream/internal/config"
	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

// Update is what the loop hands to the rendering side after every tick.
type Update struct {
	RunID   string
	Sample  Sample
	Series  []Sample // series so far, shared with the loop; do not modify
	Reading sensor.Reading
}

type Emitter interface {
	Emit(ctx context.Context, u Update)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, u Update)

func (f EmitterFunc) Emit(ctx context.Context, u Update) { f(ctx, u) }

// Emitters hands each update to every emitter in order.
type Emitters []Emitter

func (es Emitters) Emit(ctx context.Context, u Update) {
	for _, e := range es {
		e.Emit(ctx, u)
	}
}

// Outcome tells how a run ended.
type Outcome string

const (
	Completed Outcome = "completed"
	Stopped   Outcome = "stopped"
	Cancelled Outcome = "cancelled"
)

type RunConfig struct {
	RunID    string
	Duration int
	Interval time.Duration
	Initial  sensor.Reading
	Now      func() time.Time
	Log      *slog.Logger
}

// Run drives one run to completion on the calling goroutine. Stop is checked
// at each tick boundary; a closed stop channel or a cancelled ctx ends the
// run before the next tick starts, never in the middle of one.
// Range checks on the user-facing duration belong to the caller (see
// Controller.Start).
func Run(ctx context.Context, rc RunConfig, src sensor.Source, est *analysis.Estimator, out Emitter, stop <-chan struct{}) (State, Outcome, error) {
	if rc.Duration <= 0 {
		return State{}, "", &config.Error{Field: "duration", Value: rc.Duration, Reason: "must be positive"}
	}
	now := rc.Now
	if now == nil {
		now = time.Now
	}
	log := rc.Log
	if log == nil {
		log = slog.Default()
	}

	st := Reset(rc.RunID, rc.Initial)
	log.Info("run started", "run", rc.RunID, "duration", rc.Duration, "interval", rc.Interval.String())

	outcome := Completed
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

loop:
	for i := 0; i < rc.Duration; i++ {
		if o, done := boundary(ctx, stop); done {
			outcome = o
			break
		}

		var fresh *sensor.Reading
		if r, ok := src.Poll(); ok {
			fresh = &r
		}

		var s Sample
		st, s = Step(st, fresh, now(), est)
		log.Debug("tick", "run", rc.RunID, "tick", s.Tick, "glucose", s.Glucose, "fresh", fresh != nil)

		if out != nil {
			out.Emit(ctx, Update{RunID: rc.RunID, Sample: s, Series: st.Series, Reading: st.Reading})
		}

		if i == rc.Duration-1 || rc.Interval <= 0 {
			continue
		}
		if timer == nil {
			timer = time.NewTimer(rc.Interval)
		} else {
			timer.Reset(rc.Interval)
		}
		select {
		case <-timer.C:
		case <-stop:
			outcome = Stopped
			break loop
		case <-ctx.Done():
			outcome = Cancelled
			break loop
		}
	}

	st.Running = false
	log.Info("run finished", "run", rc.RunID, "outcome", string(outcome), "samples", len(st.Series))
	return st, outcome, nil
}

func boundary(ctx context.Context, stop <-chan struct{}) (Outcome, bool) {
	select {
	case <-stop:
		return Stopped, true
	case <-ctx.Done():
		return Cancelled, true
	default:
		return "", false
	}
}

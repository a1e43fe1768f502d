package sampler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ivanzxc/go-glucose-stream/internal/analysis"
	"github.com/ivanzxc/go-glucose-stream/internal/config"
	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

var ErrRunning = errors.New("sampler: a run is already in progress")

// Status is what the dashboard shows next to the chart.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
)

// ControllerOptions configure a Controller. NewEstimator is called once per
// run (nil means unseeded Gaussian noise). OnFinish runs after the state has
// gone back to idle.
type ControllerOptions struct {
	Interval     time.Duration
	Mode         string
	Manual       sensor.Reading
	NewEstimator func() *analysis.Estimator
	Now          func() time.Time
	Emitter      Emitter
	OnFinish     func(runID string, status Status, samples int)
	Log          *slog.Logger
}

// Controller owns the session state for a long-lived process and moves it
// between Idle and Running. All methods are safe for concurrent use; the
// state itself is only written by the run goroutine.
type Controller struct {
	opts ControllerOptions
	log  *slog.Logger

	mu      sync.Mutex
	mode    string
	manual  sensor.Reading
	device  sensor.Source
	reading sensor.Reading
	state   State
	status  Status
	stop    chan struct{}
	done    chan struct{}
}

func NewController(opts ControllerOptions) *Controller {
	if opts.Mode == "" {
		opts.Mode = config.ModeManual
	}
	if opts.NewEstimator == nil {
		opts.NewEstimator = func() *analysis.Estimator { return analysis.NewEstimator(nil) }
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Controller{
		opts:    opts,
		log:     opts.Log,
		mode:    opts.Mode,
		manual:  opts.Manual,
		reading: opts.Manual,
		status:  StatusIdle,
	}
}

// View is a detached copy of the controller for readers.
type View struct {
	State  State
	Status Status
	Mode   string
	Manual sensor.Reading
}

func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state.Copy()
	st.Reading = c.reading
	return View{State: st, Status: c.status, Mode: c.mode, Manual: c.manual}
}

func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusRunning
}

func (c *Controller) SetManual(r sensor.Reading) error {
	if err := config.ValidateManual(r); err != nil {
		return err
	}
	c.mu.Lock()
	c.manual = r
	if c.mode == config.ModeManual {
		c.reading = r
	}
	c.mu.Unlock()
	return nil
}

// SetMode picks the source used by the next run.
func (c *Controller) SetMode(m string) error {
	if err := config.ValidateMode(m); err != nil {
		return err
	}
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
	return nil
}

// SetDevice installs the device-mode source. nil means no device; runs in
// device mode then keep the last known reading.
func (c *Controller) SetDevice(src sensor.Source) {
	c.mu.Lock()
	c.device = src
	c.mu.Unlock()
}

// Start resets the session and runs duration ticks in the background.
// The run ends early on Stop or when ctx is cancelled.
func (c *Controller) Start(ctx context.Context, duration int) (string, error) {
	if err := config.ValidateDuration(duration); err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.status == StatusRunning {
		c.mu.Unlock()
		return "", ErrRunning
	}

	var src sensor.Source
	initial := c.reading
	switch {
	case c.mode == config.ModeManual:
		src = liveManual{c}
		initial = c.manual
	case c.device != nil:
		src = c.device
	default:
		src = noUpdates{}
	}

	runID := uuid.NewString()
	stop := make(chan struct{})
	done := make(chan struct{})
	c.state = Reset(runID, initial)
	c.reading = initial
	c.status = StatusRunning
	c.stop, c.done = stop, done
	c.mu.Unlock()

	rc := RunConfig{
		RunID:    runID,
		Duration: duration,
		Interval: c.opts.Interval,
		Initial:  initial,
		Now:      c.opts.Now,
		Log:      c.log,
	}
	go func() {
		defer close(done)
		st, outcome, err := Run(ctx, rc, src, c.opts.NewEstimator(), EmitterFunc(c.observe), stop)
		if err != nil {
			c.log.Error("run failed", "run", runID, "err", err)
		}

		status := StatusStopped
		if outcome == Completed {
			status = StatusCompleted
		}
		c.mu.Lock()
		c.state = st
		c.reading = st.Reading
		c.stop = nil
		c.status = status
		c.mu.Unlock()

		if c.opts.OnFinish != nil {
			c.opts.OnFinish(runID, status, len(st.Series))
		}
	}()

	return runID, nil
}

func (c *Controller) observe(ctx context.Context, u Update) {
	c.mu.Lock()
	c.state.Tick = u.Sample.Tick
	c.state.Series = u.Series
	g := u.Sample.Glucose
	c.state.Previous = &g
	c.reading = u.Reading
	c.mu.Unlock()

	if c.opts.Emitter != nil {
		c.opts.Emitter.Emit(ctx, u)
	}
}

// Stop asks the current run to end at the next tick boundary. It reports
// whether a run was active.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusRunning || c.stop == nil {
		return false
	}
	close(c.stop)
	c.stop = nil
	return true
}

// Wait blocks until the current (or last) run has ended.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// liveManual reads the current manual values on every tick, so slider
// changes apply to a run in progress.
type liveManual struct{ c *Controller }

func (m liveManual) Poll() (sensor.Reading, bool) {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	return m.c.manual, true
}

type noUpdates struct{}

func (noUpdates) Poll() (sensor.Reading, bool) { return sensor.Reading{}, false }

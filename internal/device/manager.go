package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

var (
	ErrConnected    = errors.New("device: already connected")
	ErrNotConnected = errors.New("device: not connected")
)

// ManagerOptions configure a Manager. OnState is told about every connect
// and disconnect.
type ManagerOptions struct {
	Settle      time.Duration
	ReadTimeout time.Duration
	Open        Opener
	Hooks       sensor.ListenHooks
	OnState     func(connected bool)
	Log         *slog.Logger
}

// Status describes the current link.
type Status struct {
	Connected bool   `json:"connected"`
	Target    string `json:"target,omitempty"`
	Baud      int    `json:"baud,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Manager owns at most one device link and the listener goroutine feeding
// its readings into a Latest cell. It never reconnects on its own.
type Manager struct {
	opts   ManagerOptions
	log    *slog.Logger
	latest *sensor.Latest

	mu      sync.Mutex
	status  Status
	opening bool
	closer  io.Closer
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Manager{opts: opts, log: opts.Log, latest: sensor.NewLatest()}
}

// Source is the device-mode signal source. It yields nothing while
// disconnected; an unread reading is dropped when the link goes down.
func (m *Manager) Source() sensor.Source { return m.latest }

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) Connected() bool { return m.Status().Connected }

// Connect opens the serial port, waits for it to settle and starts
// listening. Failures leave the manager disconnected.
func (m *Manager) Connect(ctx context.Context, port string, baud int) error {
	if err := m.claim(); err != nil {
		return err
	}
	defer m.release()

	s, err := Open(ctx, Options{Port: port, Baud: baud, Settle: m.opts.Settle, ReadTimeout: m.opts.ReadTimeout}, m.opts.Open)
	if err != nil {
		m.fail(err)
		return err
	}

	m.start(Status{Connected: true, Target: port, Baud: baud}, s, func(ctx context.Context) error {
		return sensor.Listen(ctx, s, m.latest, m.hooks())
	})
	m.log.Info("device connected", "port", port, "baud", baud)
	return nil
}

// ConnectHTTP starts polling a WiFi board instead of a serial port.
func (m *Manager) ConnectHTTP(url string) error {
	if err := m.claim(); err != nil {
		return err
	}
	defer m.release()

	src := NewHTTPSource(url)
	m.start(Status{Connected: true, Target: url}, nil, func(ctx context.Context) error {
		return src.Run(ctx, m.latest, func(err error) {
			m.log.Warn("device poll failed", "url", url, "err", err)
		})
	})
	m.log.Info("device polling", "url", url)
	return nil
}

func (m *Manager) claim() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Connected || m.opening {
		return ErrConnected
	}
	m.opening = true
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.opening = false
	m.mu.Unlock()
}

func (m *Manager) start(st Status, closer io.Closer, listen func(context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.status = st
	m.closer, m.cancel, m.done = closer, cancel, done
	m.mu.Unlock()
	m.notify(true)

	go func() {
		defer func() {
			m.latest.Take()
			close(done)
		}()
		err := listen(ctx)
		if ctx.Err() != nil {
			return
		}
		// The link dropped under us; report it and wait for an explicit reconnect.
		m.log.Warn("device link lost", "target", st.Target, "err", err)
		m.teardown(err)
	}()
}

// Disconnect closes the link and waits for the listener to exit.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if !m.status.Connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	done := m.done
	m.mu.Unlock()

	err := m.teardown(nil)
	<-done
	m.log.Info("device disconnected")
	return err
}

func (m *Manager) teardown(cause error) error {
	m.mu.Lock()
	if !m.status.Connected {
		m.mu.Unlock()
		return nil
	}
	cancel, closer := m.cancel, m.closer
	m.latest.Take()
	m.status = Status{}
	if cause != nil {
		m.status.LastError = cause.Error()
	}
	m.closer, m.cancel = nil, nil
	m.mu.Unlock()

	cancel()
	var err error
	if closer != nil {
		err = closer.Close()
	}
	m.notify(false)
	return err
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.status = Status{LastError: err.Error()}
	m.mu.Unlock()
	m.log.Error("device connect failed", "err", err)
}

func (m *Manager) notify(connected bool) {
	if m.opts.OnState != nil {
		m.opts.OnState(connected)
	}
}

func (m *Manager) hooks() sensor.ListenHooks {
	h := m.opts.Hooks
	onInvalid := h.OnInvalid
	h.OnInvalid = func(line string, err error) {
		m.log.Warn("bad device line", "err", err)
		if onInvalid != nil {
			onInvalid(line, err)
		}
	}
	onIgnored := h.OnIgnored
	h.OnIgnored = func(line string) {
		m.log.Debug("ignored device line", "line", line)
		if onIgnored != nil {
			onIgnored(line)
		}
	}
	return h
}

// Package web serves the live dashboard: the JSON control API, the chart,
// the CSV export and the websocket feed.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"

	"github.com/ivanzxc/go-glucose-stream/internal/chart"
	"github.com/ivanzxc/go-glucose-stream/internal/config"
	"github.com/ivanzxc/go-glucose-stream/internal/device"
	"github.com/ivanzxc/go-glucose-stream/internal/export"
	"github.com/ivanzxc/go-glucose-stream/internal/sampler"
	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

const chartTitle = "Glucose Level Over Time"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options wire the dashboard to the session. Metrics and StaticDir are
// optional.
type Options struct {
	Controller      *sampler.Controller
	Devices         *device.Manager
	Hub             *Hub
	Metrics         http.Handler
	StaticDir       string
	DefaultDuration int
	DefaultBaud     int
	Now             func() time.Time
	Log             *slog.Logger
}

type Server struct {
	opts Options
	log  *slog.Logger
	ctx  context.Context
}

// NewServer builds the dashboard. Runs started over the API live as long
// as ctx.
func NewServer(ctx context.Context, opts Options) *Server {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultDuration == 0 {
		opts.DefaultDuration = config.DefaultDuration
	}
	if opts.DefaultBaud == 0 {
		opts.DefaultBaud = 115200
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Log, nil)
	}
	return &Server{opts: opts, log: opts.Log, ctx: ctx}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.ws)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}

	gz := func(h http.Handler) http.Handler { return gzhttp.GzipHandler(h) }

	api := r.PathPrefix("/api").Subrouter()
	api.Use(gz)
	api.HandleFunc("/state", s.state).Methods(http.MethodGet)
	api.HandleFunc("/run/start", s.start).Methods(http.MethodPost)
	api.HandleFunc("/run/stop", s.stop).Methods(http.MethodPost)
	api.HandleFunc("/manual", s.manual).Methods(http.MethodPut)
	api.HandleFunc("/mode", s.mode).Methods(http.MethodPut)
	api.HandleFunc("/device/connect", s.connect).Methods(http.MethodPost)
	api.HandleFunc("/device/disconnect", s.disconnect).Methods(http.MethodPost)
	api.HandleFunc("/export.csv", s.exportCSV).Methods(http.MethodGet)

	r.HandleFunc("/chart.png", s.chart).Methods(http.MethodGet)

	if s.opts.StaticDir != "" {
		r.PathPrefix("/").Handler(gz(http.FileServer(http.Dir(s.opts.StaticDir))))
	}
	return r
}

// StateView is what GET /api/state returns and what a new websocket
// client receives first.
type StateView struct {
	RunID   string         `json:"run_id,omitempty"`
	Status  sampler.Status `json:"status"`
	Mode    string         `json:"mode"`
	Tick    int            `json:"tick"`
	Manual  sensor.Reading `json:"manual"`
	Reading sensor.Reading `json:"reading"`
	Latest  *Point         `json:"latest"`
	Series  []Point        `json:"series"`
	Device  *device.Status `json:"device,omitempty"`
}

func (s *Server) view() StateView {
	v := s.opts.Controller.Snapshot()
	out := StateView{
		RunID:   v.State.RunID,
		Status:  v.Status,
		Mode:    v.Mode,
		Tick:    v.State.Tick,
		Manual:  v.Manual,
		Reading: v.State.Reading,
		Series:  points(v.State.Series),
	}
	if last, ok := v.State.Last(); ok {
		out.Latest = &Point{Time: last.Clock(), Glucose: last.Glucose}
	}
	if s.opts.Devices != nil {
		st := s.opts.Devices.Status()
		out.Device = &st
	}
	return out
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.view())
}

type startRequest struct {
	Duration int `json:"duration"`
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	req := startRequest{Duration: s.opts.DefaultDuration}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	runID, err := s.opts.Controller.Start(s.ctx, req.Duration)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) stop(w http.ResponseWriter, _ *http.Request) {
	stopped := s.opts.Controller.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) manual(w http.ResponseWriter, r *http.Request) {
	var rd sensor.Reading
	if err := json.NewDecoder(r.Body).Decode(&rd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.opts.Controller.SetManual(rd); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) mode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.opts.Controller.SetMode(req.Mode); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type connectRequest struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
	URL  string `json:"url"`
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if s.opts.Devices == nil {
		writeError(w, http.StatusNotFound, errors.New("no device support"))
		return
	}
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var err error
	switch {
	case req.URL != "":
		err = s.opts.Devices.ConnectHTTP(req.URL)
	case req.Port != "":
		if req.Baud == 0 {
			req.Baud = s.opts.DefaultBaud
		}
		err = s.opts.Devices.Connect(r.Context(), req.Port, req.Baud)
	default:
		err = &config.Error{Field: "port", Value: "", Reason: "a port or url is required"}
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Devices.Status())
}

func (s *Server) disconnect(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Devices == nil {
		writeError(w, http.StatusNotFound, errors.New("no device support"))
		return
	}
	if err := s.opts.Devices.Disconnect(); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exportCSV(w http.ResponseWriter, _ *http.Request) {
	series := s.opts.Controller.Snapshot().State.Series
	if len(series) == 0 {
		writeError(w, http.StatusNotFound, errors.New("no data to export"))
		return
	}
	data, err := export.CSV(series)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(s.opts.Now())+`"`)
	_, _ = w.Write(data)
}

func (s *Server) chart(w http.ResponseWriter, _ *http.Request) {
	series := s.opts.Controller.Snapshot().State.Series
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "image/png")
	err := chart.RenderPNG(w, chartTitle, series)
	if errors.Is(err, chart.ErrTooFewSamples) {
		w.Header().Del("Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.log.Error("chart render failed", "err", err)
	}
}

func (s *Server) ws(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	hub := s.opts.Hub

	b, err := json.Marshal(Message{Type: "state", Payload: s.view()})
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		err = conn.WriteMessage(websocket.TextMessage, b)
	}
	if err != nil {
		conn.Close()
		return
	}

	hub.add(conn)
	defer func() {
		hub.remove(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	var cfgErr *config.Error
	var connErr *device.ConnectionError
	switch {
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, sampler.ErrRunning),
		errors.Is(err, device.ErrConnected),
		errors.Is(err, device.ErrNotConnected):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &connErr):
		writeError(w, http.StatusBadGateway, err)
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

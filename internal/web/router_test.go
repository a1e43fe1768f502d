package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivanzxc/go-glucose-stream/internal/analysis"
	"github.com/ivanzxc/go-glucose-stream/internal/device"
	"github.com/ivanzxc/go-glucose-stream/internal/sampler"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func fakeClock() func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

// idlePort is a serial port that never produces data.
type idlePort struct{}

func (idlePort) Read(b []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return 0, nil
}

func (idlePort) Write(b []byte) (int, error)        { return len(b), nil }
func (idlePort) Close() error                       { return nil }
func (idlePort) SetReadTimeout(time.Duration) error { return nil }

type fixture struct {
	ctl *sampler.Controller
	dev *device.Manager
	hub *Hub
	srv *Server
	h   http.Handler
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	hub := NewHub(nil, nil)
	ctl := sampler.NewController(sampler.ControllerOptions{
		Interval:     interval,
		NewEstimator: func() *analysis.Estimator { return analysis.NewEstimator(analysis.ZeroNoise) },
		Now:          fakeClock(),
		Emitter:      hub,
	})
	dev := device.NewManager(device.ManagerOptions{
		Open: func(name string, baud int) (device.Port, error) {
			if name == "/dev/missing" {
				return nil, errors.New("no such file or directory")
			}
			return idlePort{}, nil
		},
	})
	srv := NewServer(context.Background(), Options{
		Controller: ctl,
		Devices:    dev,
		Hub:        hub,
		Now:        func() time.Time { return t0 },
	})
	t.Cleanup(func() {
		ctl.Stop()
		ctl.Wait()
		_ = dev.Disconnect()
	})
	return &fixture{ctl: ctl, dev: dev, hub: hub, srv: srv, h: srv.Router()}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStateIdle(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.do(http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	v := decode[StateView](t, rec)
	assert.Equal(t, sampler.StatusIdle, v.Status)
	assert.Equal(t, "manual", v.Mode)
	assert.Nil(t, v.Latest)
	assert.Empty(t, v.Series)
	require.NotNil(t, v.Device)
	assert.False(t, v.Device.Connected)
}

func TestRunToCompletion(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(http.MethodPost, "/api/run/start", `{"duration":10}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	runID := decode[map[string]string](t, rec)["run_id"]
	assert.NotEmpty(t, runID)
	f.ctl.Wait()

	v := decode[StateView](t, f.do(http.MethodGet, "/api/state", ""))
	assert.Equal(t, sampler.StatusCompleted, v.Status)
	assert.Equal(t, runID, v.RunID)
	assert.Equal(t, 10, v.Tick)
	require.Len(t, v.Series, 10)
	require.NotNil(t, v.Latest)
	assert.Equal(t, "09:00:10", v.Latest.Time)
	for _, p := range v.Series {
		assert.GreaterOrEqual(t, p.Glucose, analysis.GlucoseMin)
		assert.LessOrEqual(t, p.Glucose, analysis.GlucoseMax)
	}
}

func TestStartDefaultsDuration(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.do(http.MethodPost, "/api/run/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	f.ctl.Wait()
	assert.Len(t, f.ctl.Snapshot().State.Series, 30)
}

func TestStartRejectsOutOfRange(t *testing.T) {
	f := newFixture(t, 0)
	for _, body := range []string{`{"duration":5}`, `{"duration":301}`} {
		rec := f.do(http.MethodPost, "/api/run/start", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/run/start", `{`).Code)
}

func TestStartWhileRunningAndStop(t *testing.T) {
	f := newFixture(t, time.Hour)

	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/run/start", `{"duration":10}`).Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/run/start", `{"duration":10}`).Code)

	rec := f.do(http.MethodPost, "/api/run/stop", "")
	assert.JSONEq(t, `{"stopped":true}`, rec.Body.String())
	f.ctl.Wait()

	assert.Equal(t, sampler.StatusStopped, f.ctl.Snapshot().Status)
	rec = f.do(http.MethodPost, "/api/run/stop", "")
	assert.JSONEq(t, `{"stopped":false}`, rec.Body.String())
}

func TestManualAndMode(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(http.MethodPut, "/api/manual", `{"red_signal":0.9,"ir_signal":0.8,"temperature":37.5,"motion":0}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0.9, f.ctl.Snapshot().Manual.Red)

	rec = f.do(http.MethodPut, "/api/manual", `{"red_signal":0.9,"ir_signal":0.8,"temperature":45,"motion":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPut, "/api/mode", `{"mode":"device"}`).Code)
	assert.Equal(t, "device", f.ctl.Snapshot().Mode)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/mode", `{"mode":"auto"}`).Code)
}

func TestDeviceConnectDisconnect(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(http.MethodPost, "/api/device/connect", `{"port":"/dev/missing","baud":115200}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = f.do(http.MethodPost, "/api/device/connect", `{"port":"/dev/ttyUSB0","baud":1200}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/device/connect", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/device/connect", `{"port":"/dev/ttyUSB0"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[device.Status](t, rec)
	assert.True(t, st.Connected)
	assert.Equal(t, 115200, st.Baud)

	rec = f.do(http.MethodPost, "/api/device/connect", `{"port":"/dev/ttyUSB0"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/api/device/disconnect", "").Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/device/disconnect", "").Code)
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t, 0)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/export.csv", "").Code)

	f.do(http.MethodPost, "/api/run/start", `{"duration":10}`)
	f.ctl.Wait()

	rec := f.do(http.MethodGet, "/api/export.csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="glucose_data_20240301_090000.csv"`, rec.Header().Get("Content-Disposition"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 11)
	assert.Equal(t, "Time,Glucose", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "09:00:01,"))
}

func TestChart(t *testing.T) {
	f := newFixture(t, 0)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodGet, "/chart.png", "").Code)

	f.do(http.MethodPost, "/api/run/start", `{"duration":10}`)
	f.ctl.Wait()

	rec := f.do(http.MethodGet, "/chart.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestWebsocketReceivesStateThenSamples(t *testing.T) {
	f := newFixture(t, 0)
	ts := httptest.NewServer(f.h)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "state", msg.Type)

	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	_, err = f.ctl.Start(context.Background(), 10)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var last SamplePayload
	for i := 0; i < 10; i++ {
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, "sample", msg.Type)
		require.NoError(t, json.Unmarshal(msg.Payload, &last))
		assert.Equal(t, i+1, last.Sample.Tick)
	}
	assert.Len(t, last.Series, 10)
}

package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ivanzxc/go-glucose-stream/internal/sampler"
	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	Glucose         prometheus.Gauge
	Ticks           prometheus.Counter
	Runs            *prometheus.CounterVec // by outcome
	SensorChannel   *prometheus.GaugeVec   // red, ir, temperature, motion
	DeviceConnected prometheus.Gauge
	DeviceLines     *prometheus.CounterVec // by result: ok, invalid, ignored
	PublishErrors   *prometheus.CounterVec // by sink
	WSClients       prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Glucose: f.NewGauge(prometheus.GaugeOpts{
			Name: "glucose_estimate_mg_dl",
			Help: "Most recent synthetic glucose estimate",
		}),
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "glucose_ticks_total",
			Help: "Sampling ticks computed",
		}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "glucose_runs_total",
			Help: "Runs finished, by outcome",
		}, []string{"outcome"}),
		SensorChannel: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "glucose_sensor_value",
			Help: "Sensor reading used by the latest tick",
		}, []string{"channel"}),
		DeviceConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "glucose_device_connected",
			Help: "1 while a device link is open",
		}),
		DeviceLines: f.NewCounterVec(prometheus.CounterOpts{
			Name: "glucose_device_lines_total",
			Help: "Device lines received, by parse result",
		}, []string{"result"}),
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "glucose_publish_errors_total",
			Help: "Failed sample publishes, by sink",
		}, []string{"sink"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "glucose_ws_clients",
			Help: "Connected dashboard websocket clients",
		}),
	}
}

// Emit records one tick; it satisfies sampler.Emitter.
func (m *Metrics) Emit(_ context.Context, u sampler.Update) {
	m.Glucose.Set(u.Sample.Glucose)
	m.Ticks.Inc()
	m.SensorChannel.WithLabelValues("red").Set(u.Reading.Red)
	m.SensorChannel.WithLabelValues("ir").Set(u.Reading.IR)
	m.SensorChannel.WithLabelValues("temperature").Set(u.Reading.Temperature)
	m.SensorChannel.WithLabelValues("motion").Set(u.Reading.Motion)
}

func (m *Metrics) RunFinished(status sampler.Status) {
	m.Runs.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) SetDeviceConnected(c bool) {
	if c {
		m.DeviceConnected.Set(1)
	} else {
		m.DeviceConnected.Set(0)
	}
}

// ListenHooks counts device lines by outcome.
func (m *Metrics) ListenHooks() sensor.ListenHooks {
	return sensor.ListenHooks{
		OnReading: func(sensor.Reading) { m.DeviceLines.WithLabelValues("ok").Inc() },
		OnInvalid: func(string, error) { m.DeviceLines.WithLabelValues("invalid").Inc() },
		OnIgnored: func(string) { m.DeviceLines.WithLabelValues("ignored").Inc() },
	}
}

func (m *Metrics) PublishFailed(sink string) {
	m.PublishErrors.WithLabelValues(sink).Inc()
}

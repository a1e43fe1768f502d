package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	osSignal "os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/ivanzxc/go-glucose-stream/internal/analysis"
	"github.com/ivanzxc/go-glucose-stream/internal/config"
	"github.com/ivanzxc/go-glucose-stream/internal/device"
	"github.com/ivanzxc/go-glucose-stream/internal/logging"
	"github.com/ivanzxc/go-glucose-stream/internal/metrics"
	"github.com/ivanzxc/go-glucose-stream/internal/publish"
	"github.com/ivanzxc/go-glucose-stream/internal/sampler"
	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
	"github.com/ivanzxc/go-glucose-stream/internal/stream"
	"github.com/ivanzxc/go-glucose-stream/internal/web"
)

func main() {

	flags := config.NewFlags(pflag.CommandLine)
	webDir := pflag.String("web", "./web", "directory served at /")
	pflag.Parse()

	cfg, err := flags.Resolve()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, logFile := logging.New(cfg.Log.Level, cfg.Log.Path)
	defer logFile.Close()
	slog.SetDefault(log)

	ctx, cancel := osSignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New(prometheus.DefaultRegisterer)
	hub := web.NewHub(log, func(n int) { m.WSClients.Set(float64(n)) })

	var devices *device.Manager
	devices = device.NewManager(device.ManagerOptions{
		Settle:      cfg.Device.Settle,
		ReadTimeout: cfg.Device.ReadTimeout,
		Hooks:       m.ListenHooks(),
		OnState: func(connected bool) {
			m.SetDeviceConnected(connected)
			hub.Send(web.Message{Type: "device", Payload: devices.Status()})
		},
		Log: log.With("component", "device"),
	})

	fan, nc := publish.FromConfig(cfg, "glucose-server", log.With("component", "publish"))
	fan.OnError = m.PublishFailed
	sources := sensor.Any{devices.Source()}

	// Lines relayed over NATS (e.g. by the producer) count as a device too.
	if nc != nil {
		defer nc.Drain()
		lines := sensor.NewLatest()
		if _, err := stream.SubscribeLines(nc, cfg.NATS.LinesSubject, lines, m.ListenHooks()); err != nil {
			log.Error("nats subscribe failed", "subject", cfg.NATS.LinesSubject, "err", err)
		} else {
			sources = append(sources, lines)
		}
	}

	if cfg.Device.HTTPURL != "" {
		if err := devices.ConnectHTTP(cfg.Device.HTTPURL); err != nil {
			log.Error("device poll setup failed", "url", cfg.Device.HTTPURL, "err", err)
		}
	}

	seed := cfg.Run.Seed
	ctl := sampler.NewController(sampler.ControllerOptions{
		Interval: cfg.Run.Interval,
		Mode:     cfg.Run.Mode,
		Manual:   cfg.Manual,
		NewEstimator: func() *analysis.Estimator {
			return analysis.NewEstimator(analysis.NewGaussianNoise(seed))
		},
		Emitter: sampler.Emitters{m, hub, fan},
		OnFinish: func(runID string, status sampler.Status, samples int) {
			m.RunFinished(status)
			hub.Send(web.Message{Type: "status", Payload: web.StatusPayload{RunID: runID, Status: status, Samples: samples}})
		},
		Log: log.With("component", "sampler"),
	})
	ctl.SetDevice(sources)

	srv := web.NewServer(ctx, web.Options{
		Controller:      ctl,
		Devices:         devices,
		Hub:             hub,
		Metrics:         promhttp.Handler(),
		StaticDir:       *webDir,
		DefaultDuration: cfg.Run.Duration,
		DefaultBaud:     cfg.Device.Baud,
		Log:             log.With("component", "http"),
	})

	access := slog.NewLogLogger(log.Handler(), slog.LevelInfo)
	handler := handlers.RecoveryHandler(handlers.RecoveryLogger(access))(srv.Router())
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handlers.LoggingHandler(access.Writer(), handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server running", "addr", cfg.HTTP.Addr, "mode", cfg.Run.Mode, "sinks", fan.Len())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	ctl.Stop()
	ctl.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	if devices.Connected() {
		_ = devices.Disconnect()
	}
	if err := fan.Close(); err != nil {
		log.Warn("closing sinks", "err", err)
	}
	log.Info("server stopped")
}

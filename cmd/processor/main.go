package main

import (
	"context"
	"fmt"
	"os"
	osSignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/ivanzxc/go-glucose-stream/internal/analysis"
	"github.com/ivanzxc/go-glucose-stream/internal/chart"
	"github.com/ivanzxc/go-glucose-stream/internal/config"
	"github.com/ivanzxc/go-glucose-stream/internal/device"
	"github.com/ivanzxc/go-glucose-stream/internal/export"
	"github.com/ivanzxc/go-glucose-stream/internal/logging"
	"github.com/ivanzxc/go-glucose-stream/internal/publish"
	"github.com/ivanzxc/go-glucose-stream/internal/sampler"
	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

// processor runs one session without a browser: it samples until the
// duration is used up or SIGINT arrives, publishes every tick and writes
// the CSV (and optionally the chart) when done.
func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code; deferred cleanup (port, NATS, log file) runs
// before main exits.
func run(args []string) int {
	fs := pflag.NewFlagSet("processor", pflag.ContinueOnError)
	flags := config.NewFlags(fs)
	outDir := fs.StringP("out", "o", ".", "directory for the CSV export")
	withChart := fs.Bool("chart", false, "also write a PNG chart next to the CSV")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := flags.Resolve()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	log, logFile := logging.New(cfg.Log.Level, cfg.Log.Path)
	defer logFile.Close()

	// First signal stops at the next tick boundary, a second one aborts.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan struct{})
	sig := make(chan os.Signal, 2)
	osSignal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer osSignal.Stop(sig)
	go func() {
		<-sig
		log.Info("stopping after the current tick")
		close(stop)
		<-sig
		cancel()
	}()

	var src sensor.Source = sensor.Manual{Reading: cfg.Manual}
	if cfg.Run.Mode == config.ModeDevice {
		devices := device.NewManager(device.ManagerOptions{
			Settle:      cfg.Device.Settle,
			ReadTimeout: cfg.Device.ReadTimeout,
			Log:         log.With("component", "device"),
		})
		if cfg.Device.HTTPURL != "" {
			err = devices.ConnectHTTP(cfg.Device.HTTPURL)
		} else {
			err = devices.Connect(ctx, cfg.Device.Port, cfg.Device.Baud)
		}
		if err != nil {
			log.Error("device unavailable", "err", err)
			return 1
		}
		defer devices.Disconnect()
		src = devices.Source()
	}

	fan, nc := publish.FromConfig(cfg, "glucose-processor", log.With("component", "publish"))
	if nc != nil {
		defer nc.Drain()
	}

	printer := sampler.EmitterFunc(func(_ context.Context, u sampler.Update) {
		fmt.Printf("%s  tick %3d  glucose %6.1f mg/dL\n", u.Sample.Clock(), u.Sample.Tick, u.Sample.Glucose)
	})

	rc := sampler.RunConfig{
		RunID:    uuid.NewString(),
		Duration: cfg.Run.Duration,
		Interval: cfg.Run.Interval,
		Initial:  cfg.Manual,
		Log:      log.With("component", "sampler"),
	}
	est := analysis.NewEstimator(analysis.NewGaussianNoise(cfg.Run.Seed))

	st, outcome, err := sampler.Run(ctx, rc, src, est, sampler.Emitters{printer, fan}, stop)
	if err != nil {
		log.Error("run failed", "err", err)
		return 1
	}
	if err := fan.Close(); err != nil {
		log.Warn("closing sinks", "err", err)
	}
	log.Info("run finished", "run", rc.RunID, "outcome", outcome, "samples", len(st.Series))

	if len(st.Series) == 0 {
		return 0
	}
	now := time.Now()
	path, err := export.SaveCSV(*outDir, st.Series, now)
	if err != nil {
		log.Error("export failed", "err", err)
		return 1
	}
	log.Info("data exported", "path", path)

	if *withChart {
		if err := writeChart(filepath.Join(*outDir, "glucose_chart_"+now.Format("20060102_150405")+".png"), st.Series); err != nil {
			log.Warn("chart not written", "err", err)
		}
	}
	return 0
}

func writeChart(path string, series []sampler.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := chart.RenderPNG(f, "Glucose Level Over Time", series); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

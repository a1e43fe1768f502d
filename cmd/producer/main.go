package main

import (
	"context"
	"fmt"
	"io"
	"os"
	osSignal "os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"

	"github.com/ivanzxc/go-glucose-stream/internal/device"
	"github.com/ivanzxc/go-glucose-stream/internal/logging"
	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
	"github.com/ivanzxc/go-glucose-stream/internal/signal"
	"github.com/ivanzxc/go-glucose-stream/internal/stream"
)

// producer pretends to be the wristband: it writes DATA: lines either to a
// NATS subject or to a serial port (one end of a null-modem pair).
func main() {

	var (
		natsURL  = pflag.String("nats", "nats://127.0.0.1:4222", "NATS url")
		subject  = pflag.String("subject", "sensor.lines", "subject for DATA lines")
		port     = pflag.StringP("port", "p", "", "write to this serial port instead of NATS")
		baud     = pflag.IntP("baud", "b", 115200, "serial baud rate")
		rate     = pflag.Float64("rate", 1, "lines per second")
		hr       = pflag.Float64("hr", 72, "heart rate bpm")
		noise    = pflag.Float64("noise", 0.01, "channel noise amplitude")
		badEvery = pflag.Int("bad-every", 0, "emit a malformed line every N lines (0 = never)")
		level    = pflag.String("log-level", "info", "debug, info, warn or error")
	)
	pflag.Parse()
	if *rate <= 0 {
		*rate = 1
	}

	log, logFile := logging.New(*level, "")
	defer logFile.Close()

	var out lineWriter
	if *port != "" {
		p, err := device.OpenSerialPort(*port, *baud)
		if err != nil {
			log.Error("open serial port", "port", *port, "err", err)
			os.Exit(1)
		}
		defer p.Close()
		out = serialWriter{p}
		log.Info("producer writing to serial", "port", *port, "baud", *baud)
	} else {
		nc, err := stream.Connect(*natsURL, "glucose-producer")
		if err != nil {
			log.Error("nats connect", "url", *natsURL, "err", err)
			os.Exit(1)
		}
		defer nc.Drain()
		out = natsWriter{nc: nc, subject: *subject}
		log.Info("producer publishing", "url", *natsURL, "subject", *subject)
	}

	ctx, cancel := osSignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sim := signal.NewWristbandSim(*rate, *hr, *noise, sensor.Default)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / *rate))
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			log.Info("producer: stopping", "lines", n-1)
			return

		case <-ticker.C:
			line := sensor.FormatLine(sim.Next())
			if *badEvery > 0 && n%*badEvery == 0 {
				line = malformed(n)
			}
			if err := out.WriteLine(line); err != nil {
				log.Warn("write failed", "err", err)
				continue
			}
			log.Debug("line sent", "line", line)
		}
	}
}

type lineWriter interface {
	WriteLine(line string) error
}

type natsWriter struct {
	nc      *nats.Conn
	subject string
}

func (w natsWriter) WriteLine(line string) error {
	return w.nc.Publish(w.subject, []byte(line))
}

type serialWriter struct {
	w io.Writer
}

func (w serialWriter) WriteLine(line string) error {
	_, err := fmt.Fprintf(w.w, "%s\r\n", line)
	return err
}

// malformed cycles through the kinds of garbage a real board emits.
func malformed(n int) string {
	switch n % 3 {
	case 0:
		return "DATA:0.61,0.70"
	case 1:
		return "DATA:0.61,abc,36.5,0.3"
	default:
		return "boot: sensor ready"
	}
}

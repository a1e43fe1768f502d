package config

import (
	"github.com/spf13/pflag"
)

// Flags binds command-line overrides. Only flags given on the command line
// replace values from the YAML file.
type Flags struct {
	fs      *pflag.FlagSet
	path    string
	scratch Config
	copy    map[string]func(dst, src *Config)
}

func NewFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs, scratch: Default(), copy: map[string]func(dst, src *Config){}}
	s := &f.scratch

	fs.StringVarP(&f.path, "config", "c", "", "YAML configuration file")

	fs.IntVarP(&s.Run.Duration, "duration", "d", s.Run.Duration, "run length in ticks (10-300)")
	f.copy["duration"] = func(dst, src *Config) { dst.Run.Duration = src.Run.Duration }
	fs.DurationVar(&s.Run.Interval, "interval", s.Run.Interval, "delay between ticks")
	f.copy["interval"] = func(dst, src *Config) { dst.Run.Interval = src.Run.Interval }
	fs.Uint64Var(&s.Run.Seed, "seed", s.Run.Seed, "noise seed (0 = random)")
	f.copy["seed"] = func(dst, src *Config) { dst.Run.Seed = src.Run.Seed }
	fs.StringVarP(&s.Run.Mode, "mode", "m", s.Run.Mode, "signal source: manual or device")
	f.copy["mode"] = func(dst, src *Config) { dst.Run.Mode = src.Run.Mode }

	fs.Float64Var(&s.Manual.Red, "red", s.Manual.Red, "manual red signal")
	f.copy["red"] = func(dst, src *Config) { dst.Manual.Red = src.Manual.Red }
	fs.Float64Var(&s.Manual.IR, "ir", s.Manual.IR, "manual IR signal")
	f.copy["ir"] = func(dst, src *Config) { dst.Manual.IR = src.Manual.IR }
	fs.Float64Var(&s.Manual.Temperature, "temp", s.Manual.Temperature, "manual temperature (°C)")
	f.copy["temp"] = func(dst, src *Config) { dst.Manual.Temperature = src.Manual.Temperature }
	fs.Float64Var(&s.Manual.Motion, "motion", s.Manual.Motion, "manual motion activity")
	f.copy["motion"] = func(dst, src *Config) { dst.Manual.Motion = src.Manual.Motion }

	fs.StringVarP(&s.Device.Port, "port", "p", s.Device.Port, "serial port of the wristband")
	f.copy["port"] = func(dst, src *Config) { dst.Device.Port = src.Device.Port }
	fs.IntVarP(&s.Device.Baud, "baud", "b", s.Device.Baud, "serial baud rate")
	f.copy["baud"] = func(dst, src *Config) { dst.Device.Baud = src.Device.Baud }
	fs.StringVar(&s.Device.HTTPURL, "device-url", s.Device.HTTPURL, "poll readings over HTTP instead of serial")
	f.copy["device-url"] = func(dst, src *Config) { dst.Device.HTTPURL = src.Device.HTTPURL }

	fs.StringVar(&s.NATS.URL, "nats", s.NATS.URL, "NATS url (empty disables)")
	f.copy["nats"] = func(dst, src *Config) { dst.NATS.URL = src.NATS.URL }
	fs.StringVar(&s.MQTT.Broker, "mqtt", s.MQTT.Broker, "MQTT broker url (empty disables)")
	f.copy["mqtt"] = func(dst, src *Config) { dst.MQTT.Broker = src.MQTT.Broker }
	fs.StringSliceVar(&s.Kafka.Brokers, "kafka", s.Kafka.Brokers, "Kafka brokers (empty disables)")
	f.copy["kafka"] = func(dst, src *Config) { dst.Kafka.Brokers = src.Kafka.Brokers }

	fs.StringVar(&s.HTTP.Addr, "addr", s.HTTP.Addr, "http listen address")
	f.copy["addr"] = func(dst, src *Config) { dst.HTTP.Addr = src.HTTP.Addr }
	fs.StringVar(&s.Log.Level, "log-level", s.Log.Level, "debug, info, warn or error")
	f.copy["log-level"] = func(dst, src *Config) { dst.Log.Level = src.Log.Level }
	fs.StringVar(&s.Log.Path, "log-file", s.Log.Path, "also append logs to this file")
	f.copy["log-file"] = func(dst, src *Config) { dst.Log.Path = src.Log.Path }

	return f
}

// Resolve loads the YAML file named by --config, applies flags that were set,
// and validates the result. Call after fs.Parse.
func (f *Flags) Resolve() (Config, error) {
	cfg, err := Load(f.path)
	if err != nil {
		return cfg, err
	}
	f.fs.Visit(func(fl *pflag.Flag) {
		if cp, ok := f.copy[fl.Name]; ok {
			cp(&cfg, &f.scratch)
		}
	})
	return cfg, cfg.Validate()
}

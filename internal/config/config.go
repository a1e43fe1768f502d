package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

// Run duration bounds, in ticks (one tick per second by default).
const (
	MinDuration     = 10
	MaxDuration     = 300
	DefaultDuration = 30
)

// BaudRates are the link speeds the wristband firmware supports.
var BaudRates = []int{9600, 115200, 230400}

type Config struct {
	Run    RunConfig      `yaml:"run"`
	Manual sensor.Reading `yaml:"manual"`
	Device DeviceConfig   `yaml:"device"`
	NATS   NATSConfig     `yaml:"nats"`
	MQTT   MQTTConfig     `yaml:"mqtt"`
	Kafka  KafkaConfig    `yaml:"kafka"`
	HTTP   HTTPConfig     `yaml:"http"`
	Log    LogConfig      `yaml:"log"`
}

type RunConfig struct {
	Duration int           `yaml:"duration"`
	Interval time.Duration `yaml:"interval"`
	Seed     uint64        `yaml:"seed"` // 0 = unseeded noise
	Mode     string        `yaml:"mode"` // "manual" or "device"
}

type DeviceConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	Settle      time.Duration `yaml:"settle"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	HTTPURL     string        `yaml:"http_url"` // optional pull source for WiFi boards
}

type NATSConfig struct {
	URL            string `yaml:"url"`
	SamplesSubject string `yaml:"samples_subject"`
	LinesSubject   string `yaml:"lines_subject"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

const (
	ModeManual = "manual"
	ModeDevice = "device"
)

func Default() Config {
	return Config{
		Run: RunConfig{
			Duration: DefaultDuration,
			Interval: time.Second,
			Mode:     ModeManual,
		},
		Manual: sensor.Default,
		Device: DeviceConfig{
			Port:        "/dev/ttyUSB0",
			Baud:        115200,
			Settle:      2 * time.Second,
			ReadTimeout: time.Second,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			SamplesSubject: "glucose.samples",
			LinesSubject:   "sensor.lines",
		},
		MQTT:  MQTTConfig{TopicPrefix: "glucose"},
		Kafka: KafkaConfig{Topic: "glucose.samples"},
		HTTP:  HTTPConfig{Addr: ":8080"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Error is a configuration value rejected before a run or connection starts.
type Error struct {
	Field  string
	Value  any
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func ValidateDuration(d int) error {
	if d < MinDuration || d > MaxDuration {
		return &Error{Field: "duration", Value: d, Reason: fmt.Sprintf("must be within [%d,%d]", MinDuration, MaxDuration)}
	}
	return nil
}

func ValidateBaud(b int) error {
	if !slices.Contains(BaudRates, b) {
		return &Error{Field: "baud", Value: b, Reason: fmt.Sprintf("must be one of %v", BaudRates)}
	}
	return nil
}

// ValidateManual checks slider ranges: channels in [0,1], temperature in [30,40] °C.
func ValidateManual(r sensor.Reading) error {
	if err := r.Validate(); err != nil {
		return &Error{Field: "manual", Value: r, Reason: err.Error()}
	}
	if r.Temperature < 30 || r.Temperature > 40 {
		return &Error{Field: "manual.temperature", Value: r.Temperature, Reason: "must be within [30,40]"}
	}
	return nil
}

func ValidateMode(m string) error {
	if m != ModeManual && m != ModeDevice {
		return &Error{Field: "mode", Value: m, Reason: "must be manual or device"}
	}
	return nil
}

func (c Config) Validate() error {
	if err := ValidateDuration(c.Run.Duration); err != nil {
		return err
	}
	if c.Run.Interval < 0 {
		return &Error{Field: "run.interval", Value: c.Run.Interval, Reason: "must not be negative"}
	}
	if err := ValidateMode(c.Run.Mode); err != nil {
		return err
	}
	if err := ValidateManual(c.Manual); err != nil {
		return err
	}
	if err := ValidateBaud(c.Device.Baud); err != nil {
		return err
	}
	if c.Device.ReadTimeout <= 0 || c.Device.ReadTimeout > time.Second {
		return &Error{Field: "device.read_timeout", Value: c.Device.ReadTimeout, Reason: "must be within (0,1s]"}
	}
	if c.Device.Settle < 0 {
		return &Error{Field: "device.settle", Value: c.Device.Settle, Reason: "must not be negative"}
	}
	return nil
}

package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateDuration(t *testing.T) {
	for _, d := range []int{10, 30, 300} {
		assert.NoError(t, ValidateDuration(d), d)
	}
	for _, d := range []int{0, 9, 301, -5} {
		var ce *Error
		require.ErrorAs(t, ValidateDuration(d), &ce, d)
		assert.Equal(t, "duration", ce.Field)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"baud", func(c *Config) { c.Device.Baud = 57600 }, "baud"},
		{"mode", func(c *Config) { c.Run.Mode = "bluetooth" }, "mode"},
		{"red", func(c *Config) { c.Manual.Red = 1.5 }, "manual"},
		{"temperature", func(c *Config) { c.Manual.Temperature = 42 }, "manual.temperature"},
		{"red nan", func(c *Config) { c.Manual.Red = math.NaN() }, "manual"},
		{"temperature nan", func(c *Config) { c.Manual.Temperature = math.NaN() }, "manual"},
		{"motion inf", func(c *Config) { c.Manual.Motion = math.Inf(1) }, "manual"},
		{"read timeout", func(c *Config) { c.Device.ReadTimeout = 3 * time.Second }, "device.read_timeout"},
		{"interval", func(c *Config) { c.Run.Interval = -time.Second }, "run.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.edit(&cfg)
			var ce *Error
			require.ErrorAs(t, cfg.Validate(), &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glucose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
run:
  duration: 60
  interval: 500ms
  mode: device
manual:
  red_signal: 0.4
device:
  port: COM3
  baud: 9600
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Run.Duration)
	assert.Equal(t, 500*time.Millisecond, cfg.Run.Interval)
	assert.Equal(t, ModeDevice, cfg.Run.Mode)
	assert.Equal(t, 0.4, cfg.Manual.Red)
	assert.Equal(t, 0.7, cfg.Manual.IR, "unset keys keep defaults")
	assert.Equal(t, "COM3", cfg.Device.Port)
	assert.Equal(t, 9600, cfg.Device.Baud)
	assert.Equal(t, 2*time.Second, cfg.Device.Settle)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glucose.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run:\n  duration: 60\ndevice:\n  baud: 9600\n"), 0o644))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := NewFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", path, "-d", "120", "--red", "0.5"}))

	cfg, err := f.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Run.Duration)
	assert.Equal(t, 0.5, cfg.Manual.Red)
	assert.Equal(t, 9600, cfg.Device.Baud, "unset flag must not clobber the file")
}

func TestFlagsValidate(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := NewFlags(fs)
	require.NoError(t, fs.Parse([]string{"--duration", "5"}))

	_, err := f.Resolve()
	var ce *Error
	assert.ErrorAs(t, err, &ce)
}

func TestLoadYAMLRejectsNaN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("manual:\n  red_signal: .nan\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	var ce *Error
	require.ErrorAs(t, cfg.Validate(), &ce)
	assert.Equal(t, "manual", ce.Field)
}

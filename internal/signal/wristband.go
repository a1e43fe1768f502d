package signal

import (
	"math"

	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

// WristbandSim emits plausible (not clinical) wristband readings at fs Hz:
// a pulsatile optical component on top of slow drift, a slowly wandering
// skin temperature and occasional motion bursts.
type WristbandSim struct {
	fs    float64
	hrBPM float64
	noise float64
	base  sensor.Reading

	phase float64 // position inside the cardiac cycle, [0,1)
	t     float64 // seconds since start
}

// NewWristbandSim fs typically 1-50 Hz, hrBPM 60-120, noise 0.0-0.05.
func NewWristbandSim(fs, hrBPM, noise float64, base sensor.Reading) *WristbandSim {
	if fs <= 0 {
		fs = 1
	}
	return &WristbandSim{fs: fs, hrBPM: hrBPM, noise: noise, base: base}
}

// Next returns the next reading and advances time by 1/fs.
func (s *WristbandSim) Next() sensor.Reading {
	dt := 1 / s.fs
	s.t += dt
	s.phase += s.hrBPM / 60.0 * dt
	s.phase -= math.Floor(s.phase)

	// systolic peak plus dicrotic notch
	pulse := gauss(s.phase, 0.25, 0.07) + 0.35*gauss(s.phase, 0.55, 0.08)

	// respiration-like baseline wander on the optical channels
	drift := 0.03 * math.Sin(2*math.Pi*s.t/90)

	red := s.base.Red + drift - 0.04*pulse + s.jitter(1)
	ir := s.base.IR + drift - 0.05*pulse + s.jitter(2)
	temp := s.base.Temperature + 0.2*math.Sin(2*math.Pi*s.t/600) + 5*s.jitter(3)

	// a short burst of activity roughly every two minutes
	motion := s.base.Motion
	if m := math.Mod(s.t, 120); m < 10 {
		motion += 0.4 * math.Sin(math.Pi*m/10)
	}
	motion += s.jitter(4)

	return sensor.Reading{
		Red:         clamp01(red),
		IR:          clamp01(ir),
		Temperature: temp,
		Motion:      clamp01(motion),
	}
}

// jitter is cheap deterministic noise in [-noise, noise], distinct per channel.
func (s *WristbandSim) jitter(ch float64) float64 {
	return s.noise * (2*fract(math.Sin(12345.678*s.t+ch*78.233)*9876.543) - 1)
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

func fract(x float64) float64 { return x - math.Floor(x) }

func clamp01(x float64) float64 { return math.Max(0, math.Min(1, x)) }

package analysis

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

// Output range in mg/dL.
const (
	GlucoseMin = 20.0
	GlucoseMax = 200.0
)

const (
	baselineTemp    = 36.5
	opticalGain     = 90.0
	tempGain        = 3.0
	motionGain      = 40.0
	circadianAmp    = 5.0
	circadianScale  = 15.0
	smoothingWeight = 0.5
	noiseStdDev     = 2.0
)

// Noise supplies the additive term of each estimate.
type Noise interface {
	Draw() float64
}

// GaussianNoise draws from Normal(0, 2).
type GaussianNoise struct {
	dist distuv.Normal
}

// NewGaussianNoise seeds its own generator; seed 0 picks a random seed.
func NewGaussianNoise(seed uint64) *GaussianNoise {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &GaussianNoise{dist: distuv.Normal{
		Mu:    0,
		Sigma: noiseStdDev,
		Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
	}}
}

func (g *GaussianNoise) Draw() float64 { return g.dist.Rand() }

// FixedNoise returns the same value on every draw. ZeroNoise is FixedNoise(0).
type FixedNoise float64

func (f FixedNoise) Draw() float64 { return float64(f) }

const ZeroNoise = FixedNoise(0)

type Input struct {
	Reading  sensor.Reading
	Previous *float64 // clipped output of the previous tick, nil on the first
	Tick     int
}

type Estimator struct {
	noise Noise
}

func NewEstimator(n Noise) *Estimator {
	if n == nil {
		n = NewGaussianNoise(0)
	}
	return &Estimator{noise: n}
}

// Raw is the unsmoothed, unclipped formula for one tick.
func (e *Estimator) Raw(r sensor.Reading, tick int) float64 {
	optical := (2 - (r.Red + r.IR)) * opticalGain
	temp := (r.Temperature - baselineTemp) * tempGain
	motion := -r.Motion * motionGain

	return optical + temp + motion + Circadian(float64(tick)) + e.noise.Draw()
}

// Circadian is the slow drift term; its period is 30π ticks.
func Circadian(tick float64) float64 {
	return circadianAmp * math.Sin(tick/circadianScale)
}

// Estimate returns the glucose value for one tick in [GlucoseMin, GlucoseMax].
func (e *Estimator) Estimate(in Input) float64 {
	g := e.Raw(in.Reading, in.Tick)
	if in.Previous != nil {
		g = smoothingWeight*(*in.Previous) + (1-smoothingWeight)*g
	}
	return Clip(g, GlucoseMin, GlucoseMax)
}

// Clip maps NaN to lo so the result is always in range.
func Clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

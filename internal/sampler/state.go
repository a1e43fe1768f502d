package sampler

import (
	"time"

	"github.com/ivanzxc/go-glucose-stream/internal/analysis"
	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

// TimeLayout is how sample timestamps are shown and exported.
const TimeLayout = "15:04:05"

type Sample struct {
	Time    time.Time
	Tick    int
	Glucose float64
}

func (s Sample) Clock() string { return s.Time.Format(TimeLayout) }

// State is the whole session of one run. Series is append-only and in tick order.
type State struct {
	RunID    string
	Running  bool
	Tick     int
	Previous *float64
	Series   []Sample
	Reading  sensor.Reading
}

// Reset returns the state a new run starts from.
func Reset(runID string, initial sensor.Reading) State {
	return State{RunID: runID, Running: true, Reading: initial}
}

// Step advances one tick: it folds in a fresh reading (if any), estimates,
// and appends the sample.
func Step(st State, fresh *sensor.Reading, now time.Time, est *analysis.Estimator) (State, Sample) {
	if fresh != nil {
		st.Reading = *fresh
	}
	st.Tick++

	g := est.Estimate(analysis.Input{Reading: st.Reading, Previous: st.Previous, Tick: st.Tick})
	s := Sample{Time: now, Tick: st.Tick, Glucose: g}

	st.Series = append(st.Series, s)
	st.Previous = &g
	return st, s
}

// Copy detaches the series and previous value so the copy can leave the loop goroutine.
func (st State) Copy() State {
	out := st
	out.Series = append([]Sample(nil), st.Series...)
	if st.Previous != nil {
		p := *st.Previous
		out.Previous = &p
	}
	return out
}

// Last returns the most recent sample, if any tick ran.
func (st State) Last() (Sample, bool) {
	if len(st.Series) == 0 {
		return Sample{}, false
	}
	return st.Series[len(st.Series)-1], true
}

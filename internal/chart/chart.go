package chart

import (
	"errors"
	"io"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/ivanzxc/go-glucose-stream/internal/sampler"
)

// ErrTooFewSamples: a line needs at least two points.
var ErrTooFewSamples = errors.New("chart: need at least two samples")

const (
	width  = 900
	height = 450
)

// RenderPNG draws glucose over time with a fixed 0-200 mg/dL axis.
func RenderPNG(w io.Writer, title string, series []sampler.Sample) error {
	if len(series) < 2 {
		return ErrTooFewSamples
	}

	xs := make([]time.Time, len(series))
	ys := make([]float64, len(series))
	for i, s := range series {
		xs[i] = s.Time
		ys[i] = s.Glucose
	}

	red := drawing.Color{R: 0xd6, G: 0x28, B: 0x28, A: 0xff}
	ch := gochart.Chart{
		Title:  title,
		Width:  width,
		Height: height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis: gochart.XAxis{
			Name:           "Time (hh:mm:ss)",
			ValueFormatter: gochart.TimeValueFormatterWithFormat(sampler.TimeLayout),
		},
		YAxis: gochart.YAxis{
			Name:  "Glucose Level (mg/dL)",
			Range: &gochart.ContinuousRange{Min: 0, Max: 200},
		},
		Series: []gochart.Series{
			gochart.TimeSeries{
				Name:    "Glucose",
				XValues: xs,
				YValues: ys,
				Style:   gochart.Style{StrokeColor: red, StrokeWidth: 2},
			},
		},
	}
	return ch.Render(gochart.PNG, w)
}

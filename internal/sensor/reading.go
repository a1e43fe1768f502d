package sensor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Reading is one sample of the four wristband channels.
type Reading struct {
	Red         float64 `json:"red_signal" yaml:"red_signal"`
	IR          float64 `json:"ir_signal" yaml:"ir_signal"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Motion      float64 `json:"motion" yaml:"motion"`
}

// Default is the reading a fresh session starts from.
var Default = Reading{Red: 0.6, IR: 0.7, Temperature: 36.5, Motion: 0.3}

const (
	linePrefix = "DATA:"
	lineFields = 4
)

// ErrNotData marks a line that does not belong to the data protocol.
var ErrNotData = errors.New("sensor: not a data line")

type ParseError struct {
	Line   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sensor: bad line %q: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("sensor: bad line %q: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseLine decodes "DATA:<red>,<ir>,<temp>,<motion>".
// Lines without the prefix return ErrNotData, malformed data lines a *ParseError.
func ParseLine(line string) (Reading, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, linePrefix) {
		return Reading{}, ErrNotData
	}

	fields := strings.Split(line[len(linePrefix):], ",")
	if len(fields) != lineFields {
		return Reading{}, &ParseError{Line: line, Reason: fmt.Sprintf("want %d fields, got %d", lineFields, len(fields))}
	}

	var v [lineFields]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Reading{}, &ParseError{Line: line, Reason: fmt.Sprintf("field %d", i+1), Err: err}
		}
		if !finite(x) {
			return Reading{}, &ParseError{Line: line, Reason: fmt.Sprintf("field %d not finite", i+1)}
		}
		v[i] = x
	}

	return Reading{Red: v[0], IR: v[1], Temperature: v[2], Motion: v[3]}, nil
}

// FormatLine is the inverse of ParseLine.
func FormatLine(r Reading) string {
	return fmt.Sprintf("%s%.3f,%.3f,%.2f,%.3f", linePrefix, r.Red, r.IR, r.Temperature, r.Motion)
}

// Validate checks channel ranges: red, ir and motion in [0,1], every
// channel finite.
func (r Reading) Validate() error {
	if !finite(r.Temperature) {
		return fmt.Errorf("sensor: temperature %v not finite", r.Temperature)
	}
	check := func(name string, v float64) error {
		if !finite(v) || v < 0 || v > 1 {
			return fmt.Errorf("sensor: %s %.3f outside [0,1]", name, v)
		}
		return nil
	}
	if err := check("red_signal", r.Red); err != nil {
		return err
	}
	if err := check("ir_signal", r.IR); err != nil {
		return err
	}
	return check("motion", r.Motion)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

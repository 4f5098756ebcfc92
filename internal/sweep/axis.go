// Package sweep drives multi-dimensional parameter sweeps: it builds the grid
// of target states from axes and per-output linear combinations, and steps a
// ramp/delay/measure state machine that is advanced by an external clock.
package sweep

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/labsweep/internal/sweeperr"
)

// MaxAxes is the largest number of axes an engine accepts.
const MaxAxes = 6

// AxisConfig holds the parameters of one axis before validation.
type AxisConfig struct {
	Start           float64
	End             float64
	Points          int
	MinRampDuration time.Duration
	PostRampDelay   time.Duration
	Label           string
}

// Axis is one swept dimension. It is immutable after construction.
type Axis struct {
	start           float64
	end             float64
	points          int
	minRampDuration time.Duration
	postRampDelay   time.Duration
	label           string
	values          []float64
}

// NewAxis validates cfg and precomputes the axis values.
func NewAxis(cfg AxisConfig) (Axis, error) {
	if cfg.Points < 2 {
		return Axis{}, fmt.Errorf("%w: axis points must be at least 2, got %d (a single point has no variation)", sweeperr.ErrInvalidArgument, cfg.Points)
	}
	if cfg.MinRampDuration < 0 {
		return Axis{}, fmt.Errorf("%w: min ramp duration must not be negative, got %v", sweeperr.ErrInvalidArgument, cfg.MinRampDuration)
	}
	if cfg.PostRampDelay < 0 {
		return Axis{}, fmt.Errorf("%w: post ramp delay must not be negative, got %v", sweeperr.ErrInvalidArgument, cfg.PostRampDelay)
	}

	// Span computes start + i*step rather than accumulating the step; the
	// last point is pinned so End is hit exactly.
	values := floats.Span(make([]float64, cfg.Points), cfg.Start, cfg.End)
	values[cfg.Points-1] = cfg.End

	return Axis{
		start:           cfg.Start,
		end:             cfg.End,
		points:          cfg.Points,
		minRampDuration: cfg.MinRampDuration,
		postRampDelay:   cfg.PostRampDelay,
		label:           cfg.Label,
		values:          values,
	}, nil
}

func (a Axis) Start() float64                 { return a.start }
func (a Axis) End() float64                   { return a.end }
func (a Axis) Points() int                    { return a.points }
func (a Axis) MinRampDuration() time.Duration { return a.minRampDuration }
func (a Axis) PostRampDelay() time.Duration   { return a.postRampDelay }
func (a Axis) Label() string                  { return a.label }

// Value returns the i-th point of the axis.
func (a Axis) Value(i int) float64 { return a.values[i] }

// Values returns a copy of the axis points.
func (a Axis) Values() []float64 {
	out := make([]float64, len(a.values))
	copy(out, a.values)
	return out
}

func (a Axis) String() string {
	return fmt.Sprintf("%s: %g..%g (%d points, ramp %v, delay %v)", a.label, a.start, a.end, a.points, a.minRampDuration, a.postRampDelay)
}

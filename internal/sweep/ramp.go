package sweep

import (
	"fmt"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/setting"
)

// beginHop starts an interpolation from -> to governed by axis. The origin
// hop has no ramp duration and waits for the longest delay of any axis.
func (e *Engine) beginHop(phase Phase, axis int, from, to []float64) {
	e.hopAxis = axis
	if axis == OriginAxis {
		e.rampDur = 0
		e.delay = 0
		for _, a := range e.axes {
			e.delay = max(e.delay, a.PostRampDelay())
		}
	} else {
		e.rampDur = e.axes[axis].MinRampDuration()
		e.delay = e.axes[axis].PostRampDelay()
	}

	e.phase = phase
	e.progress = 0
	e.lastState = slices.Clone(from)
	e.targetState = slices.Clone(to)
	if from == nil {
		e.stepCap = 1
	} else {
		e.stepCap = stepCap(e.swept, from, to)
	}
	monitoring.Debugf("[sweep] %s hop on axis %d to %v: step cap %.4g, ramp %v, delay %v",
		phase, axis, to, e.stepCap, e.rampDur, e.delay)
}

// stepCap is the largest progress fraction per update that keeps every
// limited setting within its max step size. A single scalar from the
// tightest setting is applied to all of them.
func stepCap(settings []*setting.Setting, from, to []float64) float64 {
	var ratios []float64
	for i, s := range settings {
		if !s.Limited() {
			continue
		}
		delta := math.Abs(to[i] - from[i])
		if delta == 0 {
			continue
		}
		ratios = append(ratios, s.MaxStepSize/delta)
	}
	if len(ratios) == 0 {
		return 1
	}
	return math.Min(floats.Min(ratios), 1)
}

// rampIncrement converts elapsed time into ramp progress, bounded by the
// step cap.
func (e *Engine) rampIncrement(elapsed time.Duration) float64 {
	if e.rampDur == 0 {
		return e.stepCap
	}
	return math.Min(float64(elapsed)/float64(e.rampDur), e.stepCap)
}

// interpolate returns the commanded state at progress p, snapping to the
// target at p >= 1.
func (e *Engine) interpolate(p float64) []float64 {
	if p >= 1 || e.lastState == nil {
		return slices.Clone(e.targetState)
	}
	out := make([]float64, len(e.targetState))
	for i := range out {
		out[i] = e.targetState[i]*p + e.lastState[i]*(1-p)
	}
	return out
}

// apply sets every swept setting in order. On failure the settings already
// set keep their new value in e.state.
func (e *Engine) apply(values []float64) error {
	if e.state == nil {
		e.state = make([]float64, len(e.swept))
		for i := range e.state {
			e.state[i] = math.NaN()
		}
	}
	for i, s := range e.swept {
		if _, err := s.Set(values[i]); err != nil {
			return fmt.Errorf("%s at %v: %w", e.phase, e.position, err)
		}
		e.state[i] = values[i]
	}
	return nil
}

func (e *Engine) stepInterpolation(inc float64) error {
	p := math.Min(e.progress+inc, 1)
	if err := e.apply(e.interpolate(p)); err != nil {
		return err
	}
	e.progress = p
	if p < 1 {
		return nil
	}

	switch e.phase {
	case PhasePostSweep:
		e.finish()
		monitoring.Logf("[sweep] run %s complete: %d rows", e.runID, e.rows)
		return e.flush()
	default:
		e.phase = PhaseDelay
		e.progress = 0
		return nil
	}
}

func (e *Engine) stepDelay(elapsed time.Duration) error {
	p := 1.0
	if e.delay > 0 {
		p = math.Min(e.progress+float64(elapsed)/float64(e.delay), 1)
	}
	if p < 1 {
		e.progress = p
		return nil
	}

	row, err := e.measure()
	if err != nil {
		return err
	}
	e.progress = 1
	if err := e.data.AddData([][]float64{row}, false); err != nil {
		return err
	}
	e.lastRow = row
	e.rows++
	monitoring.Debugf("[sweep] row %d at %v: %v", e.rows, e.position, row)

	switch {
	case !e.mesh.Complete():
		step, err := e.mesh.Next()
		if err != nil {
			return err
		}
		e.position = step.Position
		e.beginHop(PhaseRamp, step.Axis, e.targetState, step.Values)
	case e.postSweep:
		e.beginHop(PhasePostSweep, OriginAxis, e.targetState, e.rampTo)
	default:
		e.finish()
		monitoring.Logf("[sweep] run %s complete: %d rows", e.runID, e.rows)
	}
	return e.flush()
}

// measure builds the row for the current grid point:
// position indices, target values, then recorded values.
func (e *Engine) measure() ([]float64, error) {
	row := make([]float64, 0, len(e.position)+len(e.targetState)+len(e.recorded))
	for _, i := range e.position {
		row = append(row, float64(i))
	}
	row = append(row, e.targetState...)
	for _, s := range e.recorded {
		v, err := s.Get()
		if err != nil {
			return nil, fmt.Errorf("measure at %v: %w", e.position, err)
		}
		row = append(row, v)
	}
	return row, nil
}

// flush writes buffered rows once the dataset exists. Rows that fail stay
// buffered and are retried by the next flush.
func (e *Engine) flush() error {
	if err := e.data.Flush(); err != nil {
		return fmt.Errorf("dataset write: %w", err)
	}
	return nil
}

package sweep

import (
	"fmt"
	"slices"

	"github.com/banshee-data/labsweep/internal/sweeperr"
)

// OriginAxis is the Step.Axis value of the first step, which moves no axis.
const OriginAxis = -1

// Step is one position produced by the mesh cursor.
type Step struct {
	// Position is the per-axis index of the grid point.
	Position []int
	// Values holds one target value per output.
	Values []float64
	// Axis is the highest axis index changed by the step, or OriginAxis.
	// Its ramp duration and delay govern the transition to this point.
	Axis int
}

// Mesh is a dense grid of target values, indexed by per-axis position, with
// a one-way odometer cursor. Axis 0 is the innermost (fastest-moving) axis.
type Mesh struct {
	lengths  []int
	strides  []int
	nOutputs int
	grid     []float64

	position  []int
	end       []int
	first     bool
	complete  bool
	stepsDone int
}

// BuildLinear builds a mesh where output o at position (i0..ik) is
//
//	coeffs[o][0] + sum_d coeffs[o][d+1] * axes[d].Value(i_d)
//
// outputs is the number of declared outputs; len(coeffs) must match it and
// every vector must hold 1+len(axes) coefficients.
func BuildLinear(axes []Axis, outputs int, coeffs [][]float64) (*Mesh, error) {
	if len(axes) == 0 {
		return nil, fmt.Errorf("%w: mesh needs at least one axis", sweeperr.ErrInvalidArgument)
	}
	if len(coeffs) != outputs {
		return nil, fmt.Errorf("%w: got %d coefficient vectors for %d outputs", sweeperr.ErrInvalidArgument, len(coeffs), outputs)
	}
	for o, c := range coeffs {
		if len(c) != 1+len(axes) {
			return nil, fmt.Errorf("%w: coefficient vector %d has %d entries, want %d (constant + one per axis)", sweeperr.ErrInvalidArgument, o, len(c), 1+len(axes))
		}
	}

	m := newMesh(axes, outputs)
	m.fill(axes, func(o int, vals []float64) float64 {
		c := coeffs[o]
		v := c[0]
		for d, x := range vals {
			v += c[d+1] * x
		}
		return v
	})
	return m, nil
}

// BuildFunctions builds a mesh where output o at a position is funcs[o]
// applied to the axis values at that position, in axis order.
func BuildFunctions(axes []Axis, funcs []func(values ...float64) float64) (*Mesh, error) {
	if len(axes) == 0 {
		return nil, fmt.Errorf("%w: mesh needs at least one axis", sweeperr.ErrInvalidArgument)
	}
	for o, f := range funcs {
		if f == nil {
			return nil, fmt.Errorf("%w: function %d is nil", sweeperr.ErrInvalidArgument, o)
		}
	}

	m := newMesh(axes, len(funcs))
	m.fill(axes, func(o int, vals []float64) float64 {
		return funcs[o](vals...)
	})
	return m, nil
}

func newMesh(axes []Axis, outputs int) *Mesh {
	n := len(axes)
	m := &Mesh{
		lengths:  make([]int, n),
		strides:  make([]int, n),
		nOutputs: outputs,
		position: make([]int, n),
		end:      make([]int, n),
		first:    true,
	}
	size := 1
	for d, a := range axes {
		m.lengths[d] = a.Points()
		m.end[d] = a.Points() - 1
		m.strides[d] = size
		size *= a.Points()
	}
	m.grid = make([]float64, size*outputs)
	return m
}

// fill walks every grid point once and stores eval(o, axisValues) for each
// output.
func (m *Mesh) fill(axes []Axis, eval func(o int, vals []float64) float64) {
	if m.nOutputs == 0 {
		return
	}
	pos := make([]int, len(axes))
	vals := make([]float64, len(axes))
	points := len(m.grid) / m.nOutputs
	for p := 0; p < points; p++ {
		rem := p
		for d := len(axes) - 1; d >= 0; d-- {
			pos[d] = rem / m.strides[d]
			rem %= m.strides[d]
		}
		for d, a := range axes {
			vals[d] = a.Value(pos[d])
		}
		base := p * m.nOutputs
		for o := 0; o < m.nOutputs; o++ {
			m.grid[base+o] = eval(o, vals)
		}
	}
}

func (m *Mesh) offset(pos []int) int {
	off := 0
	for d, i := range pos {
		off += i * m.strides[d]
	}
	return off * m.nOutputs
}

// Axes returns the number of axes.
func (m *Mesh) Axes() int { return len(m.lengths) }

// Outputs returns the number of values per grid point.
func (m *Mesh) Outputs() int { return m.nOutputs }

// Lengths returns the point count of every axis.
func (m *Mesh) Lengths() []int {
	out := make([]int, len(m.lengths))
	copy(out, m.lengths)
	return out
}

// TotalSteps returns the number of transitions between grid points, i.e. the
// product of the axis lengths minus one.
func (m *Mesh) TotalSteps() int {
	p := 1
	for _, l := range m.lengths {
		p *= l
	}
	return p - 1
}

// StepsDone returns the number of transitions performed so far.
func (m *Mesh) StepsDone() int { return m.stepsDone }

// Complete reports whether the final grid point has been returned.
func (m *Mesh) Complete() bool { return m.complete }

// At returns a copy of the values at pos.
func (m *Mesh) At(pos []int) ([]float64, error) {
	if len(pos) != len(m.lengths) {
		return nil, fmt.Errorf("%w: position has %d indices, mesh has %d axes", sweeperr.ErrInvalidArgument, len(pos), len(m.lengths))
	}
	for d, i := range pos {
		if i < 0 || i >= m.lengths[d] {
			return nil, fmt.Errorf("%w: index %d out of range for axis %d (%d points)", sweeperr.ErrInvalidArgument, i, d, m.lengths[d])
		}
	}
	off := m.offset(pos)
	out := make([]float64, m.nOutputs)
	copy(out, m.grid[off:off+m.nOutputs])
	return out, nil
}

// Position returns a copy of the cursor position.
func (m *Mesh) Position() []int {
	out := make([]int, len(m.position))
	copy(out, m.position)
	return out
}

func (m *Mesh) step(axis int) Step {
	pos := m.Position()
	off := m.offset(pos)
	vals := make([]float64, m.nOutputs)
	copy(vals, m.grid[off:off+m.nOutputs])
	return Step{Position: pos, Values: vals, Axis: axis}
}

// Next advances the cursor and returns the new position. The first call
// returns the origin without moving. Later calls increment axis 0 and carry
// into higher axes on overflow. The call that returns the final grid point
// marks the mesh complete; calls after that fail with ErrExhaustedIteration.
func (m *Mesh) Next() (Step, error) {
	if m.complete {
		return Step{}, fmt.Errorf("%w: all %d grid points have been visited", sweeperr.ErrExhaustedIteration, m.TotalSteps()+1)
	}

	if m.first {
		m.first = false
		if m.TotalSteps() == 0 {
			m.complete = true
		}
		return m.step(OriginAxis), nil
	}

	axis := 0
	for {
		m.position[axis]++
		if m.position[axis] < m.lengths[axis] {
			break
		}
		m.position[axis] = 0
		axis++
		if axis >= len(m.lengths) {
			// Wrapped past the outermost axis.
			m.complete = true
			return Step{}, fmt.Errorf("%w: cursor wrapped past the final grid point", sweeperr.ErrExhaustedIteration)
		}
	}
	m.stepsDone++

	if slices.Equal(m.position, m.end) {
		m.complete = true
	}
	return m.step(axis), nil
}

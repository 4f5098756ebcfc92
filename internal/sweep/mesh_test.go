package sweep

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/labsweep/internal/sweeperr"
)

func mustAxis(t *testing.T, start, end float64, points int) Axis {
	t.Helper()
	a, err := NewAxis(AxisConfig{Start: start, End: end, Points: points})
	require.NoError(t, err)
	return a
}

func TestNewAxis_Endpoints(t *testing.T) {
	testCases := []struct {
		name       string
		start, end float64
		points     int
	}{
		{"unit_increasing", 0, 1, 11},
		{"decreasing", 1, -1, 7},
		{"awkward_step", 0.1, 0.7, 13},
		{"two_points", -3, 3, 2},
		{"large", 0, 1e-3, 1001},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := mustAxis(t, tc.start, tc.end, tc.points)
			vals := a.Values()
			require.Len(t, vals, tc.points)
			assert.Equal(t, tc.start, vals[0])
			assert.Equal(t, tc.end, vals[tc.points-1])

			for i := 1; i < len(vals); i++ {
				if tc.end > tc.start {
					assert.Greater(t, vals[i], vals[i-1], "index %d", i)
				} else {
					assert.Less(t, vals[i], vals[i-1], "index %d", i)
				}
				want := tc.start + float64(i)*(tc.end-tc.start)/float64(tc.points-1)
				assert.InDelta(t, want, vals[i], 1e-12)
			}
		})
	}
}

func TestNewAxis_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		cfg  AxisConfig
	}{
		{"one_point", AxisConfig{Start: 0, End: 1, Points: 1}},
		{"zero_points", AxisConfig{Start: 0, End: 1, Points: 0}},
		{"negative_ramp", AxisConfig{Start: 0, End: 1, Points: 3, MinRampDuration: -time.Second}},
		{"negative_delay", AxisConfig{Start: 0, End: 1, Points: 3, PostRampDelay: -time.Millisecond}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAxis(tc.cfg)
			assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument), "got %v", err)
		})
	}
}

func TestAxis_ValuesIsCopy(t *testing.T) {
	a := mustAxis(t, 0, 1, 3)
	vals := a.Values()
	vals[0] = 99
	assert.Equal(t, 0.0, a.Value(0))
}

func TestMesh_TotalStepsAndVisitOrder(t *testing.T) {
	testCases := [][]int{
		{2},
		{5},
		{3, 2},
		{2, 3, 4},
		{2, 2, 2, 2, 2, 2},
	}

	for _, lengths := range testCases {
		t.Run(fmt.Sprint(lengths), func(t *testing.T) {
			axes := make([]Axis, len(lengths))
			want := 1
			for d, p := range lengths {
				axes[d] = mustAxis(t, 0, 1, p)
				want *= p
			}
			m, err := BuildLinear(axes, 0, nil)
			require.NoError(t, err)
			assert.Equal(t, want-1, m.TotalSteps())

			seen := make(map[string]bool)
			var prev []int
			for i := 0; i <= m.TotalSteps(); i++ {
				require.False(t, m.Complete(), "complete too early at call %d", i)
				step, err := m.Next()
				require.NoError(t, err)

				key := fmt.Sprint(step.Position)
				assert.False(t, seen[key], "position %v visited twice", step.Position)
				seen[key] = true

				if i == 0 {
					assert.Equal(t, OriginAxis, step.Axis)
					assert.Equal(t, make([]int, len(lengths)), step.Position)
				} else {
					// Axis reports the highest index that changed; all lower
					// axes were reset to zero by the carry.
					for d := 0; d < step.Axis; d++ {
						assert.Equal(t, 0, step.Position[d])
					}
					assert.Equal(t, prev[step.Axis]+1, step.Position[step.Axis])
				}
				prev = step.Position
			}
			assert.Len(t, seen, want)
			assert.True(t, m.Complete())
			assert.Equal(t, m.TotalSteps(), m.StepsDone())

			_, err = m.Next()
			assert.True(t, errors.Is(err, sweeperr.ErrExhaustedIteration))
		})
	}
}

func TestMesh_OdometerSequence(t *testing.T) {
	m, err := BuildLinear([]Axis{mustAxis(t, 0, 1, 3), mustAxis(t, 0, 1, 2)}, 0, nil)
	require.NoError(t, err)

	type visit struct {
		Pos  []int
		Axis int
	}
	var got []visit
	for !m.Complete() {
		step, err := m.Next()
		require.NoError(t, err)
		got = append(got, visit{step.Position, step.Axis})
	}

	want := []visit{
		{[]int{0, 0}, OriginAxis},
		{[]int{1, 0}, 0},
		{[]int{2, 0}, 0},
		{[]int{0, 1}, 1},
		{[]int{1, 1}, 0},
		{[]int{2, 1}, 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("visit order mismatch (-want +got):\n%s", diff)
	}
}

func TestMesh_IdentityCoefficients(t *testing.T) {
	a0 := mustAxis(t, -1, 1, 5)
	a1 := mustAxis(t, 10, 20, 3)
	m, err := BuildLinear([]Axis{a0, a1}, 2, [][]float64{{0, 1, 0}, {0, 0, 1}})
	require.NoError(t, err)

	for i := 0; i < a0.Points(); i++ {
		for j := 0; j < a1.Points(); j++ {
			vals, err := m.At([]int{i, j})
			require.NoError(t, err)
			assert.Equal(t, []float64{a0.Value(i), a1.Value(j)}, vals)
		}
	}

	for !m.Complete() {
		step, err := m.Next()
		require.NoError(t, err)
		assert.Equal(t, []float64{a0.Value(step.Position[0]), a1.Value(step.Position[1])}, step.Values)
	}
}

func TestMesh_LinearCombination(t *testing.T) {
	a0 := mustAxis(t, 0, 3, 4)
	a1 := mustAxis(t, 0, 8, 2)
	m, err := BuildLinear([]Axis{a0, a1}, 3, [][]float64{{1, 0, 0}, {0, 2, -1}, {0.5, 1, 1}})
	require.NoError(t, err)

	vals, err := m.At([]int{2, 1})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2*2 - 8, 0.5 + 2 + 8}, vals, 1e-12)
}

func TestMesh_BuildLinearErrors(t *testing.T) {
	axes := []Axis{mustAxis(t, 0, 1, 2), mustAxis(t, 0, 1, 2)}

	_, err := BuildLinear(axes, 1, [][]float64{{0, 1}})
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument), "short vector")

	_, err = BuildLinear(axes, 1, [][]float64{{0, 1, 0, 0}})
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument), "long vector")

	_, err = BuildLinear(axes, 2, [][]float64{{0, 1, 0}})
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument), "vector count")

	_, err = BuildLinear(nil, 0, nil)
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument), "no axes")
}

func TestMesh_BuildFunctions(t *testing.T) {
	a0 := mustAxis(t, 0, 1, 2)
	a1 := mustAxis(t, 0, 8, 2)
	m, err := BuildFunctions([]Axis{a0, a1}, []func(...float64) float64{
		func(v ...float64) float64 { return v[0] * v[1] },
		func(v ...float64) float64 { return math.Hypot(v[0], v[1]) },
	})
	require.NoError(t, err)

	vals, err := m.At([]int{1, 1})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{8, math.Hypot(1, 8)}, vals, 1e-12)

	_, err = BuildFunctions([]Axis{a0}, []func(...float64) float64{nil})
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument))
}

func TestMesh_AtBounds(t *testing.T) {
	m, err := BuildLinear([]Axis{mustAxis(t, 0, 1, 2)}, 1, [][]float64{{0, 1}})
	require.NoError(t, err)

	_, err = m.At([]int{2})
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument))
	_, err = m.At([]int{0, 0})
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument))
}

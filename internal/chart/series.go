// Package chart renders sweep datasets: static PNG line plots with
// gonum/plot and interactive HTML charts with go-echarts.
package chart

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/labsweep/internal/sweeperr"
)

// Series is one named curve.
type Series struct {
	Name string
	X    []float64
	Y    []float64
}

// Len returns the number of points.
func (s Series) Len() int { return len(s.X) }

// Lines extracts one series per yCol from rows, plotting yCol against xCol.
// When splitCol is non-negative, rows are further grouped by the value in
// that column so a 2D sweep yields one curve per outer step. Points with a
// NaN coordinate are dropped.
func Lines(header []string, rows [][]float64, xCol int, yCols []int, splitCol int) ([]Series, error) {
	width := len(header)
	check := func(c int, what string) error {
		if c < 0 || c >= width {
			return fmt.Errorf("%w: %s column %d outside 0..%d", sweeperr.ErrInvalidArgument, what, c, width-1)
		}
		return nil
	}
	if err := check(xCol, "x"); err != nil {
		return nil, err
	}
	if len(yCols) == 0 {
		return nil, fmt.Errorf("%w: no y columns", sweeperr.ErrInvalidArgument)
	}
	for _, c := range yCols {
		if err := check(c, "y"); err != nil {
			return nil, err
		}
	}
	if splitCol >= 0 {
		if err := check(splitCol, "split"); err != nil {
			return nil, err
		}
	}

	type key struct {
		y     int
		group float64
	}
	byKey := make(map[key]*Series)
	var order []key
	for _, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row has %d values, header has %d", sweeperr.ErrInvalidArgument, len(row), width)
		}
		x := row[xCol]
		if math.IsNaN(x) {
			continue
		}
		group := 0.0
		if splitCol >= 0 {
			group = row[splitCol]
		}
		for _, c := range yCols {
			y := row[c]
			if math.IsNaN(y) {
				continue
			}
			k := key{y: c, group: group}
			s, ok := byKey[k]
			if !ok {
				name := header[c]
				if splitCol >= 0 {
					name = fmt.Sprintf("%s (%s=%g)", header[c], header[splitCol], group)
				}
				s = &Series{Name: name}
				byKey[k] = s
				order = append(order, k)
			}
			s.X = append(s.X, x)
			s.Y = append(s.Y, y)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].y != order[j].y {
			return order[i].y < order[j].y
		}
		return order[i].group < order[j].group
	})
	out := make([]Series, len(order))
	for i, k := range order {
		out[i] = *byKey[k]
	}
	return out, nil
}

// ColumnIndex returns the index of the first column named name.
func ColumnIndex(header []string, name string) (int, error) {
	for i, h := range header {
		if h == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: no column %q", sweeperr.ErrInvalidArgument, name)
}

// DefaultColumns picks what to plot from a sweep dataset laid out as
// grid indices, swept values, then recorded values: every recorded column
// against the first swept value, split by the second axis index when
// there is more than one axis. A split of -1 means no split.
func DefaultColumns(nAxes, nIndependents, width int) (x int, y []int, split int) {
	x = nAxes
	if x >= nIndependents {
		x = 0
	}
	for c := nIndependents; c < width; c++ {
		y = append(y, c)
	}
	split = -1
	if nAxes > 1 {
		split = 1
	}
	return x, y, split
}

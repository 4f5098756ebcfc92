package api

import (
	"slices"
	"sync"

	"github.com/banshee-data/labsweep/internal/sweep"
)

// DefaultMaxRows bounds how many measured rows a Board keeps for charting.
const DefaultMaxRows = 200000

// Board holds the latest status of the running sweep and the rows measured
// so far. Update is called from the sweep goroutine; the HTTP handlers read
// snapshots.
type Board struct {
	mu      sync.RWMutex
	status  sweep.Status
	rows    [][]float64
	seen    int
	maxRows int
	set     bool
}

// NewBoard returns an empty board keeping at most maxRows rows. Zero means
// DefaultMaxRows.
func NewBoard(maxRows int) *Board {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Board{maxRows: maxRows}
}

// Update records st. A status whose row count has grown contributes its
// last row to the chart buffer. A new run id resets the buffer.
func (b *Board) Update(st sweep.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.set && st.RunID != b.status.RunID {
		b.rows = nil
		b.seen = 0
	}
	if st.Rows > b.seen && len(st.LastRow) > 0 {
		row := make([]float64, len(st.LastRow))
		for i, v := range st.LastRow {
			row[i] = float64(v)
		}
		b.rows = append(b.rows, row)
		if len(b.rows) > b.maxRows {
			b.rows = slices.Delete(b.rows, 0, len(b.rows)-b.maxRows)
		}
	}
	b.seen = st.Rows
	b.status = st
	b.set = true
}

// Status returns the latest status and whether any has been recorded.
func (b *Board) Status() (sweep.Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status, b.set
}

// Rows returns a copy of the buffered rows.
func (b *Board) Rows() [][]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([][]float64, len(b.rows))
	for i, r := range b.rows {
		out[i] = slices.Clone(r)
	}
	return out
}

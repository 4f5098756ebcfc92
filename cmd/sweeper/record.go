package main

import (
	"encoding/json"
	"log"
	"time"

	"github.com/banshee-data/labsweep/internal/db"
	"github.com/banshee-data/labsweep/internal/sweep"
)

// runRecorder persists status snapshots to the sweep_runs table. A
// snapshot is written only when the mode, phase, row count or error
// changed, so a fast tick does not turn into a write per tick.
type runRecorder struct {
	db    *db.DB
	last  sweep.Status
	saved bool
	now   func() time.Time
}

func newRunRecorder(vault *db.DB) *runRecorder {
	return &runRecorder{db: vault, now: time.Now}
}

func (r *runRecorder) changed(st sweep.Status) bool {
	if !r.saved {
		return true
	}
	return st.RunID != r.last.RunID ||
		st.Mode != r.last.Mode ||
		st.Phase != r.last.Phase ||
		st.Rows != r.last.Rows ||
		st.Error != r.last.Error ||
		st.DatasetID != r.last.DatasetID
}

// Observe saves st if it differs from the last saved snapshot. Failures
// are logged; they never stop the sweep.
func (r *runRecorder) Observe(st sweep.Status) {
	if !r.changed(st) {
		return
	}
	b, err := json.Marshal(st)
	if err != nil {
		log.Printf("[runs] failed to encode status of %s: %v", st.RunID, err)
		return
	}
	rec := db.RunRecord{
		RunID:       st.RunID,
		DatasetID:   st.DatasetID,
		Status:      b,
		StartedAt:   st.StartedAt,
		CompletedAt: st.CompletedAt,
		UpdatedAt:   r.now(),
	}
	if err := r.db.SaveRun(rec); err != nil {
		log.Printf("[runs] failed to save run %s: %v", st.RunID, err)
		return
	}
	r.last = st
	r.saved = true
}

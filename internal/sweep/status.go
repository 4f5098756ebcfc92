package sweep

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Sample is a row value. Non-finite values encode as JSON null and null
// decodes as NaN.
type Sample float64

func (s Sample) MarshalJSON() ([]byte, error) {
	f := float64(s)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func (s *Sample) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = Sample(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*s = Sample(f)
	return nil
}

// ChannelStatus is the published view of one swept or recorded setting.
type ChannelStatus struct {
	Label       string  `json:"label"`
	Kind        string  `json:"kind"`
	Backend     string  `json:"backend"`
	MaxStepSize float64 `json:"max_step_size,omitempty"`
	// Value is the last commanded value for swept settings and the last
	// measured value for recorded ones.
	Value  *float64 `json:"value,omitempty"`
	Target *float64 `json:"target,omitempty"`
}

// AxisStatus is the published view of one axis.
type AxisStatus struct {
	Label           string  `json:"label"`
	Start           float64 `json:"start"`
	End             float64 `json:"end"`
	Points          int     `json:"points"`
	MinRampDuration string  `json:"min_ramp_duration"`
	PostRampDelay   string  `json:"post_ramp_delay"`
	Position        int     `json:"position"`
}

// Status is a point-in-time snapshot of an engine, safe to hand to other
// goroutines.
type Status struct {
	RunID       string          `json:"run_id"`
	Mode        Mode            `json:"mode"`
	Phase       Phase           `json:"phase,omitempty"`
	Progress    float64         `json:"progress"`
	HopAxis     int             `json:"hop_axis"`
	StepsDone   int             `json:"steps_done"`
	TotalSteps  int             `json:"total_steps"`
	Axes        []AxisStatus    `json:"axes"`
	Swept       []ChannelStatus `json:"swept"`
	Recorded    []ChannelStatus `json:"recorded"`
	Header      []string        `json:"header,omitempty"`
	LastRow     []Sample        `json:"last_row,omitempty"`
	Rows        int             `json:"rows"`
	RowsWritten int             `json:"rows_written"`
	DatasetID   string          `json:"dataset_id,omitempty"`
	DatasetName string          `json:"dataset_name,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Fraction returns overall completion in [0, 1] by grid points measured.
func (s Status) Fraction() float64 {
	if s.TotalSteps+1 == 0 {
		return 0
	}
	return float64(s.Rows) / float64(s.TotalSteps+1)
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	st := Status{
		RunID:       e.runID,
		Mode:        e.mode,
		Phase:       e.phase,
		Progress:    e.progress,
		HopAxis:     e.hopAxis,
		TotalSteps:  e.TotalSteps(),
		Rows:        e.rows,
		StartedAt:   e.startedAt,
		CompletedAt: e.completedAt,
	}
	for _, v := range e.lastRow {
		st.LastRow = append(st.LastRow, Sample(v))
	}
	if e.mesh != nil {
		st.StepsDone = e.mesh.StepsDone()
	}
	if e.lastErr != nil {
		st.Error = e.lastErr.Error()
	}

	for i, a := range e.axes {
		as := AxisStatus{
			Label:           a.Label(),
			Start:           a.Start(),
			End:             a.End(),
			Points:          a.Points(),
			MinRampDuration: a.MinRampDuration().String(),
			PostRampDelay:   a.PostRampDelay().String(),
		}
		if i < len(e.position) {
			as.Position = e.position[i]
		}
		st.Axes = append(st.Axes, as)
	}

	for i, s := range e.swept {
		cs := ChannelStatus{Label: s.Label, Kind: string(s.Kind()), Backend: s.Backend().String(), MaxStepSize: s.MaxStepSize}
		if i < len(e.state) {
			cs.Value = ptr(e.state[i])
		}
		if i < len(e.targetState) {
			cs.Target = ptr(e.targetState[i])
		}
		st.Swept = append(st.Swept, cs)
	}

	offset := len(e.axes) + len(e.swept)
	for i, s := range e.recorded {
		cs := ChannelStatus{Label: s.Label, Kind: string(s.Kind()), Backend: s.Backend().String()}
		if offset+i < len(e.lastRow) {
			cs.Value = ptr(e.lastRow[offset+i])
		}
		st.Recorded = append(st.Recorded, cs)
	}

	if e.data != nil {
		st.Header = append(e.data.Independents(), e.data.Dependents()...)
		st.RowsWritten = e.data.RowsWritten()
		st.DatasetID = e.data.ID()
		st.DatasetName = e.data.Name()
	}
	return st
}

func ptr(v float64) *float64 {
	// NaN marks a swept setting that has not been commanded yet and does
	// not survive JSON encoding.
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

package sweep

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/labsweep/internal/dataset"
	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/setting"
	"github.com/banshee-data/labsweep/internal/sweeperr"
	"github.com/banshee-data/labsweep/internal/timeutil"
)

// Mode is the engine lifecycle state.
type Mode string

const (
	ModeSetup Mode = "setup"
	ModeSweep Mode = "sweep"
	ModeDone  Mode = "done"
)

// Phase is the sub-state of a hop while in ModeSweep.
type Phase string

const (
	PhaseNone      Phase = ""
	PhasePreSweep  Phase = "pre_sweep"
	PhaseRamp      Phase = "ramp"
	PhaseDelay     Phase = "delay"
	PhasePostSweep Phase = "post_sweep"
)

// MeshOptions controls the optional ramps before the first and after the
// last grid point.
type MeshOptions struct {
	// PreSweep ramps from RampFrom to the first target at the bounded rate.
	PreSweep bool
	// PostSweep ramps from the last target to RampTo before finishing.
	PostSweep bool
	// RampFrom is the starting reference, one value per swept setting. When
	// empty with PreSweep set, the swept settings are read.
	RampFrom []float64
	// RampTo is the final reference, required with PostSweep.
	RampTo []float64
}

// Engine sequences ramp, delay and measurement over a mesh. It is driven
// by Advance and is not safe for concurrent use.
type Engine struct {
	conn  instrument.Connection
	vault dataset.Vault
	clock timeutil.Clock
	runID string

	mode     Mode
	axes     []Axis
	swept    []*setting.Setting
	recorded []*setting.Setting
	mesh     *Mesh
	data     *dataset.DataSet

	// Dataset metadata gathered before the DataSet exists.
	dsName     string
	dsLocation []string
	comments   []dataset.Comment
	params     []dataset.Parameter

	phase    Phase
	progress float64
	hopAxis  int
	stepCap  float64
	rampDur  time.Duration
	delay    time.Duration
	position []int

	lastState   []float64 // start of the current interpolation; nil before the first hop
	targetState []float64
	state       []float64 // last commanded value per swept setting
	postSweep   bool
	rampTo      []float64
	lastRow     []float64
	rows        int

	startedAt   *time.Time
	completedAt *time.Time
	lastErr     error
	closed      bool
}

// NewEngine returns an engine in ModeSetup. conn may be nil when only
// builtin settings are used; vault may be nil for a run whose rows are only
// buffered. A nil clock selects the real clock.
func NewEngine(conn instrument.Connection, vault dataset.Vault, clock timeutil.Clock) *Engine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Engine{
		conn:    conn,
		vault:   vault,
		clock:   clock,
		runID:   uuid.NewString(),
		mode:    ModeSetup,
		hopAxis: OriginAxis,
	}
}

func (e *Engine) requireSetup(op string) error {
	if e.mode != ModeSetup {
		return fmt.Errorf("%w: %s is only allowed in setup mode (mode is %s)", sweeperr.ErrInvalidState, op, e.mode)
	}
	return nil
}

// AddAxis appends an axis. An empty label becomes "axis <n>".
func (e *Engine) AddAxis(cfg AxisConfig) error {
	if err := e.requireSetup("AddAxis"); err != nil {
		return err
	}
	if len(e.axes) >= MaxAxes {
		return fmt.Errorf("%w: at most %d axes are supported", sweeperr.ErrInvalidArgument, MaxAxes)
	}
	if cfg.Label == "" {
		cfg.Label = fmt.Sprintf("axis %d", len(e.axes))
	}
	a, err := NewAxis(cfg)
	if err != nil {
		return err
	}
	e.axes = append(e.axes, a)
	return nil
}

// AddSweptSetting builds and connects a setting that will be driven through
// the mesh values. Device settings are built with set access.
func (e *Engine) AddSweptSetting(cfg setting.Config) error {
	if err := e.requireSetup("AddSweptSetting"); err != nil {
		return err
	}
	cfg.Access = setting.AccessSet
	if cfg.Label == "" {
		cfg.Label = fmt.Sprintf("swept %d", len(e.swept))
	}
	s, err := cfg.Build(e.conn, e.clock)
	if err != nil {
		return err
	}
	e.swept = append(e.swept, s)
	return nil
}

// AddRecordedSetting builds and connects a setting read at every grid
// point. Device settings are built with get access.
func (e *Engine) AddRecordedSetting(cfg setting.Config) error {
	if err := e.requireSetup("AddRecordedSetting"); err != nil {
		return err
	}
	cfg.Access = setting.AccessGet
	if cfg.Label == "" {
		cfg.Label = fmt.Sprintf("recorded %d", len(e.recorded))
	}
	s, err := cfg.Build(e.conn, e.clock)
	if err != nil {
		return err
	}
	e.recorded = append(e.recorded, s)
	return nil
}

// AddComment attaches a comment to the dataset, buffering it until the
// dataset exists.
func (e *Engine) AddComment(text, author string) error {
	if e.mode == ModeDone {
		return fmt.Errorf("%w: sweep is done", sweeperr.ErrInvalidState)
	}
	c := dataset.Comment{Text: text, Author: author}
	if e.data == nil {
		e.comments = append(e.comments, c)
		return nil
	}
	return e.data.AddComments(c)
}

// AddParameter attaches a parameter to the dataset, buffering it until the
// dataset exists.
func (e *Engine) AddParameter(name, units string, value float64) error {
	if e.mode == ModeDone {
		return fmt.Errorf("%w: sweep is done", sweeperr.ErrInvalidState)
	}
	if name == "" {
		return fmt.Errorf("%w: parameter needs a name", sweeperr.ErrInvalidArgument)
	}
	p := dataset.Parameter{Name: name, Units: units, Value: value}
	if e.data == nil {
		e.params = append(e.params, p)
		return nil
	}
	return e.data.AddParameters(p)
}

// InitializeDataset names the dataset. In setup mode the name is applied
// when the mesh is generated; in sweep mode the dataset is created at once
// and buffered entries are flushed.
func (e *Engine) InitializeDataset(name string, location []string) error {
	if name == "" || len(location) == 0 {
		return fmt.Errorf("%w: dataset needs a name and a location", sweeperr.ErrInvalidArgument)
	}
	switch e.mode {
	case ModeSetup:
		e.dsName = name
		e.dsLocation = append([]string(nil), location...)
		return nil
	case ModeSweep:
		if e.data.Created() {
			return fmt.Errorf("%w: dataset %q already created", sweeperr.ErrInvalidState, e.data.Name())
		}
		e.dsName = name
		e.dsLocation = append([]string(nil), location...)
		e.data.SetName(name)
		e.data.SetLocation(location)
		return e.data.Create()
	default:
		return fmt.Errorf("%w: sweep is done", sweeperr.ErrInvalidState)
	}
}

// checkReady validates everything GenerateMesh needs apart from the
// coefficient vectors themselves.
func (e *Engine) checkReady(outputs int) error {
	var problems []string
	if len(e.axes) == 0 {
		problems = append(problems, "no axes")
	}
	if len(e.swept) == 0 {
		problems = append(problems, "no swept settings")
	}
	if len(e.recorded) == 0 {
		problems = append(problems, "no recorded settings")
	}
	for _, s := range e.swept {
		switch {
		case !s.Ready():
			problems = append(problems, fmt.Sprintf("swept setting %q not ready", s.Label))
		case !s.HasSet():
			problems = append(problems, fmt.Sprintf("swept setting %q cannot be set", s.Label))
		}
	}
	for _, s := range e.recorded {
		switch {
		case !s.Ready():
			problems = append(problems, fmt.Sprintf("recorded setting %q not ready", s.Label))
		case !s.HasGet():
			problems = append(problems, fmt.Sprintf("recorded setting %q cannot be read", s.Label))
		}
	}
	if len(e.swept) > 0 && outputs != len(e.swept) {
		problems = append(problems, fmt.Sprintf("%d output definitions for %d swept settings", outputs, len(e.swept)))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", sweeperr.ErrConfiguration, problems)
	}
	return nil
}

func (e *Engine) checkOptions(opts MeshOptions) error {
	n := len(e.swept)
	if len(opts.RampFrom) != 0 && len(opts.RampFrom) != n {
		return fmt.Errorf("%w: ramp-from has %d values for %d swept settings", sweeperr.ErrInvalidArgument, len(opts.RampFrom), n)
	}
	if len(opts.RampTo) != 0 && len(opts.RampTo) != n {
		return fmt.Errorf("%w: ramp-to has %d values for %d swept settings", sweeperr.ErrInvalidArgument, len(opts.RampTo), n)
	}
	if opts.PostSweep && len(opts.RampTo) == 0 {
		return fmt.Errorf("%w: post-sweep ramp needs ramp-to values", sweeperr.ErrInvalidArgument)
	}
	if opts.PreSweep && len(opts.RampFrom) == 0 {
		for _, s := range e.swept {
			if !s.HasGet() {
				return fmt.Errorf("%w: pre-sweep without ramp-from reads %q, which cannot be read", sweeperr.ErrConfiguration, s.Label)
			}
		}
	}
	return nil
}

// GenerateMesh builds the grid from one linear coefficient vector per swept
// setting and enters sweep mode. On any error the engine is unchanged.
func (e *Engine) GenerateMesh(coeffs [][]float64, opts MeshOptions) error {
	if err := e.requireSetup("GenerateMesh"); err != nil {
		return err
	}
	if err := e.checkReady(len(coeffs)); err != nil {
		return err
	}
	if err := e.checkOptions(opts); err != nil {
		return err
	}
	m, err := BuildLinear(e.axes, len(e.swept), coeffs)
	if err != nil {
		return err
	}
	return e.start(m, opts)
}

// GenerateMeshFunctions is GenerateMesh with one arbitrary function of the
// axis values per swept setting.
func (e *Engine) GenerateMeshFunctions(funcs []func(values ...float64) float64, opts MeshOptions) error {
	if err := e.requireSetup("GenerateMeshFunctions"); err != nil {
		return err
	}
	if err := e.checkReady(len(funcs)); err != nil {
		return err
	}
	if err := e.checkOptions(opts); err != nil {
		return err
	}
	m, err := BuildFunctions(e.axes, funcs)
	if err != nil {
		return err
	}
	return e.start(m, opts)
}

// hopReference returns the state the origin hop starts from. PreSweep
// starts from RampFrom or the settings' current values. Otherwise limited
// settings that can be read start from their current value so the first hop
// keeps to their step size, and every other setting starts at the target.
// A nil reference means nothing on the origin hop needs bounding.
func (e *Engine) hopReference(opts MeshOptions, first []float64) ([]float64, error) {
	if opts.PreSweep {
		if len(opts.RampFrom) > 0 {
			return slices.Clone(opts.RampFrom), nil
		}
		ref := make([]float64, len(e.swept))
		for i, s := range e.swept {
			v, err := s.Get()
			if err != nil {
				return nil, fmt.Errorf("reading pre-sweep reference: %w", err)
			}
			ref[i] = v
		}
		return ref, nil
	}

	var ref []float64
	for i, s := range e.swept {
		if !s.Limited() {
			continue
		}
		if !s.HasGet() {
			monitoring.Logf("[sweep] %q cannot be read: first hop to %g is not step limited", s.Label, first[i])
			continue
		}
		v, err := s.Get()
		if err != nil {
			return nil, fmt.Errorf("reading %q before the first hop: %w", s.Label, err)
		}
		if math.IsNaN(v) {
			continue
		}
		if ref == nil {
			ref = slices.Clone(first)
		}
		ref[i] = v
	}
	return ref, nil
}

func (e *Engine) start(m *Mesh, opts MeshOptions) error {
	first, err := m.Next()
	if err != nil {
		return err
	}
	ref, err := e.hopReference(opts, first.Values)
	if err != nil {
		return err
	}

	d := dataset.New(e.vault, e.independents(), e.recordedLabels())
	if err := d.AddComments(e.comments...); err != nil {
		return err
	}
	if err := d.AddParameters(e.params...); err != nil {
		return err
	}

	e.mesh = m
	e.data = d
	e.comments, e.params = nil, nil
	e.mode = ModeSweep
	now := e.clock.Now()
	e.startedAt = &now
	e.position = first.Position
	e.postSweep = opts.PostSweep
	e.rampTo = append([]float64(nil), opts.RampTo...)

	if opts.PreSweep && !slices.Equal(ref, first.Values) {
		e.beginHop(PhasePreSweep, OriginAxis, ref, first.Values)
	} else {
		e.beginHop(PhaseRamp, OriginAxis, ref, first.Values)
	}
	monitoring.Logf("[sweep] run %s: %d axes, %d swept, %d recorded, %d steps, starting in %s",
		e.runID, len(e.axes), len(e.swept), len(e.recorded), m.TotalSteps(), e.phase)

	if e.dsName != "" {
		d.SetName(e.dsName)
		d.SetLocation(e.dsLocation)
		if err := d.Create(); err != nil {
			monitoring.Logf("[sweep] dataset %q not created yet: %v", e.dsName, err)
			return nil
		}
	}
	return nil
}

func (e *Engine) independents() []string {
	out := make([]string, 0, len(e.axes)+len(e.swept))
	for _, a := range e.axes {
		out = append(out, a.Label())
	}
	for _, s := range e.swept {
		out = append(out, s.Label)
	}
	return out
}

func (e *Engine) recordedLabels() []string {
	out := make([]string, len(e.recorded))
	for i, s := range e.recorded {
		out[i] = s.Label
	}
	return out
}

// Advance moves the sweep forward by elapsed. Each call performs at most one
// sub-phase step. A failed set or get leaves the phase, progress and cursor
// unchanged so the next call retries.
func (e *Engine) Advance(elapsed time.Duration) error {
	if e.mode != ModeSweep {
		return fmt.Errorf("%w: advance requires sweep mode (mode is %s)", sweeperr.ErrInvalidState, e.mode)
	}
	if elapsed <= 0 {
		return fmt.Errorf("%w: elapsed must be positive, got %v", sweeperr.ErrInvalidArgument, elapsed)
	}

	var err error
	switch e.phase {
	case PhasePreSweep, PhasePostSweep:
		err = e.stepInterpolation(e.stepCap)
	case PhaseRamp:
		err = e.stepInterpolation(e.rampIncrement(elapsed))
	case PhaseDelay:
		err = e.stepDelay(elapsed)
	default:
		err = fmt.Errorf("%w: unknown phase %q", sweeperr.ErrInvalidState, e.phase)
	}
	e.lastErr = err
	return err
}

// Done reports whether the sweep has finished.
func (e *Engine) Done() bool { return e.mode == ModeDone }

// Close finalizes the dataset and releases the connection. The engine ends
// in ModeDone. Close is idempotent.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if e.mode != ModeDone {
		e.finish()
	}
	var errs []error
	if e.data != nil {
		if err := e.data.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) finish() {
	e.mode = ModeDone
	e.phase = PhaseNone
	now := e.clock.Now()
	e.completedAt = &now
}

func (e *Engine) Mode() Mode                        { return e.mode }
func (e *Engine) Phase() Phase                      { return e.phase }
func (e *Engine) Progress() float64                 { return e.progress }
func (e *Engine) RunID() string                     { return e.runID }
func (e *Engine) HopAxis() int                      { return e.hopAxis }
func (e *Engine) StepCap() float64                  { return e.stepCap }
func (e *Engine) Position() []int                   { return slices.Clone(e.position) }
func (e *Engine) TargetState() []float64            { return slices.Clone(e.targetState) }
func (e *Engine) LastState() []float64              { return slices.Clone(e.lastState) }
func (e *Engine) State() []float64                  { return slices.Clone(e.state) }
func (e *Engine) LastRow() []float64                { return slices.Clone(e.lastRow) }
func (e *Engine) Axes() []Axis                      { return slices.Clone(e.axes) }
func (e *Engine) Swept() []*setting.Setting         { return slices.Clone(e.swept) }
func (e *Engine) Recorded() []*setting.Setting      { return slices.Clone(e.recorded) }
func (e *Engine) Dataset() *dataset.DataSet         { return e.data }
func (e *Engine) Connection() instrument.Connection { return e.conn }

// TotalSteps returns the number of transitions in the mesh, or zero before
// the mesh is generated.
func (e *Engine) TotalSteps() int {
	if e.mesh == nil {
		return 0
	}
	return e.mesh.TotalSteps()
}

// Rows returns the number of rows measured so far.
func (e *Engine) Rows() int { return e.rows }

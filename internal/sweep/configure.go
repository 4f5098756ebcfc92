package sweep

import (
	"fmt"

	"github.com/banshee-data/labsweep/internal/config"
	"github.com/banshee-data/labsweep/internal/dataset"
	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/timeutil"
)

// NewEngineFromConfig builds an engine from a validated sweep file and
// generates its mesh, leaving it in ModeSweep ready to be driven. The engine
// owns conn: on error it is closed along with the partly built engine, which
// releases the private contexts its settings allocated.
func NewEngineFromConfig(cfg *config.SweepConfig, conn instrument.Connection, vault dataset.Vault, clock timeutil.Clock) (_ *Engine, err error) {
	e := NewEngine(conn, vault, clock)
	defer func() {
		if err == nil {
			return
		}
		if cerr := e.Close(); cerr != nil {
			monitoring.Logf("[sweep] closing unconfigured engine: %v", cerr)
		}
	}()

	for i, a := range cfg.Axes {
		err := e.AddAxis(AxisConfig{
			Start:           a.Start,
			End:             a.End,
			Points:          a.Points,
			MinRampDuration: a.GetMinRampDuration(),
			PostRampDelay:   a.GetPostRampDelay(),
			Label:           a.Label,
		})
		if err != nil {
			return nil, fmt.Errorf("axis %d: %w", i, err)
		}
	}
	for i, s := range cfg.Swept {
		if err := e.AddSweptSetting(s.Config); err != nil {
			return nil, fmt.Errorf("swept setting %d: %w", i, err)
		}
	}
	for i, r := range cfg.Recorded {
		if err := e.AddRecordedSetting(r); err != nil {
			return nil, fmt.Errorf("recorded setting %d: %w", i, err)
		}
	}

	for _, c := range cfg.Comments {
		if err := e.AddComment(c.Text, c.Author); err != nil {
			return nil, err
		}
	}
	for _, p := range cfg.Parameters {
		if err := e.AddParameter(p.Name, p.Units, p.Value); err != nil {
			return nil, err
		}
	}
	if cfg.Name != "" {
		if err := e.InitializeDataset(cfg.Name, cfg.Location); err != nil {
			return nil, err
		}
	}

	opts := MeshOptions{
		PreSweep:  cfg.PreSweep,
		PostSweep: cfg.PostSweep,
		RampFrom:  cfg.RampFrom,
		RampTo:    cfg.RampTo,
	}
	if err := e.GenerateMesh(cfg.Coefficients(), opts); err != nil {
		return nil, err
	}
	return e, nil
}

package sweep

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/labsweep/internal/config"
	"github.com/banshee-data/labsweep/internal/dataset"
	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/instrument/sim"
	"github.com/banshee-data/labsweep/internal/setting"
	"github.com/banshee-data/labsweep/internal/sweeperr"
	"github.com/banshee-data/labsweep/internal/timeutil"
)

func TestNewEngineFromConfig_ExampleAgainstSimLab(t *testing.T) {
	cfg, err := config.LoadSweepConfig("../../config/sweep.example.json")
	require.NoError(t, err)

	lab := sim.NewDefaultLab()
	vault := dataset.NewMemoryVault()
	e, err := NewEngineFromConfig(cfg, lab, vault, timeutil.NewMockClock(time.Unix(0, 0)))
	require.NoError(t, err)
	assert.Equal(t, ModeSweep, e.Mode())
	assert.Equal(t, PhasePreSweep, e.Phase())
	assert.Equal(t, 21*6-1, e.TotalSteps())

	_, err = RunToCompletion(e, time.Second, 100000)
	require.NoError(t, err)

	records := vault.Datasets()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "gate vs bias", rec.Name)
	assert.Equal(t, []string{"sim", "examples"}, rec.Location)
	assert.Equal(t, []string{"gate", "bias", "gate", "bias"}, rec.Independents)
	assert.Equal(t, []string{"dmm", "t"}, rec.Dependents)
	assert.Len(t, rec.Rows, 21*6)
	assert.Len(t, rec.Comments, 1)
	assert.Equal(t, []dataset.Parameter{{Name: "temperature", Units: "K", Value: 4.2}}, rec.Parameters)

	// Post-sweep ramp leaves both outputs at ramp_to.
	box := lab.Sim(sim.DCBoxServer)
	assert.Equal(t, 0.0, box.Register(sim.DCBoxDevice, 0))
	assert.Equal(t, 0.0, box.Register(sim.DCBoxDevice, 1))
}

func TestNewEngineFromConfig_Errors(t *testing.T) {
	cfg, err := config.ParseSweepConfig([]byte(`{
	  "axes": [{"start": 0, "end": 1, "points": 3}],
	  "swept": [{"kind": "vds", "vds_name": "DC9", "coefficients": [0, 1]}],
	  "recorded": [{"kind": "builtin", "builtin": "zero"}]
	}`))
	require.NoError(t, err)

	_, err = NewEngineFromConfig(cfg, sim.NewDefaultLab(), nil, nil)
	assert.Error(t, err, "unknown channel")

	cfg.PreSweep = true
	cfg.Swept[0].Kind = setting.KindDevice
	cfg.Swept[0].VDSName = ""
	cfg.Swept[0].Server = sim.DCBoxServer
	cfg.Swept[0].Device = sim.DCBoxDevice
	cfg.Swept[0].Setting = sim.SettingSetVoltage
	cfg.Swept[0].Inputs = []any{0}
	_, err = NewEngineFromConfig(cfg, sim.NewDefaultLab(), nil, nil)
	assert.True(t, errors.Is(err, sweeperr.ErrConfiguration), "pre-sweep needs a readable reference, got %v", err)
}

// closeCounter counts Close calls on a connection.
type closeCounter struct {
	instrument.Connection
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return c.Connection.Close()
}

func TestNewEngineFromConfig_ClosesConnectionOnError(t *testing.T) {
	cfg, err := config.ParseSweepConfig([]byte(`{
	  "axes": [{"start": 0, "end": 1, "points": 3}],
	  "swept": [{"kind": "dev", "server": "sim_dcbox", "device": "sim_dcbox (COM1)", "setting": "set_voltage",
	             "inputs": [0], "var_slot": 1, "coefficients": [0, 1]}],
	  "recorded": [{"kind": "vds", "vds_name": "DC9"}]
	}`))
	require.NoError(t, err)

	conn := &closeCounter{Connection: sim.NewDefaultLab()}
	_, err = NewEngineFromConfig(cfg, conn, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, conn.closed, "private contexts are released with the connection")

	ok, err := config.LoadSweepConfig("../../config/sweep.example.json")
	require.NoError(t, err)
	conn = &closeCounter{Connection: sim.NewDefaultLab()}
	e, err := NewEngineFromConfig(ok, conn, dataset.NewMemoryVault(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, conn.closed)
	require.NoError(t, e.Close())
	assert.Equal(t, 1, conn.closed)
}

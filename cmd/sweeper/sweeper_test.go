package main

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/labsweep/internal/config"
	"github.com/banshee-data/labsweep/internal/dataset"
	"github.com/banshee-data/labsweep/internal/db"
	"github.com/banshee-data/labsweep/internal/instrument/scpi"
	"github.com/banshee-data/labsweep/internal/instrument/sim"
	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/sweep"
	"github.com/banshee-data/labsweep/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestConnect_Selection(t *testing.T) {
	_, err := connectWith(false, "", time.Second, "", nil)
	assert.ErrorContains(t, err, "no instruments")

	_, err = connectWith(true, "localhost:7777", time.Second, "", nil)
	assert.Error(t, err)

	inst, err := connectWith(false, "localhost:7777", time.Second, "", nil)
	require.NoError(t, err, "gRPC connects lazily")
	require.NoError(t, inst.conn.Close())

	inst, err = connect(true, "", time.Second, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{sim.DCBoxServer, sim.DMMServer}, inst.conn.Servers())
	_, err = inst.conn.VDS()
	assert.NoError(t, err)
	inst.conn.Close()
}

func TestConnect_SCPIOnDevLab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scpi.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
	  "servers": [{"name": "smu", "devices": [{"name": "smu0", "path": "/dev/ttyUSB0"}]}]
	}`), 0644))

	opener := scpi.NewMockOpener()
	inst, err := connectWith(true, "", time.Second, path, opener.Open)
	require.NoError(t, err)
	defer inst.conn.Close()
	require.Len(t, inst.scpi, 1)
	assert.Contains(t, inst.conn.Servers(), "smu")
	assert.Contains(t, inst.conn.Servers(), sim.DCBoxServer)

	srv, err := inst.conn.Server("smu")
	require.NoError(t, err)
	ctx, err := inst.conn.NewContext()
	require.NoError(t, err)
	require.NoError(t, srv.SelectDevice(ctx, "smu0"))
	_, err = srv.Call(ctx, "set_voltage", 1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, opener.Ports["/dev/ttyUSB0"].Volt(1))

	_, err = connectWith(false, "", time.Second, filepath.Join(t.TempDir(), "missing.json"), opener.Open)
	assert.Error(t, err)
}

func TestRunRecorder_SavesOnChange(t *testing.T) {
	vault, err := db.NewDB(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	defer vault.Close()

	r := newRunRecorder(vault)
	r.now = func() time.Time { return time.Unix(1000, 0) }

	st := sweep.Status{RunID: "run-1", Mode: sweep.ModeSweep, Phase: sweep.PhaseRamp}
	r.Observe(st)
	rec, err := vault.GetRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, rec)

	r.now = func() time.Time { return time.Unix(2000, 0) }
	r.Observe(st)
	rec, err = vault.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rec.UpdatedAt.Unix(), "unchanged status is not rewritten")

	st.Rows = 1
	st.LastRow = []sweep.Sample{0, 0.5, sweep.Sample(math.NaN())}
	r.Observe(st)
	rec, err = vault.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), rec.UpdatedAt.Unix())

	var saved sweep.Status
	require.NoError(t, json.Unmarshal(rec.Status, &saved))
	assert.Equal(t, 1, saved.Rows)
}

func TestWriteOutputs_ExampleSweep(t *testing.T) {
	cfg, err := config.LoadSweepConfig("../../config/sweep.example.json")
	require.NoError(t, err)

	memory := dataset.NewMemoryVault()
	e, err := sweep.NewEngineFromConfig(cfg, sim.NewDefaultLab(), memory, timeutil.NewMockClock(time.Unix(0, 0)))
	require.NoError(t, err)
	_, err = sweep.RunToCompletion(e, time.Second, 100000)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	dir := t.TempDir()
	out := outputs{
		csv:  filepath.Join(dir, "sweep.csv"),
		png:  filepath.Join(dir, "sweep.png"),
		html: filepath.Join(dir, "sweep.html"),
	}
	require.NoError(t, writeOutputs(e, nil, memory, out))

	csv, err := os.ReadFile(out.csv)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	assert.Equal(t, "gate,bias,gate,bias,dmm,t", lines[0])
	assert.Len(t, lines, 1+21*6)

	png, err := os.ReadFile(out.png)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	html, err := os.ReadFile(out.html)
	require.NoError(t, err)
	assert.Contains(t, string(html), "echarts")

	assert.NoError(t, writeOutputs(e, nil, memory, outputs{}))
}

func TestWriteOutputs_NoDataset(t *testing.T) {
	e := sweep.NewEngine(nil, nil, nil)
	err := writeOutputs(e, nil, nil, outputs{csv: filepath.Join(t.TempDir(), "x.csv")})
	assert.ErrorContains(t, err, "no stored dataset")
}

func TestRun_SetupFailuresReturnOne(t *testing.T) {
	prevConfig, prevDB, prevDev := *configPath, *dbPath, *devMode
	t.Cleanup(func() {
		*configPath, *dbPath, *devMode = prevConfig, prevDB, prevDev
	})

	*configPath = filepath.Join(t.TempDir(), "missing.json")
	assert.Equal(t, 1, run())

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{
	  "axes": [{"start": 0, "end": 1, "points": 3}],
	  "swept": [{"kind": "vds", "vds_name": "DC9", "coefficients": [0, 1]}],
	  "recorded": [{"kind": "builtin", "builtin": "zero"}]
	}`), 0o644))
	*configPath, *dbPath, *devMode = bad, "", true
	assert.Equal(t, 1, run(), "an unknown channel fails setup without exiting")
}

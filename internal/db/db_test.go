package db

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/labsweep/internal/dataset"
	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/sweeperr"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestMigrations_UpDownUp(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion(nil)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateDown(nil))
	version, _, err = db.MigrateVersion(nil)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.MigrateUp(nil))
	require.NoError(t, db.MigrateUp(nil), "no change is not an error")
	version, _, err = db.MigrateVersion(nil)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestVault_DataSetRoundTrip(t *testing.T) {
	db := newTestDB(t)

	ds := dataset.New(db, []string{"i0", "gate"}, []string{"dmm"})
	ds.SetName("pinch-off")
	ds.SetLocation([]string{"cooldown 3", "device A"})
	require.NoError(t, ds.AddComments(dataset.Comment{Text: "first pass", Author: "op"}))
	require.NoError(t, ds.AddParameters(dataset.Parameter{Name: "temperature", Units: "K", Value: 0.01}))
	require.NoError(t, ds.AddData([][]float64{{0, 0, 0.5}, {1, 0.25, math.NaN()}}, false))
	require.NoError(t, ds.Create())
	require.NoError(t, ds.AddData([][]float64{{2, 0.5, -1e-9}}, true))
	require.NoError(t, ds.Close())

	list, err := db.ListDatasets()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ds.ID(), list[0].ID)
	assert.Equal(t, []string{"cooldown 3", "device A"}, list[0].Location)
	assert.Equal(t, 3, list[0].Rows)
	assert.WithinDuration(t, time.Now(), list[0].CreatedAt, time.Minute)

	rec, err := db.Dataset(ds.ID())
	require.NoError(t, err)
	want := dataset.Record{
		ID:           ds.ID(),
		Name:         "pinch-off",
		Location:     []string{"cooldown 3", "device A"},
		Independents: []string{"i0", "gate"},
		Dependents:   []string{"dmm"},
		Comments:     []dataset.Comment{{Text: "first pass", Author: "op"}},
		Parameters:   []dataset.Parameter{{Name: "temperature", Units: "K", Value: 0.01}},
		Rows:         [][]float64{{0, 0, 0.5}, {1, 0.25, math.NaN()}, {2, 0.5, -1e-9}},
	}
	if diff := cmp.Diff(want, rec, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("dataset mismatch (-want +got):\n%s", diff)
	}

	var buf bytes.Buffer
	require.NoError(t, db.ExportCSV(&buf, ds.ID()))
	assert.Equal(t, "i0,gate,dmm\n0,0,0.5\n1,0.25,NaN\n2,0.5,-1e-09\n", buf.String())
}

func TestVault_SessionErrors(t *testing.T) {
	db := newTestDB(t)
	s, err := db.Open()
	require.NoError(t, err)

	err = s.Cd([]string{"missing"}, false)
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument))
	err = s.Cd([]string{"a/b"}, true)
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument))

	err = s.Add([][]float64{{1}})
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidState), "no dataset yet")

	require.NoError(t, s.Cd([]string{"x", "y"}, true))
	require.NoError(t, s.Cd([]string{"x"}, false), "parents are created")
	_, err = s.New("d", []string{"a"}, []string{"b"})
	require.NoError(t, err)

	err = s.Add([][]float64{{1, 2, 3}})
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument))

	require.NoError(t, s.Close())
	assert.True(t, errors.Is(s.AddComment("x", "y"), sweeperr.ErrInvalidState))

	_, err = db.Dataset("nope")
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument))
}

func TestRuns_SaveAndList(t *testing.T) {
	db := newTestDB(t)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.SaveRun(RunRecord{
		RunID:     "run-1",
		Status:    json.RawMessage(`{"mode":"sweep"}`),
		StartedAt: &started,
	}))

	rec, err := db.GetRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.JSONEq(t, `{"mode":"sweep"}`, string(rec.Status))
	assert.True(t, started.Equal(*rec.StartedAt))
	assert.Nil(t, rec.CompletedAt)

	completed := started.Add(time.Hour)
	require.NoError(t, db.SaveRun(RunRecord{
		RunID:       "run-1",
		Status:      json.RawMessage(`{"mode":"done"}`),
		StartedAt:   &started,
		CompletedAt: &completed,
	}))
	runs, err := db.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.JSONEq(t, `{"mode":"done"}`, string(runs[0].Status))
	assert.True(t, completed.Equal(*runs[0].CompletedAt))

	missing, err := db.GetRun("run-2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Error(t, db.SaveRun(RunRecord{}))
}

func TestRuns_UpdatedAt(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.SaveRun(RunRecord{RunID: "old", Status: json.RawMessage(`{}`), UpdatedAt: time.Unix(1000, 0)}))
	require.NoError(t, db.SaveRun(RunRecord{RunID: "new", Status: json.RawMessage(`{}`), UpdatedAt: time.Unix(3000, 0)}))

	rec, err := db.GetRun("old")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1000), rec.UpdatedAt.Unix())

	runs, err := db.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, "old", runs[1].RunID)

	before := time.Now().Add(-time.Second)
	require.NoError(t, db.SaveRun(RunRecord{RunID: "stamped", Status: json.RawMessage(`{}`)}))
	rec, err = db.GetRun("stamped")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.UpdatedAt.After(before), "zero UpdatedAt takes the current time")
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3")))
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"version", "1"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force"}, path, &out))
}

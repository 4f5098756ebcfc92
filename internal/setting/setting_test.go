package setting

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/instrument/sim"
	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/sweeperr"
	"github.com/banshee-data/labsweep/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestBuiltin_Values(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 500000000))

	zero, err := Config{Kind: KindBuiltin, Builtin: BuiltinZero, Label: "z"}.Build(nil, clock)
	require.NoError(t, err)
	assert.True(t, zero.Ready(), "builtins are ready without a connection")
	v, err := zero.Get()
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
	_, err = zero.Set(1)
	assert.True(t, errors.Is(err, sweeperr.ErrUnsupportedOperation))

	tm, err := Config{Kind: KindBuiltin, Builtin: BuiltinTime}.Build(nil, clock)
	require.NoError(t, err)
	v, err = tm.Get()
	require.NoError(t, err)
	assert.InDelta(t, 1700000000.5, v, 1e-6)

	nop, err := Config{Kind: KindBuiltin, Builtin: BuiltinDoNothing}.Build(nil, clock)
	require.NoError(t, err)
	resp, err := nop.Set(42)
	require.NoError(t, err)
	assert.Nil(t, resp)
	_, err = nop.Get()
	assert.True(t, errors.Is(err, sweeperr.ErrUnsupportedOperation))
}

func TestBuiltin_UnknownName(t *testing.T) {
	_, err := NewBuiltin("pi", nil)
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument))

	err = Config{Kind: KindBuiltin, Builtin: "pi"}.Validate()
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument))
}

func TestSetting_NotReadyUntilConnected(t *testing.T) {
	backend, err := NewVDS("4000", "")
	require.NoError(t, err)
	s, err := New("gate", 0, backend)
	require.NoError(t, err)

	assert.False(t, s.Ready())
	_, err = s.Get()
	assert.True(t, errors.Is(err, sweeperr.ErrNotReady))
	_, err = s.Set(1)
	assert.True(t, errors.Is(err, sweeperr.ErrNotReady))

	lab := sim.NewDefaultLab()
	require.NoError(t, s.Connect(lab))
	assert.True(t, s.Ready())

	err = s.Connect(lab)
	assert.True(t, errors.Is(err, sweeperr.ErrInvalidState), "second connect must fail")
}

func TestVDS_GetSetAndCapabilities(t *testing.T) {
	lab := sim.NewDefaultLab()

	gate, err := Config{Kind: KindVDS, VDSName: "DC1", Label: "gate"}.Build(lab, nil)
	require.NoError(t, err)
	assert.True(t, gate.HasGet())
	assert.True(t, gate.HasSet())

	_, err = gate.Set(0.75)
	require.NoError(t, err)
	v, err := gate.Get()
	require.NoError(t, err)
	assert.Equal(t, 0.75, v)
	assert.Equal(t, 0.75, lab.Sim(sim.DCBoxServer).Register(sim.DCBoxDevice, 1))

	dmm, err := Config{Kind: KindVDS, VDSID: "5000"}.Build(lab, nil)
	require.NoError(t, err)
	assert.True(t, dmm.HasGet())
	assert.False(t, dmm.HasSet())
	_, err = dmm.Set(1)
	assert.True(t, errors.Is(err, sweeperr.ErrUnsupportedOperation))
}

func TestVDS_CapabilitiesFetchedOnce(t *testing.T) {
	lab := sim.NewDefaultLab()
	s, err := Config{Kind: KindVDS, VDSID: "4000"}.Build(lab, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.Set(float64(i))
		require.NoError(t, err)
		_, err = s.Get()
		require.NoError(t, err)
	}
	assert.Equal(t, 1, lab.Registry.DetailLookups())
}

func TestVDS_UnknownChannel(t *testing.T) {
	lab := sim.NewDefaultLab()
	_, err := Config{Kind: KindVDS, VDSID: "9999"}.Build(lab, nil)
	assert.True(t, errors.Is(err, instrument.ErrNoSuchChannel))
}

func TestVDS_NoRegistry(t *testing.T) {
	conn := instrument.NewLocal(nil)
	_, err := Config{Kind: KindVDS, VDSID: "4000"}.Build(conn, nil)
	assert.True(t, errors.Is(err, instrument.ErrNoRegistry))
}

func newDeviceSetting(t *testing.T, lab *sim.Lab, access Access) *Setting {
	t.Helper()
	cfg := Config{
		Kind:    KindDevice,
		Label:   "dc3",
		Server:  sim.DCBoxServer,
		Device:  sim.DCBoxDevice,
		Inputs:  []any{3},
		VarSlot: 1,
		Access:  access,
	}
	if access == AccessSet {
		cfg.Setting = sim.SettingSetVoltage
	} else {
		cfg.Setting = sim.SettingGetVoltage
	}
	s, err := cfg.Build(lab, nil)
	require.NoError(t, err)
	return s
}

func TestDevice_SetInsertsValueAtVarSlot(t *testing.T) {
	lab := sim.NewDefaultLab()
	s := newDeviceSetting(t, lab, AccessSet)

	_, err := s.Set(0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.25, lab.Sim(sim.DCBoxServer).Register(sim.DCBoxDevice, 3))

	calls := lab.Sim(sim.DCBoxServer).Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []any{3, 0.25}, calls[0].Args)

	_, err = s.Get()
	assert.True(t, errors.Is(err, sweeperr.ErrUnsupportedOperation))
}

func TestDevice_UsesPrivateContext(t *testing.T) {
	lab := sim.NewDefaultLab()
	a := newDeviceSetting(t, lab, AccessSet)
	b := newDeviceSetting(t, lab, AccessGet)

	ctxA := a.Backend().(*Device).Context()
	ctxB := b.Backend().(*Device).Context()
	assert.NotEqual(t, ctxA, ctxB)
	assert.NotEqual(t, instrument.SharedContext, ctxA)
}

func TestDevice_RetriesOnceAfterReselect(t *testing.T) {
	lab := sim.NewDefaultLab()
	srv := lab.Sim(sim.DCBoxServer)
	s := newDeviceSetting(t, lab, AccessGet)
	srv.SetRegister(sim.DCBoxDevice, 3, 1.25)

	// Another client changes the selection on our context.
	srv.Hijack(s.Backend().(*Device).Context(), "")

	v, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, 1.25, v)

	calls := srv.Calls()
	require.Len(t, calls, 2)
	assert.Error(t, calls[0].Err)
	assert.NoError(t, calls[1].Err)
}

func TestDevice_SecondFailurePropagates(t *testing.T) {
	lab := sim.NewDefaultLab()
	srv := lab.Sim(sim.DCBoxServer)
	s := newDeviceSetting(t, lab, AccessSet)

	srv.FailNext(2)
	_, err := s.Set(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sweeperr.ErrRemoteCallFailed))
	assert.Len(t, srv.Calls(), 2, "exactly one retry")

	// The fault has cleared, so the next call succeeds first time.
	_, err = s.Set(1)
	assert.NoError(t, err)
	assert.Len(t, srv.Calls(), 3)
}

func TestDevice_ConnectFailures(t *testing.T) {
	lab := sim.NewDefaultLab()

	_, err := Config{Kind: KindDevice, Server: "nope", Device: "d", Setting: "s"}.Build(lab, nil)
	assert.True(t, errors.Is(err, instrument.ErrNoSuchServer))

	_, err = Config{Kind: KindDevice, Server: sim.DCBoxServer, Device: "nope", Setting: "s"}.Build(lab, nil)
	assert.True(t, errors.Is(err, instrument.ErrNoSuchDevice))

	_, err = Config{
		Kind:    KindDevice,
		Server:  sim.DCBoxServer,
		Device:  sim.DCBoxDevice,
		Setting: sim.SettingGetVoltage,
		Inputs:  []any{0},
	}.Build(noContexts{lab}, nil)
	assert.True(t, errors.Is(err, sweeperr.ErrRemoteCallFailed), "got %v", err)
	assert.Empty(t, lab.Sim(sim.DCBoxServer).Calls(), "no call runs on the shared context")
}

// noContexts is a connection that cannot allocate private contexts.
type noContexts struct {
	instrument.Connection
}

func (noContexts) NewContext() (instrument.Context, error) {
	return instrument.SharedContext, sweeperr.ErrRemoteCallFailed
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"vds_by_id", Config{Kind: KindVDS, VDSID: "1"}, false},
		{"vds_empty", Config{Kind: KindVDS}, true},
		{"dev_ok", Config{Kind: KindDevice, Server: "s", Device: "d", Setting: "x"}, false},
		{"dev_missing_server", Config{Kind: KindDevice, Device: "d", Setting: "x"}, true},
		{"dev_var_slot_append", Config{Kind: KindDevice, Server: "s", Device: "d", Setting: "x", Inputs: []any{1}, VarSlot: 1, Access: AccessSet}, false},
		{"dev_var_slot_too_large", Config{Kind: KindDevice, Server: "s", Device: "d", Setting: "x", Inputs: []any{1}, VarSlot: 2, Access: AccessSet}, true},
		{"builtin_zero", Config{Kind: KindBuiltin, Builtin: BuiltinZero}, false},
		{"negative_step", Config{Kind: KindBuiltin, Builtin: BuiltinZero, MaxStepSize: -1}, true},
		{"unknown_kind", Config{Kind: "gpib"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.True(t, errors.Is(err, sweeperr.ErrInvalidArgument), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKind_UnmarshalJSON(t *testing.T) {
	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"LabRAD","server":"s"}`), &cfg))
	assert.Equal(t, KindDevice, cfg.Kind)

	err := json.Unmarshal([]byte(`{"kind":"carrier pigeon"}`), &cfg)
	assert.Error(t, err)
}

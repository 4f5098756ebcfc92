package rpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/instrument/sim"
	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/setting"
)

func init() {
	monitoring.SetLogger(nil)
}

// startServer serves conn over an in-memory listener and returns a client.
func startServer(t *testing.T, conn instrument.Connection) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	NewServer(conn).Register(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	c, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_DeviceServer(t *testing.T) {
	lab := sim.NewDefaultLab()
	c := startServer(t, lab)

	assert.ElementsMatch(t, []string{sim.DCBoxServer, sim.DMMServer}, c.Servers())

	ctx, err := c.NewContext()
	require.NoError(t, err)
	assert.NotEqual(t, instrument.SharedContext, ctx)
	other, err := c.NewContext()
	require.NoError(t, err)
	assert.NotEqual(t, ctx, other, "contexts are unique")

	srv, err := c.Server(sim.DCBoxServer)
	require.NoError(t, err)
	assert.Equal(t, sim.DCBoxServer, srv.Name())
	devices, err := srv.ListDevices()
	require.NoError(t, err)
	assert.Contains(t, devices, sim.DCBoxDevice)
	assert.Contains(t, srv.Settings(), sim.SettingSetVoltage)

	require.NoError(t, srv.SelectDevice(ctx, sim.DCBoxDevice))
	resp, err := srv.Call(ctx, sim.SettingSetVoltage, 2, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.25, resp)
	assert.Equal(t, 0.25, lab.Sim(sim.DCBoxServer).Register(sim.DCBoxDevice, 2))

	v, err := srv.Call(ctx, sim.SettingGetVoltage, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)
}

// noContexts is a connection that cannot allocate private contexts.
type noContexts struct {
	instrument.Connection
}

func (noContexts) NewContext() (instrument.Context, error) {
	return instrument.SharedContext, errors.New("context table full")
}

func TestClient_NewContextFailure(t *testing.T) {
	lab := sim.NewDefaultLab()
	c := startServer(t, noContexts{lab})

	ctx, err := c.NewContext()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context table full")
	assert.Equal(t, instrument.SharedContext, ctx)

	_, err = setting.Config{
		Kind:    setting.KindDevice,
		Server:  sim.DCBoxServer,
		Device:  sim.DCBoxDevice,
		Setting: sim.SettingGetVoltage,
		Inputs:  []any{0},
	}.Build(c, nil)
	assert.Error(t, err, "a device setting never falls back to the shared context")
	assert.Empty(t, lab.Sim(sim.DCBoxServer).Calls())
}

func TestClient_ErrorsKeepSentinels(t *testing.T) {
	c := startServer(t, sim.NewDefaultLab())

	_, err := c.Server("nope")
	assert.True(t, errors.Is(err, instrument.ErrNoSuchServer))

	srv, err := c.Server(sim.DCBoxServer)
	require.NoError(t, err)
	ctx, err := c.NewContext()
	require.NoError(t, err)

	err = srv.SelectDevice(ctx, "missing")
	assert.True(t, errors.Is(err, instrument.ErrNoSuchDevice), "got %v", err)

	_, err = srv.Call(ctx, sim.SettingGetVoltage, 0)
	assert.True(t, errors.Is(err, instrument.ErrNoDeviceSelected), "got %v", err)

	reg, err := c.VDS()
	require.NoError(t, err)
	_, err = reg.GetChannel("9999", "")
	assert.True(t, errors.Is(err, instrument.ErrNoSuchChannel), "got %v", err)

	c2 := startServer(t, instrument.NewLocal(nil))
	_, err = c2.VDS()
	assert.True(t, errors.Is(err, instrument.ErrNoRegistry))
}

func TestClient_Registry(t *testing.T) {
	lab := sim.NewDefaultLab()
	c := startServer(t, lab)

	reg, err := c.VDS()
	require.NoError(t, err)

	refs, err := reg.ListChannels()
	require.NoError(t, err)
	assert.Contains(t, refs, instrument.ChannelRef{ID: "4000", Name: "DC0"})

	d, err := reg.ChannelDetails("", "DMM")
	require.NoError(t, err)
	assert.Equal(t, "5000", d.ID)
	assert.True(t, d.HasGet)
	assert.False(t, d.HasSet)

	_, err = reg.SetChannel(1.5, "", "DC1")
	require.NoError(t, err)
	v, err := reg.GetChannel("4001", "")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
}

func TestClient_BacksSettings(t *testing.T) {
	lab := sim.NewDefaultLab()
	c := startServer(t, lab)

	vds, err := setting.Config{Kind: setting.KindVDS, VDSName: "DC3", Label: "gate", Access: setting.AccessSet}.Build(c, nil)
	require.NoError(t, err)
	_, err = vds.Set(-0.5)
	require.NoError(t, err)
	assert.Equal(t, -0.5, lab.Sim(sim.DCBoxServer).Register(sim.DCBoxDevice, 3))

	dev, err := setting.Config{
		Kind: setting.KindDevice, Label: "readback", Access: setting.AccessGet,
		Server: sim.DCBoxServer, Device: sim.DCBoxDevice, Setting: sim.SettingGetVoltage, Inputs: []any{3},
	}.Build(c, nil)
	require.NoError(t, err)
	got, err := dev.Get()
	require.NoError(t, err)
	assert.Equal(t, -0.5, got)
}

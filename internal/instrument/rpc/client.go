package rpc

import (
	"context"
	"fmt"
	"slices"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/sweeperr"
)

// DefaultCallTimeout bounds each remote call.
const DefaultCallTimeout = 10 * time.Second

// Client is an instrument.Connection to a remote Server.
type Client struct {
	cc      *grpc.ClientConn
	timeout time.Duration
}

// Dial connects to a remote instrument server. The connection is
// established lazily on the first call.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing instrument server %s: %w", target, err)
	}
	return &Client{cc: cc, timeout: DefaultCallTimeout}, nil
}

// SetTimeout changes the per-call timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

func (c *Client) invoke(method string, req *structpb.Struct, reply proto.Message) error {
	if req == nil {
		req = &structpb.Struct{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.cc.Invoke(ctx, fullMethod(method), req, reply); err != nil {
		return fromStatus(method, err)
	}
	return nil
}

func request(fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return req, nil
}

func (c *Client) strings(method string, req *structpb.Struct) ([]string, error) {
	reply := &structpb.ListValue{}
	if err := c.invoke(method, req, reply); err != nil {
		return nil, err
	}
	out := make([]string, len(reply.GetValues()))
	for i, v := range reply.GetValues() {
		out[i] = v.GetStringValue()
	}
	return out, nil
}

// NewContext allocates a context on the remote side.
func (c *Client) NewContext() (instrument.Context, error) {
	reply := &structpb.Value{}
	if err := c.invoke(methodNewContext, nil, reply); err != nil {
		return instrument.SharedContext, fmt.Errorf("allocating remote context: %w", err)
	}
	ctx := instrument.Context(reply.GetNumberValue())
	if ctx == instrument.SharedContext {
		return ctx, fmt.Errorf("%w: server returned the shared context", sweeperr.ErrRemoteCallFailed)
	}
	return ctx, nil
}

// Servers lists the remote device servers. A failed call returns nil and
// is logged.
func (c *Client) Servers() []string {
	out, err := c.strings(methodServers, nil)
	if err != nil {
		monitoring.Logf("[rpc] Servers failed: %v", err)
		return nil
	}
	return out
}

// Server returns a proxy for a remote device server.
func (c *Client) Server(name string) (instrument.DeviceServer, error) {
	names, err := c.strings(methodServers, nil)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		return nil, fmt.Errorf("%w: %q", instrument.ErrNoSuchServer, name)
	}
	return &remoteServer{c: c, name: name}, nil
}

// VDS returns a proxy for the remote registry, or ErrNoRegistry.
func (c *Client) VDS() (instrument.Registry, error) {
	reply := &structpb.Value{}
	if err := c.invoke(methodHasRegistry, nil, reply); err != nil {
		return nil, err
	}
	if !reply.GetBoolValue() {
		return nil, instrument.ErrNoRegistry
	}
	return &remoteRegistry{c: c}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.cc.Close()
}

type remoteServer struct {
	c    *Client
	name string
}

func (r *remoteServer) Name() string { return r.name }

func (r *remoteServer) ListDevices() ([]string, error) {
	req, err := request(map[string]any{"server": r.name})
	if err != nil {
		return nil, err
	}
	return r.c.strings(methodListDevices, req)
}

func (r *remoteServer) Settings() []string {
	req, err := request(map[string]any{"server": r.name})
	if err != nil {
		return nil
	}
	out, err := r.c.strings(methodSettings, req)
	if err != nil {
		monitoring.Logf("[rpc] Settings on %s failed: %v", r.name, err)
		return nil
	}
	return out
}

func (r *remoteServer) SelectDevice(ctx instrument.Context, device string) error {
	req, err := request(map[string]any{"server": r.name, "context": float64(ctx), "device": device})
	if err != nil {
		return err
	}
	return r.c.invoke(methodSelectDevice, req, &emptypb.Empty{})
}

func (r *remoteServer) Call(ctx instrument.Context, setting string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	req, err := request(map[string]any{"server": r.name, "context": float64(ctx), "setting": setting, "args": args})
	if err != nil {
		return nil, err
	}
	reply := &structpb.Value{}
	if err := r.c.invoke(methodCall, req, reply); err != nil {
		return nil, err
	}
	return reply.AsInterface(), nil
}

type remoteRegistry struct {
	c *Client
}

func (r *remoteRegistry) ListChannels() ([]instrument.ChannelRef, error) {
	reply := &structpb.ListValue{}
	if err := r.c.invoke(methodListChannels, nil, reply); err != nil {
		return nil, err
	}
	out := make([]instrument.ChannelRef, len(reply.GetValues()))
	for i, v := range reply.GetValues() {
		f := v.GetStructValue().GetFields()
		out[i] = instrument.ChannelRef{ID: f["id"].GetStringValue(), Name: f["name"].GetStringValue()}
	}
	return out, nil
}

func (r *remoteRegistry) ChannelDetails(id, name string) (instrument.ChannelDetails, error) {
	req, err := request(map[string]any{"id": id, "name": name})
	if err != nil {
		return instrument.ChannelDetails{}, err
	}
	reply := &structpb.Struct{}
	if err := r.c.invoke(methodChannelDetails, req, reply); err != nil {
		return instrument.ChannelDetails{}, err
	}
	f := reply.GetFields()
	return instrument.ChannelDetails{
		ID:     f["id"].GetStringValue(),
		Name:   f["name"].GetStringValue(),
		Label:  f["label"].GetStringValue(),
		Server: f["server"].GetStringValue(),
		Device: f["device"].GetStringValue(),
		HasGet: f["has_get"].GetBoolValue(),
		HasSet: f["has_set"].GetBoolValue(),
	}, nil
}

func (r *remoteRegistry) GetChannel(id, name string) (any, error) {
	req, err := request(map[string]any{"id": id, "name": name})
	if err != nil {
		return nil, err
	}
	reply := &structpb.Value{}
	if err := r.c.invoke(methodGetChannel, req, reply); err != nil {
		return nil, err
	}
	return reply.AsInterface(), nil
}

func (r *remoteRegistry) SetChannel(value any, id, name string) (any, error) {
	req, err := request(map[string]any{"id": id, "name": name, "value": value})
	if err != nil {
		return nil, err
	}
	reply := &structpb.Value{}
	if err := r.c.invoke(methodSetChannel, req, reply); err != nil {
		return nil, err
	}
	return reply.AsInterface(), nil
}

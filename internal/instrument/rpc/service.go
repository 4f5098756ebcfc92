// Package rpc carries an instrument.Connection over gRPC. Server exposes any
// Connection (a simulated lab, a set of SCPI servers) to remote sweepers;
// Client is a Connection backed by such a server.
//
// Messages use the protobuf well-known types: requests are Structs,
// responses are Values, ListValues or Empty.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/monitoring"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "labsweep.instrument.v1.Instrument"

const (
	methodNewContext     = "NewContext"
	methodServers        = "Servers"
	methodListDevices    = "ListDevices"
	methodSettings       = "Settings"
	methodSelectDevice   = "SelectDevice"
	methodCall           = "Call"
	methodHasRegistry    = "HasRegistry"
	methodListChannels   = "ListChannels"
	methodChannelDetails = "ChannelDetails"
	methodGetChannel     = "GetChannel"
	methodSetChannel     = "SetChannel"
)

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// Server serves a Connection over gRPC.
type Server struct {
	conn instrument.Connection
}

// NewServer wraps conn.
func NewServer(conn instrument.Connection) *Server {
	return &Server{conn: conn}
}

// Register adds the instrument service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

type handlerFunc func(s *Server, ctx context.Context, req *structpb.Struct) (proto.Message, error)

var handlers = map[string]handlerFunc{
	methodNewContext: func(s *Server, _ context.Context, _ *structpb.Struct) (proto.Message, error) {
		ctx, err := s.conn.NewContext()
		if err != nil {
			return nil, err
		}
		return structpb.NewNumberValue(float64(ctx)), nil
	},
	methodServers: func(s *Server, _ context.Context, _ *structpb.Struct) (proto.Message, error) {
		return stringList(s.conn.Servers())
	},
	methodListDevices: func(s *Server, _ context.Context, req *structpb.Struct) (proto.Message, error) {
		srv, err := s.conn.Server(str(req, "server"))
		if err != nil {
			return nil, err
		}
		devices, err := srv.ListDevices()
		if err != nil {
			return nil, err
		}
		return stringList(devices)
	},
	methodSettings: func(s *Server, _ context.Context, req *structpb.Struct) (proto.Message, error) {
		srv, err := s.conn.Server(str(req, "server"))
		if err != nil {
			return nil, err
		}
		return stringList(srv.Settings())
	},
	methodSelectDevice: func(s *Server, _ context.Context, req *structpb.Struct) (proto.Message, error) {
		srv, err := s.conn.Server(str(req, "server"))
		if err != nil {
			return nil, err
		}
		if err := srv.SelectDevice(instrument.Context(num(req, "context")), str(req, "device")); err != nil {
			return nil, err
		}
		return &emptypb.Empty{}, nil
	},
	methodCall: func(s *Server, _ context.Context, req *structpb.Struct) (proto.Message, error) {
		srv, err := s.conn.Server(str(req, "server"))
		if err != nil {
			return nil, err
		}
		var args []any
		if l := req.GetFields()["args"].GetListValue(); l != nil {
			args = l.AsSlice()
		}
		resp, err := srv.Call(instrument.Context(num(req, "context")), str(req, "setting"), args...)
		if err != nil {
			return nil, err
		}
		return structpb.NewValue(resp)
	},
	methodHasRegistry: func(s *Server, _ context.Context, _ *structpb.Struct) (proto.Message, error) {
		_, err := s.conn.VDS()
		return structpb.NewBoolValue(err == nil), nil
	},
	methodListChannels: func(s *Server, _ context.Context, _ *structpb.Struct) (proto.Message, error) {
		reg, err := s.conn.VDS()
		if err != nil {
			return nil, err
		}
		refs, err := reg.ListChannels()
		if err != nil {
			return nil, err
		}
		items := make([]any, len(refs))
		for i, r := range refs {
			items[i] = map[string]any{"id": r.ID, "name": r.Name}
		}
		return structpb.NewList(items)
	},
	methodChannelDetails: func(s *Server, _ context.Context, req *structpb.Struct) (proto.Message, error) {
		reg, err := s.conn.VDS()
		if err != nil {
			return nil, err
		}
		d, err := reg.ChannelDetails(str(req, "id"), str(req, "name"))
		if err != nil {
			return nil, err
		}
		return structpb.NewStruct(map[string]any{
			"id": d.ID, "name": d.Name, "label": d.Label,
			"server": d.Server, "device": d.Device,
			"has_get": d.HasGet, "has_set": d.HasSet,
		})
	},
	methodGetChannel: func(s *Server, _ context.Context, req *structpb.Struct) (proto.Message, error) {
		reg, err := s.conn.VDS()
		if err != nil {
			return nil, err
		}
		v, err := reg.GetChannel(str(req, "id"), str(req, "name"))
		if err != nil {
			return nil, err
		}
		return structpb.NewValue(v)
	},
	methodSetChannel: func(s *Server, _ context.Context, req *structpb.Struct) (proto.Message, error) {
		reg, err := s.conn.VDS()
		if err != nil {
			return nil, err
		}
		v, err := reg.SetChannel(req.GetFields()["value"].AsInterface(), str(req, "id"), str(req, "name"))
		if err != nil {
			return nil, err
		}
		return structpb.NewValue(v)
	},
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods:     methodDescs(),
	Metadata:    "labsweep/instrument/v1/instrument.proto",
}

func methodDescs() []grpc.MethodDesc {
	names := []string{
		methodNewContext, methodServers, methodListDevices, methodSettings,
		methodSelectDevice, methodCall, methodHasRegistry, methodListChannels,
		methodChannelDetails, methodGetChannel, methodSetChannel,
	}
	out := make([]grpc.MethodDesc, len(names))
	for i, name := range names {
		out[i] = grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name)}
	}
	return out
}

func unaryHandler(name string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	h := handlers[name]
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(*Server)
		call := func(ctx context.Context, req any) (any, error) {
			resp, err := h(s, ctx, req.(*structpb.Struct))
			if err != nil {
				monitoring.Debugf("[rpc] %s failed: %v", name, err)
				return nil, toStatus(err)
			}
			return resp, nil
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		return interceptor(ctx, req, info, call)
	}
}

func str(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func num(req *structpb.Struct, key string) float64 {
	return req.GetFields()[key].GetNumberValue()
}

func stringList(items []string) (*structpb.ListValue, error) {
	vals := make([]any, len(items))
	for i, s := range items {
		vals[i] = s
	}
	return structpb.NewList(vals)
}

// sentinels are carried across the wire by message text and restored on
// the client so errors.Is keeps working.
var sentinels = []struct {
	err  error
	code codes.Code
}{
	{instrument.ErrNoSuchServer, codes.NotFound},
	{instrument.ErrNoSuchDevice, codes.NotFound},
	{instrument.ErrNoSuchSetting, codes.NotFound},
	{instrument.ErrNoSuchChannel, codes.NotFound},
	{instrument.ErrNoDeviceSelected, codes.FailedPrecondition},
	{instrument.ErrNoRegistry, codes.Unavailable},
}

func toStatus(err error) error {
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return status.Error(s.code, err.Error())
		}
	}
	return status.Error(codes.Unknown, err.Error())
}

func fromStatus(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	for _, s := range sentinels {
		if st.Code() == s.code && strings.Contains(st.Message(), s.err.Error()) {
			return fmt.Errorf("%w: %s", s.err, st.Message())
		}
	}
	return fmt.Errorf("%s: %s", method, st.Message())
}

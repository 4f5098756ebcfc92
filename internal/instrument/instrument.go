// Package instrument describes the remote instrument layer the sweep engine
// talks to. The engine never discovers instruments itself; it is handed a
// Connection and resolves settings against it.
//
// Implementations:
//
//   - Local: an in-process Connection over a fixed set of DeviceServers.
//   - sim.Lab: a simulated lab (a Local with simulated servers and registry)
//     used in dev mode and tests.
//   - scpi.Server: a DeviceServer driving SCPI instruments over serial ports,
//     mounted into a Local.
//   - rpc.Client: a gRPC client for a remote instrument server; rpc.Server
//     exposes any Connection over gRPC.
package instrument

import (
	"errors"
	"fmt"
)

var (
	ErrNoSuchServer     = errors.New("no such server")
	ErrNoSuchDevice     = errors.New("no such device")
	ErrNoSuchSetting    = errors.New("no such setting")
	ErrNoSuchChannel    = errors.New("no such channel")
	ErrNoDeviceSelected = errors.New("no device selected")
	ErrNoRegistry       = errors.New("virtual channel registry not available")
)

// Context identifies a private request context on a Connection. Device
// selection is tracked per context, so two settings talking to the same
// server through different contexts do not interfere.
type Context uint64

// SharedContext is the context used by callers that did not allocate one.
const SharedContext Context = 0

// Connection is a handle on the instrument layer.
type Connection interface {
	// NewContext allocates a fresh private context. It never hands out
	// SharedContext: a connection that cannot allocate one returns an error.
	NewContext() (Context, error)

	// Servers lists the names of the device servers reachable through the
	// connection.
	Servers() []string

	// Server returns the named device server.
	Server(name string) (DeviceServer, error)

	// VDS returns the virtual channel registry, or ErrNoRegistry.
	VDS() (Registry, error)

	// Close releases the connection.
	Close() error
}

// DeviceServer is a server hosting one or more devices, each exposing named
// settings that take positional arguments.
type DeviceServer interface {
	Name() string

	// ListDevices returns the devices currently attached to the server.
	ListDevices() ([]string, error)

	// Settings lists the callable setting names.
	Settings() []string

	// SelectDevice binds device to ctx for subsequent calls.
	SelectDevice(ctx Context, device string) error

	// Call invokes a setting on the device selected for ctx.
	Call(ctx Context, setting string, args ...any) (any, error)
}

// ChannelRef is the identifier/name pair of a virtual channel.
type ChannelRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChannelDetails is the capability record of a virtual channel.
type ChannelDetails struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Label  string `json:"label"`
	Server string `json:"server"`
	Device string `json:"device"`
	HasGet bool   `json:"has_get"`
	HasSet bool   `json:"has_set"`
}

// Registry is the virtual channel registry: a naming layer over raw device
// settings. Channels may be addressed by id, by name, or both; an empty
// argument is ignored.
type Registry interface {
	ListChannels() ([]ChannelRef, error)
	ChannelDetails(id, name string) (ChannelDetails, error)
	GetChannel(id, name string) (any, error)
	SetChannel(value any, id, name string) (any, error)
}

// ChannelKey formats an id/name pair for error messages and map keys.
func ChannelKey(id, name string) string {
	switch {
	case id != "" && name != "":
		return fmt.Sprintf("%s (%s)", name, id)
	case id != "":
		return id
	default:
		return name
	}
}

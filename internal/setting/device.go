package setting

import (
	"fmt"

	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/sweeperr"
)

// Access selects whether a Device backend reads or writes its setting.
type Access int

const (
	AccessGet Access = iota
	AccessSet
)

func (a Access) String() string {
	if a == AccessSet {
		return "set"
	}
	return "get"
}

// Device is a backend calling a raw device-server setting. It holds a
// private context, selects its device on connect, and retries a failed call
// exactly once after re-selecting the device.
type Device struct {
	Server  string
	Device  string
	Setting string
	// Inputs are the fixed positional arguments of the call.
	Inputs []any
	// VarSlot is the index in Inputs at which the swept value is inserted
	// for AccessSet. It is ignored for AccessGet.
	VarSlot int
	Access  Access

	server instrument.DeviceServer
	ctx    instrument.Context
}

// NewDeviceGet creates a get-only device backend.
func NewDeviceGet(server, device, setting string, inputs []any) (*Device, error) {
	d := &Device{Server: server, Device: device, Setting: setting, Inputs: inputs, Access: AccessGet}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewDeviceSet creates a set-only device backend. The value is inserted at
// varSlot, which may equal len(inputs) to append it.
func NewDeviceSet(server, device, setting string, inputs []any, varSlot int) (*Device, error) {
	d := &Device{Server: server, Device: device, Setting: setting, Inputs: inputs, VarSlot: varSlot, Access: AccessSet}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) validate() error {
	if d.Server == "" || d.Device == "" || d.Setting == "" {
		return fmt.Errorf("%w: device setting needs server, device and setting names", sweeperr.ErrInvalidArgument)
	}
	if d.Access == AccessSet && (d.VarSlot < 0 || d.VarSlot > len(d.Inputs)) {
		return fmt.Errorf("%w: var slot %d outside 0..%d", sweeperr.ErrInvalidArgument, d.VarSlot, len(d.Inputs))
	}
	return nil
}

func (d *Device) Kind() Kind            { return KindDevice }
func (d *Device) needsConnection() bool { return true }
func (d *Device) HasGet() bool          { return d.Access == AccessGet }
func (d *Device) HasSet() bool          { return d.Access == AccessSet }

// Context returns the private context allocated at connect.
func (d *Device) Context() instrument.Context { return d.ctx }

func (d *Device) connect(conn instrument.Connection) error {
	srv, err := conn.Server(d.Server)
	if err != nil {
		return err
	}
	ctx, err := conn.NewContext()
	if err != nil {
		return fmt.Errorf("device %s on %s: %w", d.Device, d.Server, err)
	}
	if err := srv.SelectDevice(ctx, d.Device); err != nil {
		return err
	}
	d.server = srv
	d.ctx = ctx
	return nil
}

// call invokes the setting, re-selecting the device and retrying once on
// failure. Another client may have changed the selection on a shared
// context; a second failure is reported as ErrRemoteCallFailed.
func (d *Device) call(args []any) (any, error) {
	resp, err := d.server.Call(d.ctx, d.Setting, args...)
	if err == nil {
		return resp, nil
	}
	monitoring.Logf("[setting] %s failed (%v), re-selecting %q and retrying", d, err, d.Device)

	if serr := d.server.SelectDevice(d.ctx, d.Device); serr != nil {
		return nil, fmt.Errorf("%w: %s: re-selecting device: %v (after %v)", sweeperr.ErrRemoteCallFailed, d, serr, err)
	}
	resp, err = d.server.Call(d.ctx, d.Setting, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", sweeperr.ErrRemoteCallFailed, d, err)
	}
	return resp, nil
}

func (d *Device) get() (float64, error) {
	resp, err := d.call(d.Inputs)
	if err != nil {
		return 0, err
	}
	f, err := instrument.ToFloat(resp)
	if err != nil {
		return 0, fmt.Errorf("%w: %s returned %v", sweeperr.ErrRemoteCallFailed, d, err)
	}
	return f, nil
}

func (d *Device) set(v float64) (any, error) {
	args := make([]any, 0, len(d.Inputs)+1)
	args = append(args, d.Inputs[:d.VarSlot]...)
	args = append(args, v)
	args = append(args, d.Inputs[d.VarSlot:]...)
	return d.call(args)
}

func (d *Device) String() string {
	return fmt.Sprintf("%s/%s/%s (%s)", d.Server, d.Device, d.Setting, d.Access)
}

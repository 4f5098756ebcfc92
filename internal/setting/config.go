package setting

import (
	"fmt"

	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/sweeperr"
	"github.com/banshee-data/labsweep/internal/timeutil"
)

// Config is the builder for a Setting. Only the fields of the selected Kind
// are consulted. Validate must succeed before Build will produce a Setting.
type Config struct {
	Kind        Kind    `json:"kind"`
	Label       string  `json:"label,omitempty"`
	MaxStepSize float64 `json:"max_step_size,omitempty"`

	// vds
	VDSID   string `json:"vds_id,omitempty"`
	VDSName string `json:"vds_name,omitempty"`

	// dev
	Server  string `json:"server,omitempty"`
	Device  string `json:"device,omitempty"`
	Setting string `json:"setting,omitempty"`
	Inputs  []any  `json:"inputs,omitempty"`
	VarSlot int    `json:"var_slot,omitempty"`
	Access  Access `json:"-"`

	// builtin
	Builtin string `json:"builtin,omitempty"`
}

// Validate checks the fields required by Kind without touching any
// connection.
func (c Config) Validate() error {
	if c.MaxStepSize < 0 {
		return fmt.Errorf("%w: max step size must not be negative, got %g", sweeperr.ErrInvalidArgument, c.MaxStepSize)
	}
	switch c.Kind {
	case KindVDS:
		if c.VDSID == "" && c.VDSName == "" {
			return fmt.Errorf("%w: vds setting needs vds_id or vds_name", sweeperr.ErrInvalidArgument)
		}
	case KindDevice:
		d := Device{Server: c.Server, Device: c.Device, Setting: c.Setting, Inputs: c.Inputs, VarSlot: c.VarSlot, Access: c.Access}
		return d.validate()
	case KindBuiltin:
		switch c.Builtin {
		case BuiltinZero, BuiltinTime, BuiltinDoNothing:
		default:
			return fmt.Errorf("%w: unknown builtin %q (expected one of %v)", sweeperr.ErrInvalidArgument, c.Builtin, BuiltinNames())
		}
	default:
		return fmt.Errorf("%w: unknown setting kind %q", sweeperr.ErrInvalidArgument, c.Kind)
	}
	return nil
}

// Build validates c, constructs the backend and, when conn is non-nil,
// connects it. clock drives the "time" builtin and may be nil.
func (c Config) Build(conn instrument.Connection, clock timeutil.Clock) (*Setting, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var (
		backend Backend
		err     error
	)
	switch c.Kind {
	case KindVDS:
		backend, err = NewVDS(c.VDSID, c.VDSName)
	case KindDevice:
		if c.Access == AccessSet {
			backend, err = NewDeviceSet(c.Server, c.Device, c.Setting, c.Inputs, c.VarSlot)
		} else {
			backend, err = NewDeviceGet(c.Server, c.Device, c.Setting, c.Inputs)
		}
	case KindBuiltin:
		backend, err = NewBuiltin(c.Builtin, clock)
	}
	if err != nil {
		return nil, err
	}

	s, err := New(c.Label, c.MaxStepSize, backend)
	if err != nil {
		return nil, err
	}
	if conn != nil {
		if err := s.Connect(conn); err != nil {
			return nil, err
		}
	}
	return s, nil
}

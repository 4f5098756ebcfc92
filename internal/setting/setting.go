// Package setting wraps heterogeneous instrument backends behind a uniform
// get/set interface. A Setting is constructed unbound, bound to an
// instrument.Connection with Connect, and becomes ready once it has both a
// backend and a connection. Builtin settings need no connection.
package setting

import (
	"fmt"

	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/sweeperr"
)

// Kind selects the backend variant of a Setting.
type Kind string

const (
	KindVDS     Kind = "vds"
	KindDevice  Kind = "dev"
	KindBuiltin Kind = "builtin"
)

// ParseKind accepts the configuration spellings of a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "vds", "VDS":
		return KindVDS, nil
	case "dev", "device", "LabRAD", "labrad":
		return KindDevice, nil
	case "builtin", "Builtin":
		return KindBuiltin, nil
	default:
		return "", fmt.Errorf("%w: unknown setting kind %q", sweeperr.ErrInvalidArgument, s)
	}
}

// UnmarshalText lets configuration files use any spelling ParseKind accepts.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Backend is implemented by the three backend variants. It is a closed set:
// only this package provides implementations.
type Backend interface {
	Kind() Kind
	// connect binds the backend to conn and discovers its capabilities.
	connect(conn instrument.Connection) error
	get() (float64, error)
	set(v float64) (any, error)
	HasGet() bool
	HasSet() bool
	// needsConnection is false for backends that supply software values.
	needsConnection() bool
	String() string
}

// Setting is one swept or recorded channel.
type Setting struct {
	// Label names the setting in dataset headers and status output.
	Label string
	// MaxStepSize bounds the change of the commanded value per engine
	// update. Zero means unlimited.
	MaxStepSize float64

	backend   Backend
	conn      instrument.Connection
	connected bool
	ready     bool
}

// New creates an unbound setting around backend.
func New(label string, maxStepSize float64, backend Backend) (*Setting, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: setting %q has no backend", sweeperr.ErrInvalidArgument, label)
	}
	if maxStepSize < 0 {
		return nil, fmt.Errorf("%w: max step size must not be negative, got %g", sweeperr.ErrInvalidArgument, maxStepSize)
	}
	s := &Setting{
		Label:       label,
		MaxStepSize: maxStepSize,
		backend:     backend,
	}
	if !backend.needsConnection() {
		s.ready = true
	}
	return s, nil
}

// Kind reports the backend variant.
func (s *Setting) Kind() Kind { return s.backend.Kind() }

// Backend returns the backend, mainly for status output.
func (s *Setting) Backend() Backend { return s.backend }

// Ready reports whether get/set may be attempted.
func (s *Setting) Ready() bool { return s.ready }

// Connected reports whether a connection has been supplied.
func (s *Setting) Connected() bool { return s.connected }

// HasGet reports the get capability. It is only meaningful once Ready.
func (s *Setting) HasGet() bool { return s.ready && s.backend.HasGet() }

// HasSet reports the set capability. It is only meaningful once Ready.
func (s *Setting) HasSet() bool { return s.ready && s.backend.HasSet() }

// Limited reports whether the setting carries a step size limit.
func (s *Setting) Limited() bool { return s.MaxStepSize > 0 }

// Connect supplies the instrument connection. Connecting twice fails with
// ErrInvalidState. Builtin settings accept and ignore the connection.
func (s *Setting) Connect(conn instrument.Connection) error {
	if s.connected {
		return fmt.Errorf("%w: setting %q already connected", sweeperr.ErrInvalidState, s.Label)
	}
	if conn == nil {
		return fmt.Errorf("%w: nil connection for setting %q", sweeperr.ErrInvalidArgument, s.Label)
	}
	if s.backend.needsConnection() {
		if err := s.backend.connect(conn); err != nil {
			return fmt.Errorf("connecting setting %q (%s): %w", s.Label, s.backend, err)
		}
	}
	s.conn = conn
	s.connected = true
	s.ready = true
	return nil
}

// Get reads the current value.
func (s *Setting) Get() (float64, error) {
	if !s.ready {
		return 0, fmt.Errorf("%w: %q needs a connection before get", sweeperr.ErrNotReady, s.Label)
	}
	if !s.backend.HasGet() {
		return 0, fmt.Errorf("%w: %q does not support get", sweeperr.ErrUnsupportedOperation, s.Label)
	}
	v, err := s.backend.get()
	if err != nil {
		return 0, fmt.Errorf("get %q: %w", s.Label, err)
	}
	return v, nil
}

// Set commands a new value and returns the backend's response.
func (s *Setting) Set(v float64) (any, error) {
	if !s.ready {
		return nil, fmt.Errorf("%w: %q needs a connection before set", sweeperr.ErrNotReady, s.Label)
	}
	if !s.backend.HasSet() {
		return nil, fmt.Errorf("%w: %q does not support set", sweeperr.ErrUnsupportedOperation, s.Label)
	}
	resp, err := s.backend.set(v)
	if err != nil {
		return nil, fmt.Errorf("set %q to %g: %w", s.Label, v, err)
	}
	return resp, nil
}

func (s *Setting) String() string {
	return fmt.Sprintf("%s [%s]", s.Label, s.backend)
}

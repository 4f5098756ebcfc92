package setting

import (
	"fmt"
	"sort"

	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/sweeperr"
	"github.com/banshee-data/labsweep/internal/timeutil"
)

// Builtin names.
const (
	BuiltinZero      = "zero"
	BuiltinTime      = "time"
	BuiltinDoNothing = "do nothing"
)

// BuiltinNames lists the recognised builtin names in sorted order.
func BuiltinNames() []string {
	names := []string{BuiltinZero, BuiltinTime, BuiltinDoNothing}
	sort.Strings(names)
	return names
}

// Builtin supplies fixed software values without an instrument.
type Builtin struct {
	Name  string
	clock timeutil.Clock
}

// NewBuiltin creates a builtin backend. clock is used by "time"; nil selects
// the real clock.
func NewBuiltin(name string, clock timeutil.Clock) (*Builtin, error) {
	switch name {
	case BuiltinZero, BuiltinTime, BuiltinDoNothing:
	default:
		return nil, fmt.Errorf("%w: unknown builtin %q (expected one of %v)", sweeperr.ErrInvalidArgument, name, BuiltinNames())
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Builtin{Name: name, clock: clock}, nil
}

func (b *Builtin) Kind() Kind                          { return KindBuiltin }
func (b *Builtin) needsConnection() bool               { return false }
func (b *Builtin) connect(instrument.Connection) error { return nil }
func (b *Builtin) HasGet() bool                        { return b.Name != BuiltinDoNothing }
func (b *Builtin) HasSet() bool                        { return b.Name == BuiltinDoNothing }
func (b *Builtin) String() string                      { return "builtin " + b.Name }

func (b *Builtin) get() (float64, error) {
	switch b.Name {
	case BuiltinZero:
		return 0, nil
	case BuiltinTime:
		return timeutil.UnixSeconds(b.clock.Now()), nil
	}
	return 0, fmt.Errorf("%w: builtin %q has no value", sweeperr.ErrUnsupportedOperation, b.Name)
}

func (b *Builtin) set(float64) (any, error) {
	return nil, nil
}

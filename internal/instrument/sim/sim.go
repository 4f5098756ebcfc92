// Package sim provides a simulated instrument lab: device servers whose
// devices hold numbered voltage registers, and a virtual channel registry
// mapping channel ids to those registers. It backs the -dev mode of the
// sweeper and the tests of every package that needs instruments.
package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/labsweep/internal/instrument"
)

// ErrInjected is returned by calls failed through FailNext.
var ErrInjected = errors.New("injected fault")

// Setting names understood by simulated servers.
const (
	SettingSetVoltage = "set_voltage"
	SettingGetVoltage = "get_voltage"
)

// Call records one setting invocation on a simulated server.
type Call struct {
	Context instrument.Context
	Device  string
	Setting string
	Args    []any
	Err     error
}

// Server is a simulated device server.
type Server struct {
	name string

	mu       sync.Mutex
	devices  map[string]map[int]float64
	selected map[instrument.Context]string
	failures int
	calls    []Call
}

// NewServer creates a server hosting the named devices, each with empty
// registers.
func NewServer(name string, devices ...string) *Server {
	s := &Server{
		name:     name,
		devices:  make(map[string]map[int]float64, len(devices)),
		selected: make(map[instrument.Context]string),
	}
	for _, d := range devices {
		s.devices[d] = make(map[int]float64)
	}
	return s
}

func (s *Server) Name() string { return s.name }

// ListDevices returns the device names in sorted order.
func (s *Server) ListDevices() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.devices))
	for d := range s.devices {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Server) Settings() []string {
	return []string{SettingGetVoltage, SettingSetVoltage}
}

// SelectDevice binds device to ctx.
func (s *Server) SelectDevice(ctx instrument.Context, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[device]; !ok {
		return fmt.Errorf("%w: %q on %s", instrument.ErrNoSuchDevice, device, s.name)
	}
	s.selected[ctx] = device
	return nil
}

// Hijack changes the device selected for ctx without the owner knowing,
// as another client sharing the context would. An empty device clears the
// selection.
func (s *Server) Hijack(ctx instrument.Context, device string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if device == "" {
		delete(s.selected, ctx)
		return
	}
	s.selected[ctx] = device
}

// FailNext makes the next n calls fail with ErrInjected.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Calls returns a copy of the call log.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Register reads a register directly, bypassing contexts.
func (s *Server) Register(device string, ch int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[device][ch]
}

// SetRegister writes a register directly, bypassing contexts.
func (s *Server) SetRegister(device string, ch int, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if regs, ok := s.devices[device]; ok {
		regs[ch] = v
	}
}

// Call invokes set_voltage(ch, v) or get_voltage(ch) on the selected device.
func (s *Server) Call(ctx instrument.Context, setting string, args ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	device := s.selected[ctx]
	resp, err := s.call(ctx, device, setting, args)
	s.calls = append(s.calls, Call{Context: ctx, Device: device, Setting: setting, Args: args, Err: err})
	return resp, err
}

func (s *Server) call(ctx instrument.Context, device, setting string, args []any) (any, error) {
	if s.failures > 0 {
		s.failures--
		return nil, ErrInjected
	}
	if device == "" {
		return nil, fmt.Errorf("%w: context %d on %s", instrument.ErrNoDeviceSelected, ctx, s.name)
	}
	regs := s.devices[device]

	switch setting {
	case SettingSetVoltage:
		if len(args) != 2 {
			return nil, fmt.Errorf("%s expects (channel, value), got %d args", setting, len(args))
		}
		ch, err := instrument.ToInt(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s channel: %w", setting, err)
		}
		v, err := instrument.ToFloat(args[1])
		if err != nil {
			return nil, fmt.Errorf("%s value: %w", setting, err)
		}
		regs[ch] = v
		return v, nil
	case SettingGetVoltage:
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects (channel), got %d args", setting, len(args))
		}
		ch, err := instrument.ToInt(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s channel: %w", setting, err)
		}
		return regs[ch], nil
	default:
		return nil, fmt.Errorf("%w: %q on %s", instrument.ErrNoSuchSetting, setting, s.name)
	}
}

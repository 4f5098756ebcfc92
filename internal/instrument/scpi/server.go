// Package scpi is a device server for SCPI-style instruments on serial
// lines. Each setting maps to a command template; queries parse the
// response line as a number when possible.
package scpi

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/monitoring"
)

// Command is a setting's wire form. Template placeholders {0}, {1}, ...
// are replaced by the call's positional arguments. A Query command reads
// one response line.
type Command struct {
	Template string `json:"template"`
	Query    bool   `json:"query,omitempty"`
}

// DefaultCommands is the command table used when a server config does not
// define one. Channel numbers are passed through verbatim.
var DefaultCommands = map[string]Command{
	"set_voltage": {Template: "SOUR{0}:VOLT {1}"},
	"get_voltage": {Template: "MEAS{0}:VOLT?", Query: true},
	"identify":    {Template: "*IDN?", Query: true},
	"reset":       {Template: "*RST"},
}

var placeholder = regexp.MustCompile(`\{(\d+)\}`)

// Render expands a template with args.
func (c Command) Render(args []any) (string, error) {
	var missing error
	out := placeholder.ReplaceAllStringFunc(c.Template, func(m string) string {
		i, _ := strconv.Atoi(m[1 : len(m)-1])
		if i >= len(args) {
			missing = fmt.Errorf("template %q needs argument %d, got %d", c.Template, i, len(args))
			return m
		}
		return formatArg(args[i])
	})
	return out, missing
}

func formatArg(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// parseResponse returns a float64 for numeric responses and the trimmed
// string otherwise.
func parseResponse(line string) any {
	s := strings.TrimSpace(line)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// DeviceConfig describes one instrument attached to a server.
type DeviceConfig struct {
	Name string      `json:"name"`
	Path string      `json:"path"`
	Port PortOptions `json:"port"`
	// Timeout is a duration string bounding each query, like "500ms".
	Timeout string `json:"timeout,omitempty"`
}

// Server is an instrument.DeviceServer over serial instruments. Ports are
// opened lazily on first selection.
type Server struct {
	name     string
	devices  map[string]DeviceConfig
	commands map[string]Command
	open     Opener

	mu       sync.Mutex
	links    map[string]*Link
	selected map[instrument.Context]string
}

// NewServer creates a server. A nil commands table selects DefaultCommands;
// a nil opener selects OpenSerial.
func NewServer(name string, devices []DeviceConfig, commands map[string]Command, open Opener) (*Server, error) {
	if name == "" {
		return nil, fmt.Errorf("scpi server needs a name")
	}
	if commands == nil {
		commands = DefaultCommands
	}
	if open == nil {
		open = OpenSerial
	}
	s := &Server{
		name:     name,
		devices:  make(map[string]DeviceConfig, len(devices)),
		commands: commands,
		open:     open,
		links:    make(map[string]*Link),
		selected: make(map[instrument.Context]string),
	}
	for _, d := range devices {
		if d.Name == "" || d.Path == "" {
			return nil, fmt.Errorf("scpi device on %s needs a name and a path", name)
		}
		if _, err := d.Port.Normalize(); err != nil {
			return nil, fmt.Errorf("device %s: %w", d.Name, err)
		}
		if d.Timeout != "" {
			if _, err := time.ParseDuration(d.Timeout); err != nil {
				return nil, fmt.Errorf("device %s: invalid timeout %q: %w", d.Name, d.Timeout, err)
			}
		}
		s.devices[d.Name] = d
	}
	return s, nil
}

func (s *Server) Name() string { return s.name }

// ListDevices returns the configured device names, sorted.
func (s *Server) ListDevices() ([]string, error) {
	out := make([]string, 0, len(s.devices))
	for name := range s.devices {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Settings returns the command table's setting names, sorted.
func (s *Server) Settings() []string {
	out := make([]string, 0, len(s.commands))
	for name := range s.commands {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SelectDevice binds device to ctx, opening its port if needed.
func (s *Server) SelectDevice(ctx instrument.Context, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.link(device); err != nil {
		return err
	}
	s.selected[ctx] = device
	return nil
}

func (s *Server) link(device string) (*Link, error) {
	if l, ok := s.links[device]; ok {
		return l, nil
	}
	cfg, ok := s.devices[device]
	if !ok {
		return nil, fmt.Errorf("%w: %q on %s", instrument.ErrNoSuchDevice, device, s.name)
	}
	port, err := s.open(cfg.Path, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("opening %s at %s: %w", device, cfg.Path, err)
	}
	timeout, _ := time.ParseDuration(cfg.Timeout)
	l := NewLink(port, timeout)
	s.links[device] = l
	monitoring.Logf("[scpi] %s: opened %s at %s", s.name, device, cfg.Path)
	return l, nil
}

// Call renders the setting's command and sends it to the device selected
// for ctx. Writes return nil; queries return the parsed response.
func (s *Server) Call(ctx instrument.Context, setting string, args ...any) (any, error) {
	cmd, ok := s.commands[setting]
	if !ok {
		return nil, fmt.Errorf("%w: %q on %s", instrument.ErrNoSuchSetting, setting, s.name)
	}
	line, err := cmd.Render(args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	device, ok := s.selected[ctx]
	var l *Link
	if ok {
		l = s.links[device]
	}
	s.mu.Unlock()
	if l == nil {
		return nil, fmt.Errorf("%w: context %d on %s", instrument.ErrNoDeviceSelected, ctx, s.name)
	}

	monitoring.Debugf("[scpi] %s/%s <- %s", s.name, device, line)
	if !cmd.Query {
		return nil, l.Write(line)
	}
	resp, err := l.Query(line)
	if err != nil {
		return nil, fmt.Errorf("%s/%s %q: %w", s.name, device, line, err)
	}
	monitoring.Debugf("[scpi] %s/%s -> %s", s.name, device, resp)
	return parseResponse(resp), nil
}

// Raw sends a raw command line to a device, reading a response when the
// line ends in '?'. Used by the admin console.
func (s *Server) Raw(device, line string) (string, error) {
	s.mu.Lock()
	l, err := s.link(device)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(strings.TrimSpace(line), "?") {
		return l.Query(line)
	}
	return "", l.Write(line)
}

// Close closes every open port.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for name, l := range s.links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", name, err)
		}
		delete(s.links, name)
	}
	s.selected = make(map[instrument.Context]string)
	return firstErr
}

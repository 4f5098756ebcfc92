package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/labsweep/internal/dataset"
	"github.com/banshee-data/labsweep/internal/setting"
	"github.com/banshee-data/labsweep/internal/sweeperr"
)

// DefaultConfigPath is where the sweeper looks for a sweep file when -config
// is not given.
const DefaultConfigPath = "config/sweep.json"

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// SweepConfig is the JSON description of one sweep run.
type SweepConfig struct {
	// Dataset name and vault directory.
	Name     string   `json:"name,omitempty"`
	Location []string `json:"location,omitempty"`

	Axes     []AxisConfig     `json:"axes"`
	Swept    []SweptConfig    `json:"swept"`
	Recorded []setting.Config `json:"recorded"`

	PreSweep  bool      `json:"pre_sweep,omitempty"`
	PostSweep bool      `json:"post_sweep,omitempty"`
	RampFrom  []float64 `json:"ramp_from,omitempty"`
	RampTo    []float64 `json:"ramp_to,omitempty"`

	Comments   []dataset.Comment   `json:"comments,omitempty"`
	Parameters []dataset.Parameter `json:"parameters,omitempty"`

	// Tick is the driver interval, a duration string like "50ms".
	Tick *string `json:"tick,omitempty"`
}

// AxisConfig describes one axis. Range, when set, is a "start:end:points"
// shorthand that overrides Start, End and Points.
type AxisConfig struct {
	Label           string  `json:"label,omitempty"`
	Start           float64 `json:"start"`
	End             float64 `json:"end"`
	Points          int     `json:"points"`
	Range           string  `json:"range,omitempty"`
	MinRampDuration string  `json:"min_ramp_duration,omitempty"` // duration string like "2s"
	PostRampDelay   string  `json:"post_ramp_delay,omitempty"`   // duration string like "500ms"
}

// SweptConfig is a swept setting plus the linear combination of axis
// values that drives it: constant first, then one coefficient per axis.
type SweptConfig struct {
	setting.Config
	Coefficients []float64 `json:"coefficients"`
}

// AxisSpec is a parsed "start:end:points" triple.
type AxisSpec struct {
	Start  float64
	End    float64
	Points int
}

// ParseAxisSpec parses a "start:end:points" string.
func ParseAxisSpec(s string) (AxisSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return AxisSpec{}, fmt.Errorf("%w: invalid axis format %q: expected start:end:points", sweeperr.ErrInvalidArgument, s)
	}

	start, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return AxisSpec{}, fmt.Errorf("%w: invalid start value %q: %v", sweeperr.ErrInvalidArgument, parts[0], err)
	}

	end, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return AxisSpec{}, fmt.Errorf("%w: invalid end value %q: %v", sweeperr.ErrInvalidArgument, parts[1], err)
	}

	points, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return AxisSpec{}, fmt.Errorf("%w: invalid points value %q: %v", sweeperr.ErrInvalidArgument, parts[2], err)
	}

	if points < 2 {
		return AxisSpec{}, fmt.Errorf("%w: points must be at least 2, got %d", sweeperr.ErrInvalidArgument, points)
	}

	return AxisSpec{Start: start, End: end, Points: points}, nil
}

// LoadSweepConfig loads and validates a SweepConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadSweepConfig(path string) (*SweepConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseSweepConfig(data)
}

// ParseSweepConfig decodes and validates a SweepConfig. Range shorthands
// are expanded into Start, End and Points.
func ParseSweepConfig(data []byte) (*SweepConfig, error) {
	cfg := &SweepConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and expands axis ranges in place.
func (c *SweepConfig) Validate() error {
	if len(c.Axes) == 0 {
		return fmt.Errorf("%w: at least one axis is required", sweeperr.ErrInvalidArgument)
	}
	for i := range c.Axes {
		if err := c.Axes[i].normalize(); err != nil {
			return fmt.Errorf("axis %d: %w", i, err)
		}
	}

	if len(c.Swept) == 0 {
		return fmt.Errorf("%w: at least one swept setting is required", sweeperr.ErrInvalidArgument)
	}
	for i := range c.Swept {
		s := &c.Swept[i]
		s.Access = setting.AccessSet
		if err := s.Validate(); err != nil {
			return fmt.Errorf("swept setting %d: %w", i, err)
		}
		if len(s.Coefficients) != 1+len(c.Axes) {
			return fmt.Errorf("%w: swept setting %d has %d coefficients, want %d (constant + one per axis)",
				sweeperr.ErrInvalidArgument, i, len(s.Coefficients), 1+len(c.Axes))
		}
	}

	if len(c.Recorded) == 0 {
		return fmt.Errorf("%w: at least one recorded setting is required", sweeperr.ErrInvalidArgument)
	}
	for i := range c.Recorded {
		r := &c.Recorded[i]
		r.Access = setting.AccessGet
		if err := r.Validate(); err != nil {
			return fmt.Errorf("recorded setting %d: %w", i, err)
		}
	}

	if len(c.RampFrom) != 0 && len(c.RampFrom) != len(c.Swept) {
		return fmt.Errorf("%w: ramp_from has %d values for %d swept settings", sweeperr.ErrInvalidArgument, len(c.RampFrom), len(c.Swept))
	}
	if len(c.RampTo) != 0 && len(c.RampTo) != len(c.Swept) {
		return fmt.Errorf("%w: ramp_to has %d values for %d swept settings", sweeperr.ErrInvalidArgument, len(c.RampTo), len(c.Swept))
	}
	if c.PostSweep && len(c.RampTo) == 0 {
		return fmt.Errorf("%w: post_sweep requires ramp_to", sweeperr.ErrInvalidArgument)
	}

	if (c.Name == "") != (len(c.Location) == 0) {
		return fmt.Errorf("%w: name and location must be given together", sweeperr.ErrInvalidArgument)
	}

	if c.Tick != nil && *c.Tick != "" {
		d, err := time.ParseDuration(*c.Tick)
		if err != nil {
			return fmt.Errorf("%w: invalid tick '%s': %v", sweeperr.ErrInvalidArgument, *c.Tick, err)
		}
		if d <= 0 {
			return fmt.Errorf("%w: tick must be positive, got %v", sweeperr.ErrInvalidArgument, d)
		}
	}
	return nil
}

func (a *AxisConfig) normalize() error {
	if a.Range != "" {
		spec, err := ParseAxisSpec(a.Range)
		if err != nil {
			return err
		}
		a.Start, a.End, a.Points = spec.Start, spec.End, spec.Points
	}
	if a.Points < 2 {
		return fmt.Errorf("%w: points must be at least 2, got %d", sweeperr.ErrInvalidArgument, a.Points)
	}
	if _, err := parseNonNegative("min_ramp_duration", a.MinRampDuration); err != nil {
		return err
	}
	if _, err := parseNonNegative("post_ramp_delay", a.PostRampDelay); err != nil {
		return err
	}
	return nil
}

func parseNonNegative(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s '%s': %v", sweeperr.ErrInvalidArgument, field, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative, got %v", sweeperr.ErrInvalidArgument, field, d)
	}
	return d, nil
}

// GetMinRampDuration returns the ramp duration, zero when unset.
func (a AxisConfig) GetMinRampDuration() time.Duration {
	d, _ := parseNonNegative("min_ramp_duration", a.MinRampDuration)
	return d
}

// GetPostRampDelay returns the settling delay, zero when unset.
func (a AxisConfig) GetPostRampDelay() time.Duration {
	d, _ := parseNonNegative("post_ramp_delay", a.PostRampDelay)
	return d
}

// GetTick returns the driver interval or the 50ms default.
func (c *SweepConfig) GetTick() time.Duration {
	if c.Tick == nil || *c.Tick == "" {
		return 50 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.Tick)
	if err != nil || d <= 0 {
		return 50 * time.Millisecond // default on parse error
	}
	return d
}

// Coefficients returns the coefficient vectors of the swept settings in
// order.
func (c *SweepConfig) Coefficients() [][]float64 {
	out := make([][]float64, len(c.Swept))
	for i, s := range c.Swept {
		out[i] = append([]float64(nil), s.Coefficients...)
	}
	return out
}

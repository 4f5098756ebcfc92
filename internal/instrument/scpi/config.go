package scpi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/labsweep/internal/instrument"
)

// ServerConfig describes one SCPI device server.
type ServerConfig struct {
	Name     string             `json:"name"`
	Devices  []DeviceConfig     `json:"devices"`
	Commands map[string]Command `json:"commands,omitempty"`
}

// Config is the -scpi file: a list of servers to mount.
type Config struct {
	Servers []ServerConfig `json:"servers"`
}

// LoadConfig reads a JSON server list.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("scpi config must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scpi config: %w", err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse scpi config: %w", err)
	}
	return cfg, nil
}

// Mount builds every configured server and adds it to local. It returns the
// servers in config order.
func (c *Config) Mount(local *instrument.Local, open Opener) ([]*Server, error) {
	servers := make([]*Server, 0, len(c.Servers))
	for _, sc := range c.Servers {
		s, err := NewServer(sc.Name, sc.Devices, sc.Commands, open)
		if err != nil {
			return nil, err
		}
		local.AddServer(s)
		servers = append(servers, s)
	}
	return servers, nil
}

package setting

import (
	"fmt"

	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/sweeperr"
)

// VDS is a backend resolved by id/name against the virtual channel registry.
// Capabilities are fetched once at connect and cached.
type VDS struct {
	ID   string
	Name string

	registry instrument.Registry
	details  instrument.ChannelDetails
}

// NewVDS creates a VDS backend. At least one of id and name is required.
func NewVDS(id, name string) (*VDS, error) {
	if id == "" && name == "" {
		return nil, fmt.Errorf("%w: vds setting needs an id or a name", sweeperr.ErrInvalidArgument)
	}
	return &VDS{ID: id, Name: name}, nil
}

func (v *VDS) Kind() Kind            { return KindVDS }
func (v *VDS) needsConnection() bool { return true }
func (v *VDS) HasGet() bool          { return v.registry != nil && v.details.HasGet }
func (v *VDS) HasSet() bool          { return v.registry != nil && v.details.HasSet }

// Details returns the cached capability record.
func (v *VDS) Details() instrument.ChannelDetails { return v.details }

func (v *VDS) connect(conn instrument.Connection) error {
	reg, err := conn.VDS()
	if err != nil {
		return err
	}
	details, err := reg.ChannelDetails(v.ID, v.Name)
	if err != nil {
		return fmt.Errorf("resolving channel %s: %w", instrument.ChannelKey(v.ID, v.Name), err)
	}
	v.details = details
	v.registry = reg
	return nil
}

func (v *VDS) get() (float64, error) {
	resp, err := v.registry.GetChannel(v.ID, v.Name)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", sweeperr.ErrRemoteCallFailed, err)
	}
	f, err := instrument.ToFloat(resp)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", sweeperr.ErrRemoteCallFailed, err)
	}
	return f, nil
}

func (v *VDS) set(value float64) (any, error) {
	resp, err := v.registry.SetChannel(value, v.ID, v.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sweeperr.ErrRemoteCallFailed, err)
	}
	return resp, nil
}

func (v *VDS) String() string {
	return "vds " + instrument.ChannelKey(v.ID, v.Name)
}

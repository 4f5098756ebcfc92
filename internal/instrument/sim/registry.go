package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/labsweep/internal/instrument"
)

// Channel describes a virtual channel backed by a simulated register.
type Channel struct {
	ID       string
	Name     string
	Label    string
	Server   *Server
	Device   string
	Register int
	HasGet   bool
	HasSet   bool
}

// Registry is a simulated virtual channel registry.
type Registry struct {
	mu       sync.Mutex
	channels []*Channel
	detailed int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a channel.
func (r *Registry) Add(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := ch
	r.channels = append(r.channels, &c)
}

// DetailLookups reports how many times ChannelDetails has been called.
func (r *Registry) DetailLookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detailed
}

func (r *Registry) find(id, name string) (*Channel, error) {
	if id == "" && name == "" {
		return nil, fmt.Errorf("%w: empty id and name", instrument.ErrNoSuchChannel)
	}
	for _, c := range r.channels {
		if id != "" && c.ID != id {
			continue
		}
		if name != "" && c.Name != name {
			continue
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", instrument.ErrNoSuchChannel, instrument.ChannelKey(id, name))
}

// ListChannels returns all channels ordered by id.
func (r *Registry) ListChannels() ([]instrument.ChannelRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]instrument.ChannelRef, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, instrument.ChannelRef{ID: c.ID, Name: c.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ChannelDetails returns the capability record of a channel.
func (r *Registry) ChannelDetails(id, name string) (instrument.ChannelDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detailed++
	c, err := r.find(id, name)
	if err != nil {
		return instrument.ChannelDetails{}, err
	}
	return instrument.ChannelDetails{
		ID:     c.ID,
		Name:   c.Name,
		Label:  c.Label,
		Server: c.Server.Name(),
		Device: c.Device,
		HasGet: c.HasGet,
		HasSet: c.HasSet,
	}, nil
}

// GetChannel reads the channel's register.
func (r *Registry) GetChannel(id, name string) (any, error) {
	r.mu.Lock()
	c, err := r.find(id, name)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !c.HasGet {
		return nil, fmt.Errorf("channel %s does not support get", instrument.ChannelKey(id, name))
	}
	return c.Server.Register(c.Device, c.Register), nil
}

// SetChannel writes the channel's register.
func (r *Registry) SetChannel(value any, id, name string) (any, error) {
	r.mu.Lock()
	c, err := r.find(id, name)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !c.HasSet {
		return nil, fmt.Errorf("channel %s does not support set", instrument.ChannelKey(id, name))
	}
	v, err := instrument.ToFloat(value)
	if err != nil {
		return nil, err
	}
	c.Server.SetRegister(c.Device, c.Register, v)
	return v, nil
}

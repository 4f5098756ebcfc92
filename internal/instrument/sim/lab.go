package sim

import "github.com/banshee-data/labsweep/internal/instrument"

// Default names used by NewDefaultLab.
const (
	DCBoxServer = "sim_dcbox"
	DCBoxDevice = "sim_dcbox (COM1)"
	DMMServer   = "sim_dmm"
	DMMDevice   = "sim_dmm (GPIB0::22)"
)

// Lab is a simulated instrument lab. It is an instrument.Connection.
type Lab struct {
	*instrument.Local
	Registry *Registry
	servers  map[string]*Server
}

// NewLab creates a lab with a registry and the given servers.
func NewLab(servers ...*Server) *Lab {
	reg := NewRegistry()
	l := &Lab{
		Local:    instrument.NewLocal(reg),
		Registry: reg,
		servers:  make(map[string]*Server, len(servers)),
	}
	for _, s := range servers {
		l.Add(s)
	}
	return l
}

// Add mounts a simulated server.
func (l *Lab) Add(s *Server) {
	l.servers[s.Name()] = s
	l.AddServer(s)
}

// Sim returns the simulated server with the given name, or nil.
func (l *Lab) Sim(name string) *Server {
	return l.servers[name]
}

// NewDefaultLab builds the lab used by the sweeper's -dev mode: a four
// channel DC box, a single-device DMM, and virtual channels
//
//	4000..4003  DC0..DC3   get+set, DC box outputs 0..3
//	5000        DMM        get only, DMM register 0
func NewDefaultLab() *Lab {
	dcbox := NewServer(DCBoxServer, DCBoxDevice, "sim_dcbox (COM2)")
	dmm := NewServer(DMMServer, DMMDevice)
	lab := NewLab(dcbox, dmm)

	ids := []string{"4000", "4001", "4002", "4003"}
	names := []string{"DC0", "DC1", "DC2", "DC3"}
	for i := range ids {
		lab.Registry.Add(Channel{
			ID:       ids[i],
			Name:     names[i],
			Label:    "DC box output " + names[i],
			Server:   dcbox,
			Device:   DCBoxDevice,
			Register: i,
			HasGet:   true,
			HasSet:   true,
		})
	}
	lab.Registry.Add(Channel{
		ID:       "5000",
		Name:     "DMM",
		Label:    "DMM voltage",
		Server:   dmm,
		Device:   DMMDevice,
		Register: 0,
		HasGet:   true,
	})
	return lab
}

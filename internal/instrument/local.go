package instrument

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// Local is an in-process Connection over a fixed set of device servers and
// an optional registry.
type Local struct {
	mu       sync.RWMutex
	servers  map[string]DeviceServer
	registry Registry
	nextCtx  atomic.Uint64
	closed   bool
}

// NewLocal creates a Local connection. registry may be nil.
func NewLocal(registry Registry, servers ...DeviceServer) *Local {
	l := &Local{
		servers:  make(map[string]DeviceServer, len(servers)),
		registry: registry,
	}
	for _, s := range servers {
		l.servers[s.Name()] = s
	}
	return l
}

// AddServer registers a device server, replacing any server with the same name.
func (l *Local) AddServer(s DeviceServer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.servers[s.Name()] = s
}

// SetRegistry installs the virtual channel registry.
func (l *Local) SetRegistry(r Registry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registry = r
}

// NewContext allocates a fresh private context. Context 0 is reserved for
// SharedContext.
func (l *Local) NewContext() (Context, error) {
	return Context(l.nextCtx.Add(1)), nil
}

// Servers returns the registered server names in sorted order.
func (l *Local) Servers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.servers))
	for name := range l.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Server returns the named server.
func (l *Local) Server(name string) (DeviceServer, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, fmt.Errorf("connection closed")
	}
	s, ok := l.servers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchServer, name)
	}
	return s, nil
}

// VDS returns the registry or ErrNoRegistry.
func (l *Local) VDS() (Registry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, fmt.Errorf("connection closed")
	}
	if l.registry == nil {
		return nil, ErrNoRegistry
	}
	return l.registry, nil
}

// Close closes every server that implements io.Closer. Subsequent lookups fail.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var firstErr error
	for _, s := range l.servers {
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing server %q: %w", s.Name(), err)
		}
	}
	return firstErr
}

package bus

import (
	"log/slog"
	"sync"
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used by the registry and the buses it opens.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryMetrics records traffic of every bus the registry opens on m.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// Registry maps session ids to their buses. Two sessions never share a bus.
type Registry struct {
	mu      sync.Mutex
	buses   map[string]*Bus
	logger  *slog.Logger
	metrics *Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		buses:  make(map[string]*Bus),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open returns the bus for sessionID, creating it on first use.
func (r *Registry) Open(sessionID string) *Bus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buses[sessionID]; ok {
		return b
	}
	b := NewBus(sessionID, WithLogger(r.logger), WithMetrics(r.metrics))
	r.buses[sessionID] = b
	return b
}

// Lookup returns the bus for sessionID if one is open.
func (r *Registry) Lookup(sessionID string) (*Bus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buses[sessionID]
	return b, ok
}

// Remove closes and forgets the bus for sessionID. It reports whether a
// bus was registered.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	b, ok := r.buses[sessionID]
	delete(r.buses, sessionID)
	r.mu.Unlock()
	if ok {
		b.Close()
	}
	return ok
}

// Len returns the number of open buses.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buses)
}

// Close removes every bus.
func (r *Registry) Close() {
	r.mu.Lock()
	buses := r.buses
	r.buses = make(map[string]*Bus)
	r.mu.Unlock()
	for _, b := range buses {
		b.Close()
	}
}

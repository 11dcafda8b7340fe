package breaker

import (
	"log/slog"
	"sync"
)

// Registry looks up circuit breakers by stable resource name, creating
// them on first use. One breaker per external resource: failures in one
// never open the breaker for another.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	log      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		log:      log,
	}
}

// GetOrCreate returns the existing breaker for name or creates one with cfg.
func (r *Registry) GetOrCreate(name string, cfg Config) *CircuitBreaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if b, ok = r.breakers[name]; ok {
		return b
	}

	b = New(name, cfg, r.log)
	r.breakers[name] = b
	r.log.Info("created circuit breaker", "breaker", name)
	return b
}

// Get returns the breaker for name, or nil if none exists.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// ResetAll returns every breaker to closed. Operator action.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}

// AllStatus returns a snapshot of every registered breaker.
func (r *Registry) AllStatus() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Status, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Status()
	}
	return out
}

package circuitbreaker

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry hands out one shared breaker per operation name. All call paths
// touching the same operation must observe the same failure state, so
// breakers are created once and reused.
type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]CircuitBreaker
}

// NewRegistry creates a registry applying cfg to every breaker it creates.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]CircuitBreaker),
	}
}

// Get returns the breaker for the named operation, creating it on first use.
func (r *Registry) Get(name string) CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := New(name, r.cfg, r.logger)
	r.breakers[name] = cb
	return cb
}

// Names returns the known operation names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package robot

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Constructor builds an unconnected driver from its configuration.
type Constructor func(cfg DriverConfig) (Driver, error)

// Registry maps driver kinds to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry holding the built-in local drivers:
// so101_follower, sim and bimanual.
func DefaultRegistry(log *slog.Logger) *Registry {
	r := NewRegistry()
	r.Register(KindSO101Follower, func(cfg DriverConfig) (Driver, error) {
		if cfg.Port == "" {
			return nil, fmt.Errorf("%s: port is required", KindSO101Follower)
		}
		return NewFollower(cfg, log), nil
	})
	r.Register(KindSim, func(cfg DriverConfig) (Driver, error) {
		name := cfg.Port
		if name == "" {
			name = "local"
		}
		return NewSim(name, 0), nil
	})
	r.Register(KindBimanual, func(cfg DriverConfig) (Driver, error) {
		if cfg.Left == nil || cfg.Right == nil {
			return nil, fmt.Errorf("%s: left and right arms are required", KindBimanual)
		}
		left, err := r.New(*cfg.Left)
		if err != nil {
			return nil, fmt.Errorf("left arm: %w", err)
		}
		right, err := r.New(*cfg.Right)
		if err != nil {
			return nil, fmt.Errorf("right arm: %w", err)
		}
		return NewBimanual(left, right), nil
	})
	return r
}

// Register adds or replaces the constructor for kind.
func (r *Registry) Register(kind string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[kind] = ctor
}

// New builds the driver registered for cfg.Kind.
func (r *Registry) New(cfg DriverConfig) (Driver, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriverKind, cfg.Kind)
	}
	return ctor(cfg)
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.ctors))
}

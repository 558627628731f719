package module

import (
	"fmt"
	"sort"
	"sync"

	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
)

// StaticRegistry implements plugin.Registry with a map guarded by a mutex.
// It is the registry used when none is supplied to the engine.
type StaticRegistry struct {
	factories map[string]plugin.ModuleFactory
	mu        sync.RWMutex
}

// NewStaticRegistry creates a new, empty static registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		factories: make(map[string]plugin.ModuleFactory),
	}
}

// Register associates a module tag with its factory. Duplicate tags are
// rejected.
func (r *StaticRegistry) Register(name string, factory plugin.ModuleFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return convergeerrors.NewConfigError("module registration error: name cannot be empty", nil)
	}
	if factory == nil {
		return convergeerrors.NewConfigError(fmt.Sprintf("module registration error for '%s': factory cannot be nil", name), nil)
	}
	if _, exists := r.factories[name]; exists {
		return convergeerrors.NewConfigError(fmt.Sprintf("module registration error: duplicate module name '%s'", name), nil)
	}
	r.factories[name] = factory
	return nil
}

// Get retrieves the factory for a module tag, or a ModuleNotFoundError.
func (r *StaticRegistry) Get(name string) (plugin.ModuleFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[name]
	if !exists {
		return nil, convergeerrors.NewModuleNotFoundError(name)
	}
	return factory, nil
}

// List returns the registered module tags, sorted.
func (r *StaticRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	globalRegistry                 = NewStaticRegistry()
	_              plugin.Registry = (*StaticRegistry)(nil)
)

// Register adds a factory to the global registry. Modules call it from
// init(); a registration error is a programming mistake, so it panics.
func Register(name string, factory plugin.ModuleFactory) {
	if err := globalRegistry.Register(name, factory); err != nil {
		panic(fmt.Errorf("failed to register module '%s' globally: %w", name, err))
	}
}

// DefaultRegistry exposes the global registry holding every module
// registered at init time.
var DefaultRegistry plugin.Registry = globalRegistry

package plugin

import (
	"errors"
	"sort"
	"sync"
)

// Factory builds a fresh plugin instance for the configuration row (id, name).
type Factory func(id int64, name string) ExecutablePlugin

// Registry maps module paths to factories. Implementations are registered at
// process start; the manager never needs to know concrete plugin kinds.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates modulePath with factory. A later registration for the
// same module path replaces the earlier one.
func (r *Registry) Register(modulePath string, factory Factory) error {
	if modulePath == "" {
		return errors.New("plugin module path cannot be empty")
	}
	if factory == nil {
		return errors.New("plugin factory cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[modulePath] = factory
	return nil
}

// Resolve constructs a new instance for modulePath, or returns nil when the
// module is unknown.
func (r *Registry) Resolve(modulePath string, id int64, name string) ExecutablePlugin {
	r.mu.RLock()
	factory, ok := r.factories[modulePath]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return factory(id, name)
}

// Has reports whether modulePath is registered without constructing anything.
func (r *Registry) Has(modulePath string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[modulePath]
	return ok
}

// Modules returns the registered module paths in lexical order.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	modules := make([]string, 0, len(r.factories))
	for path := range r.factories {
		modules = append(modules, path)
	}
	r.mu.RUnlock()
	sort.Strings(modules)
	return modules
}

// Describe builds a throwaway instance to read static metadata such as the
// capabilities and the configuration example.
func (r *Registry) Describe(modulePath string) (capabilities []Capability, example string, ok bool) {
	p := r.Resolve(modulePath, 0, "")
	if p == nil {
		return nil, "", false
	}
	if ex, isExampler := p.(ConfigExampler); isExampler {
		example = ex.ConfigExample()
	}
	return p.Capabilities(), example, true
}

// Package registry holds the capability providers known to the coordinator.
package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"drax-assistant/internal/domain"
	"drax-assistant/internal/provider"
)

type entry struct {
	descriptor domain.ProviderDescriptor
	handler    provider.Provider
}

// Registry maps provider names to handlers. List preserves registration
// order, which routing uses as its tie-break. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a provider. A name that is already present fails with
// ErrDuplicateProvider and leaves the registry unchanged.
func (r *Registry) Register(d domain.ProviderDescriptor, h provider.Provider) error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return ErrEmptyProviderName
	}
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNilProvider, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, name)
	}
	d.Name = name
	d.Capabilities = slices.Clone(d.Capabilities)
	r.entries[name] = entry{descriptor: d, handler: h}
	r.order = append(r.order, name)
	return nil
}

// List returns descriptors in registration order.
func (r *Registry) List() []domain.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ProviderDescriptor, 0, len(r.order))
	for _, name := range r.order {
		d := r.entries[name].descriptor
		d.Capabilities = slices.Clone(d.Capabilities)
		out = append(out, d)
	}
	return out
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return e.handler, nil
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

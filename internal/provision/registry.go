package provision

import (
	"fmt"
	"sync"
)

// Registry manages the configured provisioning backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Provisioner
}

func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Provisioner),
	}
}

// Register adds a backend under the given name. Registering the same name
// twice is an error; backends are wired once at startup.
func (r *Registry) Register(name string, p Provisioner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("backend already registered: %s", name)
	}
	r.backends[name] = p
	return nil
}

// Get returns a registered backend.
func (r *Registry) Get(name string) (Provisioner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("backend not registered: %s", name)
	}
	return p, nil
}

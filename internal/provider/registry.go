package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the configured providers by lower-cased name.
type Registry struct {
	mu          sync.RWMutex
	clients     map[string]Client
	defaultName string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register adds c. The first registered client becomes the default.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(c.Name())
	r.clients[name] = c
	if r.defaultName == "" {
		r.defaultName = name
	}
}

// SetDefault selects the provider used when a request names none.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := r.clients[name]; !ok {
		return fmt.Errorf("provider not registered: %s", name)
	}
	r.defaultName = name
	return nil
}

// Get returns a provider by name, ignoring case and surrounding spaces.
func (r *Registry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Default returns the default provider.
func (r *Registry) Default() (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[r.defaultName]
	return c, ok
}

// List returns the registered provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

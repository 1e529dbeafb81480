package collection

import (
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateCollection is a named error type for registering a name twice.
type ErrDuplicateCollection struct {
	Name string
}

func (e *ErrDuplicateCollection) Error() string {
	return fmt.Sprintf("collection %q already registered", e.Name)
}

// ErrUnknownCollection is a named error type for an unregistered name.
type ErrUnknownCollection struct {
	Name string
}

func (e *ErrUnknownCollection) Error() string {
	return fmt.Sprintf("unknown collection %q", e.Name)
}

// Registry holds the live collections by name.
type Registry struct {
	mu          sync.RWMutex
	collections map[string]*Collection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]*Collection)}
}

// Register adds a collection under its name.
func (r *Registry) Register(c *Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.collections[c.Name()]; ok {
		return &ErrDuplicateCollection{Name: c.Name()}
	}
	r.collections[c.Name()] = c
	return nil
}

// Get returns the collection registered under name.
func (r *Registry) Get(name string) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	if !ok {
		return nil, &ErrUnknownCollection{Name: name}
	}
	return c, nil
}

// Drop removes the collection registered under name.
func (r *Registry) Drop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.collections[name]; !ok {
		return &ErrUnknownCollection{Name: name}
	}
	delete(r.collections, name)
	return nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered collections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.collections)
}

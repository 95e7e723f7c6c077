package game

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages variant registration and lookup by tag.
// New variants are added by registering an implementation, never by
// changing the settlement engine.
type Registry struct {
	variants map[string]Variant
	mu       sync.RWMutex
}

// NewRegistry creates a registry holding the given variants.
func NewRegistry(variants ...Variant) (*Registry, error) {
	r := &Registry{
		variants: make(map[string]Variant),
	}
	for _, v := range variants {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a variant to the registry.
// If a variant with the same tag already exists, it will be replaced.
func (r *Registry) Register(v Variant) error {
	if v == nil {
		return fmt.Errorf("cannot register nil variant")
	}
	if v.Tag() == "" {
		return fmt.Errorf("variant tag cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[v.Tag()] = v
	return nil
}

// Get retrieves a variant by its tag.
func (r *Registry) Get(tag string) (Variant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[tag]
	return v, ok
}

// Lookup retrieves a variant or returns ErrUnknownVariant.
func (r *Registry) Lookup(tag string) (Variant, error) {
	v, ok := r.Get(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, tag)
	}
	return v, nil
}

// Tags returns all registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.variants))
	for tag := range r.variants {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Count returns the number of registered variants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.variants)
}

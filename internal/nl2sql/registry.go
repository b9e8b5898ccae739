package nl2sql

import (
	"fmt"
	"slices"
)

// Registry maps model ids to backends and remembers registration order.
type Registry struct {
	order    []ModelID
	backends map[ModelID]Backend
}

func NewRegistry(backends ...Backend) (*Registry, error) {
	r := &Registry{backends: make(map[ModelID]Backend, len(backends))}
	for _, backend := range backends {
		if err := r.Register(backend); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(backend Backend) error {
	if backend == nil {
		return fmt.Errorf("backend is required")
	}
	id := backend.ID()
	if id == "" {
		return fmt.Errorf("backend id is required")
	}
	if _, exists := r.backends[id]; exists {
		return fmt.Errorf("model %q registered twice", id)
	}
	r.backends[id] = backend
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) Get(id ModelID) (Backend, error) {
	backend, ok := r.backends[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return backend, nil
}

func (r *Registry) IDs() []ModelID {
	return slices.Clone(r.order)
}

func (r *Registry) Len() int {
	return len(r.order)
}

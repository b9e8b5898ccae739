package query

import (
	"fmt"
	"slices"

	"github.com/hashicorp/go-multierror"
)

type Registry struct {
	order   []DatabaseID
	engines map[DatabaseID]Engine
}

func NewRegistry(engines ...Engine) (*Registry, error) {
	r := &Registry{engines: make(map[DatabaseID]Engine, len(engines))}
	for _, engine := range engines {
		if err := r.Register(engine); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(engine Engine) error {
	if engine == nil {
		return fmt.Errorf("engine is required")
	}
	id := engine.ID()
	if id == "" {
		return fmt.Errorf("engine id is required")
	}
	if _, exists := r.engines[id]; exists {
		return fmt.Errorf("database %q registered twice", id)
	}
	r.engines[id] = engine
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) Get(id DatabaseID) (Engine, error) {
	engine, ok := r.engines[ParseDatabaseID(string(id))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDatabase, id)
	}
	return engine, nil
}

func (r *Registry) IDs() []DatabaseID {
	return slices.Clone(r.order)
}

func (r *Registry) Len() int {
	return len(r.order)
}

// Close closes every engine and reports all failures together.
func (r *Registry) Close() error {
	var result *multierror.Error
	for _, id := range r.order {
		if err := r.engines[id].Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return result.ErrorOrNil()
}

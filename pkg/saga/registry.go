package saga

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownSagaType is returned when no definition is registered for a type.
var ErrUnknownSagaType = errors.New("unknown saga type")

// Registry is an immutable saga-type to definition lookup, built once at
// startup and injected wherever definitions are needed.
type Registry struct {
	defs map[string]*SagaDefinition
}

// NewRegistry builds a registry from the given definitions. A duplicate
// saga type is a configuration error.
func NewRegistry(defs ...*SagaDefinition) (*Registry, error) {
	registry := &Registry{defs: make(map[string]*SagaDefinition, len(defs))}
	for _, def := range defs {
		if def == nil {
			return nil, fmt.Errorf("saga definition cannot be nil")
		}
		if _, exists := registry.defs[def.SagaType]; exists {
			return nil, fmt.Errorf("duplicate saga type registered: %s", def.SagaType)
		}
		registry.defs[def.SagaType] = def
	}
	return registry, nil
}

// Get returns the definition for a saga type.
func (r *Registry) Get(sagaType string) (*SagaDefinition, error) {
	def, ok := r.defs[sagaType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSagaType, sagaType)
	}
	return def, nil
}

// Types returns all registered saga types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.defs))
	for sagaType := range r.defs {
		types = append(types, sagaType)
	}
	sort.Strings(types)
	return types
}

package strategy

import (
	"sort"

	"propsync/internal/domain"
)

// Registry maps sync types and entity types to strategies. It is built once
// at startup and read-only afterwards.
type Registry struct {
	byType   map[string]domain.Strategy
	byEntity map[string]domain.Strategy
}

func NewRegistry(strategies ...domain.Strategy) *Registry {
	r := &Registry{
		byType:   make(map[string]domain.Strategy, len(strategies)),
		byEntity: make(map[string]domain.Strategy, len(strategies)),
	}
	for _, s := range strategies {
		r.byType[s.Type()] = s
		r.byEntity[s.EntityType()] = s
	}
	return r
}

// Get returns the strategy of a sync type.
func (r *Registry) Get(syncType string) (domain.Strategy, bool) {
	s, ok := r.byType[syncType]
	return s, ok
}

// ForEntity returns the strategy that pushes an entity type.
func (r *Registry) ForEntity(entityType string) (domain.Strategy, bool) {
	s, ok := r.byEntity[entityType]
	return s, ok
}

// Types lists the registered sync types in order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New builds the registry of every built-in strategy.
func New(store domain.LocalStore, taxonomies []string, deps Deps) *Registry {
	return NewRegistry(
		NewPropertyStrategy(store, deps),
		NewAgencyStrategy(store, deps),
		NewUserStrategy(store, deps),
		NewTaxonomyStrategy(store, taxonomies, deps),
	)
}

// Package registry maps entity types to their remote location and adapter.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"pharmsync/internal/domain"
	"pharmsync/internal/models"
)

type entry struct {
	info    models.EntityInfo
	adapter domain.RemoteAdapter
}

type Registry struct {
	mu      sync.RWMutex
	entries map[models.EntityType]entry
	order   []models.EntityType
}

func New() *Registry {
	return &Registry{entries: make(map[models.EntityType]entry)}
}

// AdapterFactory builds the remote adapter for one entity.
type AdapterFactory func(info models.EntityInfo) domain.RemoteAdapter

// Default registers every known entity. tables overrides the remote table
// name per entity; factory may be nil when only metadata lookups are needed.
func Default(tables map[string]string, factory AdapterFactory) (*Registry, error) {
	r := New()
	for _, info := range models.DefaultEntities() {
		if table, ok := tables[string(info.Type)]; ok && table != "" {
			info.Table = table
		}
		var adapter domain.RemoteAdapter
		if factory != nil {
			adapter = factory(info)
		}
		if err := r.Register(info, adapter); err != nil {
			return nil, err
		}
	}
	for raw := range tables {
		if _, err := models.ParseEntityType(raw); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(info models.EntityInfo, adapter domain.RemoteAdapter) error {
	if info.Type == "" {
		return fmt.Errorf("entity type is required")
	}
	if info.Trackable && info.WatermarkKey == "" {
		return fmt.Errorf("trackable entity %s needs a watermark key", info.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[info.Type]; !exists {
		r.order = append(r.order, info.Type)
	}
	r.entries[info.Type] = entry{info: info, adapter: adapter}
	return nil
}

// Lookup returns the entity description and adapter.
func (r *Registry) Lookup(entity models.EntityType) (models.EntityInfo, domain.RemoteAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[entity]
	if !ok {
		return models.EntityInfo{}, nil, fmt.Errorf("%w: %q", models.ErrUnknownEntity, entity)
	}
	if e.adapter == nil {
		return e.info, nil, fmt.Errorf("entity %s has no remote adapter", entity)
	}
	return e.info, e.adapter, nil
}

func (r *Registry) Info(entity models.EntityType) (models.EntityInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[entity]
	return e.info, ok
}

// ParseEntity resolves a user supplied name to a registered entity.
func (r *Registry) ParseEntity(raw string) (models.EntityInfo, error) {
	typ, err := models.ParseEntityType(raw)
	if err != nil {
		return models.EntityInfo{}, err
	}
	info, ok := r.Info(typ)
	if !ok {
		return models.EntityInfo{}, fmt.Errorf("%w: %q", models.ErrUnknownEntity, raw)
	}
	return info, nil
}

// Trackable lists incrementally imported entities in registration order.
func (r *Registry) Trackable() []models.EntityInfo {
	return r.filter(func(info models.EntityInfo) bool { return info.Trackable })
}

// Metadata lists entities the structure guard keeps in sync.
func (r *Registry) Metadata() []models.EntityInfo {
	return r.filter(func(info models.EntityInfo) bool { return info.Metadata })
}

func (r *Registry) filter(keep func(models.EntityInfo) bool) []models.EntityInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.EntityInfo
	for _, typ := range r.order {
		if info := r.entries[typ].info; keep(info) {
			out = append(out, info)
		}
	}
	return out
}

// Names returns the registered entity names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.order))
	for _, typ := range r.order {
		names = append(names, string(typ))
	}
	sort.Strings(names)
	return names
}

package schema

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultCacheCapacity bounds the registry's schema cache.
const DefaultCacheCapacity = 1000

// Registry is the read/write surface over schema storage, with an LRU
// cache in front of lookups.
type Registry struct {
	repo  Repository
	cache *LRUCache
}

// NewRegistry creates a registry with the default cache capacity.
func NewRegistry(repo Repository) *Registry {
	return NewRegistryWithCache(repo, DefaultCacheCapacity)
}

// NewRegistryWithCache creates a registry whose LRU holds up to
// cacheCapacity schemas.
func NewRegistryWithCache(repo Repository, cacheCapacity int) *Registry {
	return &Registry{
		repo:  repo,
		cache: NewLRUCache(cacheCapacity),
	}
}

// Get returns one schema version for an event type.
func (r *Registry) Get(ctx context.Context, eventType string, version int) (*Schema, error) {
	key := Key{Type: eventType, Version: version}

	if schema := r.cache.Get(key); schema != nil {
		return schema, nil
	}
	schema, err := r.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("schema not found: %s v%d", eventType, version)
		}
		return nil, err
	}
	r.cache.Put(schema)
	return schema, nil
}

// Register stores a new schema version and primes the cache with it.
func (r *Registry) Register(ctx context.Context, eventType string, version int, format Format, definition []byte, strictMode bool) (*Schema, error) {
	if eventType == "" {
		return nil, errors.New("type is required")
	}
	if version < 1 {
		return nil, errors.New("version must be >= 1")
	}
	if len(definition) == 0 {
		return nil, errors.New("definition is required")
	}

	schema := &Schema{
		ID:          uuid.New().String(),
		Type:        eventType,
		Version:     version,
		Format:      format,
		Definition:  definition,
		Fingerprint: ComputeFingerprint(definition),
		State:       StateActive,
		StrictMode:  strictMode,
		CreatedAt:   time.Now().UTC(),
	}

	if err := r.repo.Create(ctx, schema); err != nil {
		return nil, err
	}
	r.cache.Put(schema)
	return schema, nil
}

// Deprecate marks a schema version deprecated and evicts it from the
// cache so the state change is visible immediately.
func (r *Registry) Deprecate(ctx context.Context, eventType string, version int) error {
	key := Key{Type: eventType, Version: version}
	if err := r.repo.UpdateState(ctx, key, StateDeprecated); err != nil {
		return err
	}
	r.cache.Invalidate(key)
	return nil
}

// List returns registered schemas, optionally filtered by event type.
func (r *Registry) List(ctx context.Context, eventType string) ([]*Schema, error) {
	return r.repo.List(ctx, eventType)
}

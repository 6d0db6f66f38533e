package storage

import (
	"context"
	"sync"

	"github.com/statkit/statkit/internal/schema"
)

// MemoryRepository keeps schemas in a map guarded by an RWMutex. It
// backs tests and local development where no database is configured.
type MemoryRepository struct {
	mu      sync.RWMutex
	schemas map[schema.Key]*schema.Schema
}

// NewMemoryRepository creates an empty in-memory schema repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{schemas: make(map[schema.Key]*schema.Schema)}
}

// clone shields the stored record from caller mutation; reads and
// writes both go through it.
func clone(s *schema.Schema) *schema.Schema {
	dup := *s
	return &dup
}

func (r *MemoryRepository) Create(ctx context.Context, s *schema.Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := s.Key()
	if _, ok := r.schemas[key]; ok {
		return schema.ErrAlreadyExists
	}
	r.schemas[key] = clone(s)
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, key schema.Key) (*schema.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[key]
	if !ok {
		return nil, schema.ErrNotFound
	}
	return clone(s), nil
}

func (r *MemoryRepository) List(ctx context.Context, eventType string) ([]*schema.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*schema.Schema
	for _, s := range r.schemas {
		if eventType != "" && s.Type != eventType {
			continue
		}
		result = append(result, clone(s))
	}
	return result, nil
}

func (r *MemoryRepository) UpdateState(ctx context.Context, key schema.Key, state schema.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schemas[key]
	if !ok {
		return schema.ErrNotFound
	}
	s.State = state
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, key schema.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schemas[key]; !ok {
		return schema.ErrNotFound
	}
	delete(r.schemas, key)
	return nil
}

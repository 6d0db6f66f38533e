package storage

import (
	"context"

	"github.com/statkit/statkit/internal/schema"
)

// Repository persists schema documents. Implementations report
// collisions with schema.ErrAlreadyExists and misses with
// schema.ErrNotFound so callers can branch without knowing the
// backend.
type Repository interface {
	// Create stores a schema under its (Type, Version) key.
	Create(ctx context.Context, schema *schema.Schema) error

	// Get fetches one schema version.
	Get(ctx context.Context, key schema.Key) (*schema.Schema, error)

	// List returns every stored schema, or only those for eventType
	// when it is non-empty.
	List(ctx context.Context, eventType string) ([]*schema.Schema, error)

	// UpdateState transitions a schema between lifecycle states,
	// such as active to deprecated.
	UpdateState(ctx context.Context, key schema.Key, state schema.State) error

	// Delete removes a schema permanently.
	Delete(ctx context.Context, key schema.Key) error
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	v1 "github.com/statkit/statkit/internal/api/v1"
	"github.com/statkit/statkit/internal/core/query"
	"github.com/statkit/statkit/internal/core/stats"
)

// ErrDuplicate is returned when an event with the same deterministic ID
// already exists in its partition.
var ErrDuplicate = errors.New("event already exists")

// ErrUnknownStream is returned for event types no stream config registers.
var ErrUnknownStream = errors.New("unregistered event type")

// Bookmark records how far an aggregation has progressed. Position is the
// boundary of the last fully processed bucket; the next run resumes there.
type Bookmark struct {
	Aggregation string
	Position    time.Time
	WrittenAt   time.Time
}

// DimensionGroup is the fold of one dimension value inside one bucket scan:
// the event count, the configured metric folds and the most recent matching
// event, kept so copied fields reflect the latest payload.
type DimensionGroup struct {
	Dimension string
	Count     int64
	Metrics   map[string]decimal.Decimal
	Latest    *v1.Event
}

// EventStore is the interface for per-period event persistence. Stores are
// constructed against the stream registry and derive each event's partition
// from its type and occurred_at; partitions are created lazily on first
// write, never up front.
//
// Contract: SaveEvent is strict — replaying an event whose deterministic ID
// already exists returns ErrDuplicate. SaveEvents is the bulk path and
// overwrites by ID instead, so re-submitting a batch is idempotent.
type EventStore interface {
	// SaveEvent inserts a single event into the partition for its type and
	// occurred_at, creating the partition on first use.
	SaveEvent(ctx context.Context, event *v1.Event) error

	// SaveEvents bulk-writes a batch, overwriting by ID. Partitions are
	// created as needed.
	SaveEvents(ctx context.Context, events []*v1.Event) error

	// Partitions lists the period starts that physically exist for an event
	// type, oldest first. Periods that received no events are simply absent;
	// readers must never assume continuity.
	Partitions(ctx context.Context, eventType string) ([]time.Time, error)

	// OldestEventTime returns the occurred_at of the oldest stored event for
	// the type. The second return is false when the stream holds no events.
	OldestEventTime(ctx context.Context, eventType string) (time.Time, bool, error)

	// AggregateBucket folds every event the query admits in the given
	// periods into per-dimension groups. Periods without a backing partition
	// are skipped, not errors: an aggregation bucket may span days that saw
	// no traffic.
	AggregateBucket(ctx context.Context, agg stats.AggregationConfig, q query.Query, periods []time.Time) ([]DimensionGroup, error)

	// ListEvents pages events the query admits, oldest first.
	ListEvents(ctx context.Context, q query.Query, limit int) ([]*v1.Event, error)
}

// AggregateStore persists materialized aggregate documents.
//
// Contract: UpsertDocuments overwrites whole documents by DocID and bumps
// the stored version by one on every accepted write, the first write landing
// at version 1. Re-running a bucket therefore yields identical values at a
// higher version; the version is the only trace a recount leaves.
type AggregateStore interface {
	// UpsertDocuments writes docs into the target's table, creating the
	// table on first use. Returns the new version per DocID.
	UpsertDocuments(ctx context.Context, target string, docs []stats.AggregateDocument) (map[string]int64, error)

	// TargetExists reports whether the target's table has been created yet.
	// False on a fresh deployment: an empty system stays observably empty
	// until the first aggregation write.
	TargetExists(ctx context.Context, target string) (bool, error)

	// QueryDocuments returns documents whose bucket start falls in
	// [from, through), optionally narrowed to one dimension value, ordered
	// by bucket start then dimension.
	QueryDocuments(ctx context.Context, target string, dimension string, from, through time.Time) ([]stats.AggregateDocument, error)

	// TopDimensions ranks dimension values by summed count over [from,
	// through).
	TopDimensions(ctx context.Context, target string, from, through time.Time, limit int) ([]stats.DimensionTotal, error)
}

// BookmarkStore persists aggregation progress cursors.
//
// Contract: Append never overwrites — every run adds a row and Latest
// returns the most recent one. Clearing an aggregation's bookmarks resets it
// to full replay without touching its documents; the next run then rewrites
// identical values at bumped versions.
type BookmarkStore interface {
	// Latest returns the most recent bookmark for an aggregation. The second
	// return is false when none has been written yet, meaning "resume from
	// the oldest stored event".
	Latest(ctx context.Context, aggregation string) (Bookmark, bool, error)

	// Append records a new bookmark for an aggregation.
	Append(ctx context.Context, aggregation string, position time.Time) error

	// Clear removes every bookmark for an aggregation.
	Clear(ctx context.Context, aggregation string) error
}

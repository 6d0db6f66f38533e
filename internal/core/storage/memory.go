package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	v1 "github.com/statkit/statkit/internal/api/v1"
	"github.com/statkit/statkit/internal/core/query"
	"github.com/statkit/statkit/internal/core/stats"
)

// MemoryEventStore is an in-memory implementation of EventStore.
// Useful for testing and development. Partition arithmetic mirrors the
// Postgres adapter: one logical partition per period, keyed by the period
// start, created on first write.
type MemoryEventStore struct {
	mu       sync.RWMutex
	registry *stats.Registry
	// partitions[eventType][periodStartUnix][eventID]
	partitions map[string]map[int64]map[string]*v1.Event
}

// NewMemoryEventStore creates an event store over the given stream registry.
func NewMemoryEventStore(registry *stats.Registry) *MemoryEventStore {
	return &MemoryEventStore{
		registry:   registry,
		partitions: make(map[string]map[int64]map[string]*v1.Event),
	}
}

var _ EventStore = (*MemoryEventStore)(nil)

func (s *MemoryEventStore) periodKey(event *v1.Event) (int64, error) {
	stream, ok := s.registry.Event(event.Type)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownStream, event.Type)
	}
	return stream.Interval.Start(event.OccurredAt).Unix(), nil
}

func (s *MemoryEventStore) SaveEvent(ctx context.Context, event *v1.Event) error {
	key, err := s.periodKey(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	part := s.partition(event.Type, key)
	if _, exists := part[event.ID]; exists {
		return ErrDuplicate
	}
	part[event.ID] = cloneEvent(event)
	return nil
}

func (s *MemoryEventStore) SaveEvents(ctx context.Context, events []*v1.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range events {
		key, err := s.periodKey(event)
		if err != nil {
			return err
		}
		s.partition(event.Type, key)[event.ID] = cloneEvent(event)
	}
	return nil
}

// EnsurePartition creates the period partition containing t without writing
// an event, mirroring the SQL adapter where DDL and insert are separate
// steps: a partition can exist and still be empty.
func (s *MemoryEventStore) EnsurePartition(eventType string, t time.Time) error {
	stream, ok := s.registry.Event(eventType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, eventType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.partition(eventType, stream.Interval.Start(t).Unix())
	return nil
}

// partition returns the map for (eventType, periodKey), creating it lazily.
// Callers must hold the write lock.
func (s *MemoryEventStore) partition(eventType string, periodKey int64) map[string]*v1.Event {
	byPeriod, ok := s.partitions[eventType]
	if !ok {
		byPeriod = make(map[int64]map[string]*v1.Event)
		s.partitions[eventType] = byPeriod
	}
	part, ok := byPeriod[periodKey]
	if !ok {
		part = make(map[string]*v1.Event)
		byPeriod[periodKey] = part
	}
	return part
}

func (s *MemoryEventStore) Partitions(ctx context.Context, eventType string) ([]time.Time, error) {
	if _, ok := s.registry.Event(eventType); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, eventType)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]int64, 0, len(s.partitions[eventType]))
	for k := range s.partitions[eventType] {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]time.Time, 0, len(keys))
	for _, k := range keys {
		out = append(out, time.Unix(k, 0).UTC())
	}
	return out, nil
}

func (s *MemoryEventStore) OldestEventTime(ctx context.Context, eventType string) (time.Time, bool, error) {
	if _, ok := s.registry.Event(eventType); !ok {
		return time.Time{}, false, fmt.Errorf("%w: %s", ErrUnknownStream, eventType)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		oldest time.Time
		found  bool
	)
	for _, part := range s.partitions[eventType] {
		for _, evt := range part {
			if !found || evt.OccurredAt.Before(oldest) {
				oldest = evt.OccurredAt
				found = true
			}
		}
	}
	return oldest, found, nil
}

func (s *MemoryEventStore) AggregateBucket(ctx context.Context, agg stats.AggregationConfig, q query.Query, periods []time.Time) ([]DimensionGroup, error) {
	stream, ok := s.registry.Event(agg.EventType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, agg.EventType)
	}

	events, err := s.collect(stream, q, periods)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*groupAccum)
	for _, evt := range events {
		dim, ok := dimensionValue(evt.Data, agg.DimensionField)
		if !ok {
			continue // no dimension value, nothing to group under
		}
		acc, ok := groups[dim]
		if !ok {
			acc = newGroupAccum(agg.Metrics)
			groups[dim] = acc
		}
		acc.fold(evt, agg.Metrics)
	}

	dims := make([]string, 0, len(groups))
	for dim := range groups {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	out := make([]DimensionGroup, 0, len(dims))
	for _, dim := range dims {
		out = append(out, groups[dim].result(dim, agg.Metrics))
	}
	return out, nil
}

func (s *MemoryEventStore) ListEvents(ctx context.Context, q query.Query, limit int) ([]*v1.Event, error) {
	stream, ok := s.registry.Event(q.EventType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, q.EventType)
	}

	s.mu.RLock()
	periods := make([]time.Time, 0, len(s.partitions[q.EventType]))
	for k := range s.partitions[q.EventType] {
		periods = append(periods, time.Unix(k, 0).UTC())
	}
	s.mu.RUnlock()

	events, err := s.collect(stream, q, periods)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// collect gathers matching events from the given periods, sorted by
// occurred_at then ID so folds and listings are deterministic.
func (s *MemoryEventStore) collect(stream stats.EventConfig, q query.Query, periods []time.Time) ([]*v1.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*v1.Event
	for _, p := range periods {
		part, ok := s.partitions[stream.Type][stream.Interval.Start(p).Unix()]
		if !ok {
			continue // period saw no events
		}
		for _, evt := range part {
			if q.Matches(evt) {
				out = append(out, cloneEvent(evt))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// groupAccum folds one dimension group: count, per-metric state and the
// latest event seen.
type groupAccum struct {
	count  int64
	sums   map[string]decimal.Decimal
	mins   map[string]decimal.Decimal
	maxs   map[string]decimal.Decimal
	seen   map[string]bool
	sets   map[string]map[string]struct{}
	latest *v1.Event
}

func newGroupAccum(metrics []stats.MetricSpec) *groupAccum {
	acc := &groupAccum{
		sums: make(map[string]decimal.Decimal),
		mins: make(map[string]decimal.Decimal),
		maxs: make(map[string]decimal.Decimal),
		seen: make(map[string]bool),
		sets: make(map[string]map[string]struct{}),
	}
	for _, m := range metrics {
		if m.Operator == stats.OpCardinality {
			acc.sets[m.Name] = make(map[string]struct{})
		}
	}
	return acc
}

func (a *groupAccum) fold(evt *v1.Event, metrics []stats.MetricSpec) {
	a.count++
	if a.latest == nil || evt.OccurredAt.After(a.latest.OccurredAt) {
		a.latest = evt
	}

	for _, m := range metrics {
		switch m.Operator {
		case stats.OpSum:
			a.sums[m.Name] = a.sums[m.Name].Add(stats.FieldDecimal(evt.Data, m.Field))
		case stats.OpMin:
			v, ok := stats.NumericValue(evt.Data[m.Field])
			if ok && (!a.seen[m.Name] || v.LessThan(a.mins[m.Name])) {
				a.mins[m.Name] = v
				a.seen[m.Name] = true
			}
		case stats.OpMax:
			v, ok := stats.NumericValue(evt.Data[m.Field])
			if ok && (!a.seen[m.Name] || v.GreaterThan(a.maxs[m.Name])) {
				a.maxs[m.Name] = v
				a.seen[m.Name] = true
			}
		case stats.OpCardinality:
			if v, ok := evt.Data[m.Field]; ok && v != nil {
				a.sets[m.Name][fmt.Sprintf("%v", v)] = struct{}{}
			}
		}
	}
}

func (a *groupAccum) result(dim string, metrics []stats.MetricSpec) DimensionGroup {
	out := DimensionGroup{
		Dimension: dim,
		Count:     a.count,
		Latest:    a.latest,
	}
	if len(metrics) > 0 {
		out.Metrics = make(map[string]decimal.Decimal, len(metrics))
	}
	for _, m := range metrics {
		switch m.Operator {
		case stats.OpSum:
			out.Metrics[m.Name] = a.sums[m.Name]
		case stats.OpMin:
			out.Metrics[m.Name] = a.mins[m.Name]
		case stats.OpMax:
			out.Metrics[m.Name] = a.maxs[m.Name]
		case stats.OpCardinality:
			out.Metrics[m.Name] = decimal.NewFromInt(int64(len(a.sets[m.Name])))
		}
	}
	return out
}

// dimensionValue renders the grouping value for an event. Missing, nil and
// empty-string values yield no group, matching how a SQL GROUP BY over a
// JSON field drops rows without it.
func dimensionValue(data map[string]interface{}, field string) (string, bool) {
	v, ok := data[field]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return "", false
		}
		return s, true
	}
	return fmt.Sprintf("%v", v), true
}

func cloneEvent(e *v1.Event) *v1.Event {
	c := *e
	if e.Data != nil {
		c.Data = make(map[string]interface{}, len(e.Data))
		for k, v := range e.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// MemoryAggregateStore is an in-memory implementation of AggregateStore.
// A target's table springs into existence with its first written document,
// never before; TargetExists stays false on an idle system.
type MemoryAggregateStore struct {
	mu sync.RWMutex
	// tables[target][docID]
	tables map[string]map[string]stats.AggregateDocument
}

// NewMemoryAggregateStore creates an empty aggregate store.
func NewMemoryAggregateStore() *MemoryAggregateStore {
	return &MemoryAggregateStore{
		tables: make(map[string]map[string]stats.AggregateDocument),
	}
}

var _ AggregateStore = (*MemoryAggregateStore)(nil)

func (s *MemoryAggregateStore) UpsertDocuments(ctx context.Context, target string, docs []stats.AggregateDocument) (map[string]int64, error) {
	versions := make(map[string]int64, len(docs))
	if len(docs) == 0 {
		return versions, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.tables[target]
	if !ok {
		table = make(map[string]stats.AggregateDocument)
		s.tables[target] = table
	}

	for _, doc := range docs {
		version := int64(1)
		if prev, exists := table[doc.DocID]; exists {
			version = prev.Version + 1
		}
		doc.Version = version
		table[doc.DocID] = doc
		versions[doc.DocID] = version
	}
	return versions, nil
}

func (s *MemoryAggregateStore) TargetExists(ctx context.Context, target string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tables[target]
	return ok, nil
}

func (s *MemoryAggregateStore) QueryDocuments(ctx context.Context, target string, dimension string, from, through time.Time) ([]stats.AggregateDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []stats.AggregateDocument
	for _, doc := range s.tables[target] {
		if dimension != "" && doc.Dimension != dimension {
			continue
		}
		if !from.IsZero() && doc.BucketStart.Before(from) {
			continue
		}
		if !through.IsZero() && !doc.BucketStart.Before(through) {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BucketStart.Equal(out[j].BucketStart) {
			return out[i].BucketStart.Before(out[j].BucketStart)
		}
		return out[i].Dimension < out[j].Dimension
	})
	return out, nil
}

func (s *MemoryAggregateStore) TopDimensions(ctx context.Context, target string, from, through time.Time, limit int) ([]stats.DimensionTotal, error) {
	docs, err := s.QueryDocuments(ctx, target, "", from, through)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for _, doc := range docs {
		counts[doc.Dimension] += doc.Count
	}

	out := make([]stats.DimensionTotal, 0, len(counts))
	for dim, count := range counts {
		out = append(out, stats.DimensionTotal{Dimension: dim, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Dimension < out[j].Dimension
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryBookmarkStore is an in-memory implementation of BookmarkStore.
// Rows are append-only per aggregation, like the bookmark table.
type MemoryBookmarkStore struct {
	mu    sync.Mutex
	rows  map[string][]Bookmark
	nowFn func() time.Time
}

// NewMemoryBookmarkStore creates an empty bookmark store.
func NewMemoryBookmarkStore() *MemoryBookmarkStore {
	return &MemoryBookmarkStore{
		rows:  make(map[string][]Bookmark),
		nowFn: time.Now,
	}
}

var _ BookmarkStore = (*MemoryBookmarkStore)(nil)

func (s *MemoryBookmarkStore) Latest(ctx context.Context, aggregation string) (Bookmark, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[aggregation]
	if len(rows) == 0 {
		return Bookmark{}, false, nil
	}
	return rows[len(rows)-1], true, nil
}

func (s *MemoryBookmarkStore) Append(ctx context.Context, aggregation string, position time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[aggregation] = append(s.rows[aggregation], Bookmark{
		Aggregation: aggregation,
		Position:    position.UTC(),
		WrittenAt:   s.nowFn().UTC(),
	})
	return nil
}

func (s *MemoryBookmarkStore) Clear(ctx context.Context, aggregation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rows, aggregation)
	return nil
}

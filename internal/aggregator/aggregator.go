// Package aggregator drives the incremental aggregation runs: it resolves
// where a target left off, enumerates the calendar buckets touched since,
// recounts each bucket from the raw event partitions and overwrites the
// bucket's aggregate documents, then advances the bookmark.
//
// Runs are idempotent. Every bucket is always recounted whole, never
// incremented, so replaying a run (or resuming after a crash that lost the
// bookmark write) converges on the same values at a higher document version.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/statkit/statkit/internal/core/interval"
	"github.com/statkit/statkit/internal/core/query"
	"github.com/statkit/statkit/internal/core/stats"
	"github.com/statkit/statkit/internal/core/storage"
)

const defaultWorkerCount = 4

// Deps are the collaborators an Aggregator runs against. Now is the
// injectable clock; nil means time.Now. Workers bounds concurrent bucket
// recounts; 0 uses the default.
type Deps struct {
	Events    storage.EventStore
	Stats     storage.AggregateStore
	Bookmarks storage.BookmarkStore
	Now       func() time.Time
	Workers   int
}

// Aggregator executes runs for one configured aggregation.
type Aggregator struct {
	cfg       stats.AggregationConfig
	stream    stats.EventConfig
	deps      Deps
	modifiers []query.Modifier
	workers   int
}

// Option tunes an Aggregator at construction.
type Option func(*Aggregator)

// WithWorkers bounds how many buckets are recounted concurrently.
func WithWorkers(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// New builds an Aggregator for one aggregation over its source stream.
// Interval ordering is enforced here as well as at registry load, and the
// configured query modifier names are resolved up front so a typo fails
// construction rather than the first run.
func New(cfg stats.AggregationConfig, stream stats.EventConfig, deps Deps, opts ...Option) (*Aggregator, error) {
	if cfg.EventType != stream.Type {
		return nil, fmt.Errorf("aggregation %q reads stream %q, got config for %q", cfg.Name, cfg.EventType, stream.Type)
	}
	if err := interval.Validate(cfg.Interval, stream.Interval); err != nil {
		return nil, fmt.Errorf("aggregation %q: %w", cfg.Name, err)
	}
	if deps.Events == nil || deps.Stats == nil || deps.Bookmarks == nil {
		return nil, fmt.Errorf("aggregation %q: all stores must be provided", cfg.Name)
	}

	modifiers, err := query.ByName(cfg.QueryModifiers...)
	if err != nil {
		return nil, fmt.Errorf("aggregation %q: %w", cfg.Name, err)
	}

	a := &Aggregator{
		cfg:       cfg,
		stream:    stream,
		deps:      deps,
		modifiers: modifiers,
		workers:   defaultWorkerCount,
	}
	if deps.Workers > 0 {
		a.workers = deps.Workers
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// RunOption adjusts a single run.
type RunOption func(*runConfig)

type runConfig struct {
	from     time.Time
	through  time.Time
	hasRange bool
	bookmark bool
}

// WithRange replaces bookmark resolution with an explicit window: every
// bucket touching [start, end] is recounted whole. Useful for targeted
// backfills; combine with WithoutBookmark to leave the incremental cursor
// alone.
func WithRange(start, end time.Time) RunOption {
	return func(rc *runConfig) {
		rc.from = start
		rc.through = end
		rc.hasRange = true
	}
}

// WithoutBookmark runs without advancing the cursor afterwards.
func WithoutBookmark() RunOption {
	return func(rc *runConfig) {
		rc.bookmark = false
	}
}

// RunReport summarizes one completed run.
type RunReport struct {
	Buckets   int       // buckets enumerated and recounted
	Documents int       // aggregate documents written
	Bookmark  time.Time // cursor position appended; zero when none was written
}

// Run executes one aggregation pass.
//
// The bookmark lands on the start of the bucket containing the run's upper
// limit: the boundary of the last fully completed bucket. The bucket the
// bookmark opens is still in flight and gets recounted on the next run. Any
// failure aborts with the bookmark untouched, so a wholesale retry is safe.
func (a *Aggregator) Run(ctx context.Context, opts ...RunOption) (RunReport, error) {
	rc := runConfig{bookmark: true}
	for _, opt := range opts {
		opt(&rc)
	}

	now := a.nowUTC()

	partitions, err := a.deps.Events.Partitions(ctx, a.cfg.EventType)
	if err != nil {
		return RunReport{}, fmt.Errorf("list partitions: %w", err)
	}
	if len(partitions) == 0 {
		// Nothing was ever ingested: no bookmark, no stats table, no trace.
		slog.Debug("[Aggregator] No event partitions, nothing to aggregate",
			"aggregation", a.cfg.Name)
		return RunReport{}, nil
	}

	lower, ok, err := a.resolveLower(ctx, rc)
	if err != nil {
		return RunReport{}, err
	}
	if !ok {
		slog.Debug("[Aggregator] Partitions hold no events, nothing to aggregate",
			"aggregation", a.cfg.Name)
		return RunReport{}, nil
	}

	upper := now
	if rc.hasRange && rc.through.UTC().Before(now) {
		upper = rc.through.UTC()
	}

	buckets := interval.Buckets(lower, upper, a.cfg.Interval)
	if len(buckets) == 0 {
		return RunReport{}, nil
	}

	slog.Info("[Aggregator] Starting run",
		"aggregation", a.cfg.Name,
		"from", lower,
		"through", upper,
		"buckets", len(buckets))

	stamp := now
	docCounts := make([]int, len(buckets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, bucketStart := range buckets {
		i, bucketStart := i, bucketStart
		g.Go(func() error {
			n, err := a.runBucket(gctx, bucketStart, stamp)
			if err != nil {
				return fmt.Errorf("bucket %s: %w", a.cfg.Interval.Label(bucketStart), err)
			}
			docCounts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RunReport{}, err
	}

	documents := 0
	for _, n := range docCounts {
		documents += n
	}

	var bookmarkAt time.Time
	if rc.bookmark {
		bookmarkAt = a.cfg.Interval.Start(upper)
		if err := a.deps.Bookmarks.Append(ctx, a.cfg.Name, bookmarkAt); err != nil {
			return RunReport{}, fmt.Errorf("append bookmark: %w", err)
		}
	}

	slog.Info("[Aggregator] Run complete",
		"aggregation", a.cfg.Name,
		"buckets", len(buckets),
		"documents", documents,
		"bookmark", bookmarkAt)

	return RunReport{
		Buckets:   len(buckets),
		Documents: documents,
		Bookmark:  bookmarkAt,
	}, nil
}

// resolveLower picks where this run starts reading: the explicit range,
// else the latest bookmark, else the oldest stored event. The second return
// is false when there is nothing to read at all.
func (a *Aggregator) resolveLower(ctx context.Context, rc runConfig) (time.Time, bool, error) {
	if rc.hasRange {
		return rc.from.UTC(), true, nil
	}

	bm, ok, err := a.deps.Bookmarks.Latest(ctx, a.cfg.Name)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read bookmark: %w", err)
	}
	if ok {
		return bm.Position, true, nil
	}

	oldest, ok, err := a.deps.Events.OldestEventTime(ctx, a.cfg.EventType)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("oldest event: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	return oldest, true, nil
}

// runBucket recounts one bucket whole and overwrites its documents.
// An empty bucket writes nothing: past buckets are legitimately quiet and
// the current bucket simply has nothing to say yet.
func (a *Aggregator) runBucket(ctx context.Context, bucketStart time.Time, stamp time.Time) (int, error) {
	bucketEnd := a.cfg.Interval.Next(bucketStart)
	q := query.Apply(query.New(a.cfg.EventType, bucketStart, bucketEnd), a.modifiers...)
	span := interval.Span(bucketStart, a.cfg.Interval, a.stream.Interval)

	groups, err := a.deps.Events.AggregateBucket(ctx, a.cfg, q, span)
	if err != nil {
		return 0, err
	}
	if len(groups) == 0 {
		return 0, nil
	}

	docs := make([]stats.AggregateDocument, 0, len(groups))
	for _, group := range groups {
		docs = append(docs, a.document(group, bucketStart, stamp))
	}

	if _, err := a.deps.Stats.UpsertDocuments(ctx, a.cfg.TargetType, docs); err != nil {
		return 0, err
	}

	slog.Debug("[Aggregator] Bucket recounted",
		"aggregation", a.cfg.Name,
		"bucket", a.cfg.Interval.Label(bucketStart),
		"documents", len(docs))
	return len(docs), nil
}

// document assembles the aggregate document for one dimension group.
func (a *Aggregator) document(group storage.DimensionGroup, bucketStart, stamp time.Time) stats.AggregateDocument {
	doc := stats.AggregateDocument{
		DocID:       stats.DocID(group.Dimension, bucketStart, a.cfg.Interval),
		Target:      a.cfg.TargetType,
		Dimension:   group.Dimension,
		BucketStart: bucketStart,
		Count:       group.Count,
		Metrics:     group.Metrics,
		UpdatedAt:   stamp,
	}

	if group.Latest != nil && len(a.cfg.CopyFields) > 0 {
		fields := make(map[string]interface{}, len(a.cfg.CopyFields))
		for docField, payloadField := range a.cfg.CopyFields {
			if v, ok := group.Latest.Lookup(payloadField); ok {
				fields[docField] = v
			}
		}
		if len(fields) > 0 {
			doc.Fields = fields
		}
	}
	return doc
}

func (a *Aggregator) nowUTC() time.Time {
	if a.deps.Now != nil {
		return a.deps.Now().UTC()
	}
	return time.Now().UTC()
}

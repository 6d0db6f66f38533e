package aggregator

import (
	"context"
	"log/slog"
	"time"

	"github.com/statkit/statkit/internal/core/stats"
)

// Scheduler triggers aggregation runs on a fixed interval.
// It is a single loop, so runs for the same names never overlap and the
// bookmark rows of each aggregation only ever have one writer.
type Scheduler struct {
	interval time.Duration
	registry *stats.Registry
	deps     Deps
	names    []string
}

// NewScheduler creates a periodic runner for the named aggregations
// (empty names = all registered).
func NewScheduler(interval time.Duration, registry *stats.Registry, deps Deps, names []string) *Scheduler {
	return &Scheduler{
		interval: interval,
		registry: registry,
		deps:     deps,
		names:    names,
	}
}

// Start begins periodic aggregation.
// Runs until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting aggregation scheduler",
		"interval", s.interval,
		"aggregations", s.scope())

	// Initial run to catch up with any backlog before the first tick
	totalRuns, totalDocs := 0, 0
	docs, ok := s.runOnce(ctx)
	totalDocs += docs
	if ok {
		totalRuns++
	}

	for {
		select {
		case <-ticker.C:
			docs, ok := s.runOnce(ctx)
			totalDocs += docs
			if ok {
				totalRuns++
			}
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)",
				"completed_runs", totalRuns,
				"documents_written", totalDocs)
			return nil
		}
	}
}

// runOnce executes one aggregation batch and reports how many documents it
// wrote and whether the whole batch succeeded. Failures are logged, not
// fatal: the untouched bookmarks make the next tick a clean retry.
func (s *Scheduler) runOnce(ctx context.Context) (int, bool) {
	reports, err := AggregateEvents(ctx, s.registry, s.deps, s.names)

	documents := 0
	for _, report := range reports {
		documents += report.Documents
	}

	if err != nil {
		if ctx.Err() != nil {
			return documents, false
		}
		slog.Error("[Scheduler] Aggregation run failed",
			"error", err,
			"completed_aggregations", len(reports))
		return documents, false
	}
	return documents, true
}

func (s *Scheduler) scope() interface{} {
	if len(s.names) == 0 {
		return "all"
	}
	return s.names
}

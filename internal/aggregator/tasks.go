package aggregator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/statkit/statkit/internal/core/stats"
)

// AggregateEvents runs the named aggregations once, sequentially, and
// returns their reports keyed by name. An empty names slice means every
// registered aggregation, in registry order.
//
// The first failure aborts the remainder. Bookmarks of aggregations that
// already completed stand; each name owns its own cursor, so a partial
// batch resumes cleanly on the next invocation.
func AggregateEvents(ctx context.Context, registry *stats.Registry, deps Deps, names []string, opts ...RunOption) (map[string]RunReport, error) {
	if len(names) == 0 {
		for _, cfg := range registry.Aggregations() {
			names = append(names, cfg.Name)
		}
	}

	reports := make(map[string]RunReport, len(names))
	for _, name := range names {
		cfg, ok := registry.Aggregation(name)
		if !ok {
			return reports, fmt.Errorf("unknown aggregation %q", name)
		}
		stream, ok := registry.Event(cfg.EventType)
		if !ok {
			return reports, fmt.Errorf("aggregation %q: unknown event type %q", name, cfg.EventType)
		}

		agg, err := New(cfg, stream, deps)
		if err != nil {
			return reports, err
		}

		report, err := agg.Run(ctx, opts...)
		if err != nil {
			return reports, fmt.Errorf("aggregation %q: %w", name, err)
		}
		reports[name] = report
	}

	slog.Debug("[Aggregator] Batch complete", "aggregations", len(reports))
	return reports, nil
}

// Package partition derives the physical table names behind per-period event
// storage and per-target aggregate storage.
//
// Events land in one table per period, named events_<type>_<suffix>, where
// the suffix encodes the period start at the configured index granularity
// (events_file_download_2017_06_02). Aggregates live in a single table per
// target, stats_<target>.
package partition

import (
	"strings"
	"time"

	"github.com/statkit/statkit/internal/core/interval"
)

const (
	eventPrefix = "events_"
	statsPrefix = "stats_"
)

// Fragment lowercases name and maps every rune outside [a-z0-9] to an
// underscore, producing a safe identifier fragment.
func Fragment(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// EventTable names the partition holding events of the given type for the
// period containing t.
func EventTable(eventType string, t time.Time, iv interval.Interval) string {
	return EventTablePrefix(eventType) + iv.Suffix(t)
}

// EventTablePrefix is the common prefix of every partition for eventType,
// trailing underscore included.
func EventTablePrefix(eventType string) string {
	return eventPrefix + Fragment(eventType) + "_"
}

// StatsTable names the aggregate table for a target.
func StatsTable(target string) string {
	return statsPrefix + Fragment(target)
}

// ParsePeriod extracts the period start from a partition table name. The
// second return is false when the name does not belong to eventType at the
// given granularity.
func ParsePeriod(table, eventType string, iv interval.Interval) (time.Time, bool) {
	suffix, ok := strings.CutPrefix(table, EventTablePrefix(eventType))
	if !ok {
		return time.Time{}, false
	}
	t, err := iv.ParseSuffix(suffix)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

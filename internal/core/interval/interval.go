package interval

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Interval is a calendar aggregation granularity. Month and year steps follow
// the calendar, so arithmetic goes through Start/Next rather than
// time.Duration math.
type Interval string

const (
	Day   Interval = "day"
	Month Interval = "month"
	Year  Interval = "year"
)

// ErrIntervalOrder is returned when an aggregation interval is finer than the
// index interval of the event partitions it reads from. An aggregation bucket
// must span whole partitions.
var ErrIntervalOrder = errors.New("aggregation interval must be coarser than or equal to index interval")

// rank orders intervals from finest to coarsest.
var rank = map[Interval]int{Day: 0, Month: 1, Year: 2}

// Parse converts a config string into an Interval.
func Parse(s string) (Interval, error) {
	iv := Interval(strings.ToLower(strings.TrimSpace(s)))
	if !iv.Valid() {
		return "", fmt.Errorf("unknown interval %q (expected day, month or year)", s)
	}
	return iv, nil
}

// Valid reports whether iv is one of the supported intervals.
func (iv Interval) Valid() bool {
	_, ok := rank[iv]
	return ok
}

func (iv Interval) String() string { return string(iv) }

// Validate checks the interval ordering constraint at configuration time.
// Returns ErrIntervalOrder (wrapped) when aggregation is finer than index.
func Validate(aggregation, index Interval) error {
	if !aggregation.Valid() {
		return fmt.Errorf("invalid aggregation interval %q", string(aggregation))
	}
	if !index.Valid() {
		return fmt.Errorf("invalid index interval %q", string(index))
	}
	if rank[aggregation] < rank[index] {
		return fmt.Errorf("%w: %s < %s", ErrIntervalOrder, aggregation, index)
	}
	return nil
}

// Start truncates t to the beginning of its bucket, in UTC.
func (iv Interval) Start(t time.Time) time.Time {
	t = t.UTC()
	switch iv {
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Year:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Next returns the start of the bucket following the one containing t.
func (iv Interval) Next(t time.Time) time.Time {
	start := iv.Start(t)
	switch iv {
	case Month:
		return start.AddDate(0, 1, 0)
	case Year:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Label formats a bucket start for document identifiers: "2017-06-02",
// "2017-06" or "2017" depending on granularity.
func (iv Interval) Label(t time.Time) string {
	return t.UTC().Format(labelLayout(iv))
}

// Suffix formats a period start for table names: "2017_06_02", "2017_06"
// or "2017".
func (iv Interval) Suffix(t time.Time) string {
	return t.UTC().Format(suffixLayout(iv))
}

// ParseSuffix is the inverse of Suffix.
func (iv Interval) ParseSuffix(s string) (time.Time, error) {
	t, err := time.Parse(suffixLayout(iv), s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s period suffix %q: %w", iv, s, err)
	}
	return t, nil
}

func labelLayout(iv Interval) string {
	switch iv {
	case Month:
		return "2006-01"
	case Year:
		return "2006"
	default:
		return "2006-01-02"
	}
}

func suffixLayout(iv Interval) string {
	switch iv {
	case Month:
		return "2006_01"
	case Year:
		return "2006"
	default:
		return "2006_01_02"
	}
}

// Buckets enumerates bucket starts covering (from, through], oldest first.
// The bucket containing from is included: a bookmark sits on the boundary of
// the last fully processed bucket, and the bucket it opens must be recounted.
func Buckets(from, through time.Time, iv Interval) []time.Time {
	from, through = from.UTC(), through.UTC()
	if through.Before(from) {
		return nil
	}
	var out []time.Time
	for b := iv.Start(from); !b.After(through); b = iv.Next(b) {
		out = append(out, b)
	}
	return out
}

// Span lists the index-interval periods an aggregation bucket draws events
// from: the bucket itself when granularities match, every sub-period when the
// bucket is coarser (a month over daily partitions yields each day).
// bucketStart must be aligned to the aggregation interval and the pair must
// satisfy Validate.
func Span(bucketStart time.Time, aggregation, index Interval) []time.Time {
	end := aggregation.Next(bucketStart)
	var out []time.Time
	for p := index.Start(bucketStart); p.Before(end); p = index.Next(p) {
		out = append(out, p)
	}
	return out
}

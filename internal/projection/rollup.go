package projection

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/statkit/statkit/internal/core/interval"
	"github.com/statkit/statkit/internal/core/stats"
)

// rollupForGranularity reshapes stored documents to the requested
// granularity. Rollups collapse the time axis only: dimensions never merge
// into each other, so a coarser listing still carries one row per dimension
// per bucket.
func (s *Service) rollupForGranularity(
	docs []stats.AggregateDocument,
	agg stats.AggregationConfig,
	granularity string,
	dimension string,
	start, end time.Time,
) []BucketValue {
	switch granularity {
	case GranularityTotal:
		return s.rollupTotal(docs, agg, dimension, start, end)
	case GranularityBucket:
		return s.rollupToInterval(docs, agg, agg.Interval, dimension, start, end)
	default:
		iv, err := interval.Parse(granularity)
		if err != nil {
			// Validated before dispatch; fall back to the stored granularity.
			iv = agg.Interval
		}
		return s.rollupToInterval(docs, agg, iv, dimension, start, end)
	}
}

// rollupTotal folds the whole range into one row per dimension. Sums and
// counts add across buckets; min/max compare. With no matching documents the
// result is a single zero row, so a caller always gets a value back.
func (s *Service) rollupTotal(
	docs []stats.AggregateDocument,
	agg stats.AggregationConfig,
	dimension string,
	start, end time.Time,
) []BucketValue {
	if len(docs) == 0 {
		return []BucketValue{{
			BucketStart: start,
			BucketEnd:   end,
			Dimension:   dimension,
			Count:       0,
		}}
	}

	ops := metricOperators(agg.Metrics)
	groups := make(map[string]*docAccum)
	for _, doc := range docs {
		acc, ok := groups[doc.Dimension]
		if !ok {
			acc = newDocAccum()
			groups[doc.Dimension] = acc
		}
		acc.fold(doc, ops)
	}

	dims := make([]string, 0, len(groups))
	for dim := range groups {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	out := make([]BucketValue, 0, len(dims))
	for _, dim := range dims {
		out = append(out, groups[dim].value(dim, start, end))
	}
	return out
}

// rollupToInterval groups documents into iv-sized buckets per dimension.
// When iv matches the stored granularity every group holds a single document
// and the listing passes values through unchanged. When a single dimension is
// requested, buckets the range covers but no document fills come back as zero
// rows, so a plotted series has no holes.
func (s *Service) rollupToInterval(
	docs []stats.AggregateDocument,
	agg stats.AggregationConfig,
	iv interval.Interval,
	dimension string,
	start, end time.Time,
) []BucketValue {
	type groupKey struct {
		dimension string
		bucket    time.Time
	}

	ops := metricOperators(agg.Metrics)
	groups := make(map[groupKey]*docAccum)
	for _, doc := range docs {
		key := groupKey{dimension: doc.Dimension, bucket: iv.Start(doc.BucketStart)}
		acc, ok := groups[key]
		if !ok {
			acc = newDocAccum()
			groups[key] = acc
		}
		acc.fold(doc, ops)
	}

	var out []BucketValue
	for key, acc := range groups {
		out = append(out, acc.value(key.dimension, key.bucket, iv.Next(key.bucket)))
	}

	if dimension != "" {
		out = fillEmptyBuckets(out, iv, dimension, start, end)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].BucketStart.Equal(out[j].BucketStart) {
			return out[i].BucketStart.Before(out[j].BucketStart)
		}
		return out[i].Dimension < out[j].Dimension
	})
	return out
}

// fillEmptyBuckets adds zero rows for every iv bucket in [start, end) the
// fold produced nothing for.
func fillEmptyBuckets(values []BucketValue, iv interval.Interval, dimension string, start, end time.Time) []BucketValue {
	present := make(map[time.Time]struct{}, len(values))
	for _, v := range values {
		present[v.BucketStart] = struct{}{}
	}

	for b := iv.Start(start); b.Before(end); b = iv.Next(b) {
		if _, ok := present[b]; ok {
			continue
		}
		values = append(values, BucketValue{
			BucketStart: b,
			BucketEnd:   iv.Next(b),
			Dimension:   dimension,
			Count:       0,
		})
	}
	return values
}

// docAccum folds stored documents into one response row.
type docAccum struct {
	count        int64
	metrics      map[string]decimal.Decimal
	seen         map[string]bool
	fields       map[string]interface{}
	fieldsBucket time.Time
	version      int64
}

func newDocAccum() *docAccum {
	return &docAccum{
		metrics: make(map[string]decimal.Decimal),
		seen:    make(map[string]bool),
	}
}

// fold merges one document into the accumulator. Sums and cardinalities add
// across buckets (a summed cardinality is an upper bound: per-bucket sets
// cannot union after the fact), min/max compare, copied fields follow the
// latest bucket and the version keeps the highest value seen.
func (a *docAccum) fold(doc stats.AggregateDocument, ops map[string]string) {
	a.count += doc.Count

	for name, v := range doc.Metrics {
		if !a.seen[name] {
			a.metrics[name] = v
			a.seen[name] = true
			continue
		}
		switch ops[name] {
		case stats.OpMin:
			if v.LessThan(a.metrics[name]) {
				a.metrics[name] = v
			}
		case stats.OpMax:
			if v.GreaterThan(a.metrics[name]) {
				a.metrics[name] = v
			}
		default: // sum, cardinality
			a.metrics[name] = a.metrics[name].Add(v)
		}
	}

	if doc.Fields != nil && (a.fields == nil || doc.BucketStart.After(a.fieldsBucket)) {
		a.fields = doc.Fields
		a.fieldsBucket = doc.BucketStart
	}
	if doc.Version > a.version {
		a.version = doc.Version
	}
}

func (a *docAccum) value(dimension string, bucketStart, bucketEnd time.Time) BucketValue {
	v := BucketValue{
		BucketStart: bucketStart,
		BucketEnd:   bucketEnd,
		Dimension:   dimension,
		Count:       a.count,
		Fields:      a.fields,
		Version:     a.version,
	}
	if len(a.metrics) > 0 {
		v.Metrics = a.metrics
	}
	return v
}

// metricOperators indexes an aggregation's metric specs by metric name.
func metricOperators(specs []stats.MetricSpec) map[string]string {
	ops := make(map[string]string, len(specs))
	for _, m := range specs {
		ops[m.Name] = m.Operator
	}
	return ops
}

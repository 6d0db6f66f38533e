package projection

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/statkit/statkit/internal/core/interval"
	"github.com/statkit/statkit/internal/core/stats"
)

func dayDoc(dimension string, day time.Time, count int64, volume int64) stats.AggregateDocument {
	return stats.AggregateDocument{
		DocID:       stats.DocID(dimension, day, interval.Day),
		Target:      "file-download",
		Dimension:   dimension,
		BucketStart: day,
		Count:       count,
		Metrics:     map[string]decimal.Decimal{"volume": decimal.NewFromInt(volume)},
		Version:     1,
	}
}

func TestRollupToInterval_YearOverDays(t *testing.T) {
	agg := stats.AggregationConfig{
		Name:           "file-download-agg",
		EventType:      "file-download",
		Interval:       interval.Day,
		DimensionField: "file_id",
		Metrics:        []stats.MetricSpec{{Name: "volume", Operator: stats.OpSum, Field: "size"}},
	}

	docs := []stats.AggregateDocument{
		dayDoc("F1", time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC), 4, 40),
		dayDoc("F1", time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC), 6, 60),
		dayDoc("F2", time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC), 1, 5),
	}

	svc := &Service{}
	values := svc.rollupToInterval(docs, agg, interval.Year, "",
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, values, 2)

	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "F1", values[0].Dimension)
	require.Equal(t, jan1, values[0].BucketStart)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), values[0].BucketEnd)
	require.Equal(t, int64(10), values[0].Count)
	require.Equal(t, "100", values[0].Metrics["volume"].String())

	require.Equal(t, "F2", values[1].Dimension)
	require.Equal(t, int64(1), values[1].Count)
}

func TestRollupMergesMinAndMaxMetrics(t *testing.T) {
	agg := stats.AggregationConfig{
		Name:           "latency-agg",
		EventType:      "api-call",
		Interval:       interval.Day,
		DimensionField: "route",
		Metrics: []stats.MetricSpec{
			{Name: "fastest", Operator: stats.OpMin, Field: "elapsed"},
			{Name: "slowest", Operator: stats.OpMax, Field: "elapsed"},
		},
	}

	day1 := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	docs := []stats.AggregateDocument{
		{
			DocID: stats.DocID("/search", day1, interval.Day), Target: "api-call",
			Dimension: "/search", BucketStart: day1, Count: 10,
			Metrics: map[string]decimal.Decimal{
				"fastest": decimal.NewFromInt(12),
				"slowest": decimal.NewFromInt(340),
			},
		},
		{
			DocID: stats.DocID("/search", day2, interval.Day), Target: "api-call",
			Dimension: "/search", BucketStart: day2, Count: 4,
			Metrics: map[string]decimal.Decimal{
				"fastest": decimal.NewFromInt(8),
				"slowest": decimal.NewFromInt(90),
			},
		},
	}

	svc := &Service{}
	values := svc.rollupToInterval(docs, agg, interval.Month, "",
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, values, 1)
	require.Equal(t, "8", values[0].Metrics["fastest"].String())
	require.Equal(t, "340", values[0].Metrics["slowest"].String())
	require.Equal(t, int64(14), values[0].Count)
}

func TestRollupFieldsFollowLatestBucket(t *testing.T) {
	agg := stats.AggregationConfig{
		Name:           "file-download-agg",
		EventType:      "file-download",
		Interval:       interval.Day,
		DimensionField: "file_id",
	}

	day1 := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	docs := []stats.AggregateDocument{
		{
			DocID: stats.DocID("F1", day2, interval.Day), Target: "file-download",
			Dimension: "F1", BucketStart: day2, Count: 1,
			Fields: map[string]interface{}{"file_key": "renamed.pdf"},
		},
		{
			DocID: stats.DocID("F1", day1, interval.Day), Target: "file-download",
			Dimension: "F1", BucketStart: day1, Count: 1,
			Fields: map[string]interface{}{"file_key": "original.pdf"},
		},
	}

	svc := &Service{}
	values := svc.rollupToInterval(docs, agg, interval.Month, "",
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, values, 1)
	require.Equal(t, "renamed.pdf", values[0].Fields["file_key"])
}

func TestRollupVersionIsMaxAcrossDocs(t *testing.T) {
	agg := stats.AggregationConfig{
		Name:           "file-download-agg",
		EventType:      "file-download",
		Interval:       interval.Day,
		DimensionField: "file_id",
	}

	day1 := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	docs := []stats.AggregateDocument{
		{DocID: stats.DocID("F1", day1, interval.Day), Target: "file-download", Dimension: "F1", BucketStart: day1, Count: 1, Version: 1},
		{DocID: stats.DocID("F1", day2, interval.Day), Target: "file-download", Dimension: "F1", BucketStart: day2, Count: 1, Version: 3},
	}

	svc := &Service{}
	values := svc.rollupToInterval(docs, agg, interval.Month, "",
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, values, 1)
	require.Equal(t, int64(3), values[0].Version)
}

func TestFillEmptyBuckets_AlignedRangeAddsNoTrailingBucket(t *testing.T) {
	start := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)

	values := fillEmptyBuckets(nil, interval.Day, "F1", start, end)
	require.Len(t, values, 2)
	require.Equal(t, start, values[0].BucketStart)
	require.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), values[1].BucketStart)
	for _, v := range values {
		require.Equal(t, "F1", v.Dimension)
		require.Zero(t, v.Count)
	}
}

func TestFillEmptyBuckets_KeepsExistingValues(t *testing.T) {
	start := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)

	existing := []BucketValue{{
		BucketStart: start,
		BucketEnd:   start.AddDate(0, 0, 1),
		Dimension:   "F1",
		Count:       7,
	}}
	values := fillEmptyBuckets(existing, interval.Day, "F1", start, end)
	require.Len(t, values, 2)

	var counts []int64
	for _, v := range values {
		counts = append(counts, v.Count)
	}
	require.ElementsMatch(t, []int64{7, 0}, counts)
}

func TestRollupTotal_EmptyRangeYieldsSingleZeroRow(t *testing.T) {
	agg := stats.AggregationConfig{
		Name:           "file-download-agg",
		EventType:      "file-download",
		Interval:       interval.Day,
		DimensionField: "file_id",
	}
	start := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)

	svc := &Service{}
	values := svc.rollupTotal(nil, agg, "F9", start, end)
	require.Len(t, values, 1)
	require.Equal(t, "F9", values[0].Dimension)
	require.Equal(t, start, values[0].BucketStart)
	require.Equal(t, end, values[0].BucketEnd)
	require.Zero(t, values[0].Count)
}

package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/statkit/statkit/internal/core/interval"
	"github.com/statkit/statkit/internal/core/stats"
	"github.com/statkit/statkit/internal/core/storage"
)

const defaultTopLimit = 10

var (
	// ErrInvalidQuery marks request validation errors that should return HTTP 400.
	ErrInvalidQuery = errors.New("invalid stats query")

	// ErrUnknownAggregation marks queries naming an unregistered aggregation.
	ErrUnknownAggregation = errors.New("unknown aggregation")
)

// Service implements the stats read API: aggregate documents listed at their
// stored granularity or rolled up coarser, and dimension rankings. It reads
// the documents the aggregation runs materialized; events that have not been
// folded yet are invisible here until the next run.
type Service struct {
	store   storage.AggregateStore
	streams *stats.Registry
	nowFn   func() time.Time
}

// NewService creates a new projection service over the aggregate store.
func NewService(store storage.AggregateStore, streams *stats.Registry) *Service {
	return &Service{
		store:   store,
		streams: streams,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// QueryStats lists aggregate documents for one aggregation across a time
// range, rolled up to the requested granularity.
func (s *Service) QueryStats(ctx context.Context, req StatsQueryRequest) (*StatsQueryResponse, error) {
	req, err := s.normalizeAndValidate(req)
	if err != nil {
		return nil, err
	}

	agg, ok := s.streams.Aggregation(req.Aggregation)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAggregation, req.Aggregation)
	}

	if err := validateGranularity(req.Granularity, agg.Interval); err != nil {
		return nil, err
	}

	// An aggregation that has never written stays observably empty; the
	// store returns no documents for an absent target table.
	docs, err := s.store.QueryDocuments(ctx, agg.TargetTable(), req.Dimension, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("query aggregate documents: %w", err)
	}

	buckets := s.rollupForGranularity(docs, agg, req.Granularity, req.Dimension, req.Start, req.End)

	dataThrough := s.computeDataThrough(req.End, docs, agg.Interval)
	dataThrough = minTime(dataThrough, s.nowFn())

	staleness := int(s.nowFn().Sub(dataThrough).Seconds())
	if staleness < 0 {
		staleness = 0
	}

	return &StatsQueryResponse{
		Aggregation:      req.Aggregation,
		Target:           agg.TargetType,
		Interval:         agg.Interval.String(),
		Dimension:        req.Dimension,
		Start:            req.Start,
		End:              req.End,
		Granularity:      req.Granularity,
		DataThrough:      dataThrough,
		StalenessSeconds: staleness,
		Buckets:          buckets,
	}, nil
}

// TopDimensions ranks an aggregation's dimension values by summed count over
// a time range.
func (s *Service) TopDimensions(ctx context.Context, req TopQueryRequest) (*TopDimensionsResponse, error) {
	if req.Aggregation == "" {
		return nil, invalidQueryf("aggregation is required")
	}
	if !req.End.After(req.Start) {
		return nil, invalidQueryf("end time must be after start time")
	}
	if req.Limit < 0 {
		return nil, invalidQueryf("limit must not be negative")
	}
	if req.Limit == 0 {
		req.Limit = defaultTopLimit
	}

	agg, ok := s.streams.Aggregation(req.Aggregation)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAggregation, req.Aggregation)
	}

	rows, err := s.store.TopDimensions(ctx, agg.TargetTable(), req.Start.UTC(), req.End.UTC(), req.Limit)
	if err != nil {
		return nil, fmt.Errorf("query top dimensions: %w", err)
	}
	if rows == nil {
		rows = []stats.DimensionTotal{}
	}

	return &TopDimensionsResponse{
		Aggregation: req.Aggregation,
		Start:       req.Start,
		End:         req.End,
		Limit:       req.Limit,
		Dimensions:  rows,
	}, nil
}

func (s *Service) normalizeAndValidate(req StatsQueryRequest) (StatsQueryRequest, error) {
	if req.Granularity == "" {
		req.Granularity = GranularityBucket
	}

	if req.Aggregation == "" {
		return req, invalidQueryf("aggregation is required")
	}
	if !req.End.After(req.Start) {
		return req, invalidQueryf("end time must be after start time")
	}

	req.Start = req.Start.UTC()
	req.End = req.End.UTC()
	return req, nil
}

// validateGranularity accepts "bucket", "total" or a calendar interval no
// finer than the stored one: stored buckets can be grouped, never split.
func validateGranularity(granularity string, stored interval.Interval) error {
	switch granularity {
	case GranularityBucket, GranularityTotal:
		return nil
	}

	requested, err := interval.Parse(granularity)
	if err != nil {
		return invalidQueryf("invalid granularity: %s (must be bucket, total, day, month or year)", granularity)
	}
	if err := interval.Validate(requested, stored); err != nil {
		return invalidQueryf("granularity %s is finer than the stored %s buckets", granularity, stored)
	}
	return nil
}

// computeDataThrough reports how far the materialized documents reach: the
// end of the latest stored bucket, capped at the requested end. An empty
// result still means the query window is covered.
func (s *Service) computeDataThrough(end time.Time, docs []stats.AggregateDocument, stored interval.Interval) time.Time {
	if len(docs) == 0 {
		return end
	}

	var dataThrough time.Time
	for _, doc := range docs {
		bucketEnd := stored.Next(doc.BucketStart)
		if bucketEnd.After(dataThrough) {
			dataThrough = bucketEnd
		}
	}
	if dataThrough.After(end) {
		return end
	}
	return dataThrough
}

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

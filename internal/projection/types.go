package projection

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/statkit/statkit/internal/core/stats"
)

// Granularities accepted by the stats query, beyond the calendar intervals.
// "bucket" lists documents at their stored granularity; "total" collapses the
// whole range into one row per dimension.
const (
	GranularityBucket = "bucket"
	GranularityTotal  = "total"
)

// StatsQueryRequest represents the query parameters for a stats listing.
type StatsQueryRequest struct {
	Aggregation string    `uri:"aggregation" binding:"required"`
	Start       time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	End         time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	Dimension   string    `form:"dimension"`
	Granularity string    `form:"granularity"` // default: "bucket"
}

// BucketValue is one rolled-up data point in a stats response. At the native
// granularity it mirrors a stored document; rolled up coarser it folds every
// document the row covers, and rows at the range edges cover only the
// in-range slice of their bucket.
type BucketValue struct {
	BucketStart time.Time                  `json:"bucket_start"`
	BucketEnd   time.Time                  `json:"bucket_end"`
	Dimension   string                     `json:"dimension,omitempty"`
	Count       int64                      `json:"count"`
	Metrics     map[string]decimal.Decimal `json:"metrics,omitempty"`
	Fields      map[string]interface{}     `json:"fields,omitempty"`
	Version     int64                      `json:"version,omitempty"`
}

// StatsQueryResponse is the response for a stats listing.
type StatsQueryResponse struct {
	Aggregation      string        `json:"aggregation"`
	Target           string        `json:"target"`
	Interval         string        `json:"interval"` // stored bucket granularity
	Dimension        string        `json:"dimension,omitempty"`
	Start            time.Time     `json:"start"`
	End              time.Time     `json:"end"`
	Granularity      string        `json:"granularity"`
	DataThrough      time.Time     `json:"data_through"`
	StalenessSeconds int           `json:"staleness_seconds"`
	Buckets          []BucketValue `json:"buckets"`
}

// TopQueryRequest represents the query parameters for a top-dimensions
// ranking.
type TopQueryRequest struct {
	Aggregation string    `uri:"aggregation" binding:"required"`
	Start       time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	End         time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit       int       `form:"limit"`
}

// TopDimensionsResponse is the response for a top-dimensions ranking.
type TopDimensionsResponse struct {
	Aggregation string                 `json:"aggregation"`
	Start       time.Time              `json:"start"`
	End         time.Time              `json:"end"`
	Limit       int                    `json:"limit"`
	Dimensions  []stats.DimensionTotal `json:"dimensions"`
}

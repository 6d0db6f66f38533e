package stats

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/statkit/statkit/internal/core/interval"
)

// Supported metric operators. Each derived metric folds one payload field
// across every event in a bucket; the event count is implicit and always
// present on the document.
const (
	OpSum         = "sum"
	OpMin         = "min"
	OpMax         = "max"
	OpCardinality = "cardinality"
)

// ValidOperator reports whether op names a supported metric operator.
func ValidOperator(op string) bool {
	switch op {
	case OpSum, OpMin, OpMax, OpCardinality:
		return true
	}
	return false
}

// MetricSpec derives one named metric from a payload field.
type MetricSpec struct {
	Name     string `yaml:"name"`
	Operator string `yaml:"operator"` // sum, min, max, cardinality
	Field    string `yaml:"field"`    // payload field the operator folds
}

// AggregateDocument is one materialized bucket for one dimension value.
// Documents are addressed by DocID and overwritten whole on every recount;
// Version counts the writes the store has accepted for that ID.
type AggregateDocument struct {
	DocID       string                     `json:"doc_id"`
	Target      string                     `json:"target"`
	Dimension   string                     `json:"dimension"`
	BucketStart time.Time                  `json:"bucket_start"`
	Count       int64                      `json:"count"`
	Metrics     map[string]decimal.Decimal `json:"metrics,omitempty"`
	Fields      map[string]interface{}     `json:"fields,omitempty"`
	Version     int64                      `json:"version"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// DocID addresses the document for one dimension value in one bucket:
// "<dimension>-<bucket label>". Deterministic, so recounting a bucket
// overwrites the previous document instead of duplicating it.
func DocID(dimension string, bucketStart time.Time, iv interval.Interval) string {
	return dimension + "-" + iv.Label(bucketStart)
}

// DimensionTotal is one row of a ranked dimension projection: a dimension's
// count summed across every bucket in a range.
type DimensionTotal struct {
	Dimension string `json:"dimension"`
	Count     int64  `json:"count"`
}

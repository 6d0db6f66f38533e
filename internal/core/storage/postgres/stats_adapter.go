package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/statkit/statkit/internal/core/partition"
	"github.com/statkit/statkit/internal/core/stats"
	"github.com/statkit/statkit/internal/core/storage"
)

// StatsAdapter implements storage.AggregateStore for PostgreSQL.
//
// Each target owns one table (stats_<target>), created on the first document
// write. Documents are overwritten whole; the upsert bumps the version column
// in SQL so concurrent recounts cannot lose an increment.
type StatsAdapter struct {
	db *sql.DB

	mu      sync.Mutex
	created map[string]struct{} // stats DDL already executed this process
}

// NewStatsAdapter wraps an existing connection, usually the event adapter's
// via DB().
func NewStatsAdapter(db *sql.DB) *StatsAdapter {
	return &StatsAdapter{
		db:      db,
		created: make(map[string]struct{}),
	}
}

var _ storage.AggregateStore = (*StatsAdapter)(nil)

func (s *StatsAdapter) ensureTable(ctx context.Context, table string) error {
	if err := checkIdent(table); err != nil {
		return err
	}

	s.mu.Lock()
	_, done := s.created[table]
	s.mu.Unlock()
	if done {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(ddlStatsTable, table)); err != nil {
		return fmt.Errorf("create stats table %s: %w", table, err)
	}

	s.mu.Lock()
	s.created[table] = struct{}{}
	s.mu.Unlock()

	slog.Debug("[Postgres] Stats table ready", "table", table)
	return nil
}

// UpsertDocuments overwrites the batch in one transaction and returns the
// version each write landed at, keyed by document ID. An empty batch creates
// nothing; a target only materializes once it has documents.
func (s *StatsAdapter) UpsertDocuments(ctx context.Context, target string, docs []stats.AggregateDocument) (map[string]int64, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	table := partition.StatsTable(target)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("upsert documents: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(queryUpsertDocument, table))
	if err != nil {
		return nil, fmt.Errorf("upsert documents: prepare: %w", err)
	}
	defer stmt.Close()

	versions := make(map[string]int64, len(docs))
	for _, doc := range docs {
		metricsJSON, err := marshalMetrics(doc.Metrics)
		if err != nil {
			return nil, fmt.Errorf("upsert documents: marshal metrics for %s: %w", doc.DocID, err)
		}
		fieldsJSON, err := marshalFields(doc.Fields)
		if err != nil {
			return nil, fmt.Errorf("upsert documents: marshal fields for %s: %w", doc.DocID, err)
		}

		var version int64
		if err := stmt.QueryRowContext(ctx,
			doc.DocID,
			doc.Dimension,
			doc.BucketStart,
			doc.Count,
			metricsJSON,
			fieldsJSON,
			doc.UpdatedAt,
		).Scan(&version); err != nil {
			return nil, fmt.Errorf("upsert documents: write %s: %w", doc.DocID, err)
		}
		versions[doc.DocID] = version
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("upsert documents: commit: %w", err)
	}

	slog.Debug("[Postgres] Upserted aggregate documents",
		"target", target,
		"documents", len(docs))
	return versions, nil
}

// TargetExists reports whether the target's stats table has been created.
// False until the first aggregation write.
func (s *StatsAdapter) TargetExists(ctx context.Context, target string) (bool, error) {
	table := partition.StatsTable(target)
	if err := checkIdent(table); err != nil {
		return false, err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, queryTableExists, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("target exists: %w", err)
	}
	return exists, nil
}

// QueryDocuments returns documents with bucket start in [from, through),
// optionally narrowed to one dimension, ordered by bucket start then
// dimension. A target that was never written reads as empty, not as an
// error.
func (s *StatsAdapter) QueryDocuments(ctx context.Context, target string, dimension string, from, through time.Time) ([]stats.AggregateDocument, error) {
	exists, err := s.TargetExists(ctx, target)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	table := partition.StatsTable(target)
	args := &argList{}
	var where []string
	if dimension != "" {
		where = append(where, "dimension = "+args.add(dimension))
	}
	if !from.IsZero() {
		where = append(where, "bucket_start >= "+args.add(from.UTC()))
	}
	if !through.IsZero() {
		where = append(where, "bucket_start < "+args.add(through.UTC()))
	}

	stmt := fmt.Sprintf(querySelectDocuments, table)
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY bucket_start ASC, dimension ASC"

	rows, err := s.db.QueryContext(ctx, stmt, args.args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []stats.AggregateDocument
	for rows.Next() {
		doc, err := scanDocumentRow(rows, target)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query documents: iterate: %w", err)
	}
	return docs, nil
}

// TopDimensions ranks dimension values by summed count over [from, through).
// Ties break alphabetically so rankings are stable across runs.
func (s *StatsAdapter) TopDimensions(ctx context.Context, target string, from, through time.Time, limit int) ([]stats.DimensionTotal, error) {
	exists, err := s.TargetExists(ctx, target)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	table := partition.StatsTable(target)
	args := &argList{}
	var where []string
	if !from.IsZero() {
		where = append(where, "bucket_start >= "+args.add(from.UTC()))
	}
	if !through.IsZero() {
		where = append(where, "bucket_start < "+args.add(through.UTC()))
	}

	stmt := fmt.Sprintf("SELECT dimension, SUM(doc_count)::bigint AS total FROM %s", table)
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " GROUP BY dimension ORDER BY total DESC, dimension ASC"
	if limit > 0 {
		stmt += " LIMIT " + args.add(limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args.args...)
	if err != nil {
		return nil, fmt.Errorf("top dimensions: %w", err)
	}
	defer rows.Close()

	var totals []stats.DimensionTotal
	for rows.Next() {
		var tot stats.DimensionTotal
		if err := rows.Scan(&tot.Dimension, &tot.Count); err != nil {
			return nil, fmt.Errorf("top dimensions: scan: %w", err)
		}
		totals = append(totals, tot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("top dimensions: iterate: %w", err)
	}
	return totals, nil
}

func marshalMetrics(m map[string]decimal.Decimal) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil // SQL NULL
	}
	return json.Marshal(m)
}

func marshalFields(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil // SQL NULL
	}
	return json.Marshal(m)
}

func scanDocumentRow(rows scanner, target string) (stats.AggregateDocument, error) {
	var doc stats.AggregateDocument
	var metricsJSON, fieldsJSON []byte
	if err := rows.Scan(
		&doc.DocID,
		&doc.Dimension,
		&doc.BucketStart,
		&doc.Count,
		&metricsJSON,
		&fieldsJSON,
		&doc.Version,
		&doc.UpdatedAt,
	); err != nil {
		return stats.AggregateDocument{}, fmt.Errorf("scan document: %w", err)
	}

	doc.Target = target
	doc.BucketStart = doc.BucketStart.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &doc.Metrics); err != nil {
			return stats.AggregateDocument{}, fmt.Errorf("scan document %s: unmarshal metrics: %w", doc.DocID, err)
		}
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &doc.Fields); err != nil {
			return stats.AggregateDocument{}, fmt.Errorf("scan document %s: unmarshal fields: %w", doc.DocID, err)
		}
	}
	return doc, nil
}

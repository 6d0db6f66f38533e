package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/statkit/statkit/internal/core/storage"
)

// BookmarkAdapter implements storage.BookmarkStore on the migration-managed
// stats_bookmarks table. Rows are append-only; Latest reads the newest one
// and earlier rows stay behind as an audit trail.
type BookmarkAdapter struct {
	db *sql.DB
}

func NewBookmarkAdapter(db *sql.DB) *BookmarkAdapter {
	return &BookmarkAdapter{db: db}
}

var _ storage.BookmarkStore = (*BookmarkAdapter)(nil)

// Latest returns the most recently appended bookmark for an aggregation.
// The second return is false when the aggregation has never completed a run.
func (b *BookmarkAdapter) Latest(ctx context.Context, aggregation string) (storage.Bookmark, bool, error) {
	var bm storage.Bookmark
	err := b.db.QueryRowContext(ctx, queryBookmarkLatest, aggregation).
		Scan(&bm.Aggregation, &bm.Position, &bm.WrittenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Bookmark{}, false, nil
	}
	if err != nil {
		return storage.Bookmark{}, false, fmt.Errorf("latest bookmark: %w", err)
	}

	bm.Position = bm.Position.UTC()
	bm.WrittenAt = bm.WrittenAt.UTC()
	return bm, true, nil
}

// Append records a new bookmark row without touching earlier ones.
func (b *BookmarkAdapter) Append(ctx context.Context, aggregation string, position time.Time) error {
	if _, err := b.db.ExecContext(ctx, queryBookmarkAppend,
		aggregation, position.UTC(), time.Now().UTC()); err != nil {
		return fmt.Errorf("append bookmark: %w", err)
	}

	slog.Debug("[Postgres] Bookmark appended",
		"aggregation", aggregation,
		"position", position.UTC())
	return nil
}

// Clear deletes every bookmark of an aggregation, resetting it to full
// replay on its next run.
func (b *BookmarkAdapter) Clear(ctx context.Context, aggregation string) error {
	if _, err := b.db.ExecContext(ctx, queryBookmarkClear, aggregation); err != nil {
		return fmt.Errorf("clear bookmarks: %w", err)
	}
	return nil
}

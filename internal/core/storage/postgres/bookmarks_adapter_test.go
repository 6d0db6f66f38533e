package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestBookmarkAdapter_Latest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewBookmarkAdapter(db)

	position := time.Date(2017, 6, 2, 0, 0, 0, 0, time.UTC)
	written := position.Add(3 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(queryBookmarkLatest)).
		WithArgs("file-download-agg").
		WillReturnRows(sqlmock.NewRows([]string{"aggregation", "position", "written_at"}).
			AddRow("file-download-agg", position, written))

	bm, ok, err := adapter.Latest(context.Background(), "file-download-agg")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "file-download-agg", bm.Aggregation)
	require.Equal(t, position, bm.Position)
	require.Equal(t, written, bm.WrittenAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookmarkAdapter_LatestAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewBookmarkAdapter(db)

	mock.ExpectQuery(regexp.QuoteMeta(queryBookmarkLatest)).
		WithArgs("file-download-agg").
		WillReturnRows(sqlmock.NewRows([]string{"aggregation", "position", "written_at"}))

	_, ok, err := adapter.Latest(context.Background(), "file-download-agg")
	require.NoError(t, err)
	require.False(t, ok, "an aggregation that never ran has no bookmark")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookmarkAdapter_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewBookmarkAdapter(db)

	position := time.Date(2017, 6, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(queryBookmarkAppend)).
		WithArgs("file-download-agg", position, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, adapter.Append(context.Background(), "file-download-agg", position))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookmarkAdapter_Clear(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewBookmarkAdapter(db)

	mock.ExpectExec(regexp.QuoteMeta(queryBookmarkClear)).
		WithArgs("file-download-agg").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, adapter.Clear(context.Background(), "file-download-agg"))
	require.NoError(t, mock.ExpectationsWereMet())
}

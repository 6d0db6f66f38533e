package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/statkit/statkit/internal/api/v1"
	"github.com/statkit/statkit/internal/core/interval"
	"github.com/statkit/statkit/internal/core/query"
	"github.com/statkit/statkit/internal/core/stats"
	"github.com/statkit/statkit/internal/core/storage"
	"github.com/statkit/statkit/internal/ingestion/queue"
)

// stubSource feeds hand-built messages to the indexer.
type stubSource struct {
	ch chan *queue.Message
}

func newStubSource(buffer int) *stubSource {
	return &stubSource{ch: make(chan *queue.Message, buffer)}
}

func (s *stubSource) Fetch(ctx context.Context) (*queue.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.ch:
		if !ok {
			return nil, queue.ErrClosed
		}
		return msg, nil
	}
}

func (s *stubSource) Close() error {
	close(s.ch)
	return nil
}

func newIndexerRegistry(t *testing.T) *stats.Registry {
	t.Helper()
	streams, err := stats.NewRegistry([]stats.EventConfig{{
		Type:           "file-download",
		Interval:       interval.Day,
		IdentityFields: []string{"bucket_id", "file_id"},
	}}, nil)
	require.NoError(t, err)
	return streams
}

func rawEvent(t *testing.T, fileID string, visitor string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"type":        "file-download",
		"occurred_at": "2025-06-15T10:30:00Z",
		"visitor_id":  visitor,
		"data":        map[string]interface{}{"bucket_id": "B1", "file_id": fileID},
	})
	require.NoError(t, err)
	return body
}

func TestIndexer_BatchesAndAcks(t *testing.T) {
	streams := newIndexerRegistry(t)
	store := storage.NewMemoryEventStore(streams)
	source := newStubSource(8)

	ix, err := NewIndexer(source, store, streams, IndexerOptions{
		BatchSize:     2,
		FlushInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	var acked atomic.Int32
	ack := func() error { acked.Add(1); return nil }
	for _, fileID := range []string{"F1", "F2", "F3"} {
		source.ch <- queue.NewMessage(rawEvent(t, fileID, "v-1"), ack, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.Run(ctx) }()

	// Two land on the batch-size flush, the third on the ticker.
	require.Eventually(t, func() bool {
		events, listErr := store.ListEvents(context.Background(), query.New("file-download", time.Time{}, time.Time{}), 10)
		return listErr == nil && len(events) == 3 && acked.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(2 * time.Second):
		t.Fatal("indexer did not stop after cancel")
	}

	events, err := store.ListEvents(context.Background(), query.New("file-download", time.Time{}, time.Time{}), 10)
	require.NoError(t, err)
	for _, evt := range events {
		require.NotEmpty(t, evt.ID)
		require.False(t, evt.IngestedAt.IsZero())
	}
}

// failingBulkStore refuses batch writes so deliveries must be requeued.
type failingBulkStore struct {
	*storage.MemoryEventStore
}

func (f *failingBulkStore) SaveEvents(ctx context.Context, events []*v1.Event) error {
	return errors.New("connection refused")
}

func TestIndexer_RequeuesOnStoreFailure(t *testing.T) {
	streams := newIndexerRegistry(t)
	store := &failingBulkStore{storage.NewMemoryEventStore(streams)}
	source := newStubSource(8)

	ix, err := NewIndexer(source, store, streams, IndexerOptions{
		BatchSize:     2,
		FlushInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	var requeued atomic.Int32
	requeue := func() error { requeued.Add(1); return nil }
	source.ch <- queue.NewMessage(rawEvent(t, "F1", "v-1"), nil, requeue)
	source.ch <- queue.NewMessage(rawEvent(t, "F2", "v-1"), nil, requeue)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.Run(ctx) }()

	require.Eventually(t, func() bool {
		return requeued.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(2 * time.Second):
		t.Fatal("indexer did not stop after cancel")
	}
}

func TestIndexer_DropsMalformed(t *testing.T) {
	streams := newIndexerRegistry(t)
	store := storage.NewMemoryEventStore(streams)
	source := newStubSource(8)

	ix, err := NewIndexer(source, store, streams, IndexerOptions{
		BatchSize:     1,
		FlushInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	var acked, requeued atomic.Int32
	ack := func() error { acked.Add(1); return nil }
	requeue := func() error { requeued.Add(1); return nil }

	// Garbage JSON, an unregistered stream, then a good event.
	source.ch <- queue.NewMessage([]byte("not json"), ack, requeue)
	unknown, _ := json.Marshal(map[string]interface{}{
		"type":        "page-view",
		"occurred_at": "2025-06-15T10:30:00Z",
	})
	source.ch <- queue.NewMessage(unknown, ack, requeue)
	source.ch <- queue.NewMessage(rawEvent(t, "F1", "v-1"), ack, requeue)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.Run(ctx) }()

	require.Eventually(t, func() bool {
		events, listErr := store.ListEvents(context.Background(), query.New("file-download", time.Time{}, time.Time{}), 10)
		return listErr == nil && len(events) == 1 && acked.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)

	// Undecodable messages are settled, never redelivered.
	require.Equal(t, int32(0), requeued.Load())

	cancel()
	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(2 * time.Second):
		t.Fatal("indexer did not stop after cancel")
	}
}

func TestIndexer_SourceClosedStopsRun(t *testing.T) {
	streams := newIndexerRegistry(t)
	store := storage.NewMemoryEventStore(streams)
	source := newStubSource(1)

	ix, err := NewIndexer(source, store, streams, IndexerOptions{})
	require.NoError(t, err)

	require.NoError(t, source.Close())

	done := make(chan error, 1)
	go func() { done <- ix.Run(context.Background()) }()

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(2 * time.Second):
		t.Fatal("indexer did not stop after source close")
	}
}

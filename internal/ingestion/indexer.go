package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/statkit/statkit/internal/api/v1"
	"github.com/statkit/statkit/internal/core/stats"
	"github.com/statkit/statkit/internal/core/storage"
	"github.com/statkit/statkit/internal/ingestion/queue"
)

const (
	defaultIndexerBatchSize = 500
	defaultFlushInterval    = 5 * time.Second
)

// IndexerOptions bound how much the indexer buffers before a bulk write.
type IndexerOptions struct {
	// BatchSize flushes the buffer once this many events are pending.
	BatchSize int

	// FlushInterval flushes whatever is pending on this cadence, so a slow
	// stream still reaches storage promptly.
	FlushInterval time.Duration
}

// Indexer drains a message source of raw event envelopes, runs each stream's
// processor chain and bulk-writes batches into the event store. Failed
// batches are requeued whole; deterministic IDs make the redelivery an
// overwrite rather than a duplicate.
type Indexer struct {
	source        queue.Source
	store         storage.EventStore
	streams       *stats.Registry
	chains        map[string][]Processor
	batchSize     int
	flushInterval time.Duration
}

// pendingEvent pairs a decoded event with the delivery it settles.
type pendingEvent struct {
	msg *queue.Message
	evt *v1.Event
}

// NewIndexer wires an indexer over the given source and store.
func NewIndexer(source queue.Source, store storage.EventStore, streams *stats.Registry, opts IndexerOptions) (*Indexer, error) {
	if source == nil {
		panic("ingestion: source must not be nil")
	}
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	if streams == nil {
		panic("ingestion: stream registry must not be nil")
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultIndexerBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}

	chains, err := resolveChains(streams)
	if err != nil {
		return nil, err
	}

	return &Indexer{
		source:        source,
		store:         store,
		streams:       streams,
		chains:        chains,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
	}, nil
}

// Run drains the source until the context ends, flushing pending events
// before returning.
func (ix *Indexer) Run(ctx context.Context) error {
	slog.Info("[Indexer] Starting queue indexer",
		"batch_size", ix.batchSize,
		"flush_interval", ix.flushInterval)

	ticker := time.NewTicker(ix.flushInterval)
	defer ticker.Stop()

	pending := make([]pendingEvent, 0, ix.batchSize)

	for {
		select {
		case <-ctx.Done():
			// Final drain runs on a fresh context; the run context is dead.
			pending = ix.flush(context.Background(), pending)
			slog.Info("[Indexer] Stopping (context cancelled)")
			return nil
		case <-ticker.C:
			pending = ix.flush(ctx, pending)
		default:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, ix.flushInterval)
		msg, err := ix.source.Fetch(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				continue // idle or shutting down; loop back to the flush check
			}
			if errors.Is(err, queue.ErrClosed) {
				pending = ix.flush(ctx, pending)
				slog.Info("[Indexer] Source closed, stopping")
				return nil
			}
			slog.Error("[Indexer] Fetch failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		evt, decodeErr := ix.decode(msg.Body)
		if decodeErr != nil {
			// Poison messages are settled, not requeued: redelivery would
			// fail the same way forever.
			slog.Warn("[Indexer] Dropping undecodable message", "error", decodeErr)
			if ackErr := msg.Ack(); ackErr != nil {
				slog.Error("[Indexer] Failed to settle dropped message", "error", ackErr)
			}
			continue
		}

		pending = append(pending, pendingEvent{msg: msg, evt: evt})
		if len(pending) >= ix.batchSize {
			pending = ix.flush(ctx, pending)
		}
	}
}

// decode unmarshals a raw envelope, validates it and runs its stream's
// processor chain.
func (ix *Indexer) decode(body []byte) (*v1.Event, error) {
	var evt v1.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event envelope: %w", err)
	}

	chain, ok := ix.chains[evt.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUnknownStream, evt.Type)
	}

	stream, _ := ix.streams.Event(evt.Type)
	if err := runChain(chain, stream, &evt); err != nil {
		return nil, fmt.Errorf("processor chain: %w", err)
	}
	return &evt, nil
}

// flush bulk-writes the pending events and settles their deliveries: ack on
// success, requeue whole on failure. Returns the emptied buffer.
func (ix *Indexer) flush(ctx context.Context, pending []pendingEvent) []pendingEvent {
	if len(pending) == 0 {
		return pending
	}

	events := make([]*v1.Event, len(pending))
	for i, p := range pending {
		events[i] = p.evt
	}

	if err := ix.store.SaveEvents(ctx, events); err != nil {
		slog.Error("[Indexer] Batch write failed - requeueing", "events", len(events), "error", err)
		for _, p := range pending {
			if reqErr := p.msg.Requeue(); reqErr != nil {
				slog.Error("[Indexer] Failed to requeue message", "error", reqErr)
			}
		}
		return pending[:0]
	}

	for _, p := range pending {
		if ackErr := p.msg.Ack(); ackErr != nil {
			slog.Error("[Indexer] Failed to ack message", "error", ackErr)
		}
	}
	slog.Debug("[Indexer] Batch indexed", "events", len(events))
	return pending[:0]
}

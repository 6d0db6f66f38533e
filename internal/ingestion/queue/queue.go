// Package queue adapts message brokers into a single blocking source the
// events indexer drains. Delivery is at-least-once: a message is either
// acknowledged after its batch lands in storage or requeued for redelivery,
// and deterministic event IDs make a redelivered message an overwrite.
package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned by Fetch once the underlying consumer has shut down.
var ErrClosed = errors.New("message source closed")

// Message is one raw event envelope taken off a broker, still owned by it
// until Ack or Requeue settles the delivery.
type Message struct {
	Body    []byte
	ack     func() error
	requeue func() error
}

// NewMessage wraps a broker delivery. Either settle function may be nil when
// the broker has no corresponding operation.
func NewMessage(body []byte, ack, requeue func() error) *Message {
	return &Message{Body: body, ack: ack, requeue: requeue}
}

// Ack settles the delivery as processed.
func (m *Message) Ack() error {
	if m.ack == nil {
		return nil
	}
	return m.ack()
}

// Requeue hands the delivery back for another attempt.
func (m *Message) Requeue() error {
	if m.requeue == nil {
		return nil
	}
	return m.requeue()
}

// Source is a blocking stream of broker deliveries.
type Source interface {
	// Fetch blocks until a message arrives, the context ends, or the
	// source closes (ErrClosed).
	Fetch(ctx context.Context) (*Message, error)

	// Close shuts the consumer down. In-flight unsettled messages are
	// redelivered by the broker.
	Close() error
}

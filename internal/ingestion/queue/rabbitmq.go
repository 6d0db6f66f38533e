package queue

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQSource consumes event envelopes from a durable RabbitMQ queue with
// manual acknowledgement.
type RabbitMQSource struct {
	conn       *amqp.Connection
	chn        *amqp.Channel
	deliveries <-chan amqp.Delivery
	queue      string
}

// NewRabbitMQSource dials the broker, declares the queue and starts
// consuming. prefetch bounds the unacknowledged deliveries in flight; 0
// leaves the broker default.
func NewRabbitMQSource(url, queueName string, prefetch int) (*RabbitMQSource, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	chn, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Durable queue so buffered events survive a broker restart.
	if _, err := chn.QueueDeclare(
		queueName, // name of queue
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	); err != nil {
		chn.Close()  //nolint:errcheck
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to declare queue %q: %w", queueName, err)
	}

	if prefetch > 0 {
		if err := chn.Qos(prefetch, 0, false); err != nil {
			chn.Close()  //nolint:errcheck
			conn.Close() //nolint:errcheck
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	deliveries, err := chn.Consume(
		queueName, // queue
		"",        // consumer
		false,     // auto-ack: settled per message after the batch lands
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		chn.Close()  //nolint:errcheck
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to consume queue %q: %w", queueName, err)
	}

	slog.Info("[RabbitMQ] Consuming queue", "queue", queueName, "prefetch", prefetch)

	return &RabbitMQSource{
		conn:       conn,
		chn:        chn,
		deliveries: deliveries,
		queue:      queueName,
	}, nil
}

// Fetch blocks until a delivery arrives or the context ends.
func (s *RabbitMQSource) Fetch(ctx context.Context) (*Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-s.deliveries:
		if !ok {
			return nil, ErrClosed
		}
		return NewMessage(d.Body,
			func() error { return d.Ack(false) },
			func() error { return d.Nack(false, true) },
		), nil
	}
}

// Close shuts down the channel and connection.
func (s *RabbitMQSource) Close() error {
	if err := s.chn.Close(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	slog.Info("[RabbitMQ] Source closed", "queue", s.queue)
	return nil
}

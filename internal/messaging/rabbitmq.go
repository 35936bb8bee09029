package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitConfig struct {
	URL               string
	ConfirmationQueue string
	Prefetch          int
}

// RabbitPublisher publishes persistent JSON messages to one durable queue
// over a long-lived channel that is re-opened after a failure.
type RabbitPublisher struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitPublisher(cfg RabbitConfig) (*RabbitPublisher, error) {
	p := &RabbitPublisher{url: cfg.URL, queue: cfg.ConfirmationQueue}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}

	slog.Info("Connected to RabbitMQ", "queue", cfg.ConfirmationQueue)
	return p, nil
}

// NewLazyRabbitPublisher returns a publisher that connects on its first PublishJSON call.
// Used when the broker is down at startup so that publishes fail per message.
func NewLazyRabbitPublisher(cfg RabbitConfig) *RabbitPublisher {
	return &RabbitPublisher{url: cfg.URL, queue: cfg.ConfirmationQueue}
}

func (p *RabbitPublisher) connectLocked() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue %s: %w", p.queue, err)
	}
	p.conn = conn
	p.ch = ch
	return nil
}

func (p *RabbitPublisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// PublishJSON marshals v and publishes it as a persistent message.
func (p *RabbitPublisher) PublishJSON(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		p.closeLocked()
		if err := p.connectLocked(); err != nil {
			return fmt.Errorf("failed to reconnect publisher: %w", err)
		}
	}

	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.closeLocked()
		return fmt.Errorf("failed to publish to queue %s: %w", p.queue, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

// RabbitConsumer drains one durable queue with manual acks.
type RabbitConsumer struct {
	url      string
	queue    string
	prefetch int
}

func NewRabbitConsumer(cfg RabbitConfig) *RabbitConsumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	return &RabbitConsumer{url: cfg.URL, queue: cfg.ConfirmationQueue, prefetch: prefetch}
}

// Run consumes until ctx is cancelled, reconnecting with exponential backoff.
// A handler error rejects the delivery without requeue.
func (c *RabbitConsumer) Run(ctx context.Context, handle func(ctx context.Context, body []byte) error) error {
	backoff := time.Second
	for {
		err := c.consume(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}

		slog.Error("RabbitMQ consume loop ended, reconnecting",
			"queue", c.queue, "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *RabbitConsumer) consume(ctx context.Context, handle func(ctx context.Context, body []byte) error) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		slog.Warn("RabbitMQ set QoS failed", "error", err)
	}

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}

	msgs, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", c.queue, err)
	}

	slog.Info("Consuming RabbitMQ queue", "queue", c.queue, "prefetch", c.prefetch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handle(ctx, d.Body); err != nil {
				slog.Error("RabbitMQ message handling failed", "queue", c.queue, "error", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

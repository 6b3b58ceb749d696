package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// amqpQueue is the RabbitMQ backend. It declares a durable queue on the
// default exchange, publishes persistent messages with publisher
// confirms, and consumes with manual acknowledgements.
type amqpQueue struct {
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

func newAMQPQueue(ctx context.Context, cfg Config, logger *zap.Logger) (*amqpQueue, error) {
	q := &amqpQueue{config: cfg, logger: logger}
	if err := q.connect(ctx); err != nil {
		return nil, err
	}
	logger.Info("queue connected",
		zap.String("driver", string(DriverAMQP)),
		zap.String("queue", cfg.Name))
	return q, nil
}

func (q *amqpQueue) connect(ctx context.Context) error {
	conn, err := amqp.Dial(q.config.URL)
	if err != nil {
		return fmt.Errorf("queue: dialing rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("queue: opening channel: %w", err)
	}
	if err := channel.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("queue: enabling publisher confirms: %w", err)
	}
	if _, err := channel.QueueDeclare(q.config.Name, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("queue: declaring queue %q: %w", q.config.Name, err)
	}

	q.mu.Lock()
	q.conn = conn
	q.channel = channel
	q.mu.Unlock()
	return nil
}

func (q *amqpQueue) Publish(ctx context.Context, body []byte) error {
	q.mu.Lock()
	channel := q.channel
	closed := q.closed
	q.mu.Unlock()
	if closed || channel == nil {
		return ErrClosed
	}

	confirm, err := channel.PublishWithDeferredConfirmWithContext(ctx, "", q.config.Name, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		observePublish(string(DriverAMQP), err)
		return fmt.Errorf("queue: publishing: %w", err)
	}
	if _, err := confirm.WaitContext(ctx); err != nil {
		observePublish(string(DriverAMQP), err)
		return fmt.Errorf("queue: waiting for publish confirm: %w", err)
	}
	observePublish(string(DriverAMQP), nil)
	return nil
}

func (q *amqpQueue) Consume(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	channel := q.channel
	closed := q.closed
	q.mu.Unlock()
	if closed || channel == nil {
		return ErrClosed
	}

	if err := channel.Qos(q.config.Prefetch, 0, false); err != nil {
		return fmt.Errorf("queue: setting prefetch: %w", err)
	}
	deliveries, err := channel.Consume(q.config.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue: starting consumer: %w", err)
	}

	q.logger.Info("queue consuming",
		zap.String("driver", string(DriverAMQP)),
		zap.String("queue", q.config.Name),
		zap.Int("prefetch", q.config.Prefetch))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("queue: delivery channel closed")
			}
			if err := handler(ctx, delivery.Body); err != nil {
				observeConsume(string(DriverAMQP), err)
				q.logger.Error("handler rejected delivery, dropping", zap.Error(err))
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					q.logger.Error("nack failed", zap.Error(nackErr))
				}
				continue
			}
			observeConsume(string(DriverAMQP), nil)
			if ackErr := delivery.Ack(false); ackErr != nil {
				q.logger.Error("ack failed", zap.Error(ackErr))
			}
		}
	}
}

func (q *amqpQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.conn == nil || q.conn.IsClosed() {
		return ErrClosed
	}
	return nil
}

func (q *amqpQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if q.channel != nil && !q.channel.IsClosed() {
		_ = q.channel.Close()
	}
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn.Close()
	}
	return nil
}

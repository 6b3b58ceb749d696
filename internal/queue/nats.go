package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// natsQueue is the JetStream backend. Tasks flow over a work-queue
// stream so each message is delivered to exactly one worker, and
// acknowledged messages are removed from the stream.
type natsQueue struct {
	config  Config
	logger  *zap.Logger
	conn    *nats.Conn
	js      nats.JetStreamContext
	stream  string
	durable string
}

func newNATSQueue(ctx context.Context, cfg Config, logger *zap.Logger) (*natsQueue, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("ragd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("queue: connecting to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: creating jetstream context: %w", err)
	}

	q := &natsQueue{
		config:  cfg,
		logger:  logger,
		conn:    conn,
		js:      js,
		stream:  streamName(cfg.Name),
		durable: durableName(cfg.Name),
	}
	if err := q.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("queue connected",
		zap.String("driver", string(DriverNATS)),
		zap.String("subject", cfg.Name),
		zap.String("stream", q.stream))
	return q, nil
}

// streamName maps a subject like rag.documents to RAG_DOCUMENTS.
func streamName(subject string) string {
	return strings.ToUpper(strings.ReplaceAll(subject, ".", "_"))
}

// durableName maps a subject to a consumer name without dots, which
// JetStream does not allow in durable names.
func durableName(subject string) string {
	return strings.ReplaceAll(subject, ".", "_") + "_worker"
}

func (q *natsQueue) ensureStream() error {
	_, err := q.js.AddStream(&nats.StreamConfig{
		Name:      q.stream,
		Subjects:  []string{q.config.Name},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("queue: ensuring stream %q: %w", q.stream, err)
	}
	return nil
}

func (q *natsQueue) Publish(ctx context.Context, body []byte) error {
	if q.conn.IsClosed() {
		return ErrClosed
	}
	_, err := q.js.Publish(q.config.Name, body, nats.Context(ctx))
	observePublish(string(DriverNATS), err)
	if err != nil {
		return fmt.Errorf("queue: publishing: %w", err)
	}
	return nil
}

func (q *natsQueue) Consume(ctx context.Context, handler Handler) error {
	sub, err := q.js.PullSubscribe(q.config.Name, q.durable,
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return fmt.Errorf("queue: subscribing: %w", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	q.logger.Info("queue consuming",
		zap.String("driver", string(DriverNATS)),
		zap.String("subject", q.config.Name),
		zap.Int("prefetch", q.config.Prefetch))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgs, err := sub.Fetch(q.config.Prefetch, nats.MaxWait(2*time.Second))
		if errors.Is(err, nats.ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("queue: fetching: %w", err)
		}
		for _, msg := range msgs {
			if err := handler(ctx, msg.Data); err != nil {
				observeConsume(string(DriverNATS), err)
				q.logger.Error("handler rejected delivery, dropping", zap.Error(err))
				if termErr := msg.Term(); termErr != nil {
					q.logger.Error("term failed", zap.Error(termErr))
				}
				continue
			}
			observeConsume(string(DriverNATS), nil)
			if ackErr := msg.Ack(); ackErr != nil {
				q.logger.Error("ack failed", zap.Error(ackErr))
			}
		}
	}
}

func (q *natsQueue) Ping(ctx context.Context) error {
	if q.conn.IsClosed() {
		return ErrClosed
	}
	if !q.conn.IsConnected() {
		return fmt.Errorf("queue: nats not connected")
	}
	return nil
}

func (q *natsQueue) Close() error {
	if q.conn != nil && !q.conn.IsClosed() {
		if err := q.conn.Drain(); err != nil {
			q.conn.Close()
		}
	}
	return nil
}

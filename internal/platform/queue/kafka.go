package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
	GroupID     string
}

// KafkaQueue publishes to prefix+topic and consumes with a consumer group.
// A failed message is retried in place until it succeeds, so the group
// offset never moves past an unprocessed message.
type KafkaQueue struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	logger zerolog.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
}

func NewKafkaQueue(cfg KafkaConfig, logger zerolog.Logger) *KafkaQueue {
	return &KafkaQueue{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		logger: logger.With().Str("component", "queue").Str("backend", "kafka").Logger(),
	}
}

func (q *KafkaQueue) Publish(ctx context.Context, topic string, body []byte) error {
	err := q.writer.WriteMessages(ctx, kafka.Message{
		Topic: q.cfg.TopicPrefix + topic,
		Key:   []byte(uuid.New().String()),
		Value: body,
	})
	if err != nil {
		return fmt.Errorf("write message to %s: %w", topic, err)
	}
	return nil
}

func (q *KafkaQueue) Consume(ctx context.Context, topic string, h Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  q.cfg.Brokers,
		Topic:    q.cfg.TopicPrefix + topic,
		GroupID:  q.cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	q.mu.Lock()
	q.readers = append(q.readers, reader)
	q.mu.Unlock()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch message from %s: %w", topic, err)
		}
		msg := Message{ID: string(m.Key), Topic: topic, Body: m.Value}
		if err := q.handle(ctx, h, msg); err != nil {
			// uncommitted; redelivered to the group after restart
			return nil
		}
		if err := reader.CommitMessages(ctx, m); err != nil {
			q.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("commit failed")
		}
	}
}

// handle runs h on msg until it succeeds. It only fails when ctx ends.
func (q *KafkaQueue) handle(ctx context.Context, h Handler, msg Message) error {
	return retry(ctx, func() error { return h(ctx, msg) }, func(attempt int, err error) {
		q.logger.Error().Err(err).
			Str("topic", msg.Topic).
			Str("message_id", msg.ID).
			Int("attempt", attempt).
			Msg("message handler failed, retrying")
	})
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	errs := []error{q.writer.Close()}
	for _, r := range q.readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

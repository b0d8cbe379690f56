// Package queue carries work between the API and the background worker.
// Export requests and outbound monitoree messages are published here and
// consumed by "casewatch worker".
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	TopicExports          = "exports"
	TopicOutboundMessages = "outbound-messages"
)

type Message struct {
	ID    string
	Topic string
	Body  []byte
}

// Handler processes one message. Returning an error leaves the message for
// redelivery on backends that support it.
type Handler func(ctx context.Context, msg Message) error

type Queue interface {
	Publish(ctx context.Context, topic string, body []byte) error
	// Consume blocks, delivering messages to h until ctx is cancelled.
	Consume(ctx context.Context, topic string, h Handler) error
	Close() error
}

// PublishJSON marshals v and publishes it on topic.
func PublishJSON(ctx context.Context, q Queue, topic string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	return q.Publish(ctx, topic, body)
}

// MemoryQueue is an in-process Queue backed by buffered channels. Failed
// messages are logged and dropped.
type MemoryQueue struct {
	mu     sync.Mutex
	topics map[string]chan Message
	size   int
	logger zerolog.Logger
}

func NewMemoryQueue(size int, logger zerolog.Logger) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{
		topics: make(map[string]chan Message),
		size:   size,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

func (q *MemoryQueue) topic(name string) chan Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan Message, q.size)
		q.topics[name] = ch
	}
	return ch
}

func (q *MemoryQueue) Publish(ctx context.Context, topic string, body []byte) error {
	msg := Message{ID: uuid.New().String(), Topic: topic, Body: body}
	select {
	case q.topic(topic) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, topic string, h Handler) error {
	ch := q.topic(topic)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			if err := h(ctx, msg); err != nil {
				q.logger.Error().Err(err).Str("topic", topic).Str("message_id", msg.ID).Msg("message handler failed")
			}
		}
	}
}

// Pending reports the number of undelivered messages on topic.
func (q *MemoryQueue) Pending(topic string) int {
	return len(q.topic(topic))
}

func (q *MemoryQueue) Close() error { return nil }

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMemoryQueue_PublishConsume(t *testing.T) {
	q := NewMemoryQueue(10, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Publish(ctx, TopicExports, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if q.Pending(TopicExports) != 1 {
		t.Fatalf("expected 1 pending, got %d", q.Pending(TopicExports))
	}

	got := make(chan Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, TopicExports, func(_ context.Context, msg Message) error {
			got <- msg
			return nil
		})
	}()

	select {
	case msg := <-got:
		if string(msg.Body) != `{"a":1}` || msg.Topic != TopicExports || msg.ID == "" {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Consume returned %v", err)
	}
}

func TestMemoryQueue_TopicsAreIsolated(t *testing.T) {
	q := NewMemoryQueue(10, zerolog.Nop())
	ctx := context.Background()
	_ = q.Publish(ctx, TopicOutboundMessages, []byte("sms"))
	if q.Pending(TopicExports) != 0 {
		t.Error("exports topic should be empty")
	}
	if q.Pending(TopicOutboundMessages) != 1 {
		t.Error("outbound topic should hold one message")
	}
}

func TestMemoryQueue_HandlerErrorDoesNotStopConsumer(t *testing.T) {
	q := NewMemoryQueue(10, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = q.Publish(ctx, TopicExports, []byte("1"))
	_ = q.Publish(ctx, TopicExports, []byte("2"))

	var mu sync.Mutex
	var seen []string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		_ = q.Consume(ctx, TopicExports, func(_ context.Context, msg Message) error {
			mu.Lock()
			seen = append(seen, string(msg.Body))
			mu.Unlock()
			wg.Done()
			return errors.New("boom")
		})
	}()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Errorf("expected both messages handled, got %v", seen)
	}
}

func TestMemoryQueue_PublishRespectsContext(t *testing.T) {
	q := NewMemoryQueue(1, zerolog.Nop())
	_ = q.Publish(context.Background(), TopicExports, []byte("fill"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Publish(ctx, TopicExports, []byte("blocked")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type payload struct {
	Kind string `json:"kind"`
}

func TestPublishJSON(t *testing.T) {
	q := NewMemoryQueue(10, zerolog.Nop())
	if err := PublishJSON(context.Background(), q, TopicExports, payload{Kind: "csv_linelist"}); err != nil {
		t.Fatalf("PublishJSON: %v", err)
	}
	msg := <-q.topic(TopicExports)
	if string(msg.Body) != `{"kind":"csv_linelist"}` {
		t.Errorf("unexpected body %s", msg.Body)
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{7, time.Minute},
		{50, time.Minute},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.attempt); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func shortRetries(t *testing.T) {
	t.Helper()
	minDelay, maxDelay := minRetryDelay, maxRetryDelay
	minRetryDelay, maxRetryDelay = time.Millisecond, 4*time.Millisecond
	t.Cleanup(func() { minRetryDelay, maxRetryDelay = minDelay, maxDelay })
}

func TestKafkaQueue_HandleRetriesSameMessage(t *testing.T) {
	shortRetries(t)
	q := &KafkaQueue{logger: zerolog.Nop()}
	msg := Message{ID: "m1", Topic: TopicExports, Body: []byte("{}")}

	var seen []string
	err := q.handle(context.Background(), func(_ context.Context, m Message) error {
		seen = append(seen, m.ID)
		if len(seen) < 3 {
			return errors.New("blob store unavailable")
		}
		return nil
	}, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 3 || seen[0] != "m1" || seen[2] != "m1" {
		t.Errorf("expected the same message handled three times, got %v", seen)
	}
}

func TestKafkaQueue_HandleStopsWithContext(t *testing.T) {
	shortRetries(t)
	q := &KafkaQueue{logger: zerolog.Nop()}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := q.handle(ctx, func(context.Context, Message) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("still failing")
	}, Message{ID: "m1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestWait(t *testing.T) {
	if !wait(context.Background(), time.Millisecond) {
		t.Error("expected wait to complete")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if wait(ctx, time.Hour) {
		t.Error("expected wait to stop on a cancelled context")
	}
}

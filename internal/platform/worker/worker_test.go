package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRepeat_RunsImmediatelyAndRepeats(t *testing.T) {
	var runs int32
	r := NewRepeat("test", 10*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}, zerolog.Nop())

	r.Start()
	if !r.Started() {
		t.Fatal("expected worker to be started")
	}
	time.Sleep(55 * time.Millisecond)
	r.Stop(time.Second)

	if n := atomic.LoadInt32(&runs); n < 2 {
		t.Errorf("expected at least 2 runs, got %d", n)
	}
	if r.Started() {
		t.Error("expected worker to be stopped")
	}
}

func TestRepeat_ErrorsAndPanicsDoNotStopLoop(t *testing.T) {
	var runs int32
	r := NewRepeat("flaky", 5*time.Millisecond, func(context.Context) error {
		n := atomic.AddInt32(&runs, 1)
		if n == 1 {
			panic("first run")
		}
		return errors.New("always failing")
	}, zerolog.Nop())

	r.Start()
	time.Sleep(40 * time.Millisecond)
	r.Stop(time.Second)

	if n := atomic.LoadInt32(&runs); n < 3 {
		t.Errorf("expected loop to continue after panic and errors, got %d runs", n)
	}
}

func TestRepeat_StopCancelsContext(t *testing.T) {
	cancelled := make(chan struct{})
	r := NewRepeat("blocking", time.Hour, func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}, zerolog.Nop())

	r.Start()
	time.Sleep(5 * time.Millisecond)
	r.Stop(time.Second)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("expected context to be cancelled on Stop")
	}
}

func TestCollection(t *testing.T) {
	var a, b int32
	c := &Collection{}
	c.AddWorker(NewRepeat("a", time.Hour, func(context.Context) error { atomic.AddInt32(&a, 1); return nil }, zerolog.Nop()))
	c.AddWorker(NewRepeat("b", time.Hour, func(context.Context) error { atomic.AddInt32(&b, 1); return nil }, zerolog.Nop()))

	if c.Len() != 2 {
		t.Fatalf("expected 2 workers, got %d", c.Len())
	}
	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Stop(time.Second)

	if atomic.LoadInt32(&a) != 1 || atomic.LoadInt32(&b) != 1 {
		t.Errorf("expected one run each, got a=%d b=%d", a, b)
	}
}

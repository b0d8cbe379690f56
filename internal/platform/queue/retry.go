package queue

import (
	"context"
	"time"
)

// retryDelay returns the wait before retry attempt n (1-indexed):
// 1s, 2s, 4s and so on, capped at maxRetryDelay.
func retryDelay(attempt int) time.Duration {
	d := minRetryDelay
	for i := 1; i < attempt && d < maxRetryDelay; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

var (
	minRetryDelay = time.Second
	maxRetryDelay = time.Minute
)

// wait sleeps for d. It returns false if ctx ends first.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retry calls fn until it succeeds, waiting retryDelay between attempts.
// onErr sees every failure. It returns ctx.Err() when ctx ends before fn
// succeeds.
func retry(ctx context.Context, fn func() error, onErr func(attempt int, err error)) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onErr(attempt, err)
		if !wait(ctx, retryDelay(attempt)) {
			return ctx.Err()
		}
	}
}

// Package worker runs periodic background tasks. "casewatch scheduler"
// registers one Repeat worker per job in a Collection.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Worker is a periodic background task.
type Worker interface {
	Start()
	Stop(wait time.Duration)
	Started() bool
}

// Repeat calls fn every interval until stopped. The first run happens
// immediately after Start.
type Repeat struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	logger   zerolog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRepeat(name string, interval time.Duration, fn func(ctx context.Context) error, logger zerolog.Logger) *Repeat {
	return &Repeat{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With().Str("component", "worker").Str("worker", name).Logger(),
	}
}

func (r *Repeat) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true
	go r.loop(ctx, r.done)
}

func (r *Repeat) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Repeat) runOnce(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Msg("worker panicked")
		}
	}()
	start := time.Now()
	if err := r.fn(ctx); err != nil {
		r.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("run failed")
		return
	}
	r.logger.Debug().Dur("elapsed", time.Since(start)).Msg("run finished")
}

// Stop cancels the running task and waits up to wait for it to return.
func (r *Repeat) Stop(wait time.Duration) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.cancel()
	done := r.done
	r.started = false
	r.mu.Unlock()

	select {
	case <-done:
	case <-time.After(wait):
		r.logger.Warn().Dur("wait", wait).Msg("worker did not stop in time")
	}
}

func (r *Repeat) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Collection is a collection of workers.
type Collection struct {
	workers []Worker
}

func (c *Collection) AddWorker(w Worker) {
	c.workers = append(c.workers, w)
}

func (c *Collection) Start() {
	for _, w := range c.workers {
		w.Start()
	}
}

// Stop stops all workers in parallel.
func (c *Collection) Stop(wait time.Duration) {
	var wg sync.WaitGroup
	for _, w := range c.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			w.Stop(wait)
		}(w)
	}
	wg.Wait()
}

func (c *Collection) Len() int { return len(c.workers) }

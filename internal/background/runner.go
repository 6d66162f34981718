// Package background runs fire-and-forget tasks on a bounded goroutine pool
package background

import (
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Runner executes background tasks with panic recovery and drain support
type Runner struct {
	pool   *ants.Pool
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewRunner creates a runner backed by a pool of size workers
func NewRunner(size int, logger *zap.Logger) (*Runner, error) {
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return &Runner{pool: pool, logger: logger}, nil
}

// Go runs task in the background. When the pool is saturated the task
// runs on its own goroutine instead of being dropped.
func (r *Runner) Go(name string, task func()) {
	r.wg.Add(1)
	wrapped := func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("background task panicked",
					zap.String("task", name),
					zap.Any("panic", rec),
				)
			}
		}()
		task()
	}

	if err := r.pool.Submit(wrapped); err != nil {
		r.logger.Debug("pool unavailable, running task on new goroutine",
			zap.String("task", name),
			zap.Error(err),
		)
		go wrapped()
	}
}

// Wait blocks until every submitted task has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close waits for running tasks and releases the pool
func (r *Runner) Close() {
	r.wg.Wait()
	r.pool.Release()
}

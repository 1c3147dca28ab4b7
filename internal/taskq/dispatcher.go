// Package taskq runs fire-and-forget persistence work off the calling path.
// Submitted jobs own all their arguments, never report errors to the caller,
// and are throttled by a bounded worker pool so an unbounded burst of
// submissions cannot exhaust the process.
package taskq

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/archeonlabs/cloudcore/internal/logging"
)

const defaultJobTimeout = 30 * time.Second

type Dispatcher struct {
	sem        *semaphore.Weighted
	log        logging.Logger
	jobTimeout time.Duration
	wg         sync.WaitGroup
}

// New builds a dispatcher with the given worker bound. workers must be at
// least 1.
func New(workers int64, log logging.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		sem:        semaphore.NewWeighted(workers),
		log:        log,
		jobTimeout: defaultJobTimeout,
	}
}

// Submit schedules job to run in the background and returns immediately.
// The job receives its own timeout-bounded context; its error, if any, is
// logged and swallowed. Panics are contained.
func (d *Dispatcher) Submit(name string, job func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer d.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				d.log.Error(ctx, "background task panicked", "task", name, "panic", r)
			}
		}()

		if err := job(ctx); err != nil {
			d.log.Error(ctx, "background task failed", "task", name, "error", err)
		}
	}()
}

// Drain blocks until every submitted job has finished or ctx expires.
// Used at shutdown; new submissions during a drain are still accepted.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package maintenance runs the periodic housekeeping loop: deleting expired
// session rows in bounded batches so stale state cannot accumulate in the
// store.
package maintenance

import (
	"context"
	"time"

	"github.com/archeonlabs/cloudcore/internal/logging"
)

const (
	// DefaultInitialDelay keeps the first sweep off the startup path.
	DefaultInitialDelay = 60 * time.Second

	// DefaultInterval is the cadence of subsequent sweeps.
	DefaultInterval = 12 * time.Hour

	// DefaultBatchSize bounds the rows removed per store round trip.
	DefaultBatchSize = 100
)

// SweepFunc deletes expired rows up to batchSize per round trip and reports
// how many were removed in total.
type SweepFunc func(ctx context.Context, batchSize int) (int, error)

// Sweeper drives a SweepFunc on a fixed schedule. A failing sweep is logged
// and retried at the next tick; it never stops the loop.
type Sweeper struct {
	sweep        SweepFunc
	log          logging.Logger
	initialDelay time.Duration
	interval     time.Duration
	batchSize    int
}

func NewSweeper(sweep SweepFunc, log logging.Logger) *Sweeper {
	return &Sweeper{
		sweep:        sweep,
		log:          log,
		initialDelay: DefaultInitialDelay,
		interval:     DefaultInterval,
		batchSize:    DefaultBatchSize,
	}
}

// WithSchedule overrides the delay before the first sweep and the interval
// between sweeps. Non-positive values keep the defaults.
func (s *Sweeper) WithSchedule(initialDelay, interval time.Duration) *Sweeper {
	if initialDelay > 0 {
		s.initialDelay = initialDelay
	}
	if interval > 0 {
		s.interval = interval
	}
	return s
}

// WithBatchSize overrides the per-round-trip deletion bound.
func (s *Sweeper) WithBatchSize(n int) *Sweeper {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// Run blocks until ctx is cancelled, sweeping once after the initial delay
// and then on every interval tick.
func (s *Sweeper) Run(ctx context.Context) {
	select {
	case <-time.After(s.initialDelay):
		s.runOnce(ctx)
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	removed, err := s.sweep(ctx, s.batchSize)
	if err != nil {
		s.log.Warn(ctx, "session sweep failed", "removed", removed, "error", err)
		return
	}
	if removed > 0 {
		s.log.Info(ctx, "session sweep done", "removed", removed)
	}
}

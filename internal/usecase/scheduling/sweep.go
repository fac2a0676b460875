package scheduling

import (
	"context"
	"log/slog"
	"time"

	"estate-assistant/internal/infra/metrics"
)

// Sweepable is an in-memory store whose expired entries can be dropped.
type Sweepable interface {
	Sweep(now time.Time) int
}

// SweepTarget names a store for logs and metrics.
type SweepTarget struct {
	Name  string
	Store Sweepable
}

// Sweeper removes expired entries from every target in one pass.
type Sweeper struct {
	targets []SweepTarget
	now     func() time.Time
	logger  *slog.Logger
}

// NewSweeper creates a sweeper over targets.
func NewSweeper(logger *slog.Logger, targets ...SweepTarget) *Sweeper {
	return &Sweeper{targets: targets, now: time.Now, logger: logger}
}

// Run sweeps all targets. It is registered as the cache_sweep action.
func (s *Sweeper) Run(ctx context.Context) error {
	now := s.now()
	total := 0
	for _, t := range s.targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := t.Store.Sweep(now)
		total += n
		metrics.SweptEntriesTotal.WithLabelValues(t.Name).Add(float64(n))
		if n > 0 {
			s.logger.Debug("swept expired entries", "store", t.Name, "count", n)
		}
	}
	s.logger.Info("sweep finished", "removed", total)
	return nil
}

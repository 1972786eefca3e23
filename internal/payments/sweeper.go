package payments

import (
	"context"
	"log/slog"
	"time"
)

type LockSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically expires overdue payments and releases overdue
// locks. One instance runs per process, started from bootstrap.
type Sweeper struct {
	orchestrator *Orchestrator
	locks        LockSweeper
	interval     time.Duration
	logger       *slog.Logger
}

func NewSweeper(orchestrator *Orchestrator, locks LockSweeper, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		orchestrator: orchestrator,
		locks:        locks,
		interval:     interval,
		logger:       logger,
	}
}

// Run blocks until ctx is cancelled. Payments are swept before standalone
// locks so a payment's lock is released by the payment transition, not by
// the lock TTL.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if n, err := s.orchestrator.SweepExpired(ctx); err != nil {
		s.logger.Error("Payment sweep failed", slog.Any("err", err))
	} else if n > 0 {
		s.logger.Info("Swept expired payments", slog.Int("count", n))
	}
	if _, err := s.locks.SweepExpired(ctx); err != nil {
		s.logger.Error("Lock sweep failed", slog.Any("err", err))
	}
}

package service

import (
	"context"
	"time"

	"github.com/medstock/medstock-backend/pkg/logger"
)

// Scheduler runs the periodic background work: the alert scan and the stale
// reservation sweep. Both are safe to run while allocations are in flight; the
// scan only reads and the sweep takes the same row locks as everything else.
type Scheduler struct {
	scanner      *AlertScanner
	reservations *ReservationService
	interval     time.Duration
	logger       *logger.Logger
	cancel       context.CancelFunc
}

// NewScheduler creates a new background scheduler
func NewScheduler(scanner *AlertScanner, reservations *ReservationService, interval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		scanner:      scanner,
		reservations: reservations,
		interval:     interval,
		logger:       log.WithComponent("scheduler"),
	}
}

// Start starts the scheduler in a background goroutine
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")

		// Run an initial cycle immediately
		s.runCycle(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("scheduler stopped")
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()

	if _, err := s.reservations.ExpireStale(ctx); err != nil {
		s.logger.Error().Err(err).Msg("stale reservation sweep failed")
	}

	if _, err := s.scanner.ScanAll(ctx); err != nil {
		s.logger.Error().Err(err).Msg("alert scan failed")
	}

	s.logger.Debug().Dur("duration", time.Since(start)).Msg("scheduler cycle completed")
}

package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"crypto-escrow-gateway/internal/core/ports"
	"crypto-escrow-gateway/internal/metrics"

	"github.com/rs/zerolog"
)

// sweepBatchSize caps how many escrows one sweep pass transitions.
const sweepBatchSize = 100

// Sweeper periodically expires unfunded escrows past their payment window and
// auto-releases undisputed held escrows past their hold period. Both sweeps
// use status-guarded updates, so racing confirmations and disputes always win.
type Sweeper struct {
	escrowSvc ports.EscrowService
	interval  time.Duration
	logger    zerolog.Logger
	stop      chan struct{}
	running   atomic.Bool
}

// NewSweeper creates a new lifecycle sweeper.
func NewSweeper(escrowSvc ports.EscrowService, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		escrowSvc: escrowSvc,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("panic", fmt.Sprint(r)).Msg("panic in sweeper")
		}
	}()
	s.Sweep(ctx)
}

// Sweep runs one expiry plus auto-release pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	metrics.SweepRunsTotal.Inc()
	now := time.Now().UTC()

	expired, err := s.escrowSvc.ExpireStale(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
	} else if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("expiry sweep done")
	}

	released, err := s.escrowSvc.AutoRelease(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("auto-release sweep failed")
	} else if released > 0 {
		s.logger.Info().Int("released", released).Msg("auto-release sweep done")
	}
}

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

// observerBatchSize caps how many watched escrows one polling pass handles.
const observerBatchSize = 200

// ChainObserver periodically polls the chain-data provider for every watched
// address and feeds observations into the escrow service. Watched means
// CREATED and AWAITING_PAYMENT, plus recently EXPIRED escrows within the late
// funding grace so a slow payment can still reopen them.
type ChainObserver struct {
	escrowSvc  ports.EscrowService
	escrowRepo ports.EscrowRepository
	chain      ports.ChainSource
	interval   time.Duration
	grace      time.Duration
	logger     zerolog.Logger
	stop       chan struct{}
	running    atomic.Bool
}

// NewChainObserver creates a new chain observer.
func NewChainObserver(
	escrowSvc ports.EscrowService,
	escrowRepo ports.EscrowRepository,
	chain ports.ChainSource,
	interval time.Duration,
	grace time.Duration,
	logger zerolog.Logger,
) *ChainObserver {
	return &ChainObserver{
		escrowSvc:  escrowSvc,
		escrowRepo: escrowRepo,
		chain:      chain,
		interval:   interval,
		grace:      grace,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Running reports whether the observer loop is actively running.
func (o *ChainObserver) Running() bool {
	return o.running.Load()
}

// Start begins the polling loop. Call in a goroutine.
func (o *ChainObserver) Start(ctx context.Context) {
	o.running.Store(true)
	defer o.running.Store(false)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case <-ticker.C:
			o.safePoll(ctx)
		}
	}
}

// Stop signals the observer to stop.
func (o *ChainObserver) Stop() {
	select {
	case o.stop <- struct{}{}:
	default:
	}
}

func (o *ChainObserver) safePoll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Str("panic", fmt.Sprint(r)).Msg("panic in chain observer")
		}
	}()
	o.poll(ctx)
}

// poll runs one pass over all watched addresses. Provider failures on one
// address never stop the rest of the pass.
func (o *ChainObserver) poll(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.ObserverPollDuration.Observe(time.Since(start).Seconds())
	}()

	expiredAfter := time.Now().UTC().Add(-o.grace)
	watched, err := o.escrowRepo.ListWatched(ctx, expiredAfter, observerBatchSize)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to list watched escrows")
		return
	}

	for i := range watched {
		escrow := &watched[i]
		events, err := o.chain.Observations(ctx, escrow.Address)
		if err != nil {
			o.logger.Warn().Err(err).
				Str("escrow_id", escrow.ID.String()).
				Str("address", escrow.Address).
				Msg("chain provider query failed")
			continue
		}
		for _, event := range events {
			if err := o.escrowSvc.OnConfirmation(ctx, event); err != nil {
				o.logger.Error().Err(err).
					Str("escrow_id", escrow.ID.String()).
					Str("txid", event.TxID).
					Msg("failed to process confirmation")
			}
		}
	}
}

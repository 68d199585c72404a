package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crypto-escrow-gateway/config"
	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"
	"crypto-escrow-gateway/internal/metrics"
	"crypto-escrow-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// eventCacheTTL bounds how long a processed confirmation key stays in Redis.
// The durable processed_confirmations row covers replays after eviction.
const eventCacheTTL = 48 * time.Hour

// EscrowServiceImpl implements ports.EscrowService. It owns the escrow
// lifecycle end to end: address allocation at creation, funding observations
// from the chain, and the buyer/seller/admin actions on held funds.
type EscrowServiceImpl struct {
	escrowRepo  ports.EscrowRepository
	walletRepo  ports.WalletRepository
	confirmRepo ports.ConfirmationRepository
	allocator   ports.AddressAllocator
	feeCalc     ports.FeeCalculator
	eventCache  ports.EventCache
	authorizer  ports.Authorizer
	notifier    ports.NotificationService
	auditSvc    ports.AuditService
	transactor  ports.DBTransactor
	cfg         config.EscrowConfig
	logger      zerolog.Logger
}

// NewEscrowService creates a new escrow service.
func NewEscrowService(
	escrowRepo ports.EscrowRepository,
	walletRepo ports.WalletRepository,
	confirmRepo ports.ConfirmationRepository,
	allocator ports.AddressAllocator,
	feeCalc ports.FeeCalculator,
	eventCache ports.EventCache,
	authorizer ports.Authorizer,
	notifier ports.NotificationService,
	auditSvc ports.AuditService,
	transactor ports.DBTransactor,
	cfg config.EscrowConfig,
	logger zerolog.Logger,
) *EscrowServiceImpl {
	return &EscrowServiceImpl{
		escrowRepo:  escrowRepo,
		walletRepo:  walletRepo,
		confirmRepo: confirmRepo,
		allocator:   allocator,
		feeCalc:     feeCalc,
		eventCache:  eventCache,
		authorizer:  authorizer,
		notifier:    notifier,
		auditSvc:    auditSvc,
		transactor:  transactor,
		cfg:         cfg,
		logger:      logger,
	}
}

// CreateEscrow creates a new escrow and allocates its receive address in one
// transaction. The fee split is computed once here and frozen on the record.
func (s *EscrowServiceImpl) CreateEscrow(ctx context.Context, req ports.CreateEscrowRequest) (*domain.Escrow, error) {
	existing, err := s.escrowRepo.GetByOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if existing != nil {
		return nil, apperror.ErrDuplicateOrder()
	}

	currency := req.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	if currency != s.cfg.Currency {
		return nil, apperror.Validation("unsupported currency: " + currency)
	}

	fee, net, err := s.feeCalc.ComputeFee(req.GrossAmount)
	if err != nil {
		return nil, err
	}

	wallet, err := s.walletRepo.GetActivePrimary(ctx, currency)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if wallet == nil {
		return nil, apperror.ErrNoActiveWallet(currency)
	}

	now := time.Now().UTC()
	escrow := &domain.Escrow{
		ID:          uuid.New(),
		OrderID:     req.OrderID,
		BuyerID:     req.BuyerID,
		SellerRef:   req.SellerRef,
		GrossAmount: req.GrossAmount,
		Currency:    currency,
		FeeRateBps:  s.cfg.FeeRateBps,
		FeeAmount:   fee,
		NetAmount:   net,
		WalletID:    wallet.ID,
		Status:      domain.StatusCreated,
		ExpiresAt:   now.Add(s.cfg.PaymentWindow),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx)

	alloc, err := s.allocator.AllocateInTx(ctx, tx, wallet.ID, escrow.ID)
	if err != nil {
		return nil, err
	}
	escrow.Address = alloc.Address

	if err := escrow.Apply(domain.EventAddressAllocated, now); err != nil {
		return nil, apperror.InternalError(err)
	}
	if err := s.escrowRepo.Create(ctx, tx, escrow); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	metrics.TransitionsTotal.WithLabelValues(string(domain.StatusAwaitingPayment)).Inc()
	s.logger.Info().
		Str("escrow_id", escrow.ID.String()).
		Str("order_id", escrow.OrderID).
		Str("address", escrow.Address).
		Int64("gross", escrow.GrossAmount).
		Int64("fee", escrow.FeeAmount).
		Msg("escrow created")

	details, _ := json.Marshal(map[string]any{
		"order_id": escrow.OrderID,
		"gross":    escrow.GrossAmount,
		"fee":      escrow.FeeAmount,
		"net":      escrow.NetAmount,
		"address":  escrow.Address,
	})
	s.auditSvc.Log(ctx, &domain.AuditLog{
		ActorID:      &req.BuyerID,
		ActorRole:    string(domain.RoleBuyer),
		Action:       domain.AuditActionCreateEscrow,
		ResourceType: "escrow",
		ResourceID:   escrow.ID.String(),
		Details:      string(details),
		IPAddress:    req.ClientIP,
	})

	return escrow, nil
}

// GetEscrow returns the escrow by ID.
func (s *EscrowServiceImpl) GetEscrow(ctx context.Context, id uuid.UUID) (*domain.Escrow, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if escrow == nil {
		return nil, apperror.ErrEscrowNotFound()
	}
	return escrow, nil
}

// OnConfirmation consumes one funding observation. The chain provider
// delivers at-least-once, so every outcome here must be safe to replay:
// a Redis fast path suppresses recent duplicates and a durable
// processed_confirmations row, written in the same transaction as the
// status change, covers everything else.
func (s *EscrowServiceImpl) OnConfirmation(ctx context.Context, event domain.ConfirmationEvent) error {
	key := event.Key()

	seen, err := s.eventCache.Seen(ctx, key)
	if err != nil {
		// Cache down is not fatal, the durable check below still guards.
		s.logger.Warn().Err(err).Str("key", key).Msg("event cache unavailable")
	}
	if seen {
		metrics.ConfirmationEventsTotal.WithLabelValues("replay").Inc()
		return nil
	}

	escrow, err := s.escrowRepo.GetByAddress(ctx, event.Address)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if escrow == nil {
		metrics.ConfirmationEventsTotal.WithLabelValues("ignored").Inc()
		s.logger.Debug().Str("address", event.Address).Msg("confirmation for unknown address")
		return nil
	}

	if escrow.IsTerminal() || escrow.Status == domain.StatusHeld || escrow.Status == domain.StatusDisputed {
		metrics.ConfirmationEventsTotal.WithLabelValues("replay").Inc()
		s.markSeen(ctx, key)
		return nil
	}

	required := s.cfg.RequiredConfirmations(escrow.GrossAmount)
	if event.Confirmations < required {
		// Not marked seen: the same tx at greater depth must reprocess.
		metrics.ConfirmationEventsTotal.WithLabelValues("below_threshold").Inc()
		s.logger.Debug().
			Str("escrow_id", escrow.ID.String()).
			Str("txid", event.TxID).
			Int32("confirmations", event.Confirmations).
			Int32("required", required).
			Msg("confirmation below threshold")
		return nil
	}

	if event.AmountObserved < escrow.GrossAmount {
		metrics.ConfirmationEventsTotal.WithLabelValues("underfunded").Inc()
		s.logger.Warn().
			Str("escrow_id", escrow.ID.String()).
			Str("txid", event.TxID).
			Int64("observed", event.AmountObserved).
			Int64("required", escrow.GrossAmount).
			Msg("underfunded payment, escrow stays unfunded")
		s.markSeen(ctx, key)
		return nil
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx)

	current, err := s.escrowRepo.GetByIDForUpdate(ctx, tx, escrow.ID)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if current == nil || current.IsTerminal() || current.Status == domain.StatusHeld || current.Status == domain.StatusDisputed {
		metrics.ConfirmationEventsTotal.WithLabelValues("replay").Inc()
		s.markSeen(ctx, key)
		return nil
	}

	if pc, err := s.confirmRepo.Get(ctx, key); err != nil {
		return apperror.ErrDatabaseError(err)
	} else if pc != nil {
		metrics.ConfirmationEventsTotal.WithLabelValues("replay").Inc()
		s.markSeen(ctx, key)
		return nil
	}

	now := time.Now().UTC()
	from := current.Status
	if err := current.Apply(domain.EventFundingConfirmed, now); err != nil {
		var te *domain.TransitionError
		if errors.As(err, &te) {
			return apperror.ErrInvalidTransition(string(te.From), string(te.Event))
		}
		return apperror.InternalError(err)
	}

	txid := event.TxID
	observed := event.AmountObserved
	current.FundingTxID = &txid
	current.ObservedAmount = &observed
	if observed > current.GrossAmount {
		current.NeedsReconciliation = true
	}
	autoRelease := current.HeldAt.Add(s.cfg.HoldPeriod)
	current.AutoReleaseAt = &autoRelease

	ok, err := s.escrowRepo.UpdateTransition(ctx, tx, current, from)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if !ok {
		// A concurrent consumer won; their transaction wrote the hold.
		metrics.ConfirmationEventsTotal.WithLabelValues("replay").Inc()
		return nil
	}

	if err := s.confirmRepo.Create(ctx, tx, &domain.ProcessedConfirmation{
		Key:            key,
		EscrowID:       current.ID,
		TxID:           event.TxID,
		AmountObserved: event.AmountObserved,
		Confirmations:  event.Confirmations,
		CreatedAt:      now,
	}); err != nil {
		return apperror.ErrDatabaseError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.ErrDatabaseError(err)
	}

	s.markSeen(ctx, key)
	metrics.ConfirmationEventsTotal.WithLabelValues("held").Inc()
	metrics.TransitionsTotal.WithLabelValues(string(domain.StatusHeld)).Inc()

	logEvt := s.logger.Info().
		Str("escrow_id", current.ID.String()).
		Str("txid", event.TxID).
		Int64("observed", event.AmountObserved).
		Str("from", string(from))
	if current.NeedsReconciliation {
		logEvt = logEvt.Bool("needs_reconciliation", true)
	}
	logEvt.Msg("funding confirmed, escrow held")

	if err := s.notifier.NotifyTransition(ctx, current, "escrow.held"); err != nil {
		s.logger.Error().Err(err).Str("escrow_id", current.ID.String()).Msg("storefront notification failed")
	}
	return nil
}

func (s *EscrowServiceImpl) markSeen(ctx context.Context, key string) {
	if err := s.eventCache.MarkSeen(ctx, key, eventCacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to mark event seen")
	}
}

// ReleaseToSeller releases a held escrow to the seller on the buyer's (or an
// admin's) instruction.
func (s *EscrowServiceImpl) ReleaseToSeller(ctx context.Context, escrowID uuid.UUID, actor domain.Actor) (*domain.Escrow, error) {
	return s.applyActorEvent(ctx, escrowID, actor, domain.AuditActionRelease, domain.EventRelease, "escrow.released", nil)
}

// RefundToBuyer refunds a held escrow to the buyer on the seller's (or an
// admin's) instruction.
func (s *EscrowServiceImpl) RefundToBuyer(ctx context.Context, escrowID uuid.UUID, actor domain.Actor) (*domain.Escrow, error) {
	return s.applyActorEvent(ctx, escrowID, actor, domain.AuditActionRefund, domain.EventRefund, "escrow.refunded", nil)
}

// RaiseDispute freezes a held escrow pending adjudication.
func (s *EscrowServiceImpl) RaiseDispute(ctx context.Context, escrowID uuid.UUID, actor domain.Actor, reason string) (*domain.Escrow, error) {
	if reason == "" {
		return nil, apperror.Validation("dispute reason is required")
	}
	return s.applyActorEvent(ctx, escrowID, actor, domain.AuditActionDispute, domain.EventDispute, "escrow.disputed",
		func(e *domain.Escrow) {
			e.DisputeReason = &reason
		})
}

// ResolveDispute adjudicates a disputed escrow to one of the two fixed
// outcomes. Split settlements are not supported; the operator notes explain
// the ruling.
func (s *EscrowServiceImpl) ResolveDispute(ctx context.Context, escrowID uuid.UUID, actor domain.Actor, outcome domain.ResolutionOutcome, notes string) (*domain.Escrow, error) {
	var event domain.Event
	var eventType string
	switch outcome {
	case domain.OutcomeReleased:
		event, eventType = domain.EventResolveRelease, "escrow.released"
	case domain.OutcomeRefunded:
		event, eventType = domain.EventResolveRefund, "escrow.refunded"
	default:
		return nil, apperror.Validation("outcome must be RELEASED or REFUNDED")
	}
	return s.applyActorEvent(ctx, escrowID, actor, domain.AuditActionResolve, event, eventType,
		func(e *domain.Escrow) {
			if notes != "" {
				e.ResolutionNotes = &notes
			}
		})
}

// applyActorEvent runs one authorized state machine event against an escrow:
// authorize, lock the row, apply, persist with a status guard, then audit and
// notify outside the transaction.
func (s *EscrowServiceImpl) applyActorEvent(
	ctx context.Context,
	escrowID uuid.UUID,
	actor domain.Actor,
	action domain.AuditAction,
	event domain.Event,
	eventType string,
	mutate func(*domain.Escrow),
) (*domain.Escrow, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if escrow == nil {
		return nil, apperror.ErrEscrowNotFound()
	}
	if err := s.authorizer.Authorize(actor, action, escrow); err != nil {
		return nil, err
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx)

	current, err := s.escrowRepo.GetByIDForUpdate(ctx, tx, escrowID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if current == nil {
		return nil, apperror.ErrEscrowNotFound()
	}

	now := time.Now().UTC()
	from := current.Status
	if err := current.Apply(event, now); err != nil {
		var te *domain.TransitionError
		if errors.As(err, &te) {
			return nil, apperror.ErrInvalidTransition(string(te.From), string(te.Event))
		}
		return nil, apperror.InternalError(err)
	}
	if mutate != nil {
		mutate(current)
	}

	ok, err := s.escrowRepo.UpdateTransition(ctx, tx, current, from)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if !ok {
		return nil, apperror.ErrInvalidTransition(string(from), string(event))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	metrics.TransitionsTotal.WithLabelValues(string(current.Status)).Inc()
	s.logger.Info().
		Str("escrow_id", current.ID.String()).
		Str("event", string(event)).
		Str("from", string(from)).
		Str("to", string(current.Status)).
		Str("actor_id", actor.ID.String()).
		Str("actor_role", string(actor.Role)).
		Msg("escrow transition applied")

	actorID := actor.ID
	s.auditSvc.Log(ctx, &domain.AuditLog{
		ActorID:      &actorID,
		ActorRole:    string(actor.Role),
		Action:       action,
		ResourceType: "escrow",
		ResourceID:   current.ID.String(),
	})
	if err := s.notifier.NotifyTransition(ctx, current, eventType); err != nil {
		s.logger.Error().Err(err).Str("escrow_id", current.ID.String()).Msg("storefront notification failed")
	}
	return current, nil
}

// ExpireStale marks unfunded escrows past their payment window EXPIRED.
// Each escrow gets its own guarded transaction so a funding confirmation
// racing the sweep always wins.
func (s *EscrowServiceImpl) ExpireStale(ctx context.Context, now time.Time, limit int) (int, error) {
	candidates, err := s.escrowRepo.ListExpirable(ctx, now, limit)
	if err != nil {
		return 0, apperror.ErrDatabaseError(err)
	}

	expired := 0
	for i := range candidates {
		escrow := candidates[i]
		from := escrow.Status
		if err := escrow.Apply(domain.EventPaymentExpired, now); err != nil {
			continue
		}

		ok, err := s.runGuardedUpdate(ctx, &escrow, from)
		if err != nil {
			return expired, err
		}
		if !ok {
			// Funding (or another sweeper) got there first.
			continue
		}

		expired++
		metrics.TransitionsTotal.WithLabelValues(string(domain.StatusExpired)).Inc()
		s.logger.Info().
			Str("escrow_id", escrow.ID.String()).
			Time("expires_at", escrow.ExpiresAt).
			Msg("escrow expired unfunded")
		if err := s.notifier.NotifyTransition(ctx, &escrow, "escrow.expired"); err != nil {
			s.logger.Error().Err(err).Str("escrow_id", escrow.ID.String()).Msg("storefront notification failed")
		}
	}
	return expired, nil
}

// AutoRelease releases undisputed HELD escrows whose hold period has passed.
// A dispute raised before the sweep commits wins via the status guard.
func (s *EscrowServiceImpl) AutoRelease(ctx context.Context, now time.Time, limit int) (int, error) {
	candidates, err := s.escrowRepo.ListAutoReleasable(ctx, now, limit)
	if err != nil {
		return 0, apperror.ErrDatabaseError(err)
	}

	released := 0
	for i := range candidates {
		escrow := candidates[i]
		from := escrow.Status
		if err := escrow.Apply(domain.EventRelease, now); err != nil {
			continue
		}

		ok, err := s.runGuardedUpdate(ctx, &escrow, from)
		if err != nil {
			return released, err
		}
		if !ok {
			continue
		}

		released++
		metrics.TransitionsTotal.WithLabelValues(string(domain.StatusReleased)).Inc()
		s.logger.Info().
			Str("escrow_id", escrow.ID.String()).
			Msg("escrow auto-released after hold period")
		s.auditSvc.Log(ctx, &domain.AuditLog{
			ActorRole:    "system",
			Action:       domain.AuditActionRelease,
			ResourceType: "escrow",
			ResourceID:   escrow.ID.String(),
			Details:      `{"auto_release":true}`,
		})
		if err := s.notifier.NotifyTransition(ctx, &escrow, "escrow.released"); err != nil {
			s.logger.Error().Err(err).Str("escrow_id", escrow.ID.String()).Msg("storefront notification failed")
		}
	}
	return released, nil
}

// runGuardedUpdate persists one transition in its own transaction, returning
// false when the status guard lost to a concurrent writer.
func (s *EscrowServiceImpl) runGuardedUpdate(ctx context.Context, escrow *domain.Escrow, from domain.Status) (bool, error) {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return false, apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx)

	ok, err := s.escrowRepo.UpdateTransition(ctx, tx, escrow, from)
	if err != nil {
		return false, apperror.ErrDatabaseError(err)
	}
	if !ok {
		return false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, apperror.ErrDatabaseError(err)
	}
	return true, nil
}

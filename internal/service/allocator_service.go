package service

import (
	"context"
	"time"

	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"
	"crypto-escrow-gateway/internal/metrics"
	"crypto-escrow-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// maxAllocationRetries bounds how many times a lost next_index race is
// retried inside one transaction before the caller gets ALLOC_002.
const maxAllocationRetries = 3

// AddressAllocatorImpl implements ports.AddressAllocator. The index bump and
// the allocation record are written in the same transaction, so an address is
// never handed out twice and the counter never advances without a matching
// record.
type AddressAllocatorImpl struct {
	walletRepo ports.WalletRepository
	addrRepo   ports.AddressRepository
	deriver    ports.KeyDeriver
	encSvc     ports.EncryptionService
	transactor ports.DBTransactor
	logger     zerolog.Logger
}

// NewAddressAllocator creates a new address allocator.
func NewAddressAllocator(
	walletRepo ports.WalletRepository,
	addrRepo ports.AddressRepository,
	deriver ports.KeyDeriver,
	encSvc ports.EncryptionService,
	transactor ports.DBTransactor,
	logger zerolog.Logger,
) *AddressAllocatorImpl {
	return &AddressAllocatorImpl{
		walletRepo: walletRepo,
		addrRepo:   addrRepo,
		deriver:    deriver,
		encSvc:     encSvc,
		transactor: transactor,
		logger:     logger,
	}
}

// AllocateInTx allocates one fresh address inside the caller's transaction.
// Concurrency is handled with a compare-and-swap on next_index: read the
// current index, derive, then bump only if the index is unchanged. A lost
// race re-reads and retries up to maxAllocationRetries times.
func (s *AddressAllocatorImpl) AllocateInTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, escrowID uuid.UUID) (*domain.AllocatedAddress, error) {
	for attempt := 0; attempt < maxAllocationRetries; attempt++ {
		wallet, err := s.walletRepo.GetByIDInTx(ctx, tx, walletID)
		if err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
		if wallet == nil {
			return nil, apperror.ErrNotFound("wallet")
		}
		if !wallet.IsActive {
			return nil, apperror.ErrWalletInactive()
		}

		xpub, err := s.encSvc.Decrypt(wallet.XPubEncrypted)
		if err != nil {
			return nil, apperror.ErrEncryptionFailure(err)
		}

		address, err := s.deriver.Derive(xpub, wallet.NextIndex)
		if err != nil {
			return nil, err
		}

		ok, err := s.walletRepo.CompareAndBumpIndex(ctx, tx, walletID, wallet.NextIndex)
		if err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
		if !ok {
			metrics.AllocationConflictsTotal.Inc()
			s.logger.Debug().
				Str("wallet_id", walletID.String()).
				Uint32("index", wallet.NextIndex).
				Int("attempt", attempt+1).
				Msg("lost allocation race, retrying")
			continue
		}

		alloc := &domain.AllocatedAddress{
			WalletID:    walletID,
			Index:       wallet.NextIndex,
			Address:     address,
			EscrowID:    escrowID,
			AllocatedAt: time.Now().UTC(),
		}
		if err := s.addrRepo.Create(ctx, tx, alloc); err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}

		metrics.AllocationsTotal.Inc()
		s.logger.Info().
			Str("wallet_id", walletID.String()).
			Str("escrow_id", escrowID.String()).
			Uint32("index", alloc.Index).
			Str("address", address).
			Msg("address allocated")
		return alloc, nil
	}

	return nil, apperror.ErrAllocationConflict()
}

// Allocate allocates one fresh address in its own transaction.
func (s *AddressAllocatorImpl) Allocate(ctx context.Context, walletID uuid.UUID, escrowID uuid.UUID) (*domain.AllocatedAddress, error) {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx)

	alloc, err := s.AllocateInTx(ctx, tx, walletID, escrowID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return alloc, nil
}

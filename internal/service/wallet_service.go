package service

import (
	"context"
	"time"

	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"
	"crypto-escrow-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WalletServiceImpl implements ports.WalletService. Only extended public keys
// are ever accepted; the deriver rejects private material before anything is
// stored.
type WalletServiceImpl struct {
	walletRepo ports.WalletRepository
	deriver    ports.KeyDeriver
	encSvc     ports.EncryptionService
	transactor ports.DBTransactor
	logger     zerolog.Logger
}

// NewWalletService creates a new wallet management service.
func NewWalletService(
	walletRepo ports.WalletRepository,
	deriver ports.KeyDeriver,
	encSvc ports.EncryptionService,
	transactor ports.DBTransactor,
	logger zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		walletRepo: walletRepo,
		deriver:    deriver,
		encSvc:     encSvc,
		transactor: transactor,
		logger:     logger,
	}
}

// ImportWallet validates and stores an operator xpub. A probe derivation at
// index 0 proves the key material is usable before it is encrypted at rest.
func (s *WalletServiceImpl) ImportWallet(ctx context.Context, req ports.ImportWalletRequest) (*domain.Wallet, error) {
	if _, err := s.deriver.Derive(req.XPub, 0); err != nil {
		return nil, err
	}

	encrypted, err := s.encSvc.Encrypt(req.XPub)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(err)
	}

	now := time.Now().UTC()
	wallet := &domain.Wallet{
		ID:                   uuid.New(),
		Currency:             req.Currency,
		XPubEncrypted:        encrypted,
		DerivationPathPrefix: req.DerivationPathPrefix,
		NextIndex:            0,
		IsActive:             true,
		IsPrimary:            false,
		Label:                req.Label,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.walletRepo.Create(ctx, wallet); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	if req.MakePrimary {
		promoted, err := s.PromoteWallet(ctx, wallet.ID)
		if err != nil {
			return nil, err
		}
		wallet = promoted
	}

	s.logger.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("currency", wallet.Currency).
		Bool("primary", wallet.IsPrimary).
		Msg("wallet imported")
	return wallet, nil
}

// ListWallets returns all wallets for a currency.
func (s *WalletServiceImpl) ListWallets(ctx context.Context, currency string) ([]domain.Wallet, error) {
	wallets, err := s.walletRepo.List(ctx, currency)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return wallets, nil
}

// SetWalletActive toggles whether a wallet may allocate new addresses.
// Deactivation never touches already issued addresses.
func (s *WalletServiceImpl) SetWalletActive(ctx context.Context, id uuid.UUID, active bool) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}

	if err := s.walletRepo.SetActive(ctx, id, active); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	wallet.IsActive = active

	s.logger.Info().
		Str("wallet_id", id.String()).
		Bool("active", active).
		Msg("wallet active flag updated")
	return wallet, nil
}

// PromoteWallet makes the wallet the primary allocation source for its
// currency, demoting any other primary in the same transaction.
func (s *WalletServiceImpl) PromoteWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	if !wallet.IsActive {
		return nil, apperror.ErrWalletInactive()
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx)

	if err := s.walletRepo.Promote(ctx, tx, id, wallet.Currency); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	wallet.IsPrimary = true

	s.logger.Info().
		Str("wallet_id", id.String()).
		Str("currency", wallet.Currency).
		Msg("wallet promoted to primary")
	return wallet, nil
}

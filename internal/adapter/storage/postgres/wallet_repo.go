package postgres

import (
	"context"
	"errors"
	"fmt"

	"crypto-escrow-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

const walletColumns = `id, currency, xpub_encrypted, derivation_path_prefix, next_index, is_active, is_primary, label, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(
		&w.ID, &w.Currency, &w.XPubEncrypted, &w.DerivationPathPrefix,
		&w.NextIndex, &w.IsActive, &w.IsPrimary, &w.Label,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

// Create inserts a new wallet.
func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	query := `INSERT INTO btc_wallets (id, currency, xpub_encrypted, derivation_path_prefix, next_index, is_active, is_primary, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		w.ID, w.Currency, w.XPubEncrypted, w.DerivationPathPrefix,
		w.NextIndex, w.IsActive, w.IsPrimary, w.Label,
		w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetByID fetches a wallet by its UUID (without locking).
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM btc_wallets WHERE id = $1`
	w, err := scanWallet(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get wallet by id: %w", err)
	}
	return w, nil
}

// GetByIDInTx fetches a wallet inside the caller's transaction so the read
// index and the compare-and-bump see the same snapshot.
func (r *WalletRepo) GetByIDInTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM btc_wallets WHERE id = $1`
	w, err := scanWallet(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get wallet in tx: %w", err)
	}
	return w, nil
}

// GetActivePrimary returns the wallet new escrows should allocate from:
// primary first, then earliest created among active wallets.
func (r *WalletRepo) GetActivePrimary(ctx context.Context, currency string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM btc_wallets
		WHERE currency = $1 AND is_active = true
		ORDER BY is_primary DESC, created_at ASC
		LIMIT 1`
	w, err := scanWallet(r.pool.QueryRow(ctx, query, currency))
	if err != nil {
		return nil, fmt.Errorf("get active primary wallet: %w", err)
	}
	return w, nil
}

// List returns all wallets for a currency, newest first.
func (r *WalletRepo) List(ctx context.Context, currency string) ([]domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM btc_wallets WHERE currency = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, currency)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w := domain.Wallet{}
		if err := rows.Scan(
			&w.ID, &w.Currency, &w.XPubEncrypted, &w.DerivationPathPrefix,
			&w.NextIndex, &w.IsActive, &w.IsPrimary, &w.Label,
			&w.CreatedAt, &w.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// CompareAndBumpIndex advances next_index from expected to expected+1 with an
// optimistic guard. Zero rows affected means another allocator won the race.
func (r *WalletRepo) CompareAndBumpIndex(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, expected uint32) (bool, error) {
	query := `UPDATE btc_wallets SET next_index = next_index + 1, updated_at = NOW()
		WHERE id = $1 AND next_index = $2`

	tag, err := tx.Exec(ctx, query, walletID, expected)
	if err != nil {
		return false, fmt.Errorf("bump wallet index: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetActive toggles the wallet's allocation eligibility.
func (r *WalletRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE btc_wallets SET is_active = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("set wallet active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s not found", id)
	}
	return nil
}

// Promote marks the wallet primary and demotes every other wallet of the same
// currency inside the caller's transaction.
func (r *WalletRepo) Promote(ctx context.Context, tx pgx.Tx, id uuid.UUID, currency string) error {
	if _, err := tx.Exec(ctx,
		`UPDATE btc_wallets SET is_primary = false, updated_at = NOW() WHERE currency = $1 AND is_primary = true`,
		currency,
	); err != nil {
		return fmt.Errorf("demote wallets: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE btc_wallets SET is_primary = true, updated_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("promote wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s not found", id)
	}
	return nil
}

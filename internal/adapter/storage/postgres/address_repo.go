package postgres

import (
	"context"
	"errors"
	"fmt"

	"crypto-escrow-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AddressRepo implements ports.AddressRepository. Rows are write-once; the
// unique constraints on (wallet_id, idx) and address are the last line of
// defense against address reuse.
type AddressRepo struct {
	pool Pool
}

// NewAddressRepo creates a new AddressRepo.
func NewAddressRepo(pool Pool) *AddressRepo {
	return &AddressRepo{pool: pool}
}

// Create inserts an allocation record within the caller's transaction.
func (r *AddressRepo) Create(ctx context.Context, tx pgx.Tx, addr *domain.AllocatedAddress) error {
	query := `INSERT INTO allocated_addresses (wallet_id, idx, address, escrow_id, allocated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := tx.Exec(ctx, query,
		addr.WalletID, addr.Index, addr.Address, addr.EscrowID, addr.AllocatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert allocated address: %w", err)
	}
	return nil
}

// GetByAddress fetches an allocation record by address.
func (r *AddressRepo) GetByAddress(ctx context.Context, address string) (*domain.AllocatedAddress, error) {
	query := `SELECT wallet_id, idx, address, escrow_id, allocated_at
		FROM allocated_addresses WHERE address = $1`

	a := &domain.AllocatedAddress{}
	err := r.pool.QueryRow(ctx, query, address).Scan(
		&a.WalletID, &a.Index, &a.Address, &a.EscrowID, &a.AllocatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get allocated address: %w", err)
	}
	return a, nil
}

// ListByWallet lists the most recent allocations for a wallet.
func (r *AddressRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.AllocatedAddress, error) {
	query := `SELECT wallet_id, idx, address, escrow_id, allocated_at
		FROM allocated_addresses WHERE wallet_id = $1
		ORDER BY idx DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("list allocated addresses: %w", err)
	}
	defer rows.Close()

	var addrs []domain.AllocatedAddress
	for rows.Next() {
		a := domain.AllocatedAddress{}
		if err := rows.Scan(&a.WalletID, &a.Index, &a.Address, &a.EscrowID, &a.AllocatedAt); err != nil {
			return nil, fmt.Errorf("scan allocated address: %w", err)
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"crypto-escrow-gateway/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// ConfirmationRepo implements ports.ConfirmationRepository, the durable
// idempotency layer behind the Redis fast path.
type ConfirmationRepo struct {
	pool Pool
}

// NewConfirmationRepo creates a new ConfirmationRepo.
func NewConfirmationRepo(pool Pool) *ConfirmationRepo {
	return &ConfirmationRepo{pool: pool}
}

// Create inserts a processed-confirmation record within the caller's
// transaction, so the record commits or rolls back with the status change.
func (r *ConfirmationRepo) Create(ctx context.Context, tx pgx.Tx, pc *domain.ProcessedConfirmation) error {
	query := `INSERT INTO processed_confirmations (key, escrow_id, txid, amount_observed, confirmations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query,
		pc.Key, pc.EscrowID, pc.TxID, pc.AmountObserved, pc.Confirmations, pc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert processed confirmation: %w", err)
	}
	return nil
}

// Get fetches a processed-confirmation record by key.
func (r *ConfirmationRepo) Get(ctx context.Context, key string) (*domain.ProcessedConfirmation, error) {
	query := `SELECT key, escrow_id, txid, amount_observed, confirmations, created_at
		FROM processed_confirmations WHERE key = $1`

	pc := &domain.ProcessedConfirmation{}
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&pc.Key, &pc.EscrowID, &pc.TxID, &pc.AmountObserved, &pc.Confirmations, &pc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get processed confirmation: %w", err)
	}
	return pc, nil
}

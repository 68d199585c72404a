package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EscrowRepo implements ports.EscrowRepository.
type EscrowRepo struct {
	pool Pool
}

// NewEscrowRepo creates a new EscrowRepo.
func NewEscrowRepo(pool Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `id, order_id, buyer_id, seller_ref, gross_amount, currency, fee_rate_bps, fee_amount, net_amount,
		wallet_id, address, status, funding_txid, observed_amount, needs_reconciliation,
		dispute_reason, resolution_notes, held_at, released_at, refunded_at, auto_release_at,
		expires_at, created_at, updated_at`

func scanEscrow(row pgx.Row) (*domain.Escrow, error) {
	e := &domain.Escrow{}
	var status string
	err := row.Scan(
		&e.ID, &e.OrderID, &e.BuyerID, &e.SellerRef, &e.GrossAmount, &e.Currency,
		&e.FeeRateBps, &e.FeeAmount, &e.NetAmount,
		&e.WalletID, &e.Address, &status, &e.FundingTxID, &e.ObservedAmount, &e.NeedsReconciliation,
		&e.DisputeReason, &e.ResolutionNotes, &e.HeldAt, &e.ReleasedAt, &e.RefundedAt, &e.AutoReleaseAt,
		&e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.Status = domain.Status(status)
	return e, nil
}

func scanEscrowRows(rows pgx.Rows) ([]domain.Escrow, error) {
	defer rows.Close()

	var escrows []domain.Escrow
	for rows.Next() {
		e := domain.Escrow{}
		var status string
		if err := rows.Scan(
			&e.ID, &e.OrderID, &e.BuyerID, &e.SellerRef, &e.GrossAmount, &e.Currency,
			&e.FeeRateBps, &e.FeeAmount, &e.NetAmount,
			&e.WalletID, &e.Address, &status, &e.FundingTxID, &e.ObservedAmount, &e.NeedsReconciliation,
			&e.DisputeReason, &e.ResolutionNotes, &e.HeldAt, &e.ReleasedAt, &e.RefundedAt, &e.AutoReleaseAt,
			&e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan escrow: %w", err)
		}
		e.Status = domain.Status(status)
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}

// Create inserts a new escrow within the caller's transaction.
func (r *EscrowRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.Escrow) error {
	query := `INSERT INTO escrow_transactions (` + escrowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`

	_, err := tx.Exec(ctx, query,
		e.ID, e.OrderID, e.BuyerID, e.SellerRef, e.GrossAmount, e.Currency,
		e.FeeRateBps, e.FeeAmount, e.NetAmount,
		e.WalletID, e.Address, string(e.Status), e.FundingTxID, e.ObservedAmount, e.NeedsReconciliation,
		e.DisputeReason, e.ResolutionNotes, e.HeldAt, e.ReleasedAt, e.RefundedAt, e.AutoReleaseAt,
		e.ExpiresAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

// GetByID fetches an escrow by its UUID (without locking).
func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_transactions WHERE id = $1`
	e, err := scanEscrow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get escrow by id: %w", err)
	}
	return e, nil
}

// GetByIDForUpdate fetches an escrow with a row lock.
// This MUST be called within a transaction.
func (r *EscrowRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_transactions WHERE id = $1 FOR UPDATE`
	e, err := scanEscrow(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get escrow for update: %w", err)
	}
	return e, nil
}

// GetByOrderID fetches an escrow by the storefront order reference.
func (r *EscrowRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_transactions WHERE order_id = $1`
	e, err := scanEscrow(r.pool.QueryRow(ctx, query, orderID))
	if err != nil {
		return nil, fmt.Errorf("get escrow by order id: %w", err)
	}
	return e, nil
}

// GetByAddress fetches an escrow by its receive address.
func (r *EscrowRepo) GetByAddress(ctx context.Context, address string) (*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_transactions WHERE address = $1`
	e, err := scanEscrow(r.pool.QueryRow(ctx, query, address))
	if err != nil {
		return nil, fmt.Errorf("get escrow by address: %w", err)
	}
	return e, nil
}

// UpdateTransition persists the escrow's mutable lifecycle fields, guarded on
// the expected prior status. Zero rows affected means a concurrent transition
// won; the caller re-reads and re-evaluates.
func (r *EscrowRepo) UpdateTransition(ctx context.Context, tx pgx.Tx, e *domain.Escrow, from domain.Status) (bool, error) {
	query := `UPDATE escrow_transactions SET
			status = $1, funding_txid = $2, observed_amount = $3, needs_reconciliation = $4,
			dispute_reason = $5, resolution_notes = $6, held_at = $7, released_at = $8,
			refunded_at = $9, auto_release_at = $10, updated_at = $11
		WHERE id = $12 AND status = $13`

	tag, err := tx.Exec(ctx, query,
		string(e.Status), e.FundingTxID, e.ObservedAmount, e.NeedsReconciliation,
		e.DisputeReason, e.ResolutionNotes, e.HeldAt, e.ReleasedAt,
		e.RefundedAt, e.AutoReleaseAt, e.UpdatedAt,
		e.ID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update escrow transition: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListWatched returns escrows whose addresses the observer should poll:
// unfunded ones, plus EXPIRED ones still inside the late funding grace.
func (r *EscrowRepo) ListWatched(ctx context.Context, expiredAfter time.Time, limit int) ([]domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_transactions
		WHERE status IN ('CREATED', 'AWAITING_PAYMENT')
			OR (status = 'EXPIRED' AND expires_at > $1)
		ORDER BY created_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, expiredAfter, limit)
	if err != nil {
		return nil, fmt.Errorf("list watched escrows: %w", err)
	}
	return scanEscrowRows(rows)
}

// ListExpirable returns unfunded escrows past their payment window.
func (r *EscrowRepo) ListExpirable(ctx context.Context, before time.Time, limit int) ([]domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_transactions
		WHERE status IN ('CREATED', 'AWAITING_PAYMENT') AND expires_at <= $1
		ORDER BY expires_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expirable escrows: %w", err)
	}
	return scanEscrowRows(rows)
}

// ListAutoReleasable returns held escrows whose hold period has passed.
func (r *EscrowRepo) ListAutoReleasable(ctx context.Context, before time.Time, limit int) ([]domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_transactions
		WHERE status = 'HELD' AND auto_release_at IS NOT NULL AND auto_release_at <= $1
		ORDER BY auto_release_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list auto-releasable escrows: %w", err)
	}
	return scanEscrowRows(rows)
}

// List returns a filtered page of escrows plus the total matching count.
func (r *EscrowRepo) List(ctx context.Context, params ports.EscrowListParams) ([]domain.Escrow, int64, error) {
	var conditions []string
	var args []any
	argPos := 1

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*params.Status))
		argPos++
	}
	if params.BuyerID != nil {
		conditions = append(conditions, fmt.Sprintf("buyer_id = $%d", argPos))
		args = append(args, *params.BuyerID)
		argPos++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, time.Unix(*params.From, 0).UTC())
		argPos++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argPos))
		args = append(args, time.Unix(*params.To, 0).UTC())
		argPos++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM escrow_transactions` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count escrows: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	listQuery := fmt.Sprintf(`SELECT %s FROM escrow_transactions%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		escrowColumns, where, argPos, argPos+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list escrows: %w", err)
	}
	escrows, err := scanEscrowRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return escrows, total, nil
}

// GetStats returns the aggregate counts and totals for the dashboard.
func (r *EscrowRepo) GetStats(ctx context.Context) (*ports.EscrowStats, error) {
	query := `SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'AWAITING_PAYMENT'),
			COUNT(*) FILTER (WHERE status = 'HELD'),
			COUNT(*) FILTER (WHERE status = 'DISPUTED'),
			COUNT(*) FILTER (WHERE status = 'RELEASED'),
			COUNT(*) FILTER (WHERE status = 'REFUNDED'),
			COUNT(*) FILTER (WHERE status = 'EXPIRED'),
			COALESCE(SUM(gross_amount) FILTER (WHERE status IN ('HELD', 'DISPUTED')), 0),
			COALESCE(SUM(fee_amount) FILTER (WHERE status = 'RELEASED'), 0),
			COALESCE(SUM(net_amount) FILTER (WHERE status = 'RELEASED'), 0),
			COUNT(*) FILTER (WHERE needs_reconciliation)
		FROM escrow_transactions`

	stats := &ports.EscrowStats{}
	err := r.pool.QueryRow(ctx, query).Scan(
		&stats.TotalEscrows, &stats.AwaitingCount, &stats.HeldCount, &stats.DisputedCount,
		&stats.ReleasedCount, &stats.RefundedCount, &stats.ExpiredCount,
		&stats.GrossHeld, &stats.FeesCollected, &stats.NetReleased, &stats.Reconciliation,
	)
	if err != nil {
		return nil, fmt.Errorf("get escrow stats: %w", err)
	}
	return stats, nil
}

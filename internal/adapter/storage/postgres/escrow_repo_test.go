package postgres

import (
	"context"
	"testing"
	"time"

	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEscrow() *domain.Escrow {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Escrow{
		ID:          uuid.New(),
		OrderID:     "ord-42",
		BuyerID:     uuid.New(),
		SellerRef:   uuid.New().String(),
		GrossAmount: 10_000_000,
		Currency:    "BTC",
		FeeRateBps:  150,
		FeeAmount:   150_000,
		NetAmount:   9_850_000,
		WalletID:    uuid.New(),
		Address:     "bc1qescrow",
		Status:      domain.StatusAwaitingPayment,
		ExpiresAt:   now.Add(24 * time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func escrowCols() []string {
	return []string{
		"id", "order_id", "buyer_id", "seller_ref", "gross_amount", "currency",
		"fee_rate_bps", "fee_amount", "net_amount",
		"wallet_id", "address", "status", "funding_txid", "observed_amount", "needs_reconciliation",
		"dispute_reason", "resolution_notes", "held_at", "released_at", "refunded_at", "auto_release_at",
		"expires_at", "created_at", "updated_at",
	}
}

func escrowRow(e *domain.Escrow) *pgxmock.Rows {
	return pgxmock.NewRows(escrowCols()).AddRow(
		e.ID, e.OrderID, e.BuyerID, e.SellerRef, e.GrossAmount, e.Currency,
		e.FeeRateBps, e.FeeAmount, e.NetAmount,
		e.WalletID, e.Address, string(e.Status), e.FundingTxID, e.ObservedAmount, e.NeedsReconciliation,
		e.DisputeReason, e.ResolutionNotes, e.HeldAt, e.ReleasedAt, e.RefundedAt, e.AutoReleaseAt,
		e.ExpiresAt, e.CreatedAt, e.UpdatedAt,
	)
}

func TestEscrowRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	e := newTestEscrow()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO escrow_transactions").
		WithArgs(e.ID, e.OrderID, e.BuyerID, e.SellerRef, e.GrossAmount, e.Currency,
			e.FeeRateBps, e.FeeAmount, e.NetAmount,
			e.WalletID, e.Address, string(e.Status), e.FundingTxID, e.ObservedAmount, e.NeedsReconciliation,
			e.DisputeReason, e.ResolutionNotes, e.HeldAt, e.ReleasedAt, e.RefundedAt, e.AutoReleaseAt,
			e.ExpiresAt, e.CreatedAt, e.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), tx, e)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	e := newTestEscrow()

	mock.ExpectQuery("SELECT .+ FROM escrow_transactions WHERE id").
		WithArgs(e.ID).
		WillReturnRows(escrowRow(e))

	result, err := repo.GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, e.OrderID, result.OrderID)
	assert.Equal(t, domain.StatusAwaitingPayment, result.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_GetByAddress_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM escrow_transactions WHERE address").
		WithArgs("bc1qunknown").
		WillReturnRows(pgxmock.NewRows(escrowCols()))

	result, err := repo.GetByAddress(context.Background(), "bc1qunknown")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_UpdateTransition_Guarded(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	e := newTestEscrow()
	require.NoError(t, e.Apply(domain.EventFundingConfirmed, time.Now().UTC()))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE escrow_transactions SET").
		WithArgs(string(domain.StatusHeld), e.FundingTxID, e.ObservedAmount, e.NeedsReconciliation,
			e.DisputeReason, e.ResolutionNotes, e.HeldAt, e.ReleasedAt,
			e.RefundedAt, e.AutoReleaseAt, e.UpdatedAt,
			e.ID, string(domain.StatusAwaitingPayment)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	ok, err := repo.UpdateTransition(context.Background(), tx, e, domain.StatusAwaitingPayment)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_UpdateTransition_LostRace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	e := newTestEscrow()
	require.NoError(t, e.Apply(domain.EventPaymentExpired, time.Now().UTC()))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE escrow_transactions SET").
		WithArgs(string(domain.StatusExpired), e.FundingTxID, e.ObservedAmount, e.NeedsReconciliation,
			e.DisputeReason, e.ResolutionNotes, e.HeldAt, e.ReleasedAt,
			e.RefundedAt, e.AutoReleaseAt, e.UpdatedAt,
			e.ID, string(domain.StatusAwaitingPayment)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	ok, err := repo.UpdateTransition(context.Background(), tx, e, domain.StatusAwaitingPayment)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_ListExpirable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	e := newTestEscrow()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM escrow_transactions.+expires_at <=").
		WithArgs(now, 100).
		WillReturnRows(escrowRow(e))

	result, err := repo.ListExpirable(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, e.ID, result[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_List_WithFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	e := newTestEscrow()
	status := domain.StatusHeld

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM escrow_transactions WHERE status").
		WithArgs(string(status)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT .+ FROM escrow_transactions WHERE status .+ ORDER BY created_at DESC").
		WithArgs(string(status), 20, 0).
		WillReturnRows(escrowRow(e))

	result, total, err := repo.List(context.Background(), ports.EscrowListParams{
		Status: &status, Page: 1, PageSize: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, result, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_GetStats(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)

	mock.ExpectQuery("SELECT").
		WillReturnRows(pgxmock.NewRows([]string{
			"total", "awaiting", "held", "disputed", "released", "refunded", "expired",
			"gross_held", "fees", "net", "reconciliation",
		}).AddRow(
			int64(10), int64(2), int64(3), int64(1), int64(2), int64(1), int64(1),
			int64(40_000_000), int64(300_000), int64(19_700_000), int64(1),
		))

	stats, err := repo.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.TotalEscrows)
	assert.Equal(t, int64(3), stats.HeldCount)
	assert.Equal(t, int64(40_000_000), stats.GrossHeld)
	assert.Equal(t, int64(1), stats.Reconciliation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

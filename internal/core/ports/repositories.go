package ports

import (
	"context"
	"time"

	"crypto-escrow-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepository defines persistence operations for HD wallets.
// Methods accepting pgx.Tx are used inside transaction blocks so the index
// bump commits or rolls back together with the allocation record.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByIDInTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	// GetActivePrimary returns the wallet new escrows should allocate from:
	// primary first, then earliest created among active wallets.
	GetActivePrimary(ctx context.Context, currency string) (*domain.Wallet, error)
	List(ctx context.Context, currency string) ([]domain.Wallet, error)
	// CompareAndBumpIndex advances next_index from expected to expected+1.
	// Returns false without error when another allocator won the race.
	CompareAndBumpIndex(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, expected uint32) (bool, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// Promote marks the wallet primary and demotes every other wallet of the
	// same currency in one transaction.
	Promote(ctx context.Context, tx pgx.Tx, id uuid.UUID, currency string) error
}

// AddressRepository defines persistence for issued receive addresses.
// Rows are write-once; there is no update or delete.
type AddressRepository interface {
	Create(ctx context.Context, tx pgx.Tx, addr *domain.AllocatedAddress) error
	GetByAddress(ctx context.Context, address string) (*domain.AllocatedAddress, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.AllocatedAddress, error)
}

// EscrowListParams holds filter + pagination for listing escrows.
type EscrowListParams struct {
	Status   *domain.Status
	BuyerID  *uuid.UUID
	From     *int64 // Unix timestamp
	To       *int64 // Unix timestamp
	Page     int
	PageSize int
}

// EscrowStats holds aggregated statistics for the operator dashboard.
type EscrowStats struct {
	TotalEscrows   int64
	AwaitingCount  int64
	HeldCount      int64
	DisputedCount  int64
	ReleasedCount  int64
	RefundedCount  int64
	ExpiredCount   int64
	GrossHeld      int64 // Sum of gross amounts currently in HELD/DISPUTED
	FeesCollected  int64 // Sum of fees on released escrows
	NetReleased    int64 // Sum of net payouts on released escrows
	Reconciliation int64 // Escrows flagged for manual reconciliation
}

// EscrowRepository defines persistence operations for escrows.
type EscrowRepository interface {
	Create(ctx context.Context, tx pgx.Tx, escrow *domain.Escrow) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Escrow, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Escrow, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.Escrow, error)
	GetByAddress(ctx context.Context, address string) (*domain.Escrow, error)
	// UpdateTransition persists the escrow's mutable lifecycle fields guarded
	// on the expected prior status. Returns false without error when a
	// concurrent transition won; callers re-read and re-evaluate.
	UpdateTransition(ctx context.Context, tx pgx.Tx, escrow *domain.Escrow, from domain.Status) (bool, error)
	// ListWatched returns escrows whose addresses the observer should poll:
	// CREATED/AWAITING_PAYMENT, plus EXPIRED ones newer than expiredAfter so
	// late funding can still win.
	ListWatched(ctx context.Context, expiredAfter time.Time, limit int) ([]domain.Escrow, error)
	ListExpirable(ctx context.Context, before time.Time, limit int) ([]domain.Escrow, error)
	ListAutoReleasable(ctx context.Context, before time.Time, limit int) ([]domain.Escrow, error)
	List(ctx context.Context, params EscrowListParams) ([]domain.Escrow, int64, error)
	GetStats(ctx context.Context) (*EscrowStats, error)
}

// ConfirmationRepository defines persistence for processed confirmation
// events (the durable idempotency layer behind the Redis fast path).
type ConfirmationRepository interface {
	Create(ctx context.Context, tx pgx.Tx, pc *domain.ProcessedConfirmation) error
	Get(ctx context.Context, key string) (*domain.ProcessedConfirmation, error)
}

// NotificationRepository defines persistence for storefront callback logs.
type NotificationRepository interface {
	Create(ctx context.Context, log *domain.NotificationDeliveryLog) error
	Update(ctx context.Context, log *domain.NotificationDeliveryLog) error
}

// AuditRepository defines persistence for audit logs.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
	List(ctx context.Context, resourceType, resourceID string, limit int) ([]domain.AuditLog, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

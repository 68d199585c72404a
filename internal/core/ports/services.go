package ports

import (
	"context"
	"time"

	"crypto-escrow-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// KeyDeriver derives receive addresses from extended public key material.
// Pure and deterministic: same inputs always yield the same address, no
// network or storage access, and no private key is ever accepted.
type KeyDeriver interface {
	Derive(xpub string, index uint32) (string, error)
}

// FeeCalculator computes the frozen service fee split for a gross amount.
// Implementations must use integer arithmetic on minor units only.
type FeeCalculator interface {
	ComputeFee(gross int64) (fee int64, net int64, err error)
}

// AddressAllocator hands out exactly one fresh, never-reused address per
// request. AllocateInTx runs inside the caller's transaction so the index
// bump and the allocation record commit atomically with the escrow insert.
type AddressAllocator interface {
	Allocate(ctx context.Context, walletID uuid.UUID, escrowID uuid.UUID) (*domain.AllocatedAddress, error)
	AllocateInTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, escrowID uuid.UUID) (*domain.AllocatedAddress, error)
}

// ChainSource is the external chain-data provider: given an address, return
// the funding observations seen for it.
type ChainSource interface {
	Observations(ctx context.Context, address string) ([]domain.ConfirmationEvent, error)
}

// EventCache is the Redis fast path for confirmation replay suppression.
type EventCache interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string, ttl time.Duration) error
}

// EncryptionService handles AES-256-GCM encryption of xpubs at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification for
// server-to-server calls and storefront callbacks.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string
}

// TokenService validates JWTs issued by the external auth provider.
type TokenService interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject uuid.UUID
	Role    domain.Role
}

// NonceStore manages nonce uniqueness for replay attack prevention.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, scope string, nonce string, ttl time.Duration) (bool, error)
}

// Authorizer decides whether an actor may perform an escrow action. The
// authoritative rules live in the external auth provider; this port is
// consulted before every mutation.
type Authorizer interface {
	Authorize(actor domain.Actor, action domain.AuditAction, escrow *domain.Escrow) error
}

// --- Service Ports (Business Logic) ---

// CreateEscrowRequest holds validated input for escrow creation.
type CreateEscrowRequest struct {
	OrderID     string
	BuyerID     uuid.UUID
	SellerRef   string
	GrossAmount int64
	Currency    string
	ClientIP    string
}

// EscrowService orchestrates allocation, funding events and the escrow
// state machine.
type EscrowService interface {
	CreateEscrow(ctx context.Context, req CreateEscrowRequest) (*domain.Escrow, error)
	GetEscrow(ctx context.Context, id uuid.UUID) (*domain.Escrow, error)
	// OnConfirmation consumes a funding observation. At-least-once delivery
	// is assumed; replays are no-ops.
	OnConfirmation(ctx context.Context, event domain.ConfirmationEvent) error
	ReleaseToSeller(ctx context.Context, escrowID uuid.UUID, actor domain.Actor) (*domain.Escrow, error)
	RefundToBuyer(ctx context.Context, escrowID uuid.UUID, actor domain.Actor) (*domain.Escrow, error)
	RaiseDispute(ctx context.Context, escrowID uuid.UUID, actor domain.Actor, reason string) (*domain.Escrow, error)
	ResolveDispute(ctx context.Context, escrowID uuid.UUID, actor domain.Actor, outcome domain.ResolutionOutcome, notes string) (*domain.Escrow, error)
	// ExpireStale marks unfunded escrows past their payment window EXPIRED.
	// Returns how many were expired.
	ExpireStale(ctx context.Context, now time.Time, limit int) (int, error)
	// AutoRelease releases undisputed HELD escrows past their hold period.
	AutoRelease(ctx context.Context, now time.Time, limit int) (int, error)
}

// WalletService defines operator wallet management.
type WalletService interface {
	ImportWallet(ctx context.Context, req ImportWalletRequest) (*domain.Wallet, error)
	ListWallets(ctx context.Context, currency string) ([]domain.Wallet, error)
	SetWalletActive(ctx context.Context, id uuid.UUID, active bool) (*domain.Wallet, error)
	PromoteWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
}

// ImportWalletRequest holds input for importing an operator xpub.
type ImportWalletRequest struct {
	XPub                 string
	Currency             string
	DerivationPathPrefix string
	Label                *string
	MakePrimary          bool
}

// ReportingService defines dashboard/reporting business logic.
type ReportingService interface {
	GetDashboardStats(ctx context.Context) (*EscrowStats, error)
	ListEscrows(ctx context.Context, params EscrowListParams) ([]domain.Escrow, int64, error)
}

// NotificationService defines async storefront callbacks on state changes.
type NotificationService interface {
	NotifyTransition(ctx context.Context, escrow *domain.Escrow, eventType string) error
}

// AuditService defines audit trail recording.
type AuditService interface {
	// Log records an audit entry asynchronously (fire-and-forget).
	Log(ctx context.Context, entry *domain.AuditLog)
}

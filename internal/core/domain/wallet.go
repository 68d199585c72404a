package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds the public key material for one HD wallet. Only the extended
// public key is ever stored (AES-256 encrypted at rest); private keys never
// enter this system.
type Wallet struct {
	ID                   uuid.UUID `json:"id"`
	Currency             string    `json:"currency"`
	XPubEncrypted        string    `json:"-"` // AES-256 encrypted xpub, never expose raw
	DerivationPathPrefix string    `json:"derivation_path_prefix"` // e.g. "m/84'/0'/0'"
	NextIndex            uint32    `json:"next_index"`
	IsActive             bool      `json:"is_active"`
	IsPrimary            bool      `json:"is_primary"`
	Label                *string   `json:"label,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// AllocatedAddress is one issued receive address. Rows are write-once: an
// index is never recycled, even when the escrow it was issued to is abandoned.
type AllocatedAddress struct {
	WalletID    uuid.UUID `json:"wallet_id"`
	Index       uint32    `json:"index"`
	Address     string    `json:"address"`
	EscrowID    uuid.UUID `json:"escrow_id"`
	AllocatedAt time.Time `json:"allocated_at"`
}

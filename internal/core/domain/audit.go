package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionCreateEscrow  AuditAction = "CREATE_ESCROW"
	AuditActionRelease       AuditAction = "RELEASE"
	AuditActionRefund        AuditAction = "REFUND"
	AuditActionDispute       AuditAction = "DISPUTE"
	AuditActionResolve       AuditAction = "RESOLVE"
	AuditActionImportWallet  AuditAction = "IMPORT_WALLET"
	AuditActionToggleWallet  AuditAction = "TOGGLE_WALLET"
	AuditActionPromoteWallet AuditAction = "PROMOTE_WALLET"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	ActorID      *uuid.UUID  `json:"actor_id,omitempty"`
	ActorRole    string      `json:"actor_role,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}

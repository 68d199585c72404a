package domain

import "github.com/google/uuid"

// Role is the actor role carried in tokens issued by the external auth
// provider. Authorization rules live there; the gateway only enforces the
// coarse role checks on escrow mutations.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Actor identifies who is performing a mutating escrow operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// ResolutionOutcome is the fixed adjudication enum for disputed escrows.
type ResolutionOutcome string

const (
	OutcomeReleased ResolutionOutcome = "RELEASED"
	OutcomeRefunded ResolutionOutcome = "REFUNDED"
)

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConfirmationEvent is an ephemeral observation from the chain-data provider:
// a transaction paying a watched address at some confirmation depth. The
// provider delivers at-least-once; consumers must be replay safe.
type ConfirmationEvent struct {
	Address        string    `json:"address"`
	TxID           string    `json:"txid"`
	AmountObserved int64     `json:"amount_observed"`
	Confirmations  int32     `json:"confirmations"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Key identifies a funding observation for idempotent processing. Depth
// re-checks of the same transaction share a key, so replaying a confirmation
// that already triggered a hold is a no-op.
func (e ConfirmationEvent) Key() string {
	return e.Address + ":" + e.TxID
}

// ProcessedConfirmation records a confirmation event that already drove a
// transition, written in the same transaction as the status change.
type ProcessedConfirmation struct {
	Key            string    `json:"key"`
	EscrowID       uuid.UUID `json:"escrow_id"`
	TxID           string    `json:"txid"`
	AmountObserved int64     `json:"amount_observed"`
	Confirmations  int32     `json:"confirmations"`
	CreatedAt      time.Time `json:"created_at"`
}

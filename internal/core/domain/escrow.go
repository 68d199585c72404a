package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an escrow.
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusHeld            Status = "HELD"
	StatusDisputed        Status = "DISPUTED"
	StatusReleased        Status = "RELEASED"
	StatusRefunded        Status = "REFUNDED"
	StatusExpired         Status = "EXPIRED"
)

// Event represents a state machine input.
type Event string

const (
	EventAddressAllocated Event = "ADDRESS_ALLOCATED"
	EventFundingConfirmed Event = "FUNDING_CONFIRMED"
	EventPaymentExpired   Event = "PAYMENT_EXPIRED"
	EventRelease          Event = "RELEASE"
	EventRefund           Event = "REFUND"
	EventDispute          Event = "DISPUTE"
	EventResolveRelease   Event = "RESOLVE_RELEASE"
	EventResolveRefund    Event = "RESOLVE_REFUND"
)

// transitions is the single source of truth for legal state changes.
// EXPIRED accepts FUNDING_CONFIRMED: expiry is an optimistic abandonment
// marker only, a late confirmation proving payment always wins.
var transitions = map[Status]map[Event]Status{
	StatusCreated: {
		EventAddressAllocated: StatusAwaitingPayment,
		EventPaymentExpired:   StatusExpired,
	},
	StatusAwaitingPayment: {
		EventFundingConfirmed: StatusHeld,
		EventPaymentExpired:   StatusExpired,
	},
	StatusExpired: {
		EventFundingConfirmed: StatusHeld,
	},
	StatusHeld: {
		EventRelease: StatusReleased,
		EventRefund:  StatusRefunded,
		EventDispute: StatusDisputed,
	},
	StatusDisputed: {
		EventResolveRelease: StatusReleased,
		EventResolveRefund:  StatusRefunded,
	},
}

// TransitionError reports an event the current state cannot accept. These are
// ordering or replay bugs and are always surfaced, never swallowed.
type TransitionError struct {
	From  Status
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("escrow in state %s cannot accept event %s", e.From, e.Event)
}

// Escrow is the ledger record for one buyer/seller hold.
// GrossAmount, FeeAmount and NetAmount are minor units (satoshi), computed
// once at creation and frozen; fee rate changes never touch open escrows.
type Escrow struct {
	ID                  uuid.UUID  `json:"id"`
	OrderID             string     `json:"order_id"`
	BuyerID             uuid.UUID  `json:"buyer_id"`
	SellerRef           string     `json:"seller_ref"`
	GrossAmount         int64      `json:"gross_amount"`
	Currency            string     `json:"currency"`
	FeeRateBps          int64      `json:"fee_rate_bps"`
	FeeAmount           int64      `json:"fee_amount"`
	NetAmount           int64      `json:"net_amount"`
	WalletID            uuid.UUID  `json:"wallet_id"`
	Address             string     `json:"address"`
	Status              Status     `json:"status"`
	FundingTxID         *string    `json:"funding_txid,omitempty"`
	ObservedAmount      *int64     `json:"observed_amount,omitempty"`
	NeedsReconciliation bool       `json:"needs_reconciliation"`
	DisputeReason       *string    `json:"dispute_reason,omitempty"`
	ResolutionNotes     *string    `json:"resolution_notes,omitempty"`
	HeldAt              *time.Time `json:"held_at,omitempty"`
	ReleasedAt          *time.Time `json:"released_at,omitempty"`
	RefundedAt          *time.Time `json:"refunded_at,omitempty"`
	AutoReleaseAt       *time.Time `json:"auto_release_at,omitempty"`
	ExpiresAt           time.Time  `json:"expires_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsTerminal returns true if the escrow can accept no further events.
// EXPIRED is deliberately not terminal: late funding reopens it.
func (e *Escrow) IsTerminal() bool {
	return e.Status == StatusReleased || e.Status == StatusRefunded
}

// Next returns the state the given event would move the escrow to, without
// mutating it. Used by repositories to build status-guarded updates.
func (e *Escrow) Next(event Event) (Status, error) {
	next, ok := transitions[e.Status][event]
	if !ok {
		return e.Status, &TransitionError{From: e.Status, Event: event}
	}
	return next, nil
}

// Apply transitions the escrow, stamping lifecycle timestamps. HeldAt is set
// exactly once, on first entry into HELD; ReleasedAt and RefundedAt are
// mutually exclusive because no state reaches both.
func (e *Escrow) Apply(event Event, now time.Time) error {
	next, err := e.Next(event)
	if err != nil {
		return err
	}

	e.Status = next
	switch next {
	case StatusHeld:
		if e.HeldAt == nil {
			held := now
			e.HeldAt = &held
		}
	case StatusReleased:
		released := now
		e.ReleasedAt = &released
	case StatusRefunded:
		refunded := now
		e.RefundedAt = &refunded
	}
	e.UpdatedAt = now
	return nil
}

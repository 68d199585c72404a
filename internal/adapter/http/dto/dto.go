package dto

import (
	"time"

	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"
)

// CreateEscrowRequest is the storefront's server-to-server escrow creation body.
type CreateEscrowRequest struct {
	OrderID     string `json:"order_id" binding:"required,max=100,safe_id"`
	BuyerID     string `json:"buyer_id" binding:"required,uuid"`
	SellerRef   string `json:"seller_ref" binding:"required,max=100,safe_id"`
	GrossAmount int64  `json:"gross_amount" binding:"required,gt=0"`
	Currency    string `json:"currency" binding:"omitempty,len=3"`
}

// DisputeRequest is the request body for raising a dispute.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required,max=2000"`
}

// ResolveDisputeRequest is the arbiter's adjudication body.
type ResolveDisputeRequest struct {
	Outcome string `json:"outcome" binding:"required,oneof=RELEASED REFUNDED"`
	Notes   string `json:"notes" binding:"max=2000"`
}

// ChainEventRequest is the provider push-callback body for a funding
// observation on a watched address.
type ChainEventRequest struct {
	Address        string `json:"address" binding:"required,max=100"`
	TxID           string `json:"txid" binding:"required,max=100,safe_id"`
	AmountObserved int64  `json:"amount_observed" binding:"required,gt=0"`
	Confirmations  int32  `json:"confirmations" binding:"gte=0"`
	ObservedAt     int64  `json:"observed_at"` // Unix timestamp
}

// ImportWalletRequest is the operator body for importing an xpub.
type ImportWalletRequest struct {
	XPub                 string  `json:"xpub" binding:"required,min=100,max=120"`
	Currency             string  `json:"currency" binding:"omitempty,len=3"`
	DerivationPathPrefix string  `json:"derivation_path_prefix" binding:"omitempty,max=50"`
	Label                *string `json:"label,omitempty" binding:"omitempty,max=100"`
	MakePrimary          bool    `json:"make_primary"`
}

// SetWalletActiveRequest toggles a wallet's allocation eligibility.
type SetWalletActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// EscrowResponse is the escrow representation returned to clients.
type EscrowResponse struct {
	ID                  string  `json:"id"`
	OrderID             string  `json:"order_id"`
	BuyerID             string  `json:"buyer_id"`
	SellerRef           string  `json:"seller_ref"`
	GrossAmount         int64   `json:"gross_amount"`
	FeeAmount           int64   `json:"fee_amount"`
	NetAmount           int64   `json:"net_amount"`
	Currency            string  `json:"currency"`
	Address             string  `json:"address"`
	Status              string  `json:"status"`
	FundingTxID         *string `json:"funding_txid,omitempty"`
	ObservedAmount      *int64  `json:"observed_amount,omitempty"`
	NeedsReconciliation bool    `json:"needs_reconciliation"`
	DisputeReason       *string `json:"dispute_reason,omitempty"`
	ResolutionNotes     *string `json:"resolution_notes,omitempty"`
	ExpiresAt           string  `json:"expires_at"`
	AutoReleaseAt       *string `json:"auto_release_at,omitempty"`
	CreatedAt           string  `json:"created_at"`
}

// FromEscrow maps a domain escrow to its API representation.
func FromEscrow(e *domain.Escrow) EscrowResponse {
	resp := EscrowResponse{
		ID:                  e.ID.String(),
		OrderID:             e.OrderID,
		BuyerID:             e.BuyerID.String(),
		SellerRef:           e.SellerRef,
		GrossAmount:         e.GrossAmount,
		FeeAmount:           e.FeeAmount,
		NetAmount:           e.NetAmount,
		Currency:            e.Currency,
		Address:             e.Address,
		Status:              string(e.Status),
		FundingTxID:         e.FundingTxID,
		ObservedAmount:      e.ObservedAmount,
		NeedsReconciliation: e.NeedsReconciliation,
		DisputeReason:       e.DisputeReason,
		ResolutionNotes:     e.ResolutionNotes,
		ExpiresAt:           e.ExpiresAt.UTC().Format(time.RFC3339),
		CreatedAt:           e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.AutoReleaseAt != nil {
		s := e.AutoReleaseAt.UTC().Format(time.RFC3339)
		resp.AutoReleaseAt = &s
	}
	return resp
}

// WalletResponse is the operator-facing wallet representation. The xpub is
// never echoed back.
type WalletResponse struct {
	ID                   string  `json:"id"`
	Currency             string  `json:"currency"`
	DerivationPathPrefix string  `json:"derivation_path_prefix"`
	NextIndex            uint32  `json:"next_index"`
	IsActive             bool    `json:"is_active"`
	IsPrimary            bool    `json:"is_primary"`
	Label                *string `json:"label,omitempty"`
	CreatedAt            string  `json:"created_at"`
}

// FromWallet maps a domain wallet to its API representation.
func FromWallet(w *domain.Wallet) WalletResponse {
	return WalletResponse{
		ID:                   w.ID.String(),
		Currency:             w.Currency,
		DerivationPathPrefix: w.DerivationPathPrefix,
		NextIndex:            w.NextIndex,
		IsActive:             w.IsActive,
		IsPrimary:            w.IsPrimary,
		Label:                w.Label,
		CreatedAt:            w.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// DashboardStatsResponse is the response for dashboard statistics.
type DashboardStatsResponse struct {
	TotalEscrows   int64 `json:"total_escrows"`
	Awaiting       int64 `json:"awaiting_payment"`
	Held           int64 `json:"held"`
	Disputed       int64 `json:"disputed"`
	Released       int64 `json:"released"`
	Refunded       int64 `json:"refunded"`
	Expired        int64 `json:"expired"`
	GrossHeld      int64 `json:"gross_held"`
	FeesCollected  int64 `json:"fees_collected"`
	NetReleased    int64 `json:"net_released"`
	Reconciliation int64 `json:"needs_reconciliation"`
}

// FromStats maps aggregate stats to the API representation.
func FromStats(s *ports.EscrowStats) DashboardStatsResponse {
	return DashboardStatsResponse{
		TotalEscrows:   s.TotalEscrows,
		Awaiting:       s.AwaitingCount,
		Held:           s.HeldCount,
		Disputed:       s.DisputedCount,
		Released:       s.ReleasedCount,
		Refunded:       s.RefundedCount,
		Expired:        s.ExpiredCount,
		GrossHeld:      s.GrossHeld,
		FeesCollected:  s.FeesCollected,
		NetReleased:    s.NetReleased,
		Reconciliation: s.Reconciliation,
	}
}

// EscrowListResponse wraps a paginated escrow list.
type EscrowListResponse struct {
	Items      []EscrowResponse `json:"items"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

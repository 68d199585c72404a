package handler

import (
	"crypto-escrow-gateway/internal/adapter/http/dto"
	"crypto-escrow-gateway/internal/adapter/http/middleware"
	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"
	"crypto-escrow-gateway/pkg/apperror"
	"crypto-escrow-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EscrowHandler handles escrow lifecycle endpoints.
type EscrowHandler struct {
	escrowSvc ports.EscrowService
}

// NewEscrowHandler creates a new EscrowHandler.
func NewEscrowHandler(escrowSvc ports.EscrowService) *EscrowHandler {
	return &EscrowHandler{escrowSvc: escrowSvc}
}

// Create handles POST /api/v1/escrows (storefront, HMAC-authenticated).
func (h *EscrowHandler) Create(c *gin.Context) {
	var req dto.CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	buyerID, err := uuid.Parse(req.BuyerID)
	if err != nil {
		response.Error(c, apperror.Validation("buyer_id must be a UUID"))
		return
	}

	escrow, err := h.escrowSvc.CreateEscrow(c.Request.Context(), ports.CreateEscrowRequest{
		OrderID:     req.OrderID,
		BuyerID:     buyerID,
		SellerRef:   req.SellerRef,
		GrossAmount: req.GrossAmount,
		Currency:    req.Currency,
		ClientIP:    c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.FromEscrow(escrow))
}

// Get handles GET /api/v1/escrows/:id.
func (h *EscrowHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	escrow, err := h.escrowSvc.GetEscrow(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromEscrow(escrow))
}

// Release handles POST /api/v1/escrows/:id/release.
func (h *EscrowHandler) Release(c *gin.Context) {
	id, actor, ok := h.escrowAndActor(c)
	if !ok {
		return
	}

	escrow, err := h.escrowSvc.ReleaseToSeller(c.Request.Context(), id, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromEscrow(escrow))
}

// Refund handles POST /api/v1/escrows/:id/refund.
func (h *EscrowHandler) Refund(c *gin.Context) {
	id, actor, ok := h.escrowAndActor(c)
	if !ok {
		return
	}

	escrow, err := h.escrowSvc.RefundToBuyer(c.Request.Context(), id, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromEscrow(escrow))
}

// Dispute handles POST /api/v1/escrows/:id/dispute.
func (h *EscrowHandler) Dispute(c *gin.Context) {
	id, actor, ok := h.escrowAndActor(c)
	if !ok {
		return
	}

	var req dto.DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	escrow, err := h.escrowSvc.RaiseDispute(c.Request.Context(), id, actor, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromEscrow(escrow))
}

// Resolve handles POST /api/v1/escrows/:id/resolve (arbiter only).
func (h *EscrowHandler) Resolve(c *gin.Context) {
	id, actor, ok := h.escrowAndActor(c)
	if !ok {
		return
	}

	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	escrow, err := h.escrowSvc.ResolveDispute(c.Request.Context(), id, actor,
		domain.ResolutionOutcome(req.Outcome), req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromEscrow(escrow))
}

// escrowAndActor extracts the escrow ID path param and the authenticated
// actor from context. On failure it writes the error response itself.
func (h *EscrowHandler) escrowAndActor(c *gin.Context) (uuid.UUID, domain.Actor, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return uuid.Nil, domain.Actor{}, false
	}

	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return uuid.Nil, domain.Actor{}, false
	}
	return id, actor, true
}

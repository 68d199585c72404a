package handler

import (
	"time"

	"crypto-escrow-gateway/internal/adapter/http/dto"
	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"
	"crypto-escrow-gateway/pkg/apperror"
	"crypto-escrow-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

// ChainhookHandler ingests push callbacks from the chain-data provider.
// Polling via the observer covers providers without push support; both paths
// converge on EscrowService.OnConfirmation, which is replay safe.
type ChainhookHandler struct {
	escrowSvc ports.EscrowService
}

// NewChainhookHandler creates a new ChainhookHandler.
func NewChainhookHandler(escrowSvc ports.EscrowService) *ChainhookHandler {
	return &ChainhookHandler{escrowSvc: escrowSvc}
}

// HandleEvent handles POST /api/v1/chain/events.
func (h *ChainhookHandler) HandleEvent(c *gin.Context) {
	var req dto.ChainEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	observedAt := time.Now().UTC()
	if req.ObservedAt > 0 {
		observedAt = time.Unix(req.ObservedAt, 0).UTC()
	}

	err := h.escrowSvc.OnConfirmation(c.Request.Context(), domain.ConfirmationEvent{
		Address:        req.Address,
		TxID:           req.TxID,
		AmountObserved: req.AmountObserved,
		Confirmations:  req.Confirmations,
		ObservedAt:     observedAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"accepted": true})
}

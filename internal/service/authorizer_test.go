package service

import (
	"testing"

	"crypto-escrow-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRoleAuthorizer(t *testing.T) {
	buyerID := uuid.New()
	sellerID := uuid.New()
	escrow := &domain.Escrow{
		ID:        uuid.New(),
		BuyerID:   buyerID,
		SellerRef: sellerID.String(),
		Status:    domain.StatusHeld,
	}

	buyer := domain.Actor{ID: buyerID, Role: domain.RoleBuyer}
	seller := domain.Actor{ID: sellerID, Role: domain.RoleSeller}
	admin := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}
	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleBuyer}

	auth := NewRoleAuthorizer()

	tests := []struct {
		name    string
		actor   domain.Actor
		action  domain.AuditAction
		allowed bool
	}{
		{"buyer releases own escrow", buyer, domain.AuditActionRelease, true},
		{"stranger cannot release", stranger, domain.AuditActionRelease, false},
		{"seller cannot release", seller, domain.AuditActionRelease, false},
		{"seller refunds own escrow", seller, domain.AuditActionRefund, true},
		{"buyer cannot refund", buyer, domain.AuditActionRefund, false},
		{"buyer disputes own escrow", buyer, domain.AuditActionDispute, true},
		{"seller disputes own escrow", seller, domain.AuditActionDispute, true},
		{"stranger cannot dispute", stranger, domain.AuditActionDispute, false},
		{"buyer cannot resolve", buyer, domain.AuditActionResolve, false},
		{"seller cannot resolve", seller, domain.AuditActionResolve, false},
		{"admin releases", admin, domain.AuditActionRelease, true},
		{"admin refunds", admin, domain.AuditActionRefund, true},
		{"admin resolves", admin, domain.AuditActionResolve, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.Authorize(tt.actor, tt.action, escrow)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

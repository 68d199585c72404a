package service

import (
	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/pkg/apperror"
)

// RoleAuthorizer implements ports.Authorizer with the coarse role rules the
// auth provider ships in its tokens: buyers release (confirm receipt),
// sellers refund (cancel before delivery), either side disputes, only admins
// adjudicate. Fine-grained policy stays in the auth provider.
type RoleAuthorizer struct{}

// NewRoleAuthorizer creates the default role-based authorizer.
func NewRoleAuthorizer() *RoleAuthorizer {
	return &RoleAuthorizer{}
}

// Authorize returns nil when the actor may perform the action on the escrow.
func (a *RoleAuthorizer) Authorize(actor domain.Actor, action domain.AuditAction, escrow *domain.Escrow) error {
	if actor.Role == domain.RoleAdmin {
		return nil
	}

	switch action {
	case domain.AuditActionRelease:
		if actor.Role == domain.RoleBuyer && a.isBuyer(actor, escrow) {
			return nil
		}
		return apperror.ErrForbidden("release this escrow")
	case domain.AuditActionRefund:
		if actor.Role == domain.RoleSeller && a.isSeller(actor, escrow) {
			return nil
		}
		return apperror.ErrForbidden("refund this escrow")
	case domain.AuditActionDispute:
		if (actor.Role == domain.RoleBuyer && a.isBuyer(actor, escrow)) ||
			(actor.Role == domain.RoleSeller && a.isSeller(actor, escrow)) {
			return nil
		}
		return apperror.ErrForbidden("dispute this escrow")
	case domain.AuditActionResolve:
		return apperror.ErrForbidden("resolve disputes")
	default:
		return apperror.ErrForbidden(string(action))
	}
}

func (a *RoleAuthorizer) isBuyer(actor domain.Actor, escrow *domain.Escrow) bool {
	return escrow != nil && actor.ID == escrow.BuyerID
}

func (a *RoleAuthorizer) isSeller(actor domain.Actor, escrow *domain.Escrow) bool {
	return escrow != nil && actor.ID.String() == escrow.SellerRef
}

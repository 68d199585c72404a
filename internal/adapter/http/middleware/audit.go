package middleware

import (
	"encoding/json"
	"time"

	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog creates an audit middleware that logs successful wallet-admin
// write operations. Escrow mutations are audited inside the service layer
// where the actor and resource ID are known precisely.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only audit successful write operations (status 2xx)
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method == "GET" || c.Request.Method == "HEAD" || c.Request.Method == "OPTIONS" {
			return
		}

		action, resourceType := mapPathToAction(c.Request.URL.Path, c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var actorID *uuid.UUID
		var actorRole string
		if actor, ok := ActorFromContext(c); ok {
			actorID = &actor.ID
			actorRole = string(actor.Role)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			ActorID:      actorID,
			ActorRole:    actorRole,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.Param("id"),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now(),
		})
	}
}

func mapPathToAction(path, route, method string) (domain.AuditAction, string) {
	switch {
	case path == "/api/v1/wallets" && method == "POST":
		return domain.AuditActionImportWallet, "wallet"
	case route == "/api/v1/wallets/:id/active" && method == "PUT":
		return domain.AuditActionToggleWallet, "wallet"
	case route == "/api/v1/wallets/:id/promote" && method == "POST":
		return domain.AuditActionPromoteWallet, "wallet"
	}
	return "", ""
}

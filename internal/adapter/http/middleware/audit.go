package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CtxAuditResource is set by handlers to the id of the resource a request created.
const CtxAuditResource = "audit_resource_id"

// AuditIntake records accepted intake requests. Wallet and limit changes are audited
// by their services.
func AuditIntake(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() != http.StatusAccepted || c.Request.Method != http.MethodPost {
			return
		}
		action, resourceType := mapRouteToAction(c.FullPath())
		if action == "" {
			return
		}

		caller, _ := CallerFrom(c)
		details, _ := json.Marshal(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"role":       caller.Role,
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString(CtxRequestID),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			ActorID:      caller.OwnerID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.GetString(CtxAuditResource),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func mapRouteToAction(route string) (domain.AuditAction, string) {
	switch route {
	case "/api/v1/transactions/mint":
		return domain.AuditActionMintRequested, "transaction"
	case "/api/v1/transactions/burn":
		return domain.AuditActionBurnRequested, "transaction"
	case "/api/v1/transactions/transfer":
		return domain.AuditActionTransferRequested, "transaction"
	case "/api/v1/transactions/bulk-transfer":
		return domain.AuditActionBulkRequested, "batch"
	default:
		return "", ""
	}
}

package handler

import (
	"fmt"

	"stableflow/internal/adapter/http/dto"
	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"
	"stableflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// SettlementHandler serves operator views of settlement logs. Admin only.
type SettlementHandler struct {
	settlementSvc ports.SettlementService
	deliveries    ports.WebhookRepository
}

// NewSettlementHandler creates a new SettlementHandler. deliveries may be nil when
// webhooks are disabled.
func NewSettlementHandler(settlementSvc ports.SettlementService, deliveries ports.WebhookRepository) *SettlementHandler {
	return &SettlementHandler{settlementSvc: settlementSvc, deliveries: deliveries}
}

func settlementNotFound() *apperror.AppError {
	return apperror.ErrNotFound("settlement log")
}

// Get handles GET /api/v1/settlements/:id, where id is the transaction id.
func (h *SettlementHandler) Get(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}
	id, ok := pathUUID(c, settlementNotFound)
	if !ok {
		return
	}

	entry, err := h.settlementSvc.GetLog(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	var deliveries []domain.WebhookDeliveryLog
	if h.deliveries != nil {
		deliveries, err = h.deliveries.GetByTransactionID(c.Request.Context(), id)
		if err != nil {
			response.Error(c, apperror.InternalError(fmt.Errorf("list webhook deliveries: %w", err)))
			return
		}
	}
	response.OK(c, dto.ToSettlementDetailResponse(entry, deliveries))
}

// DeadLetters handles GET /api/v1/settlements/dead-letter.
func (h *SettlementHandler) DeadLetters(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}
	var q dto.PageQuery
	if !bindQuery(c, &q) {
		return
	}
	limit := pageLimit(q.Limit)

	logs, total, err := h.settlementSvc.ListDeadLetters(c.Request.Context(), limit, q.Offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, dto.ToSettlementLogResponses(logs), total, limit, q.Offset)
}

func (h *SettlementHandler) requireAdmin(c *gin.Context) bool {
	caller, ok := mustCaller(c)
	if !ok {
		return false
	}
	if !caller.Role.IsAdmin() {
		response.Error(c, apperror.ErrForbidden())
		return false
	}
	return true
}

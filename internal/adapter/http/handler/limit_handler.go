package handler

import (
	"stableflow/internal/adapter/http/dto"
	"stableflow/internal/core/ports"
	"stableflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// LimitHandler exposes per-owner spend limits.
type LimitHandler struct {
	limitSvc ports.LimitService
}

// NewLimitHandler creates a new LimitHandler.
func NewLimitHandler(limitSvc ports.LimitService) *LimitHandler {
	return &LimitHandler{limitSvc: limitSvc}
}

// Get handles GET /api/v1/limits/:owner.
func (h *LimitHandler) Get(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	counter, err := h.limitSvc.Get(c.Request.Context(), caller, c.Param("owner"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToLimitResponse(counter))
}

// Update handles PUT /api/v1/limits/:owner.
func (h *LimitHandler) Update(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req dto.LimitUpdateRequest
	if !bindJSON(c, &req) {
		return
	}
	daily, err := parseOptionalAmount(req.DailyLimit)
	if err != nil {
		response.Error(c, err)
		return
	}
	monthly, err := parseOptionalAmount(req.MonthlyLimit)
	if err != nil {
		response.Error(c, err)
		return
	}

	counter, err := h.limitSvc.Update(c.Request.Context(), caller, c.Param("owner"), ports.LimitUpdate{
		DailyLimit:   daily,
		MonthlyLimit: monthly,
		Active:       req.Active,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToLimitResponse(counter))
}

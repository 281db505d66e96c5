package handler

import (
	"stableflow/internal/adapter/http/dto"
	"stableflow/internal/adapter/http/middleware"
	"stableflow/internal/core/domain"
	"stableflow/pkg/apperror"
	"stableflow/pkg/money"
	"stableflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HeaderIdempotencyKey carries the client's retry key for intake requests.
const HeaderIdempotencyKey = "Idempotency-Key"

const defaultPageSize = 20

func pageLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return limit
}

// mustCaller returns the authenticated caller, writing a 401 when there is none.
func mustCaller(c *gin.Context) (domain.Caller, bool) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return domain.Caller{}, false
	}
	return caller, true
}

// bindJSON binds and sanitizes the request body, writing a 400 on failure.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	dto.SanitizeStruct(req)
	return true
}

func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	return true
}

// pathUUID parses the :id path parameter.
func pathUUID(c *gin.Context, notFound func() *apperror.AppError) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, notFound())
		return uuid.Nil, false
	}
	return id, true
}

// parseAmount converts a validated decimal string.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := money.Parse(s)
	if err != nil {
		return decimal.Zero, apperror.ErrInvalidAmount()
	}
	return d, nil
}

// parseOptionalAmount converts an optional decimal string.
func parseOptionalAmount(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseAmount(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// walletKeyFromPath reads the :owner and :currency path parameters.
func walletKeyFromPath(c *gin.Context) domain.WalletKey {
	return domain.WalletKey{OwnerID: c.Param("owner"), Currency: c.Param("currency")}
}

package handler

import (
	"context"

	"stableflow/internal/adapter/http/dto"
	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// WalletHandler handles wallet-related endpoints.
type WalletHandler struct {
	walletSvc ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc}
}

// Provision handles POST /api/v1/wallets.
func (h *WalletHandler) Provision(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req dto.ProvisionWalletRequest
	if !bindJSON(c, &req) {
		return
	}

	wallet, err := h.walletSvc.Provision(c.Request.Context(), caller, domain.WalletKey{OwnerID: req.OwnerID, Currency: req.Currency})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.ToWalletResponse(wallet))
}

// Get handles GET /api/v1/wallets/:owner/:currency.
func (h *WalletHandler) Get(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	wallet, err := h.walletSvc.Get(c.Request.Context(), caller, walletKeyFromPath(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToWalletResponse(wallet))
}

// History handles GET /api/v1/wallets/:owner/:currency/history.
func (h *WalletHandler) History(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var q dto.PageQuery
	if !bindQuery(c, &q) {
		return
	}
	limit := pageLimit(q.Limit)

	entries, total, err := h.walletSvc.History(c.Request.Context(), caller, walletKeyFromPath(c), limit, q.Offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, dto.ToHistoryResponses(entries), total, limit, q.Offset)
}

// Freeze handles POST /api/v1/wallets/:owner/:currency/freeze.
func (h *WalletHandler) Freeze(c *gin.Context) {
	h.hold(c, h.walletSvc.Freeze)
}

// Unfreeze handles POST /api/v1/wallets/:owner/:currency/unfreeze.
func (h *WalletHandler) Unfreeze(c *gin.Context) {
	h.hold(c, h.walletSvc.Unfreeze)
}

// Close handles POST /api/v1/wallets/:owner/:currency/close.
func (h *WalletHandler) Close(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	wallet, err := h.walletSvc.Close(c.Request.Context(), caller, walletKeyFromPath(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToWalletResponse(wallet))
}

type holdFunc func(ctx context.Context, caller domain.Caller, key domain.WalletKey, amount *decimal.Decimal) (*domain.Wallet, error)

// hold serves freeze and unfreeze. The body is optional.
func (h *WalletHandler) hold(c *gin.Context, apply holdFunc) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req dto.HoldRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	amount, err := parseOptionalAmount(req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	wallet, err := apply(c.Request.Context(), caller, walletKeyFromPath(c), amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToWalletResponse(wallet))
}

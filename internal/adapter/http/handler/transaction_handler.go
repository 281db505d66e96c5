package handler

import (
	"stableflow/internal/adapter/http/dto"
	"stableflow/internal/adapter/http/middleware"
	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"
	"stableflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TransactionHandler handles intake, status, cancel and reporting endpoints.
type TransactionHandler struct {
	intakeSvc    ports.IntakeService
	reportingSvc ports.ReportingService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(intakeSvc ports.IntakeService, reportingSvc ports.ReportingService) *TransactionHandler {
	return &TransactionHandler{intakeSvc: intakeSvc, reportingSvc: reportingSvc}
}

// Mint handles POST /api/v1/transactions/mint.
func (h *TransactionHandler) Mint(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req dto.MintRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.intakeSvc.Mint(c.Request.Context(), caller, ports.MintRequest{
		RequestMeta: h.meta(c, req.Currency, req.ReferenceID, req.Description),
		Destination: req.Destination,
		Amount:      amount,
	})
	h.accepted(c, result, err)
}

// Burn handles POST /api/v1/transactions/burn.
func (h *TransactionHandler) Burn(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req dto.BurnRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.intakeSvc.Burn(c.Request.Context(), caller, ports.BurnRequest{
		RequestMeta: h.meta(c, req.Currency, req.ReferenceID, req.Description),
		Source:      req.Source,
		Amount:      amount,
	})
	h.accepted(c, result, err)
}

// Transfer handles POST /api/v1/transactions/transfer.
func (h *TransactionHandler) Transfer(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req dto.TransferRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	source := req.Source
	if source == "" {
		source = caller.OwnerID
	}

	result, err := h.intakeSvc.Transfer(c.Request.Context(), caller, ports.TransferRequest{
		RequestMeta: h.meta(c, req.Currency, req.ReferenceID, req.Description),
		Source:      source,
		Destination: req.Destination,
		Amount:      amount,
	})
	h.accepted(c, result, err)
}

// BulkTransfer handles POST /api/v1/transactions/bulk-transfer.
func (h *TransactionHandler) BulkTransfer(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req dto.BulkTransferRequest
	if !bindJSON(c, &req) {
		return
	}

	legs := make([]ports.TransferLeg, len(req.Transfers))
	for i, t := range req.Transfers {
		amount, err := parseAmount(t.Amount)
		if err != nil {
			response.Error(c, err)
			return
		}
		legs[i] = ports.TransferLeg{
			Source:      t.Source,
			Destination: t.Destination,
			Amount:      amount,
			ReferenceID: t.ReferenceID,
			Description: t.Description,
		}
	}

	result, err := h.intakeSvc.BulkTransfer(c.Request.Context(), caller, ports.BulkTransferRequest{
		RequestMeta: h.meta(c, req.Currency, req.ReferenceID, req.Description),
		Legs:        legs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxAuditResource, result.BatchID.String())
	response.Accepted(c, dto.ToBulkIntakeResponse(result))
}

// Get handles GET /api/v1/transactions/:id.
func (h *TransactionHandler) Get(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, apperror.ErrTransactionNotFound)
	if !ok {
		return
	}

	txn, err := h.intakeSvc.GetTransaction(c.Request.Context(), caller, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToTransactionResponse(txn))
}

// Cancel handles POST /api/v1/transactions/:id/cancel.
func (h *TransactionHandler) Cancel(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, apperror.ErrTransactionNotFound)
	if !ok {
		return
	}

	txn, err := h.intakeSvc.Cancel(c.Request.Context(), caller, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToTransactionResponse(txn))
}

// List handles GET /api/v1/transactions.
func (h *TransactionHandler) List(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var q dto.TransactionListQuery
	if !bindQuery(c, &q) {
		return
	}

	params := ports.TransactionListParams{
		OwnerID: q.OwnerID,
		From:    q.From,
		To:      q.To,
		Limit:   pageLimit(q.Limit),
		Offset:  q.Offset,
	}
	if q.Status != "" {
		status := domain.TransactionStatus(q.Status)
		params.Status = &status
	}
	if q.Kind != "" {
		kind := domain.TransactionKind(q.Kind)
		params.Kind = &kind
	}
	if q.BatchID != "" {
		batchID, err := uuid.Parse(q.BatchID)
		if err != nil {
			response.Error(c, apperror.Validation("batch_id must be a UUID"))
			return
		}
		params.BatchID = &batchID
	}

	txns, total, err := h.reportingSvc.ListTransactions(c.Request.Context(), caller, params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, dto.ToTransactionResponses(txns), total, params.Limit, params.Offset)
}

// Stats handles GET /api/v1/transactions/stats.
func (h *TransactionHandler) Stats(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var q dto.StatsQuery
	if !bindQuery(c, &q) {
		return
	}

	stats, err := h.reportingSvc.GetStats(c.Request.Context(), caller, q.OwnerID, q.Period)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToStatsResponse(stats))
}

func (h *TransactionHandler) meta(c *gin.Context, currency, referenceID, description string) ports.RequestMeta {
	return ports.RequestMeta{
		Currency:       currency,
		ReferenceID:    referenceID,
		Description:    description,
		IdempotencyKey: c.GetHeader(HeaderIdempotencyKey),
	}
}

func (h *TransactionHandler) accepted(c *gin.Context, result *ports.IntakeResult, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxAuditResource, result.TransactionID.String())
	response.Accepted(c, dto.ToIntakeResponse(result))
}

package dto

import (
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/money"
)

// MintRequest is the request body for POST /transactions/mint.
type MintRequest struct {
	Destination string `json:"destination" binding:"required,max=64,safe_id"`
	Amount      string `json:"amount" binding:"required,decimal_amount"`
	Currency    string `json:"currency" binding:"omitempty,currency_code"`
	ReferenceID string `json:"reference_id" binding:"omitempty,max=100,safe_id"`
	Description string `json:"description" binding:"max=255"`
}

// BurnRequest is the request body for POST /transactions/burn.
type BurnRequest struct {
	Source      string `json:"source" binding:"required,max=64,safe_id"`
	Amount      string `json:"amount" binding:"required,decimal_amount"`
	Currency    string `json:"currency" binding:"omitempty,currency_code"`
	ReferenceID string `json:"reference_id" binding:"omitempty,max=100,safe_id"`
	Description string `json:"description" binding:"max=255"`
}

// TransferRequest is the request body for POST /transactions/transfer.
// Source defaults to the caller.
type TransferRequest struct {
	Source      string `json:"source" binding:"omitempty,max=64,safe_id"`
	Destination string `json:"destination" binding:"required,max=64,safe_id"`
	Amount      string `json:"amount" binding:"required,decimal_amount"`
	Currency    string `json:"currency" binding:"omitempty,currency_code"`
	ReferenceID string `json:"reference_id" binding:"omitempty,max=100,safe_id"`
	Description string `json:"description" binding:"max=255"`
}

// TransferLeg is one entry of a bulk transfer.
type TransferLeg struct {
	Source      string `json:"source" binding:"required,max=64,safe_id"`
	Destination string `json:"destination" binding:"required,max=64,safe_id"`
	Amount      string `json:"amount" binding:"required,decimal_amount"`
	ReferenceID string `json:"reference_id" binding:"omitempty,max=100,safe_id"`
	Description string `json:"description" binding:"max=255"`
}

// BulkTransferRequest is the request body for POST /transactions/bulk-transfer.
type BulkTransferRequest struct {
	Currency    string        `json:"currency" binding:"omitempty,currency_code"`
	ReferenceID string        `json:"reference_id" binding:"omitempty,max=100,safe_id"`
	Description string        `json:"description" binding:"max=255"`
	Transfers   []TransferLeg `json:"transfers" binding:"required,min=1,dive"`
}

// ProvisionWalletRequest is the request body for POST /wallets.
type ProvisionWalletRequest struct {
	OwnerID  string `json:"owner_id" binding:"required,max=64,safe_id"`
	Currency string `json:"currency" binding:"omitempty,currency_code"`
}

// HoldRequest is the optional body of the freeze and unfreeze endpoints.
// Without an amount the whole wallet changes status.
type HoldRequest struct {
	Amount *string `json:"amount" binding:"omitempty,decimal_amount"`
}

// LimitUpdateRequest is the request body for PUT /limits/:owner.
type LimitUpdateRequest struct {
	DailyLimit   *string `json:"daily_limit" binding:"omitempty,decimal_amount"`
	MonthlyLimit *string `json:"monthly_limit" binding:"omitempty,decimal_amount"`
	Active       *bool   `json:"active"`
}

// PageQuery binds limit/offset query parameters.
type PageQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// TransactionListQuery binds GET /transactions filters.
type TransactionListQuery struct {
	PageQuery
	OwnerID string     `form:"owner_id" binding:"omitempty,max=64,safe_id"`
	Status  string     `form:"status" binding:"omitempty,oneof=PENDING PROCESSING COMPLETED FAILED CANCELLED"`
	Kind    string     `form:"kind" binding:"omitempty,oneof=MINT BURN TRANSFER BULK_TRANSFER"`
	BatchID string     `form:"batch_id" binding:"omitempty,uuid"`
	From    *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To      *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// StatsQuery binds GET /transactions/stats.
type StatsQuery struct {
	OwnerID string `form:"owner_id" binding:"omitempty,max=64,safe_id"`
	Period  string `form:"period" binding:"omitempty,oneof=day week month all"`
}

// IntakeResponse is returned for an accepted single request.
type IntakeResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Fee           string `json:"fee"`
	Currency      string `json:"currency"`
}

// BulkIntakeResponse is returned for an accepted bulk request.
type BulkIntakeResponse struct {
	BatchID      string           `json:"batch_id"`
	Transactions []IntakeResponse `json:"transactions"`
	TotalAmount  string           `json:"total_amount"`
	TotalFee     string           `json:"total_fee"`
}

// TransactionResponse is the response body for a transaction record.
type TransactionResponse struct {
	ID               string  `json:"id"`
	Kind             string  `json:"kind"`
	SourceOwner      string  `json:"source_owner,omitempty"`
	DestinationOwner string  `json:"destination_owner,omitempty"`
	Currency         string  `json:"currency"`
	Amount           string  `json:"amount"`
	Fee              string  `json:"fee"`
	Status           string  `json:"status"`
	ReferenceID      string  `json:"reference_id,omitempty"`
	Description      string  `json:"description,omitempty"`
	BatchID          *string `json:"batch_id,omitempty"`
	RequestedBy      string  `json:"requested_by"`
	FailureReason    string  `json:"failure_reason,omitempty"`
	CreatedAt        string  `json:"created_at"`
	ProcessedAt      *string `json:"processed_at,omitempty"`
}

// WalletResponse is the response body for a wallet.
type WalletResponse struct {
	ID            string `json:"id"`
	OwnerID       string `json:"owner_id"`
	Currency      string `json:"currency"`
	Available     string `json:"available"`
	Frozen        string `json:"frozen"`
	Spendable     string `json:"spendable"`
	Status        string `json:"status"`
	LastMutatedAt string `json:"last_mutated_at"`
	CreatedAt     string `json:"created_at"`
}

// HistoryEntryResponse is one balance history entry.
type HistoryEntryResponse struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	PriorBalance  string `json:"prior_balance"`
	NewBalance    string `json:"new_balance"`
	Delta         string `json:"delta"`
	CorrelationID string `json:"correlation_id"`
	CreatedAt     string `json:"created_at"`
}

// LimitResponse is the response body for limit counters.
type LimitResponse struct {
	OwnerID          string `json:"owner_id"`
	DailyLimit       string `json:"daily_limit"`
	MonthlyLimit     string `json:"monthly_limit"`
	DailyUsed        string `json:"daily_used"`
	MonthlyUsed      string `json:"monthly_used"`
	DailyRemaining   string `json:"daily_remaining"`
	MonthlyRemaining string `json:"monthly_remaining"`
	DailyResetDate   string `json:"daily_reset_date"`
	MonthlyResetDate string `json:"monthly_reset_date"`
	Active           bool   `json:"active"`
}

// StatsResponse is the response body for transaction statistics.
type StatsResponse struct {
	Total           int64  `json:"total"`
	Completed       int64  `json:"completed"`
	Failed          int64  `json:"failed"`
	InFlight        int64  `json:"in_flight"`
	Cancelled       int64  `json:"cancelled"`
	CompletedVolume string `json:"completed_volume"`
	FeesPaid        string `json:"fees_paid"`
}

// SettlementLogResponse is the operator view of a settlement log.
type SettlementLogResponse struct {
	TransactionID       string                   `json:"transaction_id"`
	Status              string                   `json:"status"`
	RetryCount          int                      `json:"retry_count"`
	MaxRetries          int                      `json:"max_retries"`
	NextRetryAt         *string                  `json:"next_retry_at,omitempty"`
	LastError           string                   `json:"last_error,omitempty"`
	Kind                string                   `json:"kind"`
	Amount              string                   `json:"amount"`
	Fee                 string                   `json:"fee"`
	Mutations           []domain.AppliedMutation `json:"mutations,omitempty"`
	ReservationReleased bool                     `json:"reservation_released"`
	CreatedAt           string                   `json:"created_at"`
	UpdatedAt           string                   `json:"updated_at"`
}

// SettlementDetailResponse is a settlement log with the webhook deliveries of its events.
type SettlementDetailResponse struct {
	SettlementLogResponse
	WebhookDeliveries []WebhookDeliveryResponse `json:"webhook_deliveries,omitempty"`
}

// WebhookDeliveryResponse is one webhook delivery record.
type WebhookDeliveryResponse struct {
	EventID     string  `json:"event_id"`
	Status      string  `json:"status"`
	Attempt     int     `json:"attempt"`
	HTTPStatus  *int    `json:"http_status,omitempty"`
	LastError   *string `json:"last_error,omitempty"`
	NextRetryAt *string `json:"next_retry_at,omitempty"`
	UpdatedAt   string  `json:"updated_at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// ToIntakeResponse converts an intake result to its DTO.
func ToIntakeResponse(r *ports.IntakeResult) IntakeResponse {
	return IntakeResponse{
		TransactionID: r.TransactionID.String(),
		Status:        string(r.Status),
		Amount:        money.String(r.Amount),
		Fee:           money.String(r.Fee),
		Currency:      r.Currency,
	}
}

// ToBulkIntakeResponse converts a bulk intake result to its DTO.
func ToBulkIntakeResponse(r *ports.BulkIntakeResult) BulkIntakeResponse {
	items := make([]IntakeResponse, len(r.Transactions))
	for i := range r.Transactions {
		items[i] = ToIntakeResponse(&r.Transactions[i])
	}
	return BulkIntakeResponse{
		BatchID:      r.BatchID.String(),
		Transactions: items,
		TotalAmount:  money.String(r.TotalAmount),
		TotalFee:     money.String(r.TotalFee),
	}
}

// ToTransactionResponse converts domain.Transaction to DTO.
func ToTransactionResponse(tx *domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:               tx.ID.String(),
		Kind:             string(tx.Kind),
		SourceOwner:      tx.SourceOwner,
		DestinationOwner: tx.DestinationOwner,
		Currency:         tx.Currency,
		Amount:           money.String(tx.Amount),
		Fee:              money.String(tx.Fee),
		Status:           string(tx.Status),
		ReferenceID:      tx.ReferenceID,
		Description:      tx.Description,
		RequestedBy:      tx.RequestedBy,
		FailureReason:    tx.FailureReason,
		CreatedAt:        formatTime(tx.CreatedAt),
		ProcessedAt:      formatTimePtr(tx.ProcessedAt),
	}
	if tx.BatchID != nil {
		s := tx.BatchID.String()
		resp.BatchID = &s
	}
	return resp
}

// ToTransactionResponses converts a page of transactions.
func ToTransactionResponses(txs []domain.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, len(txs))
	for i := range txs {
		out[i] = ToTransactionResponse(&txs[i])
	}
	return out
}

// ToWalletResponse converts domain.Wallet to DTO.
func ToWalletResponse(w *domain.Wallet) WalletResponse {
	return WalletResponse{
		ID:            w.ID.String(),
		OwnerID:       w.OwnerID,
		Currency:      w.Currency,
		Available:     money.String(w.Available),
		Frozen:        money.String(w.Frozen),
		Spendable:     money.String(w.Spendable()),
		Status:        string(w.Status),
		LastMutatedAt: formatTime(w.LastMutatedAt),
		CreatedAt:     formatTime(w.CreatedAt),
	}
}

// ToHistoryResponses converts balance history entries.
func ToHistoryResponses(entries []domain.BalanceHistoryEntry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntryResponse{
			ID:            e.ID.String(),
			Kind:          string(e.Kind),
			PriorBalance:  money.String(e.PriorBalance),
			NewBalance:    money.String(e.NewBalance),
			Delta:         money.String(e.Delta),
			CorrelationID: e.CorrelationID.String(),
			CreatedAt:     formatTime(e.CreatedAt),
		}
	}
	return out
}

// ToLimitResponse converts limit counters to DTO.
func ToLimitResponse(c *domain.LimitCounter) LimitResponse {
	return LimitResponse{
		OwnerID:          c.OwnerID,
		DailyLimit:       money.String(c.DailyLimit),
		MonthlyLimit:     money.String(c.MonthlyLimit),
		DailyUsed:        money.String(c.DailyUsed),
		MonthlyUsed:      money.String(c.MonthlyUsed),
		DailyRemaining:   money.String(c.DailyRemaining()),
		MonthlyRemaining: money.String(c.MonthlyRemaining()),
		DailyResetDate:   c.DailyResetDate.Format("2006-01-02"),
		MonthlyResetDate: c.MonthlyResetDate.Format("2006-01-02"),
		Active:           c.Active,
	}
}

// ToStatsResponse converts transaction statistics to DTO.
func ToStatsResponse(s *ports.TransactionStats) StatsResponse {
	return StatsResponse{
		Total:           s.Total,
		Completed:       s.Completed,
		Failed:          s.Failed,
		InFlight:        s.InFlight,
		Cancelled:       s.Cancelled,
		CompletedVolume: money.String(s.CompletedVolume),
		FeesPaid:        money.String(s.FeesPaid),
	}
}

// ToSettlementLogResponse converts a settlement log to DTO.
func ToSettlementLogResponse(l *domain.SettlementLog) SettlementLogResponse {
	return SettlementLogResponse{
		TransactionID:       l.TransactionID.String(),
		Status:              string(l.Status),
		RetryCount:          l.RetryCount,
		MaxRetries:          l.MaxRetries,
		NextRetryAt:         formatTimePtr(l.NextRetryAt),
		LastError:           l.LastError,
		Kind:                string(l.WorkItem.Kind),
		Amount:              money.String(l.WorkItem.Amount),
		Fee:                 money.String(l.WorkItem.Fee),
		Mutations:           l.AppliedMutations,
		ReservationReleased: l.ReservationReleased,
		CreatedAt:           formatTime(l.CreatedAt),
		UpdatedAt:           formatTime(l.UpdatedAt),
	}
}

// ToSettlementDetailResponse converts a settlement log and its webhook deliveries.
func ToSettlementDetailResponse(l *domain.SettlementLog, deliveries []domain.WebhookDeliveryLog) SettlementDetailResponse {
	out := SettlementDetailResponse{SettlementLogResponse: ToSettlementLogResponse(l)}
	for _, d := range deliveries {
		out.WebhookDeliveries = append(out.WebhookDeliveries, WebhookDeliveryResponse{
			EventID:     d.EventID.String(),
			Status:      string(d.Status),
			Attempt:     d.Attempt,
			HTTPStatus:  d.HTTPStatus,
			LastError:   d.LastError,
			NextRetryAt: formatTimePtr(d.NextRetryAt),
			UpdatedAt:   formatTime(d.UpdatedAt),
		})
	}
	return out
}

// ToSettlementLogResponses converts a page of settlement logs.
func ToSettlementLogResponses(logs []domain.SettlementLog) []SettlementLogResponse {
	out := make([]SettlementLogResponse, len(logs))
	for i := range logs {
		out[i] = ToSettlementLogResponse(&logs[i])
	}
	return out
}

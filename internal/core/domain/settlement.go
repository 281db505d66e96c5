package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementStatus is the processing state of one work item.
type SettlementStatus string

const (
	SettlementStatusReceived   SettlementStatus = "RECEIVED"
	SettlementStatusProcessing SettlementStatus = "PROCESSING"
	SettlementStatusCompleted  SettlementStatus = "COMPLETED"
	SettlementStatusRetrying   SettlementStatus = "RETRYING"
	SettlementStatusDeadLetter SettlementStatus = "DEAD_LETTER"
)

// WorkItem is the queued unit of settlement work.
type WorkItem struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Kind          TransactionKind `json:"kind"`
	Source        string          `json:"source,omitempty"`
	Destination   string          `json:"destination,omitempty"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	Description   string          `json:"description,omitempty"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
}

// NewWorkItem snapshots a transaction into a work item.
func NewWorkItem(t *Transaction) WorkItem {
	return WorkItem{
		TransactionID: t.ID,
		Kind:          t.Kind,
		Source:        t.SourceOwner,
		Destination:   t.DestinationOwner,
		Currency:      t.Currency,
		Amount:        t.Amount,
		Fee:           t.Fee,
		Description:   t.Description,
		CorrelationID: t.CorrelationID(),
	}
}

// SettlementLog is the idempotency anchor for a transaction's settlement. One per transaction, never deleted.
type SettlementLog struct {
	ID                  uuid.UUID         `json:"id"`
	TransactionID       uuid.UUID         `json:"transaction_id"`
	Status              SettlementStatus  `json:"status"`
	RetryCount          int               `json:"retry_count"`
	MaxRetries          int               `json:"max_retries"`
	NextRetryAt         *time.Time        `json:"next_retry_at,omitempty"`
	LastError           string            `json:"last_error,omitempty"`
	WorkItem            WorkItem          `json:"work_item"`
	AppliedMutations    []AppliedMutation `json:"applied_mutations,omitempty"`
	ReservationReleased bool              `json:"reservation_released"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// IsFinal returns true once the log can no longer change status.
func (l *SettlementLog) IsFinal() bool {
	return l.Status == SettlementStatusCompleted || l.Status == SettlementStatusDeadLetter
}

// RemainingDelay is how long a RETRYING log must still wait; zero when eligible.
func (l *SettlementLog) RemainingDelay(now time.Time) time.Duration {
	if l.Status != SettlementStatusRetrying || l.NextRetryAt == nil {
		return 0
	}
	if d := l.NextRetryAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// RetriesExhausted reports whether another failure must dead-letter.
func (l *SettlementLog) RetriesExhausted() bool {
	return l.RetryCount >= l.MaxRetries
}

// RetryDelay returns base * 2^retryCount.
func RetryDelay(base time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return base << uint(retryCount)
}

// SettlementOutcome is the result of processing one work item. For a COMPLETED log
// it is rebuilt from the stored mutations, so repeated deliveries see the same value.
type SettlementOutcome struct {
	TransactionID    uuid.UUID         `json:"transaction_id"`
	TransactionState TransactionStatus `json:"transaction_status"`
	SettlementState  SettlementStatus  `json:"settlement_status"`
	Mutations        []AppliedMutation `json:"mutations,omitempty"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	RetryAfter       time.Duration     `json:"retry_after,omitempty"`
	SettledAt        *time.Time        `json:"settled_at,omitempty"`
}

// OutcomeFromLog builds the outcome recorded by a final log.
func OutcomeFromLog(l *SettlementLog) *SettlementOutcome {
	out := &SettlementOutcome{
		TransactionID:   l.TransactionID,
		SettlementState: l.Status,
		Mutations:       l.AppliedMutations,
	}
	switch l.Status {
	case SettlementStatusCompleted:
		out.TransactionState = TransactionStatusCompleted
		settled := l.UpdatedAt
		out.SettledAt = &settled
	case SettlementStatusDeadLetter:
		out.TransactionState = TransactionStatusFailed
		out.FailureReason = l.LastError
	default:
		out.TransactionState = TransactionStatusProcessing
	}
	return out
}

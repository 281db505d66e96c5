package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind represents the kind of supply mutation.
type TransactionKind string

const (
	TransactionKindMint         TransactionKind = "MINT"
	TransactionKindBurn         TransactionKind = "BURN"
	TransactionKindTransfer     TransactionKind = "TRANSFER"
	TransactionKindBulkTransfer TransactionKind = "BULK_TRANSFER"
)

// ChargesFee reports whether intake charges a fee for this kind.
func (k TransactionKind) ChargesFee() bool {
	return k == TransactionKindTransfer || k == TransactionKindBulkTransfer
}

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
	TransactionStatusCancelled  TransactionStatus = "CANCELLED"
)

// Transaction is the lifecycle record of one logical supply mutation.
// Empty owner strings mean "none" (a mint has no source, a burn no destination).
type Transaction struct {
	ID               uuid.UUID         `json:"id"`
	Kind             TransactionKind   `json:"kind"`
	SourceOwner      string            `json:"source_owner,omitempty"`
	DestinationOwner string            `json:"destination_owner,omitempty"`
	Currency         string            `json:"currency"`
	Amount           decimal.Decimal   `json:"amount"`
	Fee              decimal.Decimal   `json:"fee"`
	Status           TransactionStatus `json:"status"`
	ReferenceID      string            `json:"reference_id,omitempty"`
	Description      string            `json:"description,omitempty"`
	BatchID          *uuid.UUID        `json:"batch_id,omitempty"`
	IdempotencyKey   string            `json:"-"`
	RequestedBy      string            `json:"requested_by"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted ||
		t.Status == TransactionStatusFailed ||
		t.Status == TransactionStatusCancelled
}

// PayingOwner is the owner whose limits and balance fund the transaction. Mints have none.
func (t *Transaction) PayingOwner() string {
	if t.Kind == TransactionKindMint {
		return ""
	}
	return t.SourceOwner
}

// Total is the amount debited from the paying owner, fee included.
func (t *Transaction) Total() decimal.Decimal {
	return t.Amount.Add(t.Fee)
}

// CorrelationID groups the legs of a bulk transfer; single transactions correlate to themselves.
func (t *Transaction) CorrelationID() uuid.UUID {
	if t.BatchID != nil {
		return *t.BatchID
	}
	return t.ID
}

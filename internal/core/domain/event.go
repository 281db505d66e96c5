package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a settlement event.
type EventType string

const (
	EventSettlementCompleted EventType = "settlement.completed"
	EventSettlementFailed    EventType = "settlement.failed"
)

// WalletBalance is a wallet's available balance right after a settlement committed.
type WalletBalance struct {
	OwnerID   string          `json:"owner_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
}

// BalancesAfter returns each touched wallet's balance after the last of mutations, in first-touch order.
func BalancesAfter(mutations []AppliedMutation) []WalletBalance {
	var out []WalletBalance
	index := map[WalletKey]int{}
	for _, m := range mutations {
		key := WalletKey{OwnerID: m.OwnerID, Currency: m.Currency}
		if i, ok := index[key]; ok {
			out[i].Available = m.NewBalance
			continue
		}
		index[key] = len(out)
		out = append(out, WalletBalance{OwnerID: m.OwnerID, Currency: m.Currency, Available: m.NewBalance})
	}
	return out
}

// SettlementEvent is published once per transaction reaching COMPLETED or FAILED.
type SettlementEvent struct {
	ID            uuid.UUID         `json:"event_id"`
	Type          EventType         `json:"event_type"`
	TransactionID uuid.UUID         `json:"transaction_id"`
	Kind          TransactionKind   `json:"kind"`
	Status        TransactionStatus `json:"status"`
	Source        string            `json:"source,omitempty"`
	Destination   string            `json:"destination,omitempty"`
	Currency      string            `json:"currency"`
	Amount        decimal.Decimal   `json:"amount"`
	Fee           decimal.Decimal   `json:"fee"`
	CorrelationID uuid.UUID         `json:"correlation_id"`
	Balances      []WalletBalance   `json:"balances,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// NewSettlementEvent builds the event for a settled or failed work item.
func NewSettlementEvent(item WorkItem, status TransactionStatus, balances []WalletBalance, reason string, at time.Time) *SettlementEvent {
	typ := EventSettlementCompleted
	if status != TransactionStatusCompleted {
		typ = EventSettlementFailed
	}
	return &SettlementEvent{
		ID:            uuid.New(),
		Type:          typ,
		TransactionID: item.TransactionID,
		Kind:          item.Kind,
		Status:        status,
		Source:        item.Source,
		Destination:   item.Destination,
		Currency:      item.Currency,
		Amount:        item.Amount,
		Fee:           item.Fee,
		CorrelationID: item.CorrelationID,
		Balances:      balances,
		FailureReason: reason,
		OccurredAt:    at,
	}
}

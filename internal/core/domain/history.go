package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MutationKind is the kind of a ledger mutation and of its history entry.
type MutationKind string

const (
	MutationDeposit     MutationKind = "DEPOSIT"
	MutationWithdrawal  MutationKind = "WITHDRAWAL"
	MutationTransferIn  MutationKind = "TRANSFER_IN"
	MutationTransferOut MutationKind = "TRANSFER_OUT"
	MutationMint        MutationKind = "MINT"
	MutationBurn        MutationKind = "BURN"
	MutationFreeze      MutationKind = "FREEZE"
	MutationUnfreeze    MutationKind = "UNFREEZE"
	MutationFee         MutationKind = "FEE"
	MutationAdjustment  MutationKind = "ADJUSTMENT"
)

// IsCredit reports whether the kind adds to the available balance.
func (k MutationKind) IsCredit() bool {
	switch k {
	case MutationDeposit, MutationTransferIn, MutationMint, MutationUnfreeze:
		return true
	}
	return false
}

// IsDebit reports whether the kind subtracts from the available balance.
func (k MutationKind) IsDebit() bool {
	switch k {
	case MutationWithdrawal, MutationTransferOut, MutationBurn, MutationFee, MutationFreeze:
		return true
	}
	return false
}

// AllowedWhenInactive reports whether the kind may touch a wallet that is not ACTIVE.
func (k MutationKind) AllowedWhenInactive() bool {
	return k == MutationUnfreeze || k == MutationAdjustment
}

// Valid reports whether k is a known mutation kind.
func (k MutationKind) Valid() bool {
	return k.IsCredit() || k.IsDebit() || k == MutationAdjustment
}

// SignedDelta returns the change to the available balance for a mutation of amount.
// ADJUSTMENT amounts are already signed.
func (k MutationKind) SignedDelta(amount decimal.Decimal) decimal.Decimal {
	if k.IsDebit() {
		return amount.Abs().Neg()
	}
	if k.IsCredit() {
		return amount.Abs()
	}
	return amount
}

// BalanceHistoryEntry is an append-only record of one wallet mutation.
// NewBalance always equals PriorBalance + Delta.
type BalanceHistoryEntry struct {
	ID            uuid.UUID       `json:"id"`
	WalletID      uuid.UUID       `json:"wallet_id"`
	PriorBalance  decimal.Decimal `json:"prior_balance"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	Delta         decimal.Decimal `json:"delta"`
	Kind          MutationKind    `json:"kind"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AppliedMutation is the record of a committed mutation kept on the settlement log.
type AppliedMutation struct {
	HistoryID    uuid.UUID       `json:"history_id"`
	OwnerID      string          `json:"owner_id"`
	Currency     string          `json:"currency"`
	Kind         MutationKind    `json:"kind"`
	Delta        decimal.Decimal `json:"delta"`
	PriorBalance decimal.Decimal `json:"prior_balance"`
	NewBalance   decimal.Decimal `json:"new_balance"`
}

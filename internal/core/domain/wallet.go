package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletStatus represents the state of a wallet.
type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "ACTIVE"
	WalletStatusFrozen    WalletStatus = "FROZEN"
	WalletStatusSuspended WalletStatus = "SUSPENDED"
	WalletStatusClosed    WalletStatus = "CLOSED"
)

// WalletKey identifies a wallet by owner and currency.
type WalletKey struct {
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
}

func (k WalletKey) String() string {
	return k.OwnerID + "/" + k.Currency
}

// Less orders keys for deterministic multi-wallet locking.
func (k WalletKey) Less(other WalletKey) bool {
	if k.OwnerID != other.OwnerID {
		return k.OwnerID < other.OwnerID
	}
	return k.Currency < other.Currency
}

// Wallet is an owner's balance in a single currency. Wallets are never deleted, only CLOSED.
type Wallet struct {
	ID            uuid.UUID       `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Currency      string          `json:"currency"`
	Available     decimal.Decimal `json:"available"`
	Frozen        decimal.Decimal `json:"frozen"`
	Status        WalletStatus    `json:"status"`
	LastMutatedAt time.Time       `json:"last_mutated_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Key returns the wallet's (owner, currency) key.
func (w *Wallet) Key() WalletKey {
	return WalletKey{OwnerID: w.OwnerID, Currency: w.Currency}
}

// IsActive returns true if the wallet accepts ordinary mutations.
func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// Spendable is the balance intake checks a debit against: available minus frozen.
func (w *Wallet) Spendable() decimal.Decimal {
	return w.Available.Sub(w.Frozen)
}

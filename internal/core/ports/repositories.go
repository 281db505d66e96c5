package ports

import (
	"context"
	"time"

	"stableflow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepository is the ledger store: wallet balances plus their append-only history.
// Methods accepting pgx.Tx run inside the caller's transaction and take row locks.
type WalletRepository interface {
	// Provision inserts a new wallet. Returns apperror WALLET_EXISTS on conflict.
	Provision(ctx context.Context, wallet *domain.Wallet) error
	// EnsureWallet creates an ACTIVE zero-balance wallet if none exists.
	EnsureWallet(ctx context.Context, tx pgx.Tx, key domain.WalletKey) error
	// Get is a non-locking read. Returns nil, nil when the wallet does not exist.
	Get(ctx context.Context, key domain.WalletKey) (*domain.Wallet, error)
	// GetForUpdate locks the wallet row. Returns nil, nil when the wallet does not exist.
	GetForUpdate(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (*domain.Wallet, error)
	// LockWallets locks every existing wallet in keys in deterministic order.
	LockWallets(ctx context.Context, tx pgx.Tx, keys ...domain.WalletKey) error
	// Mutate applies one conditional balance mutation and appends its history entry.
	Mutate(ctx context.Context, tx pgx.Tx, key domain.WalletKey, amount decimal.Decimal, kind domain.MutationKind, correlationID uuid.UUID) (*domain.AppliedMutation, error)
	// SetStatus changes the wallet status without touching balances.
	SetStatus(ctx context.Context, tx pgx.Tx, key domain.WalletKey, status domain.WalletStatus) error
	// History returns a page of history entries, newest first, and the total count.
	History(ctx context.Context, key domain.WalletKey, limit, offset int) ([]domain.BalanceHistoryEntry, int64, error)
}

// TransactionRepository defines persistence operations for transaction records.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	// GetByID returns nil, nil when not found.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus, failureReason string, processedAt *time.Time) error
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	GetStats(ctx context.Context, ownerID string, periodStart *time.Time) (*TransactionStats, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	OwnerID string // matches source or destination
	Status  *domain.TransactionStatus
	Kind    *domain.TransactionKind
	BatchID *uuid.UUID
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

// TransactionStats holds aggregated statistics over an owner's outgoing transactions.
type TransactionStats struct {
	Total           int64           `json:"total"`
	Completed       int64           `json:"completed"`
	Failed          int64           `json:"failed"`
	InFlight        int64           `json:"in_flight"`
	Cancelled       int64           `json:"cancelled"`
	CompletedVolume decimal.Decimal `json:"completed_volume"`
	FeesPaid        decimal.Decimal `json:"fees_paid"`
}

// SettlementLogRepository persists the settlement idempotency anchor.
type SettlementLogRepository interface {
	// GetOrCreateForUpdate returns the locked log for item.TransactionID, inserting a RECEIVED log first if needed.
	GetOrCreateForUpdate(ctx context.Context, tx pgx.Tx, item domain.WorkItem, maxRetries int) (*domain.SettlementLog, error)
	// GetForUpdate returns nil, nil when no log exists.
	GetForUpdate(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) (*domain.SettlementLog, error)
	// Get returns nil, nil when no log exists.
	Get(ctx context.Context, transactionID uuid.UUID) (*domain.SettlementLog, error)
	Update(ctx context.Context, tx pgx.Tx, log *domain.SettlementLog) error
	MarkReservationReleased(ctx context.Context, transactionID uuid.UUID) error
	ListByStatus(ctx context.Context, status domain.SettlementStatus, limit, offset int) ([]domain.SettlementLog, int64, error)
}

// IdempotencyRepository is the durable record of client idempotency keys.
type IdempotencyRepository interface {
	// Create fails with apperror DUPLICATE_REQUEST if the key already exists.
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	// Get returns nil, nil when the key is unknown.
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// WebhookRepository persists webhook delivery attempts.
type WebhookRepository interface {
	Create(ctx context.Context, log *domain.WebhookDeliveryLog) error
	Update(ctx context.Context, log *domain.WebhookDeliveryLog) error
	GetByTransactionID(ctx context.Context, txID uuid.UUID) ([]domain.WebhookDeliveryLog, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

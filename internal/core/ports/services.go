package ports

import (
	"context"
	"time"

	"stableflow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SignatureService signs outgoing webhook payloads with HMAC-SHA256.
type SignatureService interface {
	Sign(secretKey string, payload string) string
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(caller domain.Caller) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	OwnerID string
	Role    domain.Role
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// OutcomeCache holds settled outcomes so re-deliveries can short-circuit before taking locks.
type OutcomeCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, transactionID uuid.UUID) (*domain.SettlementOutcome, error)
	Set(ctx context.Context, outcome *domain.SettlementOutcome, ttl time.Duration) error
}

// AuditService records audit entries asynchronously.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// --- Service Ports (Business Logic) ---

// IntakeService validates requests, reserves limit capacity and enqueues settlement work.
type IntakeService interface {
	Mint(ctx context.Context, caller domain.Caller, req MintRequest) (*IntakeResult, error)
	Burn(ctx context.Context, caller domain.Caller, req BurnRequest) (*IntakeResult, error)
	Transfer(ctx context.Context, caller domain.Caller, req TransferRequest) (*IntakeResult, error)
	BulkTransfer(ctx context.Context, caller domain.Caller, req BulkTransferRequest) (*BulkIntakeResult, error)
	Cancel(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.Transaction, error)
}

// RequestMeta holds the optional fields common to every intake request.
type RequestMeta struct {
	Currency       string
	ReferenceID    string
	Description    string
	IdempotencyKey string
}

// MintRequest credits new supply to Destination.
type MintRequest struct {
	RequestMeta
	Destination string
	Amount      decimal.Decimal
}

// BurnRequest removes supply from Source.
type BurnRequest struct {
	RequestMeta
	Source string
	Amount decimal.Decimal
}

// TransferRequest moves Amount from Source to Destination.
type TransferRequest struct {
	RequestMeta
	Source      string
	Destination string
	Amount      decimal.Decimal
}

// TransferLeg is one leg of a bulk transfer.
type TransferLeg struct {
	Source      string
	Destination string
	Amount      decimal.Decimal
	ReferenceID string
	Description string
}

// BulkTransferRequest holds up to the configured number of legs.
type BulkTransferRequest struct {
	RequestMeta
	Legs []TransferLeg
}

// IntakeResult is returned for an accepted single request.
type IntakeResult struct {
	TransactionID uuid.UUID                `json:"transaction_id"`
	Status        domain.TransactionStatus `json:"status"`
	Amount        decimal.Decimal          `json:"amount"`
	Fee           decimal.Decimal          `json:"fee"`
	Currency      string                   `json:"currency"`
}

// BulkIntakeResult is returned for an accepted bulk request.
type BulkIntakeResult struct {
	BatchID      uuid.UUID       `json:"batch_id"`
	Transactions []IntakeResult  `json:"transactions"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	TotalFee     decimal.Decimal `json:"total_fee"`
}

// SettlementService turns a pending transaction into committed ledger mutations.
type SettlementService interface {
	// Process settles one work item. A returned error means the attempt could not even be
	// recorded; otherwise the outcome's settlement state says what happened.
	Process(ctx context.Context, item domain.WorkItem) (*domain.SettlementOutcome, error)
	GetLog(ctx context.Context, transactionID uuid.UUID) (*domain.SettlementLog, error)
	ListDeadLetters(ctx context.Context, limit, offset int) ([]domain.SettlementLog, int64, error)
}

// WalletService covers wallet provisioning, queries and administrative state changes.
type WalletService interface {
	Provision(ctx context.Context, caller domain.Caller, key domain.WalletKey) (*domain.Wallet, error)
	Get(ctx context.Context, caller domain.Caller, key domain.WalletKey) (*domain.Wallet, error)
	History(ctx context.Context, caller domain.Caller, key domain.WalletKey, limit, offset int) ([]domain.BalanceHistoryEntry, int64, error)
	// Freeze moves amount into the frozen balance, or freezes the whole wallet when amount is nil.
	Freeze(ctx context.Context, caller domain.Caller, key domain.WalletKey, amount *decimal.Decimal) (*domain.Wallet, error)
	// Unfreeze is the inverse of Freeze.
	Unfreeze(ctx context.Context, caller domain.Caller, key domain.WalletKey, amount *decimal.Decimal) (*domain.Wallet, error)
	Close(ctx context.Context, caller domain.Caller, key domain.WalletKey) (*domain.Wallet, error)
}

// LimitService exposes limit counters over the API.
type LimitService interface {
	Get(ctx context.Context, caller domain.Caller, ownerID string) (*domain.LimitCounter, error)
	Update(ctx context.Context, caller domain.Caller, ownerID string, update LimitUpdate) (*domain.LimitCounter, error)
}

// ReportingService defines read-side queries over transactions.
type ReportingService interface {
	ListTransactions(ctx context.Context, caller domain.Caller, params TransactionListParams) ([]domain.Transaction, int64, error)
	GetStats(ctx context.Context, caller domain.Caller, ownerID string, period string) (*TransactionStats, error)
}

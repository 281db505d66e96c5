package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionSettlementCompleted AuditAction = "SETTLEMENT_COMPLETED"
	AuditActionSettlementFailed    AuditAction = "SETTLEMENT_FAILED"
	AuditActionWalletProvisioned   AuditAction = "WALLET_PROVISIONED"
	AuditActionWalletFrozen        AuditAction = "WALLET_FROZEN"
	AuditActionWalletUnfrozen      AuditAction = "WALLET_UNFROZEN"
	AuditActionWalletClosed        AuditAction = "WALLET_CLOSED"
	AuditActionLimitUpdated        AuditAction = "LIMIT_UPDATED"
	AuditActionTransactionCancel   AuditAction = "TRANSACTION_CANCELLED"
	AuditActionMintRequested       AuditAction = "MINT_REQUESTED"
	AuditActionBurnRequested       AuditAction = "BURN_REQUESTED"
	AuditActionTransferRequested   AuditAction = "TRANSFER_REQUESTED"
	AuditActionBulkRequested       AuditAction = "BULK_TRANSFER_REQUESTED"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	ActorID      string      `json:"actor_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	CreatedAt    time.Time   `json:"created_at"`
}

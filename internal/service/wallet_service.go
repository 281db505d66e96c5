package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"
	"stableflow/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type walletService struct {
	walletRepo      ports.WalletRepository
	transactor      ports.DBTransactor
	audit           ports.AuditService
	defaultCurrency string
	now             func() time.Time
	log             zerolog.Logger
}

// NewWalletService creates the wallet management service.
func NewWalletService(
	walletRepo ports.WalletRepository,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	defaultCurrency string,
	log zerolog.Logger,
) ports.WalletService {
	return &walletService{
		walletRepo:      walletRepo,
		transactor:      transactor,
		audit:           audit,
		defaultCurrency: defaultCurrency,
		now:             time.Now,
		log:             logger.WithComponent(log, "wallets"),
	}
}

func (s *walletService) Provision(ctx context.Context, caller domain.Caller, key domain.WalletKey) (*domain.Wallet, error) {
	key = s.normalize(key)
	if key.OwnerID == "" {
		return nil, apperror.Validation("owner_id is required")
	}
	if !caller.CanActFor(key.OwnerID) {
		return nil, apperror.ErrForbidden()
	}

	now := s.now().UTC()
	wallet := &domain.Wallet{
		ID:            uuid.New(),
		OwnerID:       key.OwnerID,
		Currency:      key.Currency,
		Available:     decimal.Zero,
		Frozen:        decimal.Zero,
		Status:        domain.WalletStatusActive,
		LastMutatedAt: now,
		CreatedAt:     now,
	}
	if err := s.walletRepo.Provision(ctx, wallet); err != nil {
		return nil, internalError("provision wallet", err)
	}

	s.record(ctx, caller, domain.AuditActionWalletProvisioned, key, nil)
	s.log.Info().Str("wallet", key.String()).Str("actor", caller.OwnerID).Msg("wallet provisioned")
	return wallet, nil
}

func (s *walletService) Get(ctx context.Context, caller domain.Caller, key domain.WalletKey) (*domain.Wallet, error) {
	key = s.normalize(key)
	if !caller.CanActFor(key.OwnerID) {
		return nil, apperror.ErrForbidden()
	}
	return s.load(ctx, key)
}

func (s *walletService) History(ctx context.Context, caller domain.Caller, key domain.WalletKey, limit, offset int) ([]domain.BalanceHistoryEntry, int64, error) {
	key = s.normalize(key)
	if !caller.CanActFor(key.OwnerID) {
		return nil, 0, apperror.ErrForbidden()
	}
	if _, err := s.load(ctx, key); err != nil {
		return nil, 0, err
	}

	limit, offset = clampPage(limit, offset)
	entries, total, err := s.walletRepo.History(ctx, key, limit, offset)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return entries, total, nil
}

func (s *walletService) Freeze(ctx context.Context, caller domain.Caller, key domain.WalletKey, amount *decimal.Decimal) (*domain.Wallet, error) {
	return s.applyHold(ctx, caller, key, amount, domain.MutationFreeze, domain.AuditActionWalletFrozen)
}

func (s *walletService) Unfreeze(ctx context.Context, caller domain.Caller, key domain.WalletKey, amount *decimal.Decimal) (*domain.Wallet, error) {
	return s.applyHold(ctx, caller, key, amount, domain.MutationUnfreeze, domain.AuditActionWalletUnfrozen)
}

// applyHold runs a FREEZE or UNFREEZE mutation. A nil amount flips the wallet status.
func (s *walletService) applyHold(
	ctx context.Context,
	caller domain.Caller,
	key domain.WalletKey,
	amount *decimal.Decimal,
	kind domain.MutationKind,
	action domain.AuditAction,
) (*domain.Wallet, error) {
	key = s.normalize(key)
	if !caller.Role.IsAdmin() {
		return nil, apperror.ErrForbidden()
	}
	delta := decimal.Zero
	if amount != nil {
		if !amount.IsPositive() || amount.Exponent() < -8 {
			return nil, apperror.ErrInvalidAmount()
		}
		delta = *amount
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetForUpdate(ctx, dbTx, key)
	if err != nil {
		return nil, internalError("lock wallet", err)
	}
	if wallet == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	if _, err := s.walletRepo.Mutate(ctx, dbTx, key, delta, kind, uuid.New()); err != nil {
		return nil, internalError("apply "+strings.ToLower(string(kind)), err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	details := map[string]string{"kind": string(kind)}
	if amount != nil {
		details["amount"] = amount.String()
	}
	s.record(ctx, caller, action, key, details)
	s.log.Info().Str("wallet", key.String()).Str("kind", string(kind)).Str("amount", delta.String()).Msg("wallet hold changed")

	return s.load(ctx, key)
}

// Close retires an empty wallet. Wallets are never deleted.
func (s *walletService) Close(ctx context.Context, caller domain.Caller, key domain.WalletKey) (*domain.Wallet, error) {
	key = s.normalize(key)
	if !caller.Role.IsAdmin() {
		return nil, apperror.ErrForbidden()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetForUpdate(ctx, dbTx, key)
	if err != nil {
		return nil, internalError("lock wallet", err)
	}
	if wallet == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	if wallet.Status == domain.WalletStatusClosed {
		return wallet, nil
	}
	if !wallet.Available.IsZero() || !wallet.Frozen.IsZero() {
		return nil, apperror.Validation("wallet must have a zero balance to be closed")
	}
	if err := s.walletRepo.SetStatus(ctx, dbTx, key, domain.WalletStatusClosed); err != nil {
		return nil, internalError("close wallet", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	wallet.Status = domain.WalletStatusClosed
	s.record(ctx, caller, domain.AuditActionWalletClosed, key, nil)
	s.log.Info().Str("wallet", key.String()).Msg("wallet closed")
	return wallet, nil
}

func (s *walletService) load(ctx context.Context, key domain.WalletKey) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.Get(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if wallet == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	return wallet, nil
}

func (s *walletService) normalize(key domain.WalletKey) domain.WalletKey {
	key.OwnerID = strings.TrimSpace(key.OwnerID)
	key.Currency = strings.ToUpper(strings.TrimSpace(key.Currency))
	if key.Currency == "" {
		key.Currency = s.defaultCurrency
	}
	return key
}

func (s *walletService) record(ctx context.Context, caller domain.Caller, action domain.AuditAction, key domain.WalletKey, details map[string]string) {
	entry := &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      caller.OwnerID,
		Action:       action,
		ResourceType: "wallet",
		ResourceID:   key.String(),
		CreatedAt:    s.now().UTC(),
	}
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			entry.Details = string(b)
		}
	}
	s.audit.Log(ctx, entry)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

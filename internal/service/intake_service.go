package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"
	"stableflow/pkg/logger"
	"stableflow/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const idempotencyTTL = 24 * time.Hour

// IntakeOptions holds the intake validation rules.
type IntakeOptions struct {
	FeeRate         decimal.Decimal
	MinAmount       decimal.Decimal
	MaxBatchSize    int
	DefaultCurrency string
}

// IntakeServiceImpl implements ports.IntakeService.
type IntakeServiceImpl struct {
	txRepo     ports.TransactionRepository
	walletRepo ports.WalletRepository
	logRepo    ports.SettlementLogRepository
	idempRepo  ports.IdempotencyRepository
	idempCache ports.IdempotencyCache
	limits     ports.LimitTracker
	queue      ports.SettlementQueue
	transactor ports.DBTransactor
	audit      ports.AuditService
	opts       IntakeOptions
	now        func() time.Time
	log        zerolog.Logger
}

// NewIntakeService creates a new IntakeServiceImpl.
func NewIntakeService(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	logRepo ports.SettlementLogRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	limits ports.LimitTracker,
	queue ports.SettlementQueue,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	opts IntakeOptions,
	log zerolog.Logger,
) *IntakeServiceImpl {
	return &IntakeServiceImpl{
		txRepo:     txRepo,
		walletRepo: walletRepo,
		logRepo:    logRepo,
		idempRepo:  idempRepo,
		idempCache: idempCache,
		limits:     limits,
		queue:      queue,
		transactor: transactor,
		audit:      audit,
		opts:       opts,
		now:        time.Now,
		log:        logger.WithComponent(log, "intake"),
	}
}

// Mint accepts new supply for req.Destination. Only SUPER_ADMIN may mint.
func (s *IntakeServiceImpl) Mint(ctx context.Context, caller domain.Caller, req ports.MintRequest) (*ports.IntakeResult, error) {
	if caller.Role != domain.RoleSuperAdmin {
		return nil, apperror.ErrForbidden()
	}
	if req.Destination == "" {
		return nil, apperror.Validation("destination is required")
	}
	if err := s.checkAmount(req.Amount); err != nil {
		return nil, err
	}

	txn := s.newTransaction(caller, domain.TransactionKindMint, "", req.Destination, req.Amount, req.RequestMeta)
	return s.submitSingle(ctx, caller, req.IdempotencyKey, txn)
}

// Burn accepts a supply removal from req.Source, by its owner or an admin.
func (s *IntakeServiceImpl) Burn(ctx context.Context, caller domain.Caller, req ports.BurnRequest) (*ports.IntakeResult, error) {
	if req.Source == "" {
		return nil, apperror.Validation("source is required")
	}
	if !caller.CanActFor(req.Source) {
		return nil, apperror.ErrForbidden()
	}
	if err := s.checkAmount(req.Amount); err != nil {
		return nil, err
	}

	txn := s.newTransaction(caller, domain.TransactionKindBurn, req.Source, "", req.Amount, req.RequestMeta)
	return s.submitSingle(ctx, caller, req.IdempotencyKey, txn)
}

// Transfer accepts a movement of req.Amount from the caller's own wallet.
func (s *IntakeServiceImpl) Transfer(ctx context.Context, caller domain.Caller, req ports.TransferRequest) (*ports.IntakeResult, error) {
	if req.Source == "" || req.Destination == "" {
		return nil, apperror.Validation("source and destination are required")
	}
	if caller.OwnerID != req.Source {
		return nil, apperror.ErrForbidden()
	}
	if req.Source == req.Destination {
		return nil, apperror.ErrSelfTransfer()
	}
	if err := s.checkAmount(req.Amount); err != nil {
		return nil, err
	}

	txn := s.newTransaction(caller, domain.TransactionKindTransfer, req.Source, req.Destination, req.Amount, req.RequestMeta)
	return s.submitSingle(ctx, caller, req.IdempotencyKey, txn)
}

// BulkTransfer accepts up to MaxBatchSize transfers sharing one batch id. Each leg settles
// on its own.
func (s *IntakeServiceImpl) BulkTransfer(ctx context.Context, caller domain.Caller, req ports.BulkTransferRequest) (*ports.BulkIntakeResult, error) {
	if !caller.Role.IsAdmin() {
		return nil, apperror.ErrForbidden()
	}
	if len(req.Legs) == 0 {
		return nil, apperror.Validation("at least one transfer is required")
	}
	if len(req.Legs) > s.opts.MaxBatchSize {
		return nil, apperror.ErrBatchTooLarge(s.opts.MaxBatchSize)
	}

	batchID := uuid.New()
	txns := make([]*domain.Transaction, 0, len(req.Legs))
	for i, leg := range req.Legs {
		if leg.Source == "" || leg.Destination == "" {
			return nil, apperror.Validation(fmt.Sprintf("transfer %d: source and destination are required", i))
		}
		if leg.Source == leg.Destination {
			return nil, apperror.ErrSelfTransfer()
		}
		if err := s.checkAmount(leg.Amount); err != nil {
			return nil, err
		}
		meta := req.RequestMeta
		if leg.ReferenceID != "" {
			meta.ReferenceID = leg.ReferenceID
		}
		if leg.Description != "" {
			meta.Description = leg.Description
		}
		txn := s.newTransaction(caller, domain.TransactionKindBulkTransfer, leg.Source, leg.Destination, leg.Amount, meta)
		txn.BatchID = &batchID
		txns = append(txns, txn)
	}

	res := &ports.BulkIntakeResult{
		BatchID:      batchID,
		Transactions: make([]ports.IntakeResult, 0, len(txns)),
		TotalAmount:  decimal.Zero,
		TotalFee:     decimal.Zero,
	}
	for _, txn := range txns {
		res.Transactions = append(res.Transactions, *newIntakeResult(txn))
		res.TotalAmount = res.TotalAmount.Add(txn.Amount)
		res.TotalFee = res.TotalFee.Add(txn.Fee)
	}

	if err := s.submit(ctx, caller, req.IdempotencyKey, txns, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *IntakeServiceImpl) submitSingle(ctx context.Context, caller domain.Caller, clientKey string, txn *domain.Transaction) (*ports.IntakeResult, error) {
	res := newIntakeResult(txn)
	if err := s.submit(ctx, caller, clientKey, []*domain.Transaction{txn}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// submit is the shared intake path: idempotency lookup, wallet checks, limit reservation,
// then one database transaction writing the PENDING rows, their work items and the
// idempotency record. response is sent back as-is, or replaced by the stored response of
// an earlier request with the same key.
func (s *IntakeServiceImpl) submit(ctx context.Context, caller domain.Caller, clientKey string, txns []*domain.Transaction, response interface{}) error {
	idempKey := ""
	if clientKey != "" {
		idempKey = domain.BuildIdempotencyKey(caller.OwnerID, clientKey)
		stored, err := s.lookupIdempotent(ctx, idempKey)
		if err != nil {
			return err
		}
		if stored != nil {
			return decodeResponse(stored, response)
		}
	}

	if err := s.checkWallets(ctx, txns); err != nil {
		return err
	}

	reserved, err := s.reserve(ctx, txns)
	if err != nil {
		return err
	}

	respJSON, err := json.Marshal(response)
	if err != nil {
		s.release(ctx, reserved)
		return apperror.InternalError(fmt.Errorf("marshal response: %w", err))
	}

	stored, err := s.persist(ctx, idempKey, txns, respJSON)
	if err != nil {
		s.release(ctx, reserved)
		return err
	}
	if stored != nil {
		// Lost the race against a concurrent request with the same key.
		s.release(ctx, reserved)
		return decodeResponse(stored, response)
	}

	// Post-process: cache in Redis (best-effort)
	if idempKey != "" {
		if err := s.idempCache.Set(ctx, idempKey, respJSON, idempotencyTTL); err != nil {
			s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
		}
	}

	for _, txn := range txns {
		s.log.Info().
			Str("tx_id", txn.ID.String()).
			Str("kind", string(txn.Kind)).
			Str("amount", txn.Amount.String()).
			Str("fee", txn.Fee.String()).
			Str("requested_by", caller.OwnerID).
			Msg("transaction accepted")
	}
	return nil
}

// lookupIdempotent checks the Redis layer, then the DB layer, for a stored response.
func (s *IntakeServiceImpl) lookupIdempotent(ctx context.Context, idempKey string) ([]byte, error) {
	// Layer 1: Redis idempotency check
	cached, err := s.idempCache.Get(ctx, idempKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return cached, nil
	}

	// Layer 2: DB idempotency check
	idempLog, err := s.idempRepo.Get(ctx, idempKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if idempLog != nil {
		return idempLog.ResponseJSON, nil
	}
	return nil, nil
}

// checkWallets verifies every paying wallet can cover its combined debits and that every
// existing destination wallet is ACTIVE.
func (s *IntakeServiceImpl) checkWallets(ctx context.Context, txns []*domain.Transaction) error {
	var order []domain.WalletKey
	debits := map[domain.WalletKey]decimal.Decimal{}
	destinations := map[domain.WalletKey]bool{}

	for _, txn := range txns {
		if payer := txn.PayingOwner(); payer != "" {
			key := domain.WalletKey{OwnerID: payer, Currency: txn.Currency}
			if _, ok := debits[key]; !ok {
				order = append(order, key)
				debits[key] = decimal.Zero
			}
			debits[key] = debits[key].Add(txn.Total())
		}
		if txn.DestinationOwner != "" {
			destinations[domain.WalletKey{OwnerID: txn.DestinationOwner, Currency: txn.Currency}] = true
		}
	}

	for _, key := range order {
		w, err := s.walletRepo.Get(ctx, key)
		if err != nil {
			return internalError("get source wallet", err)
		}
		if w == nil {
			return apperror.ErrWalletNotFound()
		}
		if !w.IsActive() {
			return apperror.ErrWalletInactive()
		}
		if w.Spendable().LessThan(debits[key]) {
			return apperror.ErrInsufficientBalance()
		}
		delete(destinations, key)
	}

	for _, txn := range txns {
		key := domain.WalletKey{OwnerID: txn.DestinationOwner, Currency: txn.Currency}
		if !destinations[key] {
			continue
		}
		delete(destinations, key)
		w, err := s.walletRepo.Get(ctx, key)
		if err != nil {
			return internalError("get destination wallet", err)
		}
		if w != nil && !w.IsActive() {
			return apperror.ErrWalletInactive()
		}
	}
	return nil
}

type reservation struct {
	ownerID string
	amount  decimal.Decimal
	at      time.Time
}

// reserve takes limit capacity for every paying owner. On failure it gives back what it took.
func (s *IntakeServiceImpl) reserve(ctx context.Context, txns []*domain.Transaction) ([]reservation, error) {
	var pending []reservation
	index := map[string]int{}
	for _, txn := range txns {
		payer := txn.PayingOwner()
		if payer == "" {
			continue
		}
		if i, ok := index[payer]; ok {
			pending[i].amount = pending[i].amount.Add(txn.Total())
			continue
		}
		index[payer] = len(pending)
		pending = append(pending, reservation{ownerID: payer, amount: txn.Total(), at: txn.CreatedAt})
	}

	reserved := make([]reservation, 0, len(pending))
	for _, r := range pending {
		if err := s.limits.Reserve(ctx, r.ownerID, r.amount, r.at); err != nil {
			s.release(ctx, reserved)
			return nil, internalError("reserve limit", err)
		}
		reserved = append(reserved, r)
	}
	return reserved, nil
}

// release compensates reservations made by a request that did not go through.
func (s *IntakeServiceImpl) release(ctx context.Context, reserved []reservation) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range reserved {
		if err := s.limits.Release(ctx, r.ownerID, r.amount, r.at); err != nil {
			s.log.Error().Err(err).
				Str("owner_id", r.ownerID).
				Str("amount", r.amount.String()).
				Msg("failed to release limit reservation")
		}
	}
}

// persist writes the transactions, their work items and the idempotency record in one
// database transaction. It returns the stored response instead when idempKey was taken
// concurrently.
func (s *IntakeServiceImpl) persist(ctx context.Context, idempKey string, txns []*domain.Transaction, respJSON []byte) ([]byte, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, internalError("begin tx", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	for _, txn := range txns {
		if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
			return nil, internalError("create transaction", err)
		}
		if err := s.queue.EnqueueTx(ctx, dbTx, domain.NewWorkItem(txn)); err != nil {
			return nil, internalError("enqueue settlement", err)
		}
	}

	if idempKey != "" {
		entry := &domain.IdempotencyLog{
			Key:          idempKey,
			ResponseJSON: respJSON,
			CreatedAt:    txns[0].CreatedAt,
		}
		if err := s.idempRepo.Create(ctx, dbTx, entry); err != nil {
			if !errors.Is(err, apperror.ErrDuplicateRequest()) {
				return nil, internalError("save idempotency log", err)
			}
			_ = dbTx.Rollback(ctx)
			existing, getErr := s.idempRepo.Get(ctx, idempKey)
			if getErr != nil || existing == nil {
				return nil, err
			}
			return existing.ResponseJSON, nil
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, internalError("commit tx", err)
	}
	return nil, nil
}

// Cancel withdraws a PENDING transaction whose settlement has not started and releases its
// limit reservation.
func (s *IntakeServiceImpl) Cancel(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.Transaction, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, internalError("begin tx", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, internalError("lock transaction", err)
	}
	if txn == nil {
		return nil, apperror.ErrTransactionNotFound()
	}
	if !caller.CanActFor(txn.RequestedBy) && (txn.SourceOwner == "" || !caller.CanActFor(txn.SourceOwner)) {
		return nil, apperror.ErrForbidden()
	}
	if txn.Status != domain.TransactionStatusPending {
		return nil, apperror.ErrCouldNotCancel()
	}

	slog, err := s.logRepo.GetForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, internalError("lock settlement log", err)
	}
	if slog != nil && slog.Status != domain.SettlementStatusReceived {
		return nil, apperror.ErrCouldNotCancel()
	}

	now := s.now().UTC()
	if err := s.txRepo.UpdateStatus(ctx, dbTx, id, domain.TransactionStatusCancelled, "", &now); err != nil {
		return nil, internalError("cancel transaction", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, internalError("commit tx", err)
	}
	txn.Status = domain.TransactionStatusCancelled
	txn.ProcessedAt = &now

	if payer := txn.PayingOwner(); payer != "" {
		s.release(ctx, []reservation{{ownerID: payer, amount: txn.Total(), at: txn.CreatedAt}})
		if slog != nil {
			if err := s.logRepo.MarkReservationReleased(ctx, id); err != nil {
				s.log.Warn().Err(err).Str("tx_id", id.String()).Msg("failed to flag reservation released")
			}
		}
	}

	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      caller.OwnerID,
		Action:       domain.AuditActionTransactionCancel,
		ResourceType: "transaction",
		ResourceID:   id.String(),
		CreatedAt:    now,
	})

	s.log.Info().Str("tx_id", id.String()).Str("cancelled_by", caller.OwnerID).Msg("transaction cancelled")
	return txn, nil
}

// GetTransaction returns a transaction the caller is a party to.
func (s *IntakeServiceImpl) GetTransaction(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, internalError("get transaction", err)
	}
	if txn == nil {
		return nil, apperror.ErrTransactionNotFound()
	}
	if !isParty(caller, txn) {
		return nil, apperror.ErrForbidden()
	}
	return txn, nil
}

func isParty(caller domain.Caller, txn *domain.Transaction) bool {
	if caller.Role.IsAdmin() {
		return true
	}
	return caller.OwnerID == txn.RequestedBy ||
		(txn.SourceOwner != "" && caller.OwnerID == txn.SourceOwner) ||
		(txn.DestinationOwner != "" && caller.OwnerID == txn.DestinationOwner)
}

// checkAmount requires amount to exceed the configured minimum and fit the ledger scale.
func (s *IntakeServiceImpl) checkAmount(amount decimal.Decimal) error {
	if !amount.GreaterThan(s.opts.MinAmount) || !amount.IsPositive() {
		return apperror.ErrInvalidAmount()
	}
	if !amount.Equal(amount.Truncate(money.Scale)) {
		return apperror.ErrInvalidAmount()
	}
	return nil
}

func (s *IntakeServiceImpl) newTransaction(
	caller domain.Caller,
	kind domain.TransactionKind,
	source, destination string,
	amount decimal.Decimal,
	meta ports.RequestMeta,
) *domain.Transaction {
	currency := meta.Currency
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	fee := decimal.Zero
	if kind.ChargesFee() {
		fee = money.Fee(amount, s.opts.FeeRate)
	}
	return &domain.Transaction{
		ID:               uuid.New(),
		Kind:             kind,
		SourceOwner:      source,
		DestinationOwner: destination,
		Currency:         currency,
		Amount:           amount,
		Fee:              fee,
		Status:           domain.TransactionStatusPending,
		ReferenceID:      meta.ReferenceID,
		Description:      meta.Description,
		IdempotencyKey:   meta.IdempotencyKey,
		RequestedBy:      caller.OwnerID,
		CreatedAt:        s.now().UTC(),
	}
}

func newIntakeResult(txn *domain.Transaction) *ports.IntakeResult {
	return &ports.IntakeResult{
		TransactionID: txn.ID,
		Status:        txn.Status,
		Amount:        txn.Amount,
		Fee:           txn.Fee,
		Currency:      txn.Currency,
	}
}

// decodeResponse deserializes a stored intake response into out.
func decodeResponse(data []byte, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return apperror.InternalError(fmt.Errorf("unmarshal cached response: %w", err))
	}
	return nil
}

// internalError keeps business errors as they are and wraps everything else as SYS_001.
func internalError(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.InternalError(fmt.Errorf("%s: %w", op, err))
}

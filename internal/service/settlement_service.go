package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"
	"stableflow/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// recordTimeout bounds the bookkeeping done after a failed attempt.
const recordTimeout = 10 * time.Second

// SettlementOptions holds the retry policy of the settlement pipeline.
type SettlementOptions struct {
	MaxRetries        int
	BaseRetryDelay    time.Duration
	ProcessingTimeout time.Duration
	OutcomeTTL        time.Duration
}

// SettlementServiceImpl implements ports.SettlementService.
//
// An attempt runs in two storage transactions. The claim advances the settlement log to
// PROCESSING (counting re-deliveries); the apply re-locks the transaction and the log,
// mutates the ledger and records COMPLETED. A failed apply rolls back entirely and is then
// recorded in a third transaction as RETRYING or DEAD_LETTER.
type SettlementServiceImpl struct {
	txRepo     ports.TransactionRepository
	walletRepo ports.WalletRepository
	logRepo    ports.SettlementLogRepository
	limits     ports.LimitTracker
	outcomes   ports.OutcomeCache
	events     ports.EventPublisher
	transactor ports.DBTransactor
	opts       SettlementOptions
	now        func() time.Time
	log        zerolog.Logger
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	logRepo ports.SettlementLogRepository,
	limits ports.LimitTracker,
	outcomes ports.OutcomeCache,
	events ports.EventPublisher,
	transactor ports.DBTransactor,
	opts SettlementOptions,
	log zerolog.Logger,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		txRepo:     txRepo,
		walletRepo: walletRepo,
		logRepo:    logRepo,
		limits:     limits,
		outcomes:   outcomes,
		events:     events,
		transactor: transactor,
		opts:       opts,
		now:        time.Now,
		log:        logger.WithComponent(log, "settlement"),
	}
}

// Process settles one work item. It is safe to call any number of times for the same item.
func (s *SettlementServiceImpl) Process(ctx context.Context, item domain.WorkItem) (*domain.SettlementOutcome, error) {
	// Fast path: a final outcome is cached once the log reaches COMPLETED or DEAD_LETTER.
	if out := s.cachedOutcome(ctx, item.TransactionID); out != nil {
		return out, nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.ProcessingTimeout)
	defer cancel()

	out, err := s.claim(attemptCtx, item)
	if err == nil && out == nil {
		out, err = s.apply(attemptCtx, item)
	}
	if err != nil {
		if errors.Is(err, apperror.ErrReleasePending(nil)) {
			return nil, err
		}
		if ctx.Err() != nil {
			// Shutdown, not a failed attempt. The claim lapses after ProcessingTimeout.
			return nil, err
		}
		return s.recordFailure(ctx, item, err)
	}
	return out, nil
}

// claim locks the transaction and its settlement log and moves the log to PROCESSING.
// A non-nil outcome means there is nothing to apply on this delivery.
func (s *SettlementServiceImpl) claim(ctx context.Context, item domain.WorkItem) (*domain.SettlementOutcome, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, item.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("lock transaction: %w", err)
	}
	if txn == nil {
		return nil, apperror.ErrTransactionNotFound()
	}
	if txn.Status == domain.TransactionStatusCancelled {
		return cancelledOutcome(txn), nil
	}

	slog, err := s.logRepo.GetOrCreateForUpdate(ctx, dbTx, item, s.opts.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("lock settlement log: %w", err)
	}
	if slog.IsFinal() {
		if slog.Status == domain.SettlementStatusDeadLetter && !slog.ReservationReleased {
			// The previous attempt dead-lettered but did not get to release the reservation.
			_ = dbTx.Rollback(ctx)
			if err := s.releaseReservation(ctx, txn); err != nil {
				return nil, apperror.ErrReleasePending(err)
			}
		}
		out := domain.OutcomeFromLog(slog)
		s.cacheOutcome(ctx, out)
		return out, nil
	}

	now := s.now().UTC()
	if wait := slog.RemainingDelay(now); wait > 0 {
		return &domain.SettlementOutcome{
			TransactionID:    txn.ID,
			TransactionState: txn.Status,
			SettlementState:  domain.SettlementStatusRetrying,
			FailureReason:    slog.LastError,
			RetryAfter:       wait,
		}, nil
	}

	if slog.Status == domain.SettlementStatusProcessing {
		// Another delivery claimed the item and may still be running.
		if busy := s.opts.ProcessingTimeout - now.Sub(slog.UpdatedAt); busy > 0 {
			return &domain.SettlementOutcome{
				TransactionID:    txn.ID,
				TransactionState: domain.TransactionStatusProcessing,
				SettlementState:  domain.SettlementStatusProcessing,
				RetryAfter:       busy,
			}, nil
		}
	}

	// RETRYING is a scheduled re-delivery; a lapsed PROCESSING claim is an attempt that died
	// without recording.
	if slog.Status == domain.SettlementStatusRetrying || slog.Status == domain.SettlementStatusProcessing {
		slog.RetryCount++
	}
	slog.Status = domain.SettlementStatusProcessing
	slog.NextRetryAt = nil
	if err := s.logRepo.Update(ctx, dbTx, slog); err != nil {
		return nil, fmt.Errorf("advance settlement log: %w", err)
	}

	if txn.Status == domain.TransactionStatusPending {
		if err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, domain.TransactionStatusProcessing, "", nil); err != nil {
			return nil, fmt.Errorf("mark transaction processing: %w", err)
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return nil, nil
}

// apply performs the ledger mutations and marks the transaction and log COMPLETED in one
// storage transaction.
func (s *SettlementServiceImpl) apply(ctx context.Context, item domain.WorkItem) (*domain.SettlementOutcome, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin apply: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, item.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("lock transaction: %w", err)
	}
	if txn == nil {
		return nil, apperror.ErrTransactionNotFound()
	}
	slog, err := s.logRepo.GetForUpdate(ctx, dbTx, item.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("lock settlement log: %w", err)
	}
	if slog == nil {
		return nil, fmt.Errorf("settlement log for %s disappeared", item.TransactionID)
	}
	if slog.IsFinal() {
		return domain.OutcomeFromLog(slog), nil
	}
	if txn.Status == domain.TransactionStatusCancelled {
		return cancelledOutcome(txn), nil
	}

	mutations, err := s.mutateLedger(ctx, dbTx, item)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, domain.TransactionStatusCompleted, "", &now); err != nil {
		return nil, fmt.Errorf("mark transaction completed: %w", err)
	}
	slog.Status = domain.SettlementStatusCompleted
	slog.AppliedMutations = mutations
	slog.LastError = ""
	slog.NextRetryAt = nil
	if err := s.logRepo.Update(ctx, dbTx, slog); err != nil {
		return nil, fmt.Errorf("complete settlement log: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit apply: %w", err)
	}

	out := domain.OutcomeFromLog(slog)
	s.cacheOutcome(ctx, out)
	s.events.Publish(ctx, domain.NewSettlementEvent(item, domain.TransactionStatusCompleted, domain.BalancesAfter(mutations), "", now))

	s.log.Info().
		Str("transaction_id", item.TransactionID.String()).
		Str("kind", string(item.Kind)).
		Str("amount", item.Amount.String()).
		Int("retry_count", slog.RetryCount).
		Msg("settlement completed")

	return out, nil
}

// mutateLedger dispatches the work item to its ledger mutations inside dbTx.
func (s *SettlementServiceImpl) mutateLedger(ctx context.Context, dbTx pgx.Tx, item domain.WorkItem) ([]domain.AppliedMutation, error) {
	correlationID := item.CorrelationID
	if correlationID == uuid.Nil {
		correlationID = item.TransactionID
	}
	src := domain.WalletKey{OwnerID: item.Source, Currency: item.Currency}
	dst := domain.WalletKey{OwnerID: item.Destination, Currency: item.Currency}

	var applied []domain.AppliedMutation
	mutate := func(key domain.WalletKey, amount decimal.Decimal, kind domain.MutationKind) error {
		m, err := s.walletRepo.Mutate(ctx, dbTx, key, amount, kind, correlationID)
		if err != nil {
			return err
		}
		applied = append(applied, *m)
		return nil
	}

	switch item.Kind {
	case domain.TransactionKindMint:
		if err := s.walletRepo.EnsureWallet(ctx, dbTx, dst); err != nil {
			return nil, err
		}
		if err := mutate(dst, item.Amount, domain.MutationMint); err != nil {
			return nil, err
		}

	case domain.TransactionKindBurn:
		if err := mutate(src, item.Amount, domain.MutationBurn); err != nil {
			return nil, err
		}

	case domain.TransactionKindTransfer, domain.TransactionKindBulkTransfer:
		if err := s.walletRepo.EnsureWallet(ctx, dbTx, dst); err != nil {
			return nil, err
		}
		if err := s.walletRepo.LockWallets(ctx, dbTx, src, dst); err != nil {
			return nil, err
		}
		if err := mutate(src, item.Amount, domain.MutationTransferOut); err != nil {
			return nil, err
		}
		if item.Fee.IsPositive() {
			if err := mutate(src, item.Fee, domain.MutationFee); err != nil {
				return nil, err
			}
		}
		if err := mutate(dst, item.Amount, domain.MutationTransferIn); err != nil {
			return nil, err
		}

	default:
		return nil, apperror.Validation(fmt.Sprintf("unknown transaction kind %q", item.Kind))
	}
	return applied, nil
}

// recordFailure stores a failed attempt. Retryable failures with retries left become
// RETRYING; everything else dead-letters the log, fails the transaction and releases the
// limit reservation.
func (s *SettlementServiceImpl) recordFailure(ctx context.Context, item domain.WorkItem, cause error) (*domain.SettlementOutcome, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if errors.Is(cause, context.DeadlineExceeded) {
		cause = apperror.ErrProcessingTimeout(cause)
	}
	retryable := !apperror.IsPermanent(cause)

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin failure record: %w (attempt: %v)", err, cause)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, item.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("lock transaction: %w (attempt: %v)", err, cause)
	}
	if txn == nil {
		return nil, apperror.ErrTransactionNotFound()
	}
	slog, err := s.logRepo.GetForUpdate(ctx, dbTx, item.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("lock settlement log: %w (attempt: %v)", err, cause)
	}
	if slog == nil {
		// The claim never got far enough to create the log; let the queue redeliver.
		return nil, cause
	}
	if slog.IsFinal() {
		return domain.OutcomeFromLog(slog), nil
	}
	if txn.Status == domain.TransactionStatusCancelled {
		return cancelledOutcome(txn), nil
	}

	now := s.now().UTC()
	reason := failureReason(cause)

	if retryable && !slog.RetriesExhausted() {
		delay := domain.RetryDelay(s.opts.BaseRetryDelay, slog.RetryCount)
		next := now.Add(delay)
		slog.Status = domain.SettlementStatusRetrying
		slog.NextRetryAt = &next
		slog.LastError = reason
		if err := s.logRepo.Update(ctx, dbTx, slog); err != nil {
			return nil, fmt.Errorf("schedule retry: %w", err)
		}
		if err := dbTx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit retry: %w", err)
		}

		s.log.Warn().Err(cause).
			Str("transaction_id", item.TransactionID.String()).
			Int("retry_count", slog.RetryCount).
			Dur("retry_after", delay).
			Msg("settlement attempt failed, retry scheduled")

		return &domain.SettlementOutcome{
			TransactionID:    txn.ID,
			TransactionState: domain.TransactionStatusProcessing,
			SettlementState:  domain.SettlementStatusRetrying,
			FailureReason:    reason,
			RetryAfter:       delay,
		}, nil
	}

	if retryable {
		cause = apperror.ErrRetriesExhausted(cause)
		reason = apperror.CodeOf(cause) + ": " + reason
	}
	slog.Status = domain.SettlementStatusDeadLetter
	slog.NextRetryAt = nil
	slog.LastError = reason
	if err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, domain.TransactionStatusFailed, reason, &now); err != nil {
		return nil, fmt.Errorf("mark transaction failed: %w", err)
	}
	if err := s.logRepo.Update(ctx, dbTx, slog); err != nil {
		return nil, fmt.Errorf("dead-letter settlement log: %w", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit dead letter: %w", err)
	}

	s.events.Publish(ctx, domain.NewSettlementEvent(item, domain.TransactionStatusFailed, nil, reason, now))

	s.log.Error().Err(cause).
		Str("transaction_id", item.TransactionID.String()).
		Int("retry_count", slog.RetryCount).
		Msg("settlement dead-lettered")

	// The outcome is only cached once the reservation is back, so a redelivery reaches the
	// release in claim.
	if err := s.releaseReservation(ctx, txn); err != nil {
		return nil, apperror.ErrReleasePending(err)
	}
	out := domain.OutcomeFromLog(slog)
	s.cacheOutcome(ctx, out)
	return out, nil
}

// releaseReservation hands the failed transaction's amount plus fee back to the payer.
// A failure to flag the log is only logged: the limit has been released already.
func (s *SettlementServiceImpl) releaseReservation(ctx context.Context, txn *domain.Transaction) error {
	payer := txn.PayingOwner()
	if payer == "" {
		return nil
	}
	if err := s.limits.Release(ctx, payer, txn.Total(), txn.CreatedAt); err != nil {
		s.log.Error().Err(err).
			Str("transaction_id", txn.ID.String()).
			Str("owner_id", payer).
			Msg("failed to release limit reservation")
		return err
	}
	if err := s.logRepo.MarkReservationReleased(ctx, txn.ID); err != nil {
		s.log.Warn().Err(err).Str("transaction_id", txn.ID.String()).Msg("failed to flag reservation released")
	}
	return nil
}

func (s *SettlementServiceImpl) cachedOutcome(ctx context.Context, id uuid.UUID) *domain.SettlementOutcome {
	out, err := s.outcomes.Get(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Str("transaction_id", id.String()).Msg("outcome cache lookup failed, falling through to DB")
		return nil
	}
	return out
}

func (s *SettlementServiceImpl) cacheOutcome(ctx context.Context, out *domain.SettlementOutcome) {
	if err := s.outcomes.Set(ctx, out, s.opts.OutcomeTTL); err != nil {
		s.log.Warn().Err(err).Str("transaction_id", out.TransactionID.String()).Msg("failed to cache settlement outcome")
	}
}

// GetLog returns the settlement log of a transaction.
func (s *SettlementServiceImpl) GetLog(ctx context.Context, transactionID uuid.UUID) (*domain.SettlementLog, error) {
	slog, err := s.logRepo.Get(ctx, transactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get settlement log: %w", err))
	}
	if slog == nil {
		return nil, apperror.ErrNotFound("settlement log")
	}
	return slog, nil
}

// ListDeadLetters pages through dead-lettered settlements for operators.
func (s *SettlementServiceImpl) ListDeadLetters(ctx context.Context, limit, offset int) ([]domain.SettlementLog, int64, error) {
	limit, offset = clampPage(limit, offset)
	logs, total, err := s.logRepo.ListByStatus(ctx, domain.SettlementStatusDeadLetter, limit, offset)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list dead letters: %w", err))
	}
	return logs, total, nil
}

func cancelledOutcome(txn *domain.Transaction) *domain.SettlementOutcome {
	return &domain.SettlementOutcome{
		TransactionID:    txn.ID,
		TransactionState: domain.TransactionStatusCancelled,
		SettlementState:  domain.SettlementStatusReceived,
	}
}

// failureReason is the short reason stored on the log and the transaction.
func failureReason(err error) string {
	if code := apperror.CodeOf(err); code != "" {
		return code
	}
	return err.Error()
}

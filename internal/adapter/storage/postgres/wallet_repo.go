package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const walletColumns = `id, owner_id, currency, available, frozen, status, last_mutated_at, created_at`

// WalletRepo implements ports.WalletRepository: wallet rows plus balance_history.
type WalletRepo struct {
	pool Pool
	now  func() time.Time
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool, now: time.Now}
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	var status string
	if err := row.Scan(
		&w.ID, &w.OwnerID, &w.Currency, &w.Available, &w.Frozen,
		&status, &w.LastMutatedAt, &w.CreatedAt,
	); err != nil {
		return nil, err
	}
	w.Status = domain.WalletStatus(status)
	return w, nil
}

// Provision inserts a new wallet.
func (r *WalletRepo) Provision(ctx context.Context, w *domain.Wallet) error {
	query := `INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		w.ID, w.OwnerID, w.Currency, w.Available, w.Frozen,
		string(w.Status), w.LastMutatedAt, w.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ErrWalletExists()
		}
		return wrapErr("insert wallet", err)
	}
	return nil
}

// EnsureWallet creates an ACTIVE zero-balance wallet for key if none exists.
func (r *WalletRepo) EnsureWallet(ctx context.Context, tx pgx.Tx, key domain.WalletKey) error {
	now := r.now().UTC()
	query := `INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, 0, 0, $4, $5, $5)
		ON CONFLICT (owner_id, currency) DO NOTHING`

	_, err := tx.Exec(ctx, query, uuid.New(), key.OwnerID, key.Currency, string(domain.WalletStatusActive), now)
	return wrapErr("ensure wallet", err)
}

// Get fetches a wallet without locking.
func (r *WalletRepo) Get(ctx context.Context, key domain.WalletKey) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 AND currency = $2`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, key.OwnerID, key.Currency))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("get wallet", err)
	}
	return w, nil
}

// GetForUpdate fetches a wallet with a row lock held until tx ends.
func (r *WalletRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 AND currency = $2 FOR UPDATE`

	w, err := scanWallet(tx.QueryRow(ctx, query, key.OwnerID, key.Currency))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("get wallet for update", err)
	}
	return w, nil
}

// LockWallets takes row locks on keys sorted by (owner, currency), so two transactions
// touching the same wallets always lock them in the same order.
func (r *WalletRepo) LockWallets(ctx context.Context, tx pgx.Tx, keys ...domain.WalletKey) error {
	sorted := make([]domain.WalletKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	var prev *domain.WalletKey
	for i := range sorted {
		if prev != nil && *prev == sorted[i] {
			continue
		}
		prev = &sorted[i]
		if _, err := tx.Exec(ctx,
			`SELECT 1 FROM wallets WHERE owner_id = $1 AND currency = $2 FOR UPDATE`,
			sorted[i].OwnerID, sorted[i].Currency,
		); err != nil {
			return wrapErr("lock wallet "+sorted[i].String(), err)
		}
	}
	return nil
}

// Mutate locks the wallet, applies the mutation and appends the history entry in tx.
//
// Credit kinds add to available and debit kinds subtract; ADJUSTMENT amounts are signed.
// FREEZE and UNFREEZE with a positive amount move funds between available and frozen; with
// a zero amount they flip the wallet status and record a zero-delta entry.
func (r *WalletRepo) Mutate(
	ctx context.Context,
	tx pgx.Tx,
	key domain.WalletKey,
	amount decimal.Decimal,
	kind domain.MutationKind,
	correlationID uuid.UUID,
) (*domain.AppliedMutation, error) {
	if err := checkMutationAmount(kind, amount); err != nil {
		return nil, err
	}

	w, err := r.GetForUpdate(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, apperror.ErrWalletNotFound()
	}

	prior := w.Available
	if err := applyMutation(w, kind, amount); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE wallets SET available = $1, frozen = $2, status = $3, last_mutated_at = $4 WHERE id = $5`,
		w.Available, w.Frozen, string(w.Status), now, w.ID,
	)
	if err != nil {
		return nil, wrapErr("update wallet", err)
	}

	entry := domain.BalanceHistoryEntry{
		ID:            uuid.New(),
		WalletID:      w.ID,
		PriorBalance:  prior,
		NewBalance:    w.Available,
		Delta:         w.Available.Sub(prior),
		Kind:          kind,
		CorrelationID: correlationID,
		CreatedAt:     now,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO balance_history (id, wallet_id, prior_balance, new_balance, delta, kind, correlation_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.WalletID, entry.PriorBalance, entry.NewBalance,
		entry.Delta, string(entry.Kind), entry.CorrelationID, entry.CreatedAt,
	)
	if err != nil {
		return nil, wrapErr("insert balance history", err)
	}

	return &domain.AppliedMutation{
		HistoryID:    entry.ID,
		OwnerID:      w.OwnerID,
		Currency:     w.Currency,
		Kind:         kind,
		Delta:        entry.Delta,
		PriorBalance: entry.PriorBalance,
		NewBalance:   entry.NewBalance,
	}, nil
}

// SetStatus changes a wallet's status.
func (r *WalletRepo) SetStatus(ctx context.Context, tx pgx.Tx, key domain.WalletKey, status domain.WalletStatus) error {
	tag, err := tx.Exec(ctx,
		`UPDATE wallets SET status = $1, last_mutated_at = $2 WHERE owner_id = $3 AND currency = $4`,
		string(status), r.now().UTC(), key.OwnerID, key.Currency,
	)
	if err != nil {
		return wrapErr("set wallet status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrWalletNotFound()
	}
	return nil
}

// History returns a page of the wallet's history, newest first.
func (r *WalletRepo) History(ctx context.Context, key domain.WalletKey, limit, offset int) ([]domain.BalanceHistoryEntry, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM balance_history h JOIN wallets w ON w.id = h.wallet_id
		 WHERE w.owner_id = $1 AND w.currency = $2`,
		key.OwnerID, key.Currency,
	).Scan(&total)
	if err != nil {
		return nil, 0, wrapErr("count balance history", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT h.id, h.wallet_id, h.prior_balance, h.new_balance, h.delta, h.kind, h.correlation_id, h.created_at
		 FROM balance_history h JOIN wallets w ON w.id = h.wallet_id
		 WHERE w.owner_id = $1 AND w.currency = $2
		 ORDER BY h.created_at DESC
		 LIMIT $3 OFFSET $4`,
		key.OwnerID, key.Currency, limit, offset,
	)
	if err != nil {
		return nil, 0, wrapErr("list balance history", err)
	}
	defer rows.Close()

	entries := []domain.BalanceHistoryEntry{}
	for rows.Next() {
		var e domain.BalanceHistoryEntry
		var kind string
		if err := rows.Scan(
			&e.ID, &e.WalletID, &e.PriorBalance, &e.NewBalance,
			&e.Delta, &kind, &e.CorrelationID, &e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan balance history: %w", err)
		}
		e.Kind = domain.MutationKind(kind)
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func isStatusFlip(kind domain.MutationKind, amount decimal.Decimal) bool {
	return (kind == domain.MutationFreeze || kind == domain.MutationUnfreeze) && amount.IsZero()
}

func checkMutationAmount(kind domain.MutationKind, amount decimal.Decimal) error {
	if !kind.Valid() {
		return apperror.Validation(fmt.Sprintf("unknown mutation kind %q", kind))
	}
	if isStatusFlip(kind, amount) {
		return nil
	}
	if kind == domain.MutationAdjustment {
		if amount.IsZero() {
			return apperror.ErrInvalidAmount()
		}
		return nil
	}
	if !amount.IsPositive() {
		return apperror.ErrInvalidAmount()
	}
	return nil
}

// applyMutation updates w in place or returns the business error that forbids the mutation.
func applyMutation(w *domain.Wallet, kind domain.MutationKind, amount decimal.Decimal) error {
	if w.Status == domain.WalletStatusClosed {
		return apperror.ErrWalletInactive()
	}
	if !w.IsActive() && !kind.AllowedWhenInactive() {
		return apperror.ErrWalletFrozen()
	}

	if isStatusFlip(kind, amount) {
		if kind == domain.MutationFreeze {
			w.Status = domain.WalletStatusFrozen
			return nil
		}
		if w.Status != domain.WalletStatusFrozen {
			return apperror.Validation("wallet is not frozen")
		}
		w.Status = domain.WalletStatusActive
		return nil
	}

	switch kind {
	case domain.MutationFreeze:
		if w.Available.LessThan(amount) {
			return apperror.ErrInsufficientBalance()
		}
		w.Available = w.Available.Sub(amount)
		w.Frozen = w.Frozen.Add(amount)
		return nil
	case domain.MutationUnfreeze:
		if w.Frozen.LessThan(amount) {
			return apperror.Validation("unfreeze amount exceeds frozen balance")
		}
		w.Frozen = w.Frozen.Sub(amount)
		w.Available = w.Available.Add(amount)
		return nil
	}

	next := w.Available.Add(kind.SignedDelta(amount))
	if next.IsNegative() {
		return apperror.ErrInsufficientBalance()
	}
	w.Available = next
	return nil
}

package integration

import (
	"context"
	"sort"
	"sync"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// inMemoryDB stands in for the Postgres schema. A transaction holds the database lock from
// Begin until Commit or Rollback; rollback restores the rows as they were at Begin. Work
// items enqueued in a transaction are delivered only on commit.
type inMemoryDB struct {
	mu sync.Mutex

	wallets  map[domain.WalletKey]domain.Wallet
	history  map[domain.WalletKey][]domain.BalanceHistoryEntry
	txns     map[uuid.UUID]domain.Transaction
	order    []uuid.UUID
	logs     map[uuid.UUID]domain.SettlementLog
	idem     map[string]domain.IdempotencyLog
	audit    []domain.AuditLog
	enqueued []domain.WorkItem
}

func newInMemoryDB() *inMemoryDB {
	return &inMemoryDB{
		wallets: make(map[domain.WalletKey]domain.Wallet),
		history: make(map[domain.WalletKey][]domain.BalanceHistoryEntry),
		txns:    make(map[uuid.UUID]domain.Transaction),
		logs:    make(map[uuid.UUID]domain.SettlementLog),
		idem:    make(map[string]domain.IdempotencyLog),
	}
}

// drain hands out every committed work item once.
func (db *inMemoryDB) drain() []domain.WorkItem {
	db.mu.Lock()
	defer db.mu.Unlock()
	items := db.enqueued
	db.enqueued = nil
	return items
}

func (db *inMemoryDB) auditActions() []domain.AuditAction {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]domain.AuditAction, len(db.audit))
	for i, a := range db.audit {
		out[i] = a.Action
	}
	return out
}

// --- Transactor ---

type dbState struct {
	wallets map[domain.WalletKey]domain.Wallet
	history map[domain.WalletKey][]domain.BalanceHistoryEntry
	txns    map[uuid.UUID]domain.Transaction
	order   []uuid.UUID
	logs    map[uuid.UUID]domain.SettlementLog
	idem    map[string]domain.IdempotencyLog
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type inMemoryTx struct {
	pgx.Tx
	db      *inMemoryDB
	saved   dbState
	pending []domain.WorkItem
	closed  bool
}

func (db *inMemoryDB) Begin(_ context.Context) (pgx.Tx, error) {
	db.mu.Lock()
	history := make(map[domain.WalletKey][]domain.BalanceHistoryEntry, len(db.history))
	for k, v := range db.history {
		history[k] = append([]domain.BalanceHistoryEntry(nil), v...)
	}
	return &inMemoryTx{db: db, saved: dbState{
		wallets: cloneMap(db.wallets),
		history: history,
		txns:    cloneMap(db.txns),
		order:   append([]uuid.UUID(nil), db.order...),
		logs:    cloneMap(db.logs),
		idem:    cloneMap(db.idem),
	}}, nil
}

func (t *inMemoryTx) Commit(_ context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.db.enqueued = append(t.db.enqueued, t.pending...)
	t.db.mu.Unlock()
	return nil
}

func (t *inMemoryTx) Rollback(_ context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.db.wallets = t.saved.wallets
	t.db.history = t.saved.history
	t.db.txns = t.saved.txns
	t.db.order = t.saved.order
	t.db.logs = t.saved.logs
	t.db.idem = t.saved.idem
	t.db.mu.Unlock()
	return nil
}

// --- Settlement Queue ---

type inMemoryQueue struct{}

func (inMemoryQueue) EnqueueTx(_ context.Context, tx pgx.Tx, item domain.WorkItem) error {
	t := tx.(*inMemoryTx)
	t.pending = append(t.pending, item)
	return nil
}

// --- In-Memory Wallet Repo ---

type inMemoryWalletRepo struct{ db *inMemoryDB }

func (r inMemoryWalletRepo) Provision(_ context.Context, w *domain.Wallet) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.wallets[w.Key()]; ok {
		return apperror.ErrWalletExists()
	}
	r.db.wallets[w.Key()] = *w
	return nil
}

func (r inMemoryWalletRepo) EnsureWallet(_ context.Context, _ pgx.Tx, key domain.WalletKey) error {
	if _, ok := r.db.wallets[key]; ok {
		return nil
	}
	now := time.Now().UTC()
	r.db.wallets[key] = domain.Wallet{
		ID:            uuid.New(),
		OwnerID:       key.OwnerID,
		Currency:      key.Currency,
		Available:     decimal.Zero,
		Frozen:        decimal.Zero,
		Status:        domain.WalletStatusActive,
		LastMutatedAt: now,
		CreatedAt:     now,
	}
	return nil
}

func (r inMemoryWalletRepo) Get(_ context.Context, key domain.WalletKey) (*domain.Wallet, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	w, ok := r.db.wallets[key]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r inMemoryWalletRepo) GetForUpdate(_ context.Context, _ pgx.Tx, key domain.WalletKey) (*domain.Wallet, error) {
	w, ok := r.db.wallets[key]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

// LockWallets is a no-op: the open transaction already holds the database lock.
func (r inMemoryWalletRepo) LockWallets(context.Context, pgx.Tx, ...domain.WalletKey) error {
	return nil
}

func (r inMemoryWalletRepo) Mutate(_ context.Context, _ pgx.Tx, key domain.WalletKey, amount decimal.Decimal, kind domain.MutationKind, correlationID uuid.UUID) (*domain.AppliedMutation, error) {
	w, ok := r.db.wallets[key]
	if !ok {
		return nil, apperror.ErrWalletNotFound()
	}
	if w.Status == domain.WalletStatusClosed {
		return nil, apperror.ErrWalletInactive()
	}
	if !w.IsActive() && !kind.AllowedWhenInactive() {
		return nil, apperror.ErrWalletFrozen()
	}

	prior := w.Available
	switch {
	case kind == domain.MutationFreeze && amount.IsZero():
		w.Status = domain.WalletStatusFrozen
	case kind == domain.MutationUnfreeze && amount.IsZero():
		w.Status = domain.WalletStatusActive
	case kind == domain.MutationFreeze:
		if w.Available.LessThan(amount) {
			return nil, apperror.ErrInsufficientBalance()
		}
		w.Available = w.Available.Sub(amount)
		w.Frozen = w.Frozen.Add(amount)
	case kind == domain.MutationUnfreeze:
		if w.Frozen.LessThan(amount) {
			return nil, apperror.Validation("unfreeze amount exceeds frozen balance")
		}
		w.Frozen = w.Frozen.Sub(amount)
		w.Available = w.Available.Add(amount)
	default:
		next := w.Available.Add(kind.SignedDelta(amount))
		if next.IsNegative() {
			return nil, apperror.ErrInsufficientBalance()
		}
		w.Available = next
	}

	now := time.Now().UTC()
	w.LastMutatedAt = now
	r.db.wallets[key] = w
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
	r.db.history[key] = append(r.db.history[key], entry)
	return &domain.AppliedMutation{
		HistoryID:    entry.ID,
		OwnerID:      key.OwnerID,
		Currency:     key.Currency,
		Kind:         kind,
		Delta:        entry.Delta,
		PriorBalance: prior,
		NewBalance:   w.Available,
	}, nil
}

func (r inMemoryWalletRepo) SetStatus(_ context.Context, _ pgx.Tx, key domain.WalletKey, status domain.WalletStatus) error {
	w, ok := r.db.wallets[key]
	if !ok {
		return apperror.ErrWalletNotFound()
	}
	w.Status = status
	r.db.wallets[key] = w
	return nil
}

func (r inMemoryWalletRepo) History(_ context.Context, key domain.WalletKey, limit, offset int) ([]domain.BalanceHistoryEntry, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	all := r.db.history[key]
	newest := make([]domain.BalanceHistoryEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		newest = append(newest, all[i])
	}
	return page(newest, limit, offset), int64(len(all)), nil
}

// --- In-Memory Transaction Repo ---

type inMemoryTransactionRepo struct{ db *inMemoryDB }

func (r inMemoryTransactionRepo) Create(_ context.Context, _ pgx.Tx, t *domain.Transaction) error {
	r.db.txns[t.ID] = *t
	r.db.order = append(r.db.order, t.ID)
	return nil
}

func (r inMemoryTransactionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.txns[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r inMemoryTransactionRepo) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	t, ok := r.db.txns[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r inMemoryTransactionRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, status domain.TransactionStatus, reason string, processedAt *time.Time) error {
	t, ok := r.db.txns[id]
	if !ok {
		return apperror.ErrTransactionNotFound()
	}
	t.Status = status
	if reason != "" {
		t.FailureReason = reason
	}
	if processedAt != nil {
		t.ProcessedAt = processedAt
	}
	r.db.txns[id] = t
	return nil
}

func (r inMemoryTransactionRepo) List(_ context.Context, p ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.Transaction
	for i := len(r.db.order) - 1; i >= 0; i-- {
		t := r.db.txns[r.db.order[i]]
		if p.OwnerID != "" && t.SourceOwner != p.OwnerID && t.DestinationOwner != p.OwnerID {
			continue
		}
		if p.Status != nil && t.Status != *p.Status {
			continue
		}
		if p.Kind != nil && t.Kind != *p.Kind {
			continue
		}
		if p.BatchID != nil && (t.BatchID == nil || *t.BatchID != *p.BatchID) {
			continue
		}
		out = append(out, t)
	}
	return page(out, p.Limit, p.Offset), int64(len(out)), nil
}

func (r inMemoryTransactionRepo) GetStats(_ context.Context, ownerID string, periodStart *time.Time) (*ports.TransactionStats, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	st := &ports.TransactionStats{CompletedVolume: decimal.Zero, FeesPaid: decimal.Zero}
	for _, t := range r.db.txns {
		if t.SourceOwner != ownerID {
			continue
		}
		if periodStart != nil && t.CreatedAt.Before(*periodStart) {
			continue
		}
		st.Total++
		switch t.Status {
		case domain.TransactionStatusCompleted:
			st.Completed++
			st.CompletedVolume = st.CompletedVolume.Add(t.Amount)
			st.FeesPaid = st.FeesPaid.Add(t.Fee)
		case domain.TransactionStatusFailed:
			st.Failed++
		case domain.TransactionStatusCancelled:
			st.Cancelled++
		default:
			st.InFlight++
		}
	}
	return st, nil
}

// --- In-Memory Settlement Log Repo ---

type inMemorySettlementLogRepo struct{ db *inMemoryDB }

func (r inMemorySettlementLogRepo) GetOrCreateForUpdate(_ context.Context, _ pgx.Tx, item domain.WorkItem, maxRetries int) (*domain.SettlementLog, error) {
	l, ok := r.db.logs[item.TransactionID]
	if !ok {
		now := time.Now().UTC()
		l = domain.SettlementLog{
			ID:            uuid.New(),
			TransactionID: item.TransactionID,
			Status:        domain.SettlementStatusReceived,
			MaxRetries:    maxRetries,
			WorkItem:      item,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		r.db.logs[item.TransactionID] = l
	}
	return &l, nil
}

func (r inMemorySettlementLogRepo) GetForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.SettlementLog, error) {
	l, ok := r.db.logs[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (r inMemorySettlementLogRepo) Get(_ context.Context, id uuid.UUID) (*domain.SettlementLog, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	l, ok := r.db.logs[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (r inMemorySettlementLogRepo) Update(_ context.Context, _ pgx.Tx, l *domain.SettlementLog) error {
	l.UpdatedAt = time.Now().UTC()
	r.db.logs[l.TransactionID] = *l
	return nil
}

func (r inMemorySettlementLogRepo) MarkReservationReleased(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if l, ok := r.db.logs[id]; ok {
		l.ReservationReleased = true
		r.db.logs[id] = l
	}
	return nil
}

func (r inMemorySettlementLogRepo) ListByStatus(_ context.Context, status domain.SettlementStatus, limit, offset int) ([]domain.SettlementLog, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.SettlementLog
	for _, l := range r.db.logs {
		if l.Status == status {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return page(out, limit, offset), int64(len(out)), nil
}

// --- In-Memory Idempotency Repo ---

type inMemoryIdempotencyRepo struct{ db *inMemoryDB }

func (r inMemoryIdempotencyRepo) Create(_ context.Context, _ pgx.Tx, l *domain.IdempotencyLog) error {
	if _, ok := r.db.idem[l.Key]; ok {
		return apperror.ErrDuplicateRequest()
	}
	r.db.idem[l.Key] = *l
	return nil
}

func (r inMemoryIdempotencyRepo) Get(_ context.Context, key string) (*domain.IdempotencyLog, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	l, ok := r.db.idem[key]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

// --- In-Memory Audit Repo ---

type inMemoryAuditRepo struct{ db *inMemoryDB }

func (r inMemoryAuditRepo) Create(_ context.Context, l *domain.AuditLog) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.audit = append(r.db.audit, *l)
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

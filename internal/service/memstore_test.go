package service

import (
	"context"
	"sync"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for the Postgres schema. A transaction holds the
// store-wide lock from Begin until Commit or Rollback, so transactions are serializable;
// rollback restores the snapshot taken at Begin. Work items enqueued in a transaction
// become visible only on commit.
type memStore struct {
	mu sync.Mutex

	wallets map[domain.WalletKey]domain.Wallet
	history []memHistory
	txns    map[uuid.UUID]domain.Transaction
	logs    map[uuid.UUID]domain.SettlementLog
	idem    map[string]domain.IdempotencyLog
	limits  map[string]domain.LimitCounter
	queue   []domain.WorkItem

	dailyLimit   decimal.Decimal
	monthlyLimit decimal.Decimal
	now          func() time.Time

	// mutateFault, when set, is consulted before every ledger mutation.
	mutateFault func(key domain.WalletKey, kind domain.MutationKind) error
	// releaseFault, when set, is consulted before every limit release.
	releaseFault func(owner string) error
}

type memHistory struct {
	key   domain.WalletKey
	entry domain.BalanceHistoryEntry
}

type memSnapshot struct {
	wallets map[domain.WalletKey]domain.Wallet
	history int
	txns    map[uuid.UUID]domain.Transaction
	logs    map[uuid.UUID]domain.SettlementLog
	idem    map[string]domain.IdempotencyLog
}

func newMemStore() *memStore {
	return &memStore{
		wallets:      map[domain.WalletKey]domain.Wallet{},
		txns:         map[uuid.UUID]domain.Transaction{},
		logs:         map[uuid.UUID]domain.SettlementLog{},
		idem:         map[string]domain.IdempotencyLog{},
		limits:       map[string]domain.LimitCounter{},
		dailyLimit:   dec("10000"),
		monthlyLimit: dec("100000"),
		now:          time.Now,
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) snapshot() *memSnapshot {
	return &memSnapshot{
		wallets: copyMap(s.wallets),
		history: len(s.history),
		txns:    copyMap(s.txns),
		logs:    copyMap(s.logs),
		idem:    copyMap(s.idem),
	}
}

func (s *memStore) restore(snap *memSnapshot) {
	s.wallets = snap.wallets
	s.history = s.history[:snap.history]
	s.txns = snap.txns
	s.logs = snap.logs
	s.idem = snap.idem
}

// drain hands out and clears the committed work items.
func (s *memStore) drain() []domain.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.queue
	s.queue = nil
	return items
}

func (s *memStore) wallet(owner, currency string) domain.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets[domain.WalletKey{OwnerID: owner, Currency: currency}]
}

func (s *memStore) transaction(id uuid.UUID) (domain.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	return t, ok
}

func (s *memStore) settlementLog(id uuid.UUID) (domain.SettlementLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	return l, ok
}

func (s *memStore) historyOf(key domain.WalletKey) []domain.BalanceHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BalanceHistoryEntry
	for _, h := range s.history {
		if h.key == key {
			out = append(out, h.entry)
		}
	}
	return out
}

func (s *memStore) counter(owner string) domain.LimitCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits[owner]
}

// ---- transactor ----

type memTx struct {
	pgx.Tx
	store   *memStore
	snap    *memSnapshot
	pending []domain.WorkItem
	done    bool
}

func (s *memStore) Begin(_ context.Context) (pgx.Tx, error) {
	s.mu.Lock()
	return &memTx{store: s, snap: s.snapshot()}, nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.queue = append(t.store.queue, t.pending...)
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.restore(t.snap)
	t.store.mu.Unlock()
	return nil
}

// ---- queue ----

type memQueue struct{}

func (memQueue) EnqueueTx(_ context.Context, tx pgx.Tx, item domain.WorkItem) error {
	mt := tx.(*memTx)
	mt.pending = append(mt.pending, item)
	return nil
}

// ---- wallets ----

type memWallets struct{ s *memStore }

func (r memWallets) Provision(_ context.Context, w *domain.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.wallets[w.Key()]; ok {
		return apperror.ErrWalletExists()
	}
	r.s.wallets[w.Key()] = *w
	return nil
}

func (r memWallets) EnsureWallet(_ context.Context, _ pgx.Tx, key domain.WalletKey) error {
	if _, ok := r.s.wallets[key]; !ok {
		now := r.s.now().UTC()
		r.s.wallets[key] = domain.Wallet{
			ID: uuid.New(), OwnerID: key.OwnerID, Currency: key.Currency,
			Available: decimal.Zero, Frozen: decimal.Zero,
			Status: domain.WalletStatusActive, LastMutatedAt: now, CreatedAt: now,
		}
	}
	return nil
}

func (r memWallets) Get(_ context.Context, key domain.WalletKey) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.wallets[key]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r memWallets) GetForUpdate(_ context.Context, _ pgx.Tx, key domain.WalletKey) (*domain.Wallet, error) {
	w, ok := r.s.wallets[key]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r memWallets) LockWallets(context.Context, pgx.Tx, ...domain.WalletKey) error { return nil }

func (r memWallets) Mutate(_ context.Context, _ pgx.Tx, key domain.WalletKey, amount decimal.Decimal, kind domain.MutationKind, correlationID uuid.UUID) (*domain.AppliedMutation, error) {
	if r.s.mutateFault != nil {
		if err := r.s.mutateFault(key, kind); err != nil {
			return nil, err
		}
	}
	w, ok := r.s.wallets[key]
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

	now := r.s.now().UTC()
	w.LastMutatedAt = now
	r.s.wallets[key] = w
	entry := domain.BalanceHistoryEntry{
		ID: uuid.New(), WalletID: w.ID,
		PriorBalance: prior, NewBalance: w.Available, Delta: w.Available.Sub(prior),
		Kind: kind, CorrelationID: correlationID, CreatedAt: now,
	}
	r.s.history = append(r.s.history, memHistory{key: key, entry: entry})
	return &domain.AppliedMutation{
		HistoryID: entry.ID, OwnerID: key.OwnerID, Currency: key.Currency, Kind: kind,
		Delta: entry.Delta, PriorBalance: prior, NewBalance: w.Available,
	}, nil
}

func (r memWallets) SetStatus(_ context.Context, _ pgx.Tx, key domain.WalletKey, status domain.WalletStatus) error {
	w, ok := r.s.wallets[key]
	if !ok {
		return apperror.ErrWalletNotFound()
	}
	w.Status = status
	r.s.wallets[key] = w
	return nil
}

func (r memWallets) History(_ context.Context, key domain.WalletKey, limit, offset int) ([]domain.BalanceHistoryEntry, int64, error) {
	all := r.s.historyOf(key)
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	total := int64(len(all))
	if offset >= len(all) {
		return []domain.BalanceHistoryEntry{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// ---- transactions ----

type memTxns struct{ s *memStore }

func (r memTxns) Create(_ context.Context, _ pgx.Tx, t *domain.Transaction) error {
	r.s.txns[t.ID] = *t
	return nil
}

func (r memTxns) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	t, ok := r.s.transaction(id)
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r memTxns) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	t, ok := r.s.txns[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r memTxns) UpdateStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, status domain.TransactionStatus, reason string, processedAt *time.Time) error {
	t, ok := r.s.txns[id]
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
	r.s.txns[id] = t
	return nil
}

func (r memTxns) List(_ context.Context, p ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []domain.Transaction{}
	for _, t := range r.s.txns {
		if p.OwnerID != "" && t.SourceOwner != p.OwnerID && t.DestinationOwner != p.OwnerID {
			continue
		}
		if p.Status != nil && t.Status != *p.Status {
			continue
		}
		out = append(out, t)
	}
	return out, int64(len(out)), nil
}

func (r memTxns) GetStats(_ context.Context, ownerID string, _ *time.Time) (*ports.TransactionStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st := &ports.TransactionStats{CompletedVolume: decimal.Zero, FeesPaid: decimal.Zero}
	for _, t := range r.s.txns {
		if t.SourceOwner != ownerID {
			continue
		}
		st.Total++
		if t.Status == domain.TransactionStatusCompleted {
			st.Completed++
			st.CompletedVolume = st.CompletedVolume.Add(t.Amount)
			st.FeesPaid = st.FeesPaid.Add(t.Fee)
		}
	}
	return st, nil
}

// ---- settlement logs ----

type memLogs struct{ s *memStore }

func (r memLogs) GetOrCreateForUpdate(_ context.Context, _ pgx.Tx, item domain.WorkItem, maxRetries int) (*domain.SettlementLog, error) {
	l, ok := r.s.logs[item.TransactionID]
	if !ok {
		now := r.s.now().UTC()
		l = domain.SettlementLog{
			ID: uuid.New(), TransactionID: item.TransactionID, Status: domain.SettlementStatusReceived,
			MaxRetries: maxRetries, WorkItem: item, CreatedAt: now, UpdatedAt: now,
		}
		r.s.logs[item.TransactionID] = l
	}
	return &l, nil
}

func (r memLogs) GetForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.SettlementLog, error) {
	l, ok := r.s.logs[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (r memLogs) Get(_ context.Context, id uuid.UUID) (*domain.SettlementLog, error) {
	l, ok := r.s.settlementLog(id)
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (r memLogs) Update(_ context.Context, _ pgx.Tx, l *domain.SettlementLog) error {
	l.UpdatedAt = r.s.now().UTC()
	r.s.logs[l.TransactionID] = *l
	return nil
}

func (r memLogs) MarkReservationReleased(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.logs[id]
	if !ok {
		return nil
	}
	l.ReservationReleased = true
	r.s.logs[id] = l
	return nil
}

func (r memLogs) ListByStatus(_ context.Context, status domain.SettlementStatus, _, _ int) ([]domain.SettlementLog, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.SettlementLog
	for _, l := range r.s.logs {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out, int64(len(out)), nil
}

// ---- idempotency ----

type memIdem struct{ s *memStore }

func (r memIdem) Create(_ context.Context, _ pgx.Tx, l *domain.IdempotencyLog) error {
	if _, ok := r.s.idem[l.Key]; ok {
		return apperror.ErrDuplicateRequest()
	}
	r.s.idem[l.Key] = *l
	return nil
}

func (r memIdem) Get(_ context.Context, k string) (*domain.IdempotencyLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.idem[k]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

// ---- limits ----

type memLimits struct{ s *memStore }

func (r memLimits) load(owner string, at time.Time) domain.LimitCounter {
	c, ok := r.s.limits[owner]
	if !ok {
		c = *domain.NewLimitCounter(owner, r.s.dailyLimit, r.s.monthlyLimit, at)
	}
	c.Rollover(at)
	return c
}

func (r memLimits) Reserve(_ context.Context, owner string, amount decimal.Decimal, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := r.load(owner, at)
	if !c.Active {
		return apperror.ErrLimitInactive()
	}
	if !c.Fits(amount) {
		r.s.limits[owner] = c
		return apperror.ErrLimitExceeded()
	}
	c.Reserve(amount)
	r.s.limits[owner] = c
	return nil
}

func (r memLimits) Release(_ context.Context, owner string, amount decimal.Decimal, reservedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.releaseFault != nil {
		if err := r.s.releaseFault(owner); err != nil {
			return err
		}
	}
	c := r.load(owner, r.s.now())
	c.Release(amount, reservedAt)
	r.s.limits[owner] = c
	return nil
}

func (r memLimits) Get(_ context.Context, owner string) (*domain.LimitCounter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := r.load(owner, r.s.now())
	r.s.limits[owner] = c
	return &c, nil
}

func (r memLimits) Update(_ context.Context, owner string, u ports.LimitUpdate) (*domain.LimitCounter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := r.load(owner, r.s.now())
	if u.DailyLimit != nil {
		c.DailyLimit = *u.DailyLimit
	}
	if u.MonthlyLimit != nil {
		c.MonthlyLimit = *u.MonthlyLimit
	}
	if u.Active != nil {
		c.Active = *u.Active
	}
	r.s.limits[owner] = c
	return &c, nil
}

// ---- caches, events, audit ----

type memOutcomes struct {
	mu  sync.Mutex
	out map[uuid.UUID]domain.SettlementOutcome
}

func (c *memOutcomes) Get(_ context.Context, id uuid.UUID) (*domain.SettlementOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.out[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (c *memOutcomes) Set(_ context.Context, o *domain.SettlementOutcome, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out[o.TransactionID] = *o
	return nil
}

type memIdemCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *memIdemCache) Get(_ context.Context, k string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[k], nil
}

func (c *memIdemCache) Set(_ context.Context, k string, v []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[k] = v
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.SettlementEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e *domain.SettlementEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) all() []*domain.SettlementEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.SettlementEvent(nil), p.events...)
}

type nopAudit struct{}

func (nopAudit) Log(context.Context, *domain.AuditLog) {}

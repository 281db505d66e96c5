package service

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// harness wires intake and settlement to one in-memory store.
type harness struct {
	store  *memStore
	clock  *fakeClock
	events *recordingPublisher
	intake *IntakeServiceImpl
	settle *SettlementServiceImpl
}

func newHarness(t *testing.T, feeRate string) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := newMemStore()
	store.now = clock.now
	events := &recordingPublisher{}

	limits := memLimits{s: store}
	h := &harness{store: store, clock: clock, events: events}
	h.intake = NewIntakeService(
		memTxns{s: store}, memWallets{s: store}, memLogs{s: store}, memIdem{s: store},
		&memIdemCache{m: map[string][]byte{}}, limits, memQueue{}, store, nopAudit{},
		IntakeOptions{
			FeeRate:         dec(feeRate),
			MinAmount:       dec("0.00000001"),
			MaxBatchSize:    100,
			DefaultCurrency: "USDT",
		},
		zerolog.Nop(),
	)
	h.intake.now = clock.now
	h.settle = NewSettlementService(
		memTxns{s: store}, memWallets{s: store}, memLogs{s: store}, limits,
		&memOutcomes{out: map[uuid.UUID]domain.SettlementOutcome{}}, events, store,
		SettlementOptions{
			MaxRetries:        3,
			BaseRetryDelay:    30 * time.Second,
			ProcessingTimeout: 5 * time.Second,
			OutcomeTTL:        time.Hour,
		},
		zerolog.Nop(),
	)
	h.settle.now = clock.now
	return h
}

// settleAll processes every committed work item once, in enqueue order.
func (h *harness) settleAll(t *testing.T) []*domain.SettlementOutcome {
	t.Helper()
	var outs []*domain.SettlementOutcome
	for _, item := range h.store.drain() {
		out, err := h.settle.Process(context.Background(), item)
		require.NoError(t, err)
		outs = append(outs, out)
	}
	return outs
}

func (h *harness) mint(t *testing.T, owner, amount string) {
	t.Helper()
	_, err := h.intake.Mint(context.Background(), superAdmin, ports.MintRequest{Destination: owner, Amount: dec(amount)})
	require.NoError(t, err)
	for _, out := range h.settleAll(t) {
		require.Equal(t, domain.TransactionStatusCompleted, out.TransactionState)
	}
}

func (h *harness) balance(owner string) string {
	return h.store.wallet(owner, "USDT").Available.StringFixed(8)
}

func user(owner string) domain.Caller {
	return domain.Caller{OwnerID: owner, Role: domain.RoleUser}
}

func TestScenario_MintCreditsDestination(t *testing.T) {
	h := newHarness(t, "0.001")

	h.mint(t, "alice", "100")

	assert.Equal(t, "100.00000000", h.balance("alice"))
	hist := h.store.historyOf(key("alice"))
	require.Len(t, hist, 1)
	assert.Equal(t, domain.MutationMint, hist[0].Kind)
	assert.Equal(t, "100.00000000", hist[0].Delta.StringFixed(8))
	assert.True(t, hist[0].NewBalance.Equal(hist[0].PriorBalance.Add(hist[0].Delta)))
}

func TestScenario_TransferChargesFee(t *testing.T) {
	h := newHarness(t, "0.001")
	h.mint(t, "alice", "100")

	res, err := h.intake.Transfer(context.Background(), user("alice"), ports.TransferRequest{
		Source: "alice", Destination: "bob", Amount: dec("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.05000000", res.Fee.StringFixed(8))

	outs := h.settleAll(t)
	require.Len(t, outs, 1)
	assert.Equal(t, domain.TransactionStatusCompleted, outs[0].TransactionState)

	assert.Equal(t, "49.95000000", h.balance("alice"))
	assert.Equal(t, "50.00000000", h.balance("bob"))

	aliceHist := h.store.historyOf(key("alice"))
	require.Len(t, aliceHist, 3)
	assert.Equal(t, domain.MutationTransferOut, aliceHist[1].Kind)
	assert.Equal(t, domain.MutationFee, aliceHist[2].Kind)
	assert.Equal(t, "-0.05000000", aliceHist[2].Delta.StringFixed(8))
	bobHist := h.store.historyOf(key("bob"))
	require.Len(t, bobHist, 1)
	assert.Equal(t, domain.MutationTransferIn, bobHist[0].Kind)

	for _, e := range []domain.BalanceHistoryEntry{aliceHist[1], aliceHist[2], bobHist[0]} {
		assert.Equal(t, res.TransactionID, e.CorrelationID)
	}

	txn, ok := h.store.transaction(res.TransactionID)
	require.True(t, ok)
	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
	require.NotNil(t, txn.ProcessedAt)
}

func TestScenario_BurnBeyondSpendableLeavesNoTrace(t *testing.T) {
	h := newHarness(t, "0.001")
	h.mint(t, "alice", "25")

	h.store.mu.Lock()
	w := h.store.wallets[key("alice")]
	w.Frozen = dec("5")
	h.store.wallets[key("alice")] = w
	h.store.mu.Unlock()
	frozen := h.store.wallet("alice", "USDT")
	require.Equal(t, "20.00000000", frozen.Spendable().StringFixed(8))

	_, err := h.intake.Burn(context.Background(), user("alice"), ports.BurnRequest{Source: "alice", Amount: dec("30")})
	assertAppError(t, err, "INSUFFICIENT_BALANCE")

	txns, total, err := memTxns{s: h.store}.List(context.Background(), ports.TransactionListParams{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "only the mint is recorded")
	assert.Equal(t, domain.TransactionKindMint, txns[0].Kind)
	assert.True(t, h.store.counter("alice").DailyUsed.IsZero())
	assert.Empty(t, h.store.drain())
}

func TestScenario_ConcurrentTransfersOverdrawOnce(t *testing.T) {
	h := newHarness(t, "0")
	h.mint(t, "alice", "100")

	for _, dest := range []string{"bob", "carol"} {
		_, err := h.intake.Transfer(context.Background(), user("alice"), ports.TransferRequest{
			Source: "alice", Destination: dest, Amount: dec("60"),
		})
		require.NoError(t, err, "intake checks spendable, not pending debits")
	}

	items := h.store.drain()
	require.Len(t, items, 2)

	outs := make([]*domain.SettlementOutcome, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item domain.WorkItem) {
			defer wg.Done()
			out, err := h.settle.Process(context.Background(), item)
			assert.NoError(t, err)
			outs[i] = out
		}(i, item)
	}
	wg.Wait()

	var completed, failed int
	for _, out := range outs {
		require.NotNil(t, out)
		switch out.TransactionState {
		case domain.TransactionStatusCompleted:
			completed++
		case domain.TransactionStatusFailed:
			failed++
			assert.Equal(t, "INSUFFICIENT_BALANCE", out.FailureReason)
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, "40.00000000", h.balance("alice"))

	// the failed transfer gave its reservation back
	assert.Equal(t, "60.00000000", h.store.counter("alice").DailyUsed.StringFixed(8))
}

func TestProperty_RedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t, "0.001")
	h.mint(t, "alice", "100")

	_, err := h.intake.Transfer(context.Background(), user("alice"), ports.TransferRequest{
		Source: "alice", Destination: "bob", Amount: dec("10"),
	})
	require.NoError(t, err)
	items := h.store.drain()
	require.Len(t, items, 1)
	item := items[0]

	const deliveries = 8
	outs := make([]*domain.SettlementOutcome, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.settle.Process(context.Background(), item)
			assert.NoError(t, err)
			outs[i] = out
		}(i)
	}
	wg.Wait()

	// a delivery that overlapped a running attempt is told when to come back
	for i, out := range outs {
		require.NotNil(t, out)
		if out.SettlementState == domain.SettlementStatusProcessing {
			assert.Positive(t, out.RetryAfter)
			outs[i], err = h.settle.Process(context.Background(), item)
			require.NoError(t, err)
		}
	}

	again, err := h.settle.Process(context.Background(), item)
	require.NoError(t, err)
	outs = append(outs, again)

	for _, out := range outs {
		require.NotNil(t, out)
		assert.Equal(t, outs[0], out)
	}
	slog, ok := h.store.settlementLog(item.TransactionID)
	require.True(t, ok)
	assert.Zero(t, slog.RetryCount, "overlapping deliveries use up no retries")
	assert.Equal(t, domain.TransactionStatusCompleted, outs[0].TransactionState)
	assert.Len(t, h.store.historyOf(key("alice")), 3, "mint plus one transfer-out and one fee")
	assert.Len(t, h.store.historyOf(key("bob")), 1)
	assert.Equal(t, "89.99000000", h.balance("alice"))

	var completedEvents int
	for _, e := range h.events.all() {
		if e.TransactionID == item.TransactionID {
			completedEvents++
		}
	}
	assert.Equal(t, 1, completedEvents)
}

func TestProperty_LimitRoundTrip(t *testing.T) {
	h := newHarness(t, "0.001")
	h.mint(t, "alice", "100")

	before, err := memLimits{s: h.store}.Get(context.Background(), "alice")
	require.NoError(t, err)

	res, err := h.intake.Transfer(context.Background(), user("alice"), ports.TransferRequest{
		Source: "alice", Destination: "bob", Amount: dec("20"),
	})
	require.NoError(t, err)
	assert.Equal(t, "20.02000000", h.store.counter("alice").DailyUsed.StringFixed(8))

	_, err = h.intake.Cancel(context.Background(), user("alice"), res.TransactionID)
	require.NoError(t, err)

	after := h.store.counter("alice")
	assert.True(t, before.DailyUsed.Equal(after.DailyUsed))
	assert.True(t, before.MonthlyUsed.Equal(after.MonthlyUsed))

	// the cancelled item is still delivered and acknowledged without effect
	outs := h.settleAll(t)
	require.Len(t, outs, 1)
	assert.Equal(t, domain.TransactionStatusCancelled, outs[0].TransactionState)
	assert.Equal(t, "100.00000000", h.balance("alice"))
}

func TestProperty_RetryScheduleThenDeadLetter(t *testing.T) {
	h := newHarness(t, "0.001")
	h.mint(t, "alice", "100")

	h.store.mutateFault = func(_ domain.WalletKey, kind domain.MutationKind) error {
		if kind == domain.MutationTransferOut {
			return apperror.ErrTransient(assert.AnError)
		}
		return nil
	}

	res, err := h.intake.Transfer(context.Background(), user("alice"), ports.TransferRequest{
		Source: "alice", Destination: "bob", Amount: dec("10"),
	})
	require.NoError(t, err)
	items := h.store.drain()
	require.Len(t, items, 1)
	item := items[0]
	ctx := context.Background()

	for _, wantDelay := range []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second} {
		out, err := h.settle.Process(ctx, item)
		require.NoError(t, err)
		require.Equal(t, domain.SettlementStatusRetrying, out.SettlementState)
		assert.Equal(t, wantDelay, out.RetryAfter)

		// an early re-delivery only learns how long to wait
		early, err := h.settle.Process(ctx, item)
		require.NoError(t, err)
		assert.Equal(t, domain.SettlementStatusRetrying, early.SettlementState)
		assert.Equal(t, wantDelay, early.RetryAfter)

		h.clock.advance(wantDelay)
	}

	out, err := h.settle.Process(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusDeadLetter, out.SettlementState)
	assert.Equal(t, domain.TransactionStatusFailed, out.TransactionState)

	slog, ok := h.store.settlementLog(res.TransactionID)
	require.True(t, ok)
	assert.Equal(t, 3, slog.RetryCount)
	assert.True(t, slog.ReservationReleased)
	assert.Equal(t, "RETRIES_EXHAUSTED: TRANSIENT_FAILURE", slog.LastError)

	txn, _ := h.store.transaction(res.TransactionID)
	assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
	assert.True(t, h.store.counter("alice").DailyUsed.IsZero())
	assert.Equal(t, "100.00000000", h.balance("alice"))

	// DEAD_LETTER is final
	h.store.mutateFault = nil
	again, err := h.settle.Process(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusDeadLetter, again.SettlementState)
	assert.Equal(t, "100.00000000", h.balance("alice"))
}

func TestProperty_FailedReleaseCompletesOnRedelivery(t *testing.T) {
	h := newHarness(t, "0.001")
	h.mint(t, "alice", "100")

	h.store.mutateFault = func(_ domain.WalletKey, kind domain.MutationKind) error {
		if kind == domain.MutationTransferOut {
			return apperror.ErrWalletFrozen()
		}
		return nil
	}
	releaseFailures := 1
	h.store.releaseFault = func(string) error {
		if releaseFailures > 0 {
			releaseFailures--
			return apperror.ErrTransient(assert.AnError)
		}
		return nil
	}

	res, err := h.intake.Transfer(context.Background(), user("alice"), ports.TransferRequest{
		Source: "alice", Destination: "bob", Amount: dec("10"),
	})
	require.NoError(t, err)
	items := h.store.drain()
	require.Len(t, items, 1)
	item := items[0]
	ctx := context.Background()

	_, err = h.settle.Process(ctx, item)
	assert.Equal(t, "RESERVATION_RELEASE_PENDING", apperror.CodeOf(err))
	assert.False(t, apperror.IsPermanent(err), "the queue must deliver the item again")
	assert.Equal(t, "10.01000000", h.store.counter("alice").DailyUsed.StringFixed(8))

	slog, _ := h.store.settlementLog(res.TransactionID)
	assert.Equal(t, domain.SettlementStatusDeadLetter, slog.Status)
	assert.False(t, slog.ReservationReleased)

	for i := 0; i < 3; i++ {
		out, err := h.settle.Process(ctx, item)
		require.NoError(t, err)
		assert.Equal(t, domain.SettlementStatusDeadLetter, out.SettlementState)
		assert.Equal(t, "WALLET_FROZEN", out.FailureReason)
	}

	assert.True(t, h.store.counter("alice").DailyUsed.IsZero())
	slog, _ = h.store.settlementLog(res.TransactionID)
	assert.True(t, slog.ReservationReleased)

	var failedEvents int
	for _, e := range h.events.all() {
		if e.TransactionID == item.TransactionID {
			failedEvents++
		}
	}
	assert.Equal(t, 1, failedEvents)
}

func TestProperty_Conservation(t *testing.T) {
	h := newHarness(t, "0.001")
	owners := []string{"alice", "bob", "carol", "dave"}
	for _, o := range owners {
		h.mint(t, o, "1000")
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 60; i++ {
		src := owners[rng.Intn(len(owners))]
		dst := owners[rng.Intn(len(owners))]
		if src == dst {
			continue
		}
		amount := decimal.New(int64(rng.Intn(30000)+1), -2)
		_, err := h.intake.Transfer(context.Background(), user(src), ports.TransferRequest{
			Source: src, Destination: dst, Amount: amount,
		})
		if err != nil {
			kind := apperror.KindOf(err)
			require.True(t, kind == apperror.KindInsufficientBalance || kind == apperror.KindLimitExceeded, err.Error())
		}
		if i%5 == 4 {
			h.settleAll(t)
		}
	}
	h.settleAll(t)

	fees := decimal.Zero
	completed, _, err := memTxns{s: h.store}.List(context.Background(), ports.TransactionListParams{
		Status: func() *domain.TransactionStatus { s := domain.TransactionStatusCompleted; return &s }(),
	})
	require.NoError(t, err)
	for _, txn := range completed {
		fees = fees.Add(txn.Fee)
	}

	total := decimal.Zero
	for _, o := range owners {
		w := h.store.wallet(o, "USDT")
		assert.False(t, w.Available.IsNegative(), o)
		total = total.Add(w.Available)
		for _, e := range h.store.historyOf(key(o)) {
			assert.True(t, e.NewBalance.Equal(e.PriorBalance.Add(e.Delta)))
		}
	}
	assert.Equal(t, "4000.00000000", total.Add(fees).StringFixed(8))
}

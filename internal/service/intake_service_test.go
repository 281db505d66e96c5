package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/internal/core/ports/mocks"
	"stableflow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var intakeNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type intakeTestDeps struct {
	svc        *IntakeServiceImpl
	txRepo     *mocks.MockTransactionRepository
	walletRepo *mocks.MockWalletRepository
	logRepo    *mocks.MockSettlementLogRepository
	idempRepo  *mocks.MockIdempotencyRepository
	idempCache *mocks.MockIdempotencyCache
	limits     *mocks.MockLimitTracker
	queue      *mocks.MockSettlementQueue
	transactor *mocks.MockDBTransactor
	audit      *mocks.MockAuditService
	tx         *mockTx
}

func setupIntakeService(t *testing.T) *intakeTestDeps {
	ctrl := gomock.NewController(t)
	d := &intakeTestDeps{
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		logRepo:    mocks.NewMockSettlementLogRepository(ctrl),
		idempRepo:  mocks.NewMockIdempotencyRepository(ctrl),
		idempCache: mocks.NewMockIdempotencyCache(ctrl),
		limits:     mocks.NewMockLimitTracker(ctrl),
		queue:      mocks.NewMockSettlementQueue(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		audit:      mocks.NewMockAuditService(ctrl),
		tx:         &mockTx{},
	}
	d.svc = NewIntakeService(
		d.txRepo, d.walletRepo, d.logRepo, d.idempRepo, d.idempCache,
		d.limits, d.queue, d.transactor, d.audit,
		IntakeOptions{
			FeeRate:         dec("0.001"),
			MinAmount:       dec("0.00000001"),
			MaxBatchSize:    2,
			DefaultCurrency: "USDT",
		},
		zerolog.Nop(),
	)
	d.svc.now = func() time.Time { return intakeNow }
	return d
}

var (
	superAdmin = domain.Caller{OwnerID: "root", Role: domain.RoleSuperAdmin}
	admin      = domain.Caller{OwnerID: "ops", Role: domain.RoleAdmin}
	alice      = domain.Caller{OwnerID: "alice", Role: domain.RoleUser}
	bob        = domain.Caller{OwnerID: "bob", Role: domain.RoleUser}
)

func activeWallet(owner, available, frozen string) *domain.Wallet {
	return &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   owner,
		Currency:  "USDT",
		Available: dec(available),
		Frozen:    dec(frozen),
		Status:    domain.WalletStatusActive,
	}
}

func key(owner string) domain.WalletKey {
	return domain.WalletKey{OwnerID: owner, Currency: "USDT"}
}

// expectPersist sets up the write of n transactions in one database transaction.
func (d *intakeTestDeps) expectPersist(n int) {
	d.transactor.EXPECT().Begin(gomock.Any()).Return(d.tx, nil)
	d.txRepo.EXPECT().Create(gomock.Any(), d.tx, gomock.Any()).Return(nil).Times(n)
	d.queue.EXPECT().EnqueueTx(gomock.Any(), d.tx, gomock.Any()).Return(nil).Times(n)
}

// ==================== Mint Tests ====================

func TestIntakeService_Mint_Success(t *testing.T) {
	d := setupIntakeService(t)
	ctx := context.Background()

	d.walletRepo.EXPECT().Get(ctx, key("alice")).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(d.tx, nil)
	var created *domain.Transaction
	d.txRepo.EXPECT().Create(ctx, d.tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ interface{}, txn *domain.Transaction) error {
			created = txn
			return nil
		})
	var item domain.WorkItem
	d.queue.EXPECT().EnqueueTx(ctx, d.tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ interface{}, wi domain.WorkItem) error {
			item = wi
			return nil
		})

	res, err := d.svc.Mint(ctx, superAdmin, ports.MintRequest{Destination: "alice", Amount: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, res.Status)
	assert.True(t, res.Fee.IsZero())
	assert.Equal(t, "USDT", res.Currency)

	require.NotNil(t, created)
	assert.Equal(t, res.TransactionID, created.ID)
	assert.Equal(t, domain.TransactionKindMint, created.Kind)
	assert.Equal(t, "root", created.RequestedBy)
	assert.Equal(t, intakeNow, created.CreatedAt)
	assert.Equal(t, created.ID, item.TransactionID)
	assert.Equal(t, created.ID, item.CorrelationID)
}

func TestIntakeService_Mint_RequiresSuperAdmin(t *testing.T) {
	d := setupIntakeService(t)

	_, err := d.svc.Mint(context.Background(), admin, ports.MintRequest{Destination: "alice", Amount: dec("100")})
	assertAppError(t, err, "FORBIDDEN")
}

func TestIntakeService_Mint_InactiveDestination(t *testing.T) {
	d := setupIntakeService(t)
	frozen := activeWallet("alice", "10", "0")
	frozen.Status = domain.WalletStatusFrozen

	d.walletRepo.EXPECT().Get(gomock.Any(), key("alice")).Return(frozen, nil)

	_, err := d.svc.Mint(context.Background(), superAdmin, ports.MintRequest{Destination: "alice", Amount: dec("100")})
	assertAppError(t, err, "WALLET_INACTIVE")
}

func TestIntakeService_InvalidAmounts(t *testing.T) {
	amounts := []string{"0", "-5", "0.000000001", "0.00000001", "1.123456789"}
	for _, a := range amounts {
		t.Run(a, func(t *testing.T) {
			d := setupIntakeService(t)
			_, err := d.svc.Mint(context.Background(), superAdmin, ports.MintRequest{Destination: "alice", Amount: dec(a)})
			assertAppError(t, err, "INVALID_AMOUNT")
		})
	}
}

func TestIntakeService_SmallestAcceptedAmount(t *testing.T) {
	d := setupIntakeService(t)
	ctx := context.Background()

	d.walletRepo.EXPECT().Get(ctx, key("alice")).Return(nil, nil)
	d.expectPersist(1)

	res, err := d.svc.Mint(ctx, superAdmin, ports.MintRequest{Destination: "alice", Amount: dec("0.00000002")})
	require.NoError(t, err)
	assert.Equal(t, "0.00000002", res.Amount.StringFixed(8))
}

// ==================== Transfer Tests ====================

func TestIntakeService_Transfer_Success(t *testing.T) {
	d := setupIntakeService(t)
	ctx := context.Background()
	idempKey := domain.BuildIdempotencyKey("alice", "req-001")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.walletRepo.EXPECT().Get(ctx, key("alice")).Return(activeWallet("alice", "100", "0"), nil)
	d.walletRepo.EXPECT().Get(ctx, key("bob")).Return(nil, nil)
	d.limits.EXPECT().Reserve(ctx, "alice", eqDec("50.05"), intakeNow).Return(nil)
	d.expectPersist(1)
	d.idempRepo.EXPECT().Create(ctx, d.tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ interface{}, l *domain.IdempotencyLog) error {
			assert.Equal(t, idempKey, l.Key)
			assert.NotEmpty(t, l.ResponseJSON)
			return nil
		})
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), idempotencyTTL).Return(nil)

	res, err := d.svc.Transfer(ctx, alice, ports.TransferRequest{
		RequestMeta: ports.RequestMeta{IdempotencyKey: "req-001", ReferenceID: "inv-7"},
		Source:      "alice",
		Destination: "bob",
		Amount:      dec("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.05000000", res.Fee.StringFixed(8))
	assert.Equal(t, "50.00000000", res.Amount.StringFixed(8))
	assert.Equal(t, domain.TransactionStatusPending, res.Status)
}

func TestIntakeService_Transfer_Authorization(t *testing.T) {
	d := setupIntakeService(t)
	req := ports.TransferRequest{Source: "alice", Destination: "bob", Amount: dec("1")}

	_, err := d.svc.Transfer(context.Background(), bob, req)
	assertAppError(t, err, "FORBIDDEN")

	_, err = d.svc.Transfer(context.Background(), admin, req)
	assertAppError(t, err, "FORBIDDEN")
}

func TestIntakeService_Transfer_SelfTransfer(t *testing.T) {
	d := setupIntakeService(t)

	_, err := d.svc.Transfer(context.Background(), alice, ports.TransferRequest{Source: "alice", Destination: "alice", Amount: dec("1")})
	assertAppError(t, err, "SELF_TRANSFER")
}

func TestIntakeService_Transfer_SourceChecks(t *testing.T) {
	suspended := activeWallet("alice", "100", "0")
	suspended.Status = domain.WalletStatusSuspended

	tests := []struct {
		name   string
		wallet *domain.Wallet
		code   string
	}{
		{"missing wallet", nil, "WALLET_NOT_FOUND"},
		{"inactive wallet", suspended, "WALLET_INACTIVE"},
		{"fee pushes over spendable", activeWallet("alice", "50", "0"), "INSUFFICIENT_BALANCE"},
		{"frozen funds are not spendable", activeWallet("alice", "100", "60"), "INSUFFICIENT_BALANCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupIntakeService(t)
			d.walletRepo.EXPECT().Get(gomock.Any(), key("alice")).Return(tt.wallet, nil)

			_, err := d.svc.Transfer(context.Background(), alice, ports.TransferRequest{Source: "alice", Destination: "bob", Amount: dec("50")})
			assertAppError(t, err, tt.code)
		})
	}
}

func TestIntakeService_Transfer_LimitExceeded(t *testing.T) {
	d := setupIntakeService(t)

	d.walletRepo.EXPECT().Get(gomock.Any(), key("alice")).Return(activeWallet("alice", "100", "0"), nil)
	d.walletRepo.EXPECT().Get(gomock.Any(), key("bob")).Return(activeWallet("bob", "0", "0"), nil)
	d.limits.EXPECT().Reserve(gomock.Any(), "alice", eqDec("50.05"), intakeNow).Return(apperror.ErrLimitExceeded())

	_, err := d.svc.Transfer(context.Background(), alice, ports.TransferRequest{Source: "alice", Destination: "bob", Amount: dec("50")})
	assertAppError(t, err, "LIMIT_EXCEEDED")
}

func TestIntakeService_Transfer_EnqueueFailureReleasesReservation(t *testing.T) {
	d := setupIntakeService(t)

	d.walletRepo.EXPECT().Get(gomock.Any(), key("alice")).Return(activeWallet("alice", "100", "0"), nil)
	d.walletRepo.EXPECT().Get(gomock.Any(), key("bob")).Return(nil, nil)
	d.limits.EXPECT().Reserve(gomock.Any(), "alice", eqDec("50.05"), intakeNow).Return(nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(d.tx, nil)
	d.txRepo.EXPECT().Create(gomock.Any(), d.tx, gomock.Any()).Return(nil)
	d.queue.EXPECT().EnqueueTx(gomock.Any(), d.tx, gomock.Any()).Return(errors.New("river: insert failed"))
	d.limits.EXPECT().Release(gomock.Any(), "alice", eqDec("50.05"), intakeNow).Return(nil)

	_, err := d.svc.Transfer(context.Background(), alice, ports.TransferRequest{Source: "alice", Destination: "bob", Amount: dec("50")})
	assertAppError(t, err, "SYS_001")
}

// ==================== Burn Tests ====================

func TestIntakeService_Burn_InsufficientSpendable(t *testing.T) {
	d := setupIntakeService(t)

	// available 25, frozen 5: spendable 20 < 30. No reservation, no row.
	d.walletRepo.EXPECT().Get(gomock.Any(), key("alice")).Return(activeWallet("alice", "25", "5"), nil)

	res, err := d.svc.Burn(context.Background(), alice, ports.BurnRequest{Source: "alice", Amount: dec("30")})
	assert.Nil(t, res)
	assertAppError(t, err, "INSUFFICIENT_BALANCE")
}

func TestIntakeService_Burn_AdminMayBurnForOwner(t *testing.T) {
	d := setupIntakeService(t)

	d.walletRepo.EXPECT().Get(gomock.Any(), key("alice")).Return(activeWallet("alice", "100", "0"), nil)
	d.limits.EXPECT().Reserve(gomock.Any(), "alice", eqDec("30"), intakeNow).Return(nil)
	d.expectPersist(1)

	res, err := d.svc.Burn(context.Background(), admin, ports.BurnRequest{Source: "alice", Amount: dec("30")})
	require.NoError(t, err)
	assert.True(t, res.Fee.IsZero())

	_, err = d.svc.Burn(context.Background(), bob, ports.BurnRequest{Source: "alice", Amount: dec("30")})
	assertAppError(t, err, "FORBIDDEN")
}

// ==================== Idempotency Tests ====================

func TestIntakeService_IdempotentRedisHit(t *testing.T) {
	d := setupIntakeService(t)
	ctx := context.Background()
	stored := ports.IntakeResult{TransactionID: uuid.New(), Status: domain.TransactionStatusPending, Amount: dec("50"), Fee: dec("0.05"), Currency: "USDT"}
	storedJSON, _ := json.Marshal(stored)
	idempKey := domain.BuildIdempotencyKey("alice", "req-001")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(storedJSON, nil)

	res, err := d.svc.Transfer(ctx, alice, ports.TransferRequest{
		RequestMeta: ports.RequestMeta{IdempotencyKey: "req-001"},
		Source:      "alice", Destination: "bob", Amount: dec("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, stored.TransactionID, res.TransactionID)
}

func TestIntakeService_IdempotentDBHitAfterRedisError(t *testing.T) {
	d := setupIntakeService(t)
	ctx := context.Background()
	stored := ports.IntakeResult{TransactionID: uuid.New(), Status: domain.TransactionStatusPending, Amount: dec("50"), Currency: "USDT"}
	storedJSON, _ := json.Marshal(stored)
	idempKey := domain.BuildIdempotencyKey("alice", "req-002")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, errors.New("redis down"))
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(&domain.IdempotencyLog{Key: idempKey, ResponseJSON: storedJSON}, nil)

	res, err := d.svc.Burn(ctx, alice, ports.BurnRequest{
		RequestMeta: ports.RequestMeta{IdempotencyKey: "req-002"},
		Source:      "alice", Amount: dec("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, stored.TransactionID, res.TransactionID)
}

func TestIntakeService_DuplicateKeyRaceReturnsWinner(t *testing.T) {
	d := setupIntakeService(t)
	ctx := context.Background()
	winner := ports.IntakeResult{TransactionID: uuid.New(), Status: domain.TransactionStatusPending, Amount: dec("50"), Currency: "USDT"}
	winnerJSON, _ := json.Marshal(winner)
	idempKey := domain.BuildIdempotencyKey("alice", "req-003")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	gomock.InOrder(
		d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil),
		d.idempRepo.EXPECT().Get(ctx, idempKey).Return(&domain.IdempotencyLog{Key: idempKey, ResponseJSON: winnerJSON}, nil),
	)
	d.walletRepo.EXPECT().Get(ctx, key("alice")).Return(activeWallet("alice", "100", "0"), nil)
	d.walletRepo.EXPECT().Get(ctx, key("bob")).Return(nil, nil)
	d.limits.EXPECT().Reserve(ctx, "alice", eqDec("50.05"), intakeNow).Return(nil)
	d.expectPersist(1)
	d.idempRepo.EXPECT().Create(ctx, d.tx, gomock.Any()).Return(apperror.ErrDuplicateRequest())
	d.limits.EXPECT().Release(gomock.Any(), "alice", eqDec("50.05"), intakeNow).Return(nil)

	res, err := d.svc.Transfer(ctx, alice, ports.TransferRequest{
		RequestMeta: ports.RequestMeta{IdempotencyKey: "req-003"},
		Source:      "alice", Destination: "bob", Amount: dec("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, winner.TransactionID, res.TransactionID)
}

// ==================== BulkTransfer Tests ====================

func TestIntakeService_BulkTransfer_Success(t *testing.T) {
	d := setupIntakeService(t)

	d.walletRepo.EXPECT().Get(gomock.Any(), key("treasury")).Return(activeWallet("treasury", "1000", "0"), nil)
	d.walletRepo.EXPECT().Get(gomock.Any(), key("alice")).Return(nil, nil)
	d.walletRepo.EXPECT().Get(gomock.Any(), key("bob")).Return(nil, nil)
	// both legs come out of treasury: (100 + 0.1) + (200 + 0.2)
	d.limits.EXPECT().Reserve(gomock.Any(), "treasury", eqDec("300.3"), intakeNow).Return(nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(d.tx, nil)
	var created []*domain.Transaction
	d.txRepo.EXPECT().Create(gomock.Any(), d.tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ interface{}, txn *domain.Transaction) error {
			created = append(created, txn)
			return nil
		}).Times(2)
	d.queue.EXPECT().EnqueueTx(gomock.Any(), d.tx, gomock.Any()).Return(nil).Times(2)

	res, err := d.svc.BulkTransfer(context.Background(), admin, ports.BulkTransferRequest{
		Legs: []ports.TransferLeg{
			{Source: "treasury", Destination: "alice", Amount: dec("100")},
			{Source: "treasury", Destination: "bob", Amount: dec("200"), ReferenceID: "payroll-bob"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, "300.00000000", res.TotalAmount.StringFixed(8))
	assert.Equal(t, "0.30000000", res.TotalFee.StringFixed(8))

	require.Len(t, created, 2)
	for _, txn := range created {
		assert.Equal(t, domain.TransactionKindBulkTransfer, txn.Kind)
		require.NotNil(t, txn.BatchID)
		assert.Equal(t, res.BatchID, *txn.BatchID)
	}
	assert.Equal(t, "payroll-bob", created[1].ReferenceID)
}

func TestIntakeService_BulkTransfer_Rejections(t *testing.T) {
	d := setupIntakeService(t)
	ctx := context.Background()
	leg := ports.TransferLeg{Source: "treasury", Destination: "alice", Amount: dec("1")}

	_, err := d.svc.BulkTransfer(ctx, alice, ports.BulkTransferRequest{Legs: []ports.TransferLeg{leg}})
	assertAppError(t, err, "FORBIDDEN")

	_, err = d.svc.BulkTransfer(ctx, admin, ports.BulkTransferRequest{})
	assertAppError(t, err, "VALIDATION_ERROR")

	_, err = d.svc.BulkTransfer(ctx, admin, ports.BulkTransferRequest{Legs: []ports.TransferLeg{leg, leg, leg}})
	assertAppError(t, err, "BATCH_TOO_LARGE")

	self := ports.TransferLeg{Source: "alice", Destination: "alice", Amount: dec("1")}
	_, err = d.svc.BulkTransfer(ctx, admin, ports.BulkTransferRequest{Legs: []ports.TransferLeg{leg, self}})
	assertAppError(t, err, "SELF_TRANSFER")
}

func TestIntakeService_BulkTransfer_PartialReservationIsReleased(t *testing.T) {
	d := setupIntakeService(t)

	d.walletRepo.EXPECT().Get(gomock.Any(), key("carol")).Return(activeWallet("carol", "100", "0"), nil)
	d.walletRepo.EXPECT().Get(gomock.Any(), key("dave")).Return(activeWallet("dave", "100", "0"), nil)
	d.walletRepo.EXPECT().Get(gomock.Any(), key("alice")).Return(nil, nil)
	d.limits.EXPECT().Reserve(gomock.Any(), "carol", eqDec("10.01"), intakeNow).Return(nil)
	d.limits.EXPECT().Reserve(gomock.Any(), "dave", eqDec("10.01"), intakeNow).Return(apperror.ErrLimitExceeded())
	d.limits.EXPECT().Release(gomock.Any(), "carol", eqDec("10.01"), intakeNow).Return(nil)

	_, err := d.svc.BulkTransfer(context.Background(), admin, ports.BulkTransferRequest{
		Legs: []ports.TransferLeg{
			{Source: "carol", Destination: "alice", Amount: dec("10")},
			{Source: "dave", Destination: "alice", Amount: dec("10")},
		},
	})
	assertAppError(t, err, "LIMIT_EXCEEDED")
}

// ==================== Cancel Tests ====================

func pendingTransfer() *domain.Transaction {
	return &domain.Transaction{
		ID:               uuid.New(),
		Kind:             domain.TransactionKindTransfer,
		SourceOwner:      "alice",
		DestinationOwner: "bob",
		Currency:         "USDT",
		Amount:           dec("50"),
		Fee:              dec("0.05"),
		Status:           domain.TransactionStatusPending,
		RequestedBy:      "alice",
		CreatedAt:        intakeNow.Add(-time.Minute),
	}
}

func TestIntakeService_Cancel_Success(t *testing.T) {
	d := setupIntakeService(t)
	txn := pendingTransfer()

	d.transactor.EXPECT().Begin(gomock.Any()).Return(d.tx, nil)
	d.txRepo.EXPECT().GetByIDForUpdate(gomock.Any(), d.tx, txn.ID).Return(txn, nil)
	d.logRepo.EXPECT().GetForUpdate(gomock.Any(), d.tx, txn.ID).Return(nil, nil)
	d.txRepo.EXPECT().UpdateStatus(gomock.Any(), d.tx, txn.ID, domain.TransactionStatusCancelled, "", gomock.Any()).Return(nil)
	d.limits.EXPECT().Release(gomock.Any(), "alice", eqDec("50.05"), txn.CreatedAt).Return(nil)
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionTransactionCancel, e.Action)
		assert.Equal(t, txn.ID.String(), e.ResourceID)
	})

	got, err := d.svc.Cancel(context.Background(), alice, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCancelled, got.Status)
	require.NotNil(t, got.ProcessedAt)
}

func TestIntakeService_Cancel_ReceivedLogIsReleasedAndFlagged(t *testing.T) {
	d := setupIntakeService(t)
	txn := pendingTransfer()
	received := &domain.SettlementLog{TransactionID: txn.ID, Status: domain.SettlementStatusReceived}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(d.tx, nil)
	d.txRepo.EXPECT().GetByIDForUpdate(gomock.Any(), d.tx, txn.ID).Return(txn, nil)
	d.logRepo.EXPECT().GetForUpdate(gomock.Any(), d.tx, txn.ID).Return(received, nil)
	d.txRepo.EXPECT().UpdateStatus(gomock.Any(), d.tx, txn.ID, domain.TransactionStatusCancelled, "", gomock.Any()).Return(nil)
	d.limits.EXPECT().Release(gomock.Any(), "alice", eqDec("50.05"), txn.CreatedAt).Return(nil)
	d.logRepo.EXPECT().MarkReservationReleased(gomock.Any(), txn.ID).Return(nil)
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any())

	_, err := d.svc.Cancel(context.Background(), admin, txn.ID)
	require.NoError(t, err)
}

func TestIntakeService_Cancel_AfterProcessingStarted(t *testing.T) {
	d := setupIntakeService(t)
	txn := pendingTransfer()

	d.transactor.EXPECT().Begin(gomock.Any()).Return(d.tx, nil)
	d.txRepo.EXPECT().GetByIDForUpdate(gomock.Any(), d.tx, txn.ID).Return(txn, nil)
	d.logRepo.EXPECT().GetForUpdate(gomock.Any(), d.tx, txn.ID).
		Return(&domain.SettlementLog{TransactionID: txn.ID, Status: domain.SettlementStatusProcessing}, nil)

	_, err := d.svc.Cancel(context.Background(), alice, txn.ID)
	assertAppError(t, err, "COULD_NOT_CANCEL")
}

func TestIntakeService_Cancel_Rejections(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		d := setupIntakeService(t)
		id := uuid.New()
		d.transactor.EXPECT().Begin(gomock.Any()).Return(d.tx, nil)
		d.txRepo.EXPECT().GetByIDForUpdate(gomock.Any(), d.tx, id).Return(nil, nil)

		_, err := d.svc.Cancel(context.Background(), alice, id)
		assertAppError(t, err, "TRANSACTION_NOT_FOUND")
	})

	t.Run("stranger", func(t *testing.T) {
		d := setupIntakeService(t)
		txn := pendingTransfer()
		d.transactor.EXPECT().Begin(gomock.Any()).Return(d.tx, nil)
		d.txRepo.EXPECT().GetByIDForUpdate(gomock.Any(), d.tx, txn.ID).Return(txn, nil)

		_, err := d.svc.Cancel(context.Background(), bob, txn.ID)
		assertAppError(t, err, "FORBIDDEN")
	})

	t.Run("already processing", func(t *testing.T) {
		d := setupIntakeService(t)
		txn := pendingTransfer()
		txn.Status = domain.TransactionStatusProcessing
		d.transactor.EXPECT().Begin(gomock.Any()).Return(d.tx, nil)
		d.txRepo.EXPECT().GetByIDForUpdate(gomock.Any(), d.tx, txn.ID).Return(txn, nil)

		_, err := d.svc.Cancel(context.Background(), alice, txn.ID)
		assertAppError(t, err, "COULD_NOT_CANCEL")
	})
}

// ==================== GetTransaction Tests ====================

func TestIntakeService_GetTransaction(t *testing.T) {
	d := setupIntakeService(t)
	ctx := context.Background()
	txn := pendingTransfer()

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil).Times(3)

	got, err := d.svc.GetTransaction(ctx, bob, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)

	_, err = d.svc.GetTransaction(ctx, admin, txn.ID)
	require.NoError(t, err)

	_, err = d.svc.GetTransaction(ctx, domain.Caller{OwnerID: "mallory", Role: domain.RoleUser}, txn.ID)
	assertAppError(t, err, "FORBIDDEN")

	missing := uuid.New()
	d.txRepo.EXPECT().GetByID(ctx, missing).Return(nil, nil)
	_, err = d.svc.GetTransaction(ctx, alice, missing)
	assertAppError(t, err, "TRANSACTION_NOT_FOUND")
}

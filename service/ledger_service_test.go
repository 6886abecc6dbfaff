package service

import (
	"context"
	"errors"
	"testing"

	"satsledger/events"
	"satsledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testWalletID = "wallet-1"
	testUserID   = "user-1"
	testAdminID  = "admin-1"
	testTxID     = "tx-1"
)

// ledgerMocks wires a ledger service to mocks for a single unit of work
type ledgerMocks struct {
	factory *MockUnitOfWorkFactory
	uow     *MockUnitOfWork
	wallets *MockWalletRepository
	txs     *MockTransactionRepository
	actions *MockAdminActionRepository
	bus     *MockEventPublisher
	auth    *MockAdminAuthorizer
}

func newLedgerMocks() *ledgerMocks {
	m := &ledgerMocks{
		factory: new(MockUnitOfWorkFactory),
		uow:     new(MockUnitOfWork),
		wallets: new(MockWalletRepository),
		txs:     new(MockTransactionRepository),
		actions: new(MockAdminActionRepository),
		bus:     new(MockEventPublisher),
		auth:    new(MockAdminAuthorizer),
	}
	m.uow.SetRepositories(m.wallets, m.txs, m.actions, m.bus)
	m.factory.On("Create").Return(m.uow)
	m.bus.On("Publish", mock.Anything).Return()
	return m
}

// expectUnit sets up Begin/Rollback and, when commit is true, Commit
func (m *ledgerMocks) expectUnit(ctx context.Context, commit bool) {
	m.uow.On("Begin", ctx).Return(nil)
	m.uow.On("Rollback").Return(nil)
	if commit {
		m.uow.On("Commit").Return(nil)
	}
}

func (m *ledgerMocks) service() LedgerService {
	return NewLedgerService(m.factory, m.auth, nil)
}

func (m *ledgerMocks) assertAll(t *testing.T) {
	m.uow.AssertExpectations(t)
	m.wallets.AssertExpectations(t)
	m.txs.AssertExpectations(t)
	m.actions.AssertExpectations(t)
	m.auth.AssertExpectations(t)
}

func testWallet(balance, deposited, wagered models.Sats) *models.Wallet {
	return &models.Wallet{
		ID:                 testWalletID,
		UserID:             testUserID,
		BalanceSats:        balance,
		TotalDepositedSats: deposited,
		TotalWageredSats:   wagered,
	}
}

func pendingWithdrawal(amount models.Sats) *models.Transaction {
	return &models.Transaction{
		ID:         testTxID,
		WalletID:   testWalletID,
		Type:       models.TransactionTypeWithdraw,
		Status:     models.TransactionStatusPending,
		AmountSats: amount,
	}
}

func TestLedgerService_Deposit_CreditsBalanceAndDeposited(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, true)

	m.wallets.On("GetByIDForUpdate", ctx, testWalletID).Return(testWallet(100, 100, 0), nil)
	m.wallets.On("ApplyDelta", ctx, testWalletID, models.BalanceDelta{Balance: 50, Deposited: 50}).
		Return(testWallet(150, 150, 0), nil)
	m.txs.On("Create", ctx, mock.MatchedBy(func(tx *models.Transaction) bool {
		return tx.WalletID == testWalletID &&
			tx.Type == models.TransactionTypeDeposit &&
			tx.Status == models.TransactionStatusCompleted &&
			tx.AmountSats == 50
	})).Return(nil)

	result, err := m.service().Deposit(ctx, DepositRequest{WalletID: testWalletID, AmountSats: 50})

	require.NoError(t, err)
	assert.Equal(t, models.Sats(150), result.NewBalanceSats)
	assert.Equal(t, models.TransactionStatusCompleted, result.Transaction.Status)

	require.Len(t, m.bus.Published, 2)
	balanceEvent, ok := m.bus.Published[0].(events.BalanceChangeEvent)
	require.True(t, ok)
	assert.Equal(t, models.Sats(100), balanceEvent.OldBalance)
	assert.Equal(t, models.Sats(150), balanceEvent.NewBalance)
	assert.Equal(t, result.Transaction.ID, balanceEvent.TransactionID)

	m.assertAll(t)
}

func TestLedgerService_Deposit_RejectsNonPositiveAmount(t *testing.T) {
	ctx := context.Background()

	for _, amount := range []models.Sats{0, -1} {
		m := newLedgerMocks()
		_, err := m.service().Deposit(ctx, DepositRequest{WalletID: testWalletID, AmountSats: amount})

		assert.True(t, errors.Is(err, ErrInvalidAmount))
		assert.Equal(t, KindValidation, KindOf(err))
		m.factory.AssertNotCalled(t, "Create")
	}
}

func TestLedgerService_Deposit_WalletNotFound(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, false)

	m.wallets.On("GetByIDForUpdate", ctx, testWalletID).Return(nil, nil)

	_, err := m.service().Deposit(ctx, DepositRequest{WalletID: testWalletID, AmountSats: 10})

	assert.True(t, errors.Is(err, ErrWalletNotFound))
	assert.Equal(t, KindNotFound, KindOf(err))
	m.uow.AssertNotCalled(t, "Commit")
	m.wallets.AssertNotCalled(t, "ApplyDelta", mock.Anything, mock.Anything, mock.Anything)
}

func TestLedgerService_Deposit_StorageFailureOnBegin(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.uow.On("Begin", ctx).Return(errors.New("connection refused"))

	_, err := m.service().Deposit(ctx, DepositRequest{WalletID: testWalletID, AmountSats: 10})

	assert.Equal(t, KindStorage, KindOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLedgerService_RequestWithdrawal_WagerRequirementNotMet(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, false)

	m.wallets.On("GetByIDForUpdate", ctx, testWalletID).Return(testWallet(1000, 1000, 500), nil)

	_, err := m.service().RequestWithdrawal(ctx, WithdrawalRequest{WalletID: testWalletID, AmountSats: 100})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWagerRequirementNotMet))
	shortfall, ok := ShortfallOf(err)
	assert.True(t, ok)
	assert.Equal(t, models.Sats(500), shortfall)

	m.wallets.AssertNotCalled(t, "ApplyDelta", mock.Anything, mock.Anything, mock.Anything)
	m.txs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	m.uow.AssertNotCalled(t, "Commit")
}

func TestLedgerService_RequestWithdrawal_ReservesAndStaysPending(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, true)

	address := "bc1qdestination"
	m.wallets.On("GetByIDForUpdate", ctx, testWalletID).Return(testWallet(1000, 500, 600), nil)
	m.wallets.On("ApplyDelta", ctx, testWalletID, models.BalanceDelta{Balance: -300}).
		Return(testWallet(700, 500, 600), nil)
	m.txs.On("Create", ctx, mock.MatchedBy(func(tx *models.Transaction) bool {
		return tx.Type == models.TransactionTypeWithdraw &&
			tx.Status == models.TransactionStatusPending &&
			tx.AmountSats == 300 &&
			*tx.WithdrawalFeeSats == 20 &&
			*tx.NetAmountSats == 280 &&
			*tx.ToAddress == address
	})).Return(nil)

	result, err := m.service().RequestWithdrawal(ctx, WithdrawalRequest{
		WalletID:   testWalletID,
		AmountSats: 300,
		FeeSats:    20,
		ToAddress:  &address,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, result.TransactionID)
	assert.Equal(t, models.Sats(700), result.NewBalanceSats)
	assert.Equal(t, models.TransactionStatusPending, result.Transaction.Status)
	m.assertAll(t)
}

func TestLedgerService_RequestWithdrawal_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, false)

	m.wallets.On("GetByIDForUpdate", ctx, testWalletID).Return(testWallet(100, 0, 0), nil)

	_, err := m.service().RequestWithdrawal(ctx, WithdrawalRequest{WalletID: testWalletID, AmountSats: 200})

	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.Equal(t, KindConflict, KindOf(err))
	m.wallets.AssertNotCalled(t, "ApplyDelta", mock.Anything, mock.Anything, mock.Anything)
	m.uow.AssertNotCalled(t, "Commit")
}

func TestLedgerService_RequestWithdrawal_InvalidFee(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		amount models.Sats
		fee    models.Sats
	}{
		{"negative fee", 100, -1},
		{"fee equals amount", 100, 100},
		{"fee above amount", 100, 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newLedgerMocks()
			_, err := m.service().RequestWithdrawal(ctx, WithdrawalRequest{
				WalletID:   testWalletID,
				AmountSats: tt.amount,
				FeeSats:    tt.fee,
			})
			assert.True(t, errors.Is(err, ErrInvalidFee))
			m.factory.AssertNotCalled(t, "Create")
		})
	}
}

func TestLedgerService_ApproveWithdrawal_CompletesWithoutBalanceChange(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, true)

	m.auth.On("RequireAdmin", ctx, testAdminID).Return(nil)
	m.txs.On("GetByIDForUpdate", ctx, testTxID).Return(pendingWithdrawal(300), nil)
	m.txs.On("Finalize", ctx, mock.MatchedBy(func(tx *models.Transaction) bool {
		return tx.Status == models.TransactionStatusCompleted &&
			*tx.ApprovedBy == testAdminID &&
			tx.ApprovedAt != nil
	})).Return(nil)
	m.actions.On("Record", ctx, mock.MatchedBy(func(a *models.AdminAction) bool {
		return a.AdminID == testAdminID &&
			a.Action == models.AdminActionApproveWithdrawal &&
			a.TargetType == models.TargetTypeTransaction &&
			a.TargetID == testTxID
	})).Return(nil)

	err := m.service().ApproveWithdrawal(ctx, testTxID, testAdminID)

	require.NoError(t, err)
	m.wallets.AssertNotCalled(t, "ApplyDelta", mock.Anything, mock.Anything, mock.Anything)
	m.assertAll(t)
}

func TestLedgerService_ApproveWithdrawal_AlreadyProcessed(t *testing.T) {
	ctx := context.Background()

	for _, status := range []models.TransactionStatus{models.TransactionStatusCompleted, models.TransactionStatusFailed} {
		m := newLedgerMocks()
		m.expectUnit(ctx, false)

		tx := pendingWithdrawal(300)
		tx.Status = status
		m.auth.On("RequireAdmin", ctx, testAdminID).Return(nil)
		m.txs.On("GetByIDForUpdate", ctx, testTxID).Return(tx, nil)

		err := m.service().ApproveWithdrawal(ctx, testTxID, testAdminID)

		assert.True(t, errors.Is(err, ErrAlreadyProcessed), "status %s", status)
		m.txs.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything)
		m.actions.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
		m.uow.AssertNotCalled(t, "Commit")
	}
}

func TestLedgerService_ModerationRefusesDeposits(t *testing.T) {
	ctx := context.Background()

	decide := map[string]func(LedgerService) error{
		"approve": func(s LedgerService) error { return s.ApproveWithdrawal(ctx, testTxID, testAdminID) },
		"reject":  func(s LedgerService) error { return s.RejectWithdrawal(ctx, testTxID, testAdminID, "not ours") },
	}

	for name, fn := range decide {
		t.Run(name, func(t *testing.T) {
			m := newLedgerMocks()
			m.expectUnit(ctx, false)

			deposit := &models.Transaction{
				ID:         testTxID,
				WalletID:   testWalletID,
				Type:       models.TransactionTypeDeposit,
				Status:     models.TransactionStatusCompleted,
				AmountSats: 300,
			}
			m.auth.On("RequireAdmin", ctx, testAdminID).Return(nil)
			m.txs.On("GetByIDForUpdate", ctx, testTxID).Return(deposit, nil)

			err := fn(m.service())

			assert.True(t, errors.Is(err, ErrNotWithdrawal))
			assert.False(t, errors.Is(err, ErrAlreadyProcessed))
			m.txs.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything)
			m.wallets.AssertNotCalled(t, "ApplyDelta", mock.Anything, mock.Anything, mock.Anything)
			m.actions.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
			m.uow.AssertNotCalled(t, "Commit")
		})
	}
}

func TestLedgerService_ApproveWithdrawal_TransactionNotFound(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, false)

	m.auth.On("RequireAdmin", ctx, testAdminID).Return(nil)
	m.txs.On("GetByIDForUpdate", ctx, testTxID).Return(nil, nil)

	err := m.service().ApproveWithdrawal(ctx, testTxID, testAdminID)

	assert.True(t, errors.Is(err, ErrTransactionNotFound))
}

func TestLedgerService_ApproveWithdrawal_RequiresAdmin(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()

	m.auth.On("RequireAdmin", ctx, "player-7").Return(ErrNotAdmin)

	err := m.service().ApproveWithdrawal(ctx, testTxID, "player-7")

	assert.True(t, errors.Is(err, ErrNotAdmin))
	assert.Equal(t, KindForbidden, KindOf(err))
	m.factory.AssertNotCalled(t, "Create")
}

func TestLedgerService_RejectWithdrawal_RefundsAndRecordsReason(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, true)

	m.auth.On("RequireAdmin", ctx, testAdminID).Return(nil)
	m.txs.On("GetByIDForUpdate", ctx, testTxID).Return(pendingWithdrawal(300), nil)
	m.wallets.On("GetByIDForUpdate", ctx, testWalletID).Return(testWallet(700, 500, 600), nil)
	m.txs.On("Finalize", ctx, mock.MatchedBy(func(tx *models.Transaction) bool {
		return tx.Status == models.TransactionStatusFailed &&
			*tx.RejectedBy == testAdminID &&
			*tx.RejectionReason == "fraud"
	})).Return(nil)
	m.wallets.On("ApplyDelta", ctx, testWalletID, models.BalanceDelta{Balance: 300}).
		Return(testWallet(1000, 500, 600), nil)
	m.actions.On("Record", ctx, mock.MatchedBy(func(a *models.AdminAction) bool {
		return a.Action == models.AdminActionRejectWithdrawal &&
			a.TargetID == testTxID &&
			assert.ObjectsAreEqual(map[string]any{"reason": "fraud"}, a.Details)
	})).Return(nil)

	err := m.service().RejectWithdrawal(ctx, testTxID, testAdminID, "fraud")

	require.NoError(t, err)
	m.assertAll(t)
}

func TestLedgerService_RejectWithdrawal_AuditFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, false)

	m.auth.On("RequireAdmin", ctx, testAdminID).Return(nil)
	m.txs.On("GetByIDForUpdate", ctx, testTxID).Return(pendingWithdrawal(300), nil)
	m.wallets.On("GetByIDForUpdate", ctx, testWalletID).Return(testWallet(700, 500, 600), nil)
	m.txs.On("Finalize", ctx, mock.Anything).Return(nil)
	m.wallets.On("ApplyDelta", ctx, testWalletID, models.BalanceDelta{Balance: 300}).
		Return(testWallet(1000, 500, 600), nil)
	m.actions.On("Record", ctx, mock.Anything).Return(errors.New("disk full"))

	err := m.service().RejectWithdrawal(ctx, testTxID, testAdminID, "fraud")

	assert.Equal(t, KindStorage, KindOf(err))
	m.uow.AssertNotCalled(t, "Commit")
	m.uow.AssertCalled(t, "Rollback")
}

func TestLedgerService_RejectWithdrawal_RequiresReason(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.auth.On("RequireAdmin", ctx, testAdminID).Return(nil)

	err := m.service().RejectWithdrawal(ctx, testTxID, testAdminID, "   ")

	assert.True(t, errors.Is(err, ErrInvalidRequest))
	m.factory.AssertNotCalled(t, "Create")
}

func TestLedgerService_RecordWager(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, true)

	m.wallets.On("GetByIDForUpdate", ctx, testWalletID).Return(testWallet(100, 100, 0), nil)
	m.wallets.On("ApplyDelta", ctx, testWalletID, models.BalanceDelta{Wagered: 40}).
		Return(testWallet(100, 100, 40), nil)

	updated, err := m.service().RecordWager(ctx, testWalletID, 40)

	require.NoError(t, err)
	assert.Equal(t, models.Sats(40), updated.TotalWageredSats)
	assert.Empty(t, m.bus.Published, "wager volume does not move the balance")
	m.assertAll(t)
}

func TestLedgerService_AnnotateRisk(t *testing.T) {
	ctx := context.Background()
	score := 42
	annotation := models.RiskAnnotation{Score: &score, Flagged: true}

	t.Run("stored", func(t *testing.T) {
		m := newLedgerMocks()
		m.expectUnit(ctx, true)
		annotated := pendingWithdrawal(300)
		annotated.RiskScore = &score
		annotated.IsFlagged = true
		m.txs.On("Annotate", ctx, testTxID, annotation).Return(annotated, nil)

		tx, err := m.service().AnnotateRisk(ctx, testTxID, annotation)
		require.NoError(t, err)
		assert.True(t, tx.IsFlagged)
		assert.Equal(t, models.TransactionStatusPending, tx.Status)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		m := newLedgerMocks()
		m.expectUnit(ctx, false)
		m.txs.On("Annotate", ctx, testTxID, annotation).Return(nil, nil)

		_, err := m.service().AnnotateRisk(ctx, testTxID, annotation)
		assert.True(t, errors.Is(err, ErrTransactionNotFound))
	})
}

func TestLedgerService_OpenWallet_ReturnsExisting(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, false)

	existing := testWallet(5, 5, 5)
	m.wallets.On("GetByUserID", ctx, testUserID).Return(existing, nil)

	got, err := m.service().OpenWallet(ctx, testUserID)

	require.NoError(t, err)
	assert.Same(t, existing, got)
	m.wallets.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestLedgerService_ListPendingWithdrawals(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, false)

	queue := []*models.Transaction{pendingWithdrawal(10)}
	m.txs.On("List", ctx, mock.MatchedBy(func(f models.TransactionFilter) bool {
		return *f.Status == models.TransactionStatusPending &&
			*f.Type == models.TransactionTypeWithdraw &&
			f.OldestFirst &&
			f.Limit == 25
	})).Return(queue, nil)

	got, err := m.service().ListPendingWithdrawals(ctx, 25, 0)

	require.NoError(t, err)
	assert.Equal(t, queue, got)
}

func TestLedgerService_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, true)

	metrics := new(MockMetricsRecorder)
	metrics.On("RecordOperation", ctx, OpDeposit, "success", mock.AnythingOfType("time.Duration")).Return()
	metrics.On("RecordSatsMoved", ctx, OpDeposit, models.Sats(25)).Return()

	m.wallets.On("GetByIDForUpdate", ctx, testWalletID).Return(testWallet(0, 0, 0), nil)
	m.wallets.On("ApplyDelta", ctx, testWalletID, mock.Anything).Return(testWallet(25, 25, 0), nil)
	m.txs.On("Create", ctx, mock.Anything).Return(nil)

	svc := NewLedgerService(m.factory, m.auth, metrics)
	_, err := svc.Deposit(ctx, DepositRequest{WalletID: testWalletID, AmountSats: 25})

	require.NoError(t, err)
	metrics.AssertExpectations(t)
}

func TestLedgerService_RecordsFailureOutcome(t *testing.T) {
	ctx := context.Background()
	m := newLedgerMocks()
	m.expectUnit(ctx, false)

	metrics := new(MockMetricsRecorder)
	metrics.On("RecordOperation", ctx, OpRequestWithdrawal, string(KindConflict), mock.AnythingOfType("time.Duration")).Return()

	m.wallets.On("GetByIDForUpdate", ctx, testWalletID).Return(testWallet(10, 0, 0), nil)

	svc := NewLedgerService(m.factory, m.auth, metrics)
	_, err := svc.RequestWithdrawal(ctx, WithdrawalRequest{WalletID: testWalletID, AmountSats: 11})

	require.Error(t, err)
	metrics.AssertExpectations(t)
	metrics.AssertNotCalled(t, "RecordSatsMoved", mock.Anything, mock.Anything, mock.Anything)
}

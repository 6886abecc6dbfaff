package service

import (
	"context"
	"time"

	"satsledger/events"
	"satsledger/models"

	"github.com/stretchr/testify/mock"
)

// MockWalletRepository is a mock implementation of WalletRepository
type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	args := m.Called(ctx, wallet)
	return args.Error(0)
}

func (m *MockWalletRepository) GetByID(ctx context.Context, id string) (*models.Wallet, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletRepository) GetByUserID(ctx context.Context, userID string) (*models.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Wallet, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletRepository) ApplyDelta(ctx context.Context, id string, delta models.BalanceDelta) (*models.Wallet, error) {
	args := m.Called(ctx, id, delta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

// MockTransactionRepository is a mock implementation of TransactionRepository
type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) Finalize(ctx context.Context, tx *models.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockTransactionRepository) Annotate(ctx context.Context, id string, annotation models.RiskAnnotation) (*models.Transaction, error) {
	args := m.Called(ctx, id, annotation)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) List(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Transaction), args.Error(1)
}

// MockAdminActionRepository is a mock implementation of AdminActionRepository
type MockAdminActionRepository struct {
	mock.Mock
}

func (m *MockAdminActionRepository) Record(ctx context.Context, action *models.AdminAction) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

func (m *MockAdminActionRepository) GetByID(ctx context.Context, id string) (*models.AdminAction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AdminAction), args.Error(1)
}

func (m *MockAdminActionRepository) List(ctx context.Context, filter models.AdminActionFilter) ([]*models.AdminAction, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AdminAction), args.Error(1)
}

// MockEventPublisher records published events instead of delivering them
type MockEventPublisher struct {
	mock.Mock
	Published []events.Event
}

func (m *MockEventPublisher) Publish(event events.Event) {
	m.Published = append(m.Published, event)
	m.Called(event)
}

// MockUnitOfWork is a mock implementation of UnitOfWork.
// Repository getters return whatever SetRepositories installed.
type MockUnitOfWork struct {
	mock.Mock
	walletRepo      WalletRepository
	transactionRepo TransactionRepository
	adminActionRepo AdminActionRepository
	eventBus        EventPublisher
}

// SetRepositories installs the repositories and event bus handed out by the getters
func (m *MockUnitOfWork) SetRepositories(wallets WalletRepository, transactions TransactionRepository, adminActions AdminActionRepository, bus EventPublisher) {
	m.walletRepo = wallets
	m.transactionRepo = transactions
	m.adminActionRepo = adminActions
	m.eventBus = bus
}

func (m *MockUnitOfWork) Begin(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnitOfWork) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) WalletRepository() WalletRepository {
	return m.walletRepo
}

func (m *MockUnitOfWork) TransactionRepository() TransactionRepository {
	return m.transactionRepo
}

func (m *MockUnitOfWork) AdminActionRepository() AdminActionRepository {
	return m.adminActionRepo
}

func (m *MockUnitOfWork) EventBus() EventPublisher {
	return m.eventBus
}

// MockUnitOfWorkFactory is a mock implementation of UnitOfWorkFactory
type MockUnitOfWorkFactory struct {
	mock.Mock
}

func (m *MockUnitOfWorkFactory) Create() UnitOfWork {
	args := m.Called()
	return args.Get(0).(UnitOfWork)
}

// MockAdminAuthorizer is a mock implementation of AdminAuthorizer
type MockAdminAuthorizer struct {
	mock.Mock
}

func (m *MockAdminAuthorizer) RequireAdmin(ctx context.Context, actorID string) error {
	args := m.Called(ctx, actorID)
	return args.Error(0)
}

// MockMetricsRecorder is a mock implementation of MetricsRecorder
type MockMetricsRecorder struct {
	mock.Mock
}

func (m *MockMetricsRecorder) RecordOperation(ctx context.Context, operation string, outcome string, duration time.Duration) {
	m.Called(ctx, operation, outcome, duration)
}

func (m *MockMetricsRecorder) RecordSatsMoved(ctx context.Context, operation string, amount models.Sats) {
	m.Called(ctx, operation, amount)
}

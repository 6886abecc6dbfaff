package service

import (
	"context"
	"time"

	"satsledger/events"
	"satsledger/models"
)

// WalletRepository defines the interface for wallet data access.
// Counter writes go through ApplyDelta, which only the BalanceMutator calls.
type WalletRepository interface {
	// Create inserts a new wallet with zeroed counters
	Create(ctx context.Context, wallet *models.Wallet) error

	// GetByID retrieves a wallet by its ID, nil if it does not exist
	GetByID(ctx context.Context, id string) (*models.Wallet, error)

	// GetByUserID retrieves the wallet owned by a user, nil if it does not exist
	GetByUserID(ctx context.Context, userID string) (*models.Wallet, error)

	// GetByIDForUpdate retrieves a wallet and holds its row lock until the unit of work ends
	GetByIDForUpdate(ctx context.Context, id string) (*models.Wallet, error)

	// ApplyDelta changes the wallet counters in one statement, refusing a negative balance
	ApplyDelta(ctx context.Context, id string, delta models.BalanceDelta) (*models.Wallet, error)
}

// TransactionRepository defines the interface for transaction data access
type TransactionRepository interface {
	// Create appends a new transaction record
	Create(ctx context.Context, tx *models.Transaction) error

	// GetByID retrieves a transaction by its ID, nil if it does not exist
	GetByID(ctx context.Context, id string) (*models.Transaction, error)

	// GetByIDForUpdate retrieves a transaction and holds its row lock until the unit of work ends
	GetByIDForUpdate(ctx context.Context, id string) (*models.Transaction, error)

	// Finalize persists the terminal fields of a transaction that is still PENDING in storage
	Finalize(ctx context.Context, tx *models.Transaction) error

	// Annotate stores externally computed risk fields on a transaction
	Annotate(ctx context.Context, id string, annotation models.RiskAnnotation) (*models.Transaction, error)

	// List returns transactions matching the filter, newest first
	List(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error)
}

// AdminActionRepository defines the interface for the append-only audit log
type AdminActionRepository interface {
	// Record appends an admin action
	Record(ctx context.Context, action *models.AdminAction) error

	// GetByID retrieves an admin action by its ID, nil if it does not exist
	GetByID(ctx context.Context, id string) (*models.AdminAction, error)

	// List returns admin actions matching the filter, newest first
	List(ctx context.Context, filter models.AdminActionFilter) ([]*models.AdminAction, error)
}

// EventPublisher defines the interface for publishing events
type EventPublisher interface {
	Publish(event events.Event)
}

// UnitOfWork manages one database transaction and the repositories bound to it
type UnitOfWork interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) error

	// Commit commits the transaction and flushes held events
	Commit() error

	// Rollback rolls back the transaction and discards held events
	Rollback() error

	// Repository getters
	WalletRepository() WalletRepository
	TransactionRepository() TransactionRepository
	AdminActionRepository() AdminActionRepository
	EventBus() EventPublisher
}

// UnitOfWorkFactory defines the interface for creating UnitOfWork instances
type UnitOfWorkFactory interface {
	Create() UnitOfWork
}

// AdminAuthorizer is the single capability that admits an actor to admin-triggered operations
type AdminAuthorizer interface {
	// RequireAdmin returns ErrNotAdmin unless actorID may moderate
	RequireAdmin(ctx context.Context, actorID string) error
}

// MetricsRecorder receives ledger operation outcomes
type MetricsRecorder interface {
	RecordOperation(ctx context.Context, operation string, outcome string, duration time.Duration)
	RecordSatsMoved(ctx context.Context, operation string, amount models.Sats)
}

// LedgerService defines the wallet ledger and withdrawal lifecycle operations
type LedgerService interface {
	// OpenWallet returns the user's wallet, creating it with zero counters on first use
	OpenWallet(ctx context.Context, userID string) (*models.Wallet, error)

	// GetWallet retrieves a wallet by ID
	GetWallet(ctx context.Context, walletID string) (*models.Wallet, error)

	// GetWalletByUser retrieves the wallet owned by a user
	GetWalletByUser(ctx context.Context, userID string) (*models.Wallet, error)

	// Deposit credits a wallet and appends a COMPLETED deposit
	Deposit(ctx context.Context, req DepositRequest) (*DepositResult, error)

	// RequestWithdrawal checks eligibility, reserves the amount and appends a PENDING withdrawal
	RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalResult, error)

	// ApproveWithdrawal completes a pending withdrawal and records the decision
	ApproveWithdrawal(ctx context.Context, transactionID, adminID string) error

	// RejectWithdrawal fails a pending withdrawal, refunds the reserved amount and records the decision
	RejectWithdrawal(ctx context.Context, transactionID, adminID, reason string) error

	// RecordWager adds settled gameplay volume to a wallet's wagered total
	RecordWager(ctx context.Context, walletID string, amount models.Sats) (*models.Wallet, error)

	// AnnotateRisk stores an externally computed risk verdict on a transaction
	AnnotateRisk(ctx context.Context, transactionID string, annotation models.RiskAnnotation) (*models.Transaction, error)

	// ListPendingWithdrawals returns the moderation queue, oldest first
	ListPendingWithdrawals(ctx context.Context, limit, offset int) ([]*models.Transaction, error)

	// ListTransactions returns transactions matching the filter
	ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error)

	// ListAdminActions returns audit entries matching the filter
	ListAdminActions(ctx context.Context, filter models.AdminActionFilter) ([]*models.AdminAction, error)
}

// DepositRequest is the input to LedgerService.Deposit
type DepositRequest struct {
	WalletID   string
	AmountSats models.Sats
	PaymentRef *string
	Metadata   map[string]any
}

// DepositResult is the outcome of a committed deposit
type DepositResult struct {
	Transaction    *models.Transaction
	NewBalanceSats models.Sats
}

// WithdrawalRequest is the input to LedgerService.RequestWithdrawal
type WithdrawalRequest struct {
	WalletID       string
	AmountSats     models.Sats
	FeeSats        models.Sats
	ToAddress      *string
	CryptoCurrency *string
	Metadata       map[string]any
}

// WithdrawalResult is the outcome of an accepted withdrawal request
type WithdrawalResult struct {
	TransactionID  string
	Transaction    *models.Transaction
	NewBalanceSats models.Sats
}

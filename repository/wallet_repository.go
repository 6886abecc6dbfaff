package repository

import (
	"context"
	"errors"
	"fmt"

	"satsledger/database"
	"satsledger/models"
	"satsledger/service"

	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, user_id, balance_sats, total_deposited_sats, total_wagered_sats, created_at, updated_at`

// WalletRepository implements the WalletRepository interface
type WalletRepository struct {
	q queryable
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *database.DB) *WalletRepository {
	return &WalletRepository{q: db.Pool}
}

// newWalletRepositoryWithTx creates a new wallet repository with a transaction
func newWalletRepositoryWithTx(tx queryable) *WalletRepository {
	return &WalletRepository{q: tx}
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.BalanceSats,
		&w.TotalDepositedSats,
		&w.TotalWageredSats,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Create inserts a new wallet with zeroed counters
func (r *WalletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	if wallet.ID == "" {
		wallet.ID = models.NewID()
	}

	query := `
		INSERT INTO wallets (id, user_id)
		VALUES ($1, $2)
		RETURNING balance_sats, total_deposited_sats, total_wagered_sats, created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query, wallet.ID, wallet.UserID).Scan(
		&wallet.BalanceSats,
		&wallet.TotalDepositedSats,
		&wallet.TotalWageredSats,
		&wallet.CreatedAt,
		&wallet.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create wallet for user %s: %w", wallet.UserID, err)
	}

	return nil
}

// GetByID retrieves a wallet by its ID
func (r *WalletRepository) GetByID(ctx context.Context, id string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`

	wallet, err := scanWallet(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet %s: %w", id, err)
	}

	return wallet, nil
}

// GetByUserID retrieves the wallet owned by a user
func (r *WalletRepository) GetByUserID(ctx context.Context, userID string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`

	wallet, err := scanWallet(r.q.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet for user %s: %w", userID, err)
	}

	return wallet, nil
}

// GetByIDForUpdate locks the wallet row for the rest of the transaction.
// Every writer of the same wallet queues here, which serializes them.
func (r *WalletRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`

	wallet, err := scanWallet(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet %s: %w", id, err)
	}

	return wallet, nil
}

// ApplyDelta adds delta to the wallet counters in a single statement.
// The balance guard sits in the WHERE clause so a debit that would go negative
// matches no row and nothing is written.
func (r *WalletRepository) ApplyDelta(ctx context.Context, id string, delta models.BalanceDelta) (*models.Wallet, error) {
	query := `
		UPDATE wallets
		SET balance_sats = balance_sats + $2,
		    total_deposited_sats = total_deposited_sats + $3,
		    total_wagered_sats = total_wagered_sats + $4,
		    updated_at = NOW()
		WHERE id = $1 AND balance_sats + $2 >= 0
		RETURNING ` + walletColumns

	wallet, err := scanWallet(r.q.QueryRow(ctx, query, id, delta.Balance, delta.Deposited, delta.Wagered))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, service.ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet %s cannot absorb %d sats: %w", id, delta.Balance, service.ErrInsufficientFunds)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply delta to wallet %s: %w", id, err)
	}

	return wallet, nil
}

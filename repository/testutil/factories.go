package testutil

import (
	"context"
	"testing"
	"time"

	"satsledger/database"
	"satsledger/models"

	"github.com/stretchr/testify/require"
)

// CreateTestWallet returns an in-memory wallet with the given counters
func CreateTestWallet(userID string, balance, deposited, wagered models.Sats) *models.Wallet {
	now := time.Now()
	return &models.Wallet{
		ID:                 models.NewID(),
		UserID:             userID,
		BalanceSats:        balance,
		TotalDepositedSats: deposited,
		TotalWageredSats:   wagered,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// CreatePendingWithdrawal returns an in-memory PENDING withdrawal for walletID
func CreatePendingWithdrawal(walletID string, amount models.Sats) *models.Transaction {
	return &models.Transaction{
		ID:         models.NewID(),
		WalletID:   walletID,
		Type:       models.TransactionTypeWithdraw,
		Status:     models.TransactionStatusPending,
		AmountSats: amount,
		Metadata:   map[string]any{},
		CreatedAt:  time.Now(),
	}
}

// SeedWallet inserts a wallet and sets its counters directly, bypassing the ledger.
// Only for arranging test state.
func SeedWallet(t *testing.T, db *database.DB, userID string, balance, deposited, wagered models.Sats) *models.Wallet {
	t.Helper()
	ctx := context.Background()

	wallet := &models.Wallet{ID: models.NewID(), UserID: userID}
	err := db.QueryRow(ctx, `
		INSERT INTO wallets (id, user_id, balance_sats, total_deposited_sats, total_wagered_sats)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING balance_sats, total_deposited_sats, total_wagered_sats, created_at, updated_at
	`, wallet.ID, userID, balance, deposited, wagered).Scan(
		&wallet.BalanceSats,
		&wallet.TotalDepositedSats,
		&wallet.TotalWageredSats,
		&wallet.CreatedAt,
		&wallet.UpdatedAt,
	)
	require.NoError(t, err)

	return wallet
}

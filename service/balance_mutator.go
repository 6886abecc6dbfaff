package service

import (
	"context"
	"fmt"

	"satsledger/events"
	"satsledger/models"
)

// BalanceMutator is the only code path that writes wallet counters.
// Callers must hold the wallet row lock (GetByIDForUpdate) in the same unit of work,
// so the wallet they pass in is the value the delta is applied to.
type BalanceMutator struct{}

// NewBalanceMutator creates a new balance mutator
func NewBalanceMutator() *BalanceMutator {
	return &BalanceMutator{}
}

// Credit adds a deposit to both the balance and the deposited total
func (m *BalanceMutator) Credit(ctx context.Context, uow UnitOfWork, wallet *models.Wallet, amount models.Sats, transactionID string) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return m.apply(ctx, uow, wallet, models.BalanceDelta{Balance: amount, Deposited: amount}, transactionID, models.TransactionTypeDeposit)
}

// Reserve debits a withdrawal amount at request time
func (m *BalanceMutator) Reserve(ctx context.Context, uow UnitOfWork, wallet *models.Wallet, amount models.Sats, transactionID string) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if wallet.BalanceSats < amount {
		return nil, ErrInsufficientFunds
	}
	return m.apply(ctx, uow, wallet, models.BalanceDelta{Balance: -amount}, transactionID, models.TransactionTypeWithdraw)
}

// Release returns a reserved amount to the balance after a rejected withdrawal.
// The deposited total is untouched, a refund is not a new deposit.
func (m *BalanceMutator) Release(ctx context.Context, uow UnitOfWork, wallet *models.Wallet, amount models.Sats, transactionID string) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return m.apply(ctx, uow, wallet, models.BalanceDelta{Balance: amount}, transactionID, models.TransactionTypeWithdraw)
}

// AddWagered grows the wagered total. It can only grow.
func (m *BalanceMutator) AddWagered(ctx context.Context, uow UnitOfWork, wallet *models.Wallet, amount models.Sats) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return m.apply(ctx, uow, wallet, models.BalanceDelta{Wagered: amount}, "", "")
}

func (m *BalanceMutator) apply(ctx context.Context, uow UnitOfWork, wallet *models.Wallet, delta models.BalanceDelta, transactionID string, txType models.TransactionType) (*models.Wallet, error) {
	updated, err := uow.WalletRepository().ApplyDelta(ctx, wallet.ID, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to update wallet %s: %w", wallet.ID, err)
	}

	if delta.Balance != 0 {
		uow.EventBus().Publish(events.BalanceChangeEvent{
			WalletID:      updated.ID,
			UserID:        updated.UserID,
			TransactionID: transactionID,
			OldBalance:    wallet.BalanceSats,
			NewBalance:    updated.BalanceSats,
			ChangeAmount:  delta.Balance,
			TxType:        txType,
		})
	}

	return updated, nil
}

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBTC(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Sats
		wantErr bool
	}{
		{name: "whole coin", input: "1", want: 100_000_000},
		{name: "fraction", input: "0.0015", want: 150_000},
		{name: "one sat", input: "0.00000001", want: 1},
		{name: "sub-sat precision", input: "0.000000001", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
		{name: "out of range", input: "999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBTC(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSats_FormatBTC(t *testing.T) {
	assert.Equal(t, "0.00150000", Sats(150_000).FormatBTC())
	assert.Equal(t, "1.00000000", SatsPerBTC.FormatBTC())
	assert.Equal(t, "0.00000000", Sats(0).FormatBTC())
}

func TestWallet_WagerShortfall(t *testing.T) {
	w := &Wallet{TotalDepositedSats: 1000, TotalWageredSats: 500}
	assert.Equal(t, Sats(500), w.WagerShortfall())

	w.TotalWageredSats = 1200
	assert.Equal(t, Sats(0), w.WagerShortfall())
}

func TestTransaction_StateMachine(t *testing.T) {
	t.Run("pending can be approved once", func(t *testing.T) {
		tx := &Transaction{Status: TransactionStatusPending}
		require.NoError(t, tx.Approve("admin-1", timeNowForTest()))
		assert.Equal(t, TransactionStatusCompleted, tx.Status)
		require.NotNil(t, tx.ApprovedBy)
		assert.Equal(t, "admin-1", *tx.ApprovedBy)

		assert.ErrorIs(t, tx.Approve("admin-2", timeNowForTest()), ErrInvalidTransition)
		assert.ErrorIs(t, tx.Reject("admin-2", "late", timeNowForTest()), ErrInvalidTransition)
		assert.Equal(t, "admin-1", *tx.ApprovedBy)
	})

	t.Run("pending can be rejected once", func(t *testing.T) {
		tx := &Transaction{Status: TransactionStatusPending}
		require.NoError(t, tx.Reject("admin-1", "fraud", timeNowForTest()))
		assert.Equal(t, TransactionStatusFailed, tx.Status)
		assert.Equal(t, "fraud", *tx.RejectionReason)
		assert.ErrorIs(t, tx.Approve("admin-1", timeNowForTest()), ErrInvalidTransition)
	})

	t.Run("deposits are created terminal", func(t *testing.T) {
		tx := &Transaction{Type: TransactionTypeDeposit, Status: TransactionStatusCompleted}
		assert.True(t, tx.Status.IsTerminal())
		assert.ErrorIs(t, tx.Approve("admin-1", timeNowForTest()), ErrInvalidTransition)
	})

	t.Run("transition table", func(t *testing.T) {
		assert.True(t, TransactionStatusPending.CanTransitionTo(TransactionStatusCompleted))
		assert.True(t, TransactionStatusPending.CanTransitionTo(TransactionStatusFailed))
		assert.False(t, TransactionStatusPending.CanTransitionTo(TransactionStatusPending))
		assert.False(t, TransactionStatusCompleted.CanTransitionTo(TransactionStatusFailed))
		assert.False(t, TransactionStatusFailed.CanTransitionTo(TransactionStatusCompleted))
	})
}

func timeNowForTest() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

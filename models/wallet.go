package models

import (
	"time"
)

// Wallet is the single balance holder owned by a user.
// Counters are only ever changed through the balance mutator.
type Wallet struct {
	ID                 string    `db:"id"`
	UserID             string    `db:"user_id"`
	BalanceSats        Sats      `db:"balance_sats"`
	TotalDepositedSats Sats      `db:"total_deposited_sats"`
	TotalWageredSats   Sats      `db:"total_wagered_sats"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

// WagerShortfall returns how much more must be wagered before a withdrawal is allowed.
// Zero means the wager requirement is met.
func (w *Wallet) WagerShortfall() Sats {
	if w.TotalWageredSats >= w.TotalDepositedSats {
		return 0
	}
	return w.TotalDepositedSats - w.TotalWageredSats
}

// BalanceDelta is a signed change to a wallet's counters applied in one statement
type BalanceDelta struct {
	Balance   Sats
	Deposited Sats
	Wagered   Sats
}

// IsZero reports whether the delta changes nothing
func (d BalanceDelta) IsZero() bool {
	return d.Balance == 0 && d.Deposited == 0 && d.Wagered == 0
}

package models

import (
	"errors"
	"time"
)

// TransactionType distinguishes credits from debits
type TransactionType string

const (
	TransactionTypeDeposit  TransactionType = "DEPOSIT"
	TransactionTypeWithdraw TransactionType = "WITHDRAW"
)

// TransactionStatus is the lifecycle state of a transaction record
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// ErrInvalidTransition is returned when a transaction is asked to leave a terminal state
var ErrInvalidTransition = errors.New("invalid transaction status transition")

// IsTerminal reports whether no further transition is defined out of s
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// CanTransitionTo reports whether s -> next is one of the two moderation transitions
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if s != TransactionStatusPending {
		return false
	}
	return next == TransactionStatusCompleted || next == TransactionStatusFailed
}

// Transaction is an append-then-freeze record of a balance-affecting request
type Transaction struct {
	ID                string            `db:"id"`
	WalletID          string            `db:"wallet_id"`
	Type              TransactionType   `db:"type"`
	Status            TransactionStatus `db:"status"`
	AmountSats        Sats              `db:"amount_sats"`
	WithdrawalFeeSats *Sats             `db:"withdrawal_fee_sats"`
	NetAmountSats     *Sats             `db:"net_amount_sats"`
	ToAddress         *string           `db:"to_address"`
	CryptoCurrency    *string           `db:"crypto_currency"`
	PaymentRef        *string           `db:"payment_ref"`

	// Risk annotations are supplied by an external scorer and stored verbatim
	RiskScore  *int    `db:"risk_score"`
	IsFlagged  bool    `db:"is_flagged"`
	FlagReason *string `db:"flag_reason"`

	ApprovedBy      *string    `db:"approved_by"`
	ApprovedAt      *time.Time `db:"approved_at"`
	RejectedBy      *string    `db:"rejected_by"`
	RejectedAt      *time.Time `db:"rejected_at"`
	RejectionReason *string    `db:"rejection_reason"`

	Metadata  map[string]any `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
}

// Approve moves a pending withdrawal to COMPLETED and stamps the approving admin
func (t *Transaction) Approve(adminID string, at time.Time) error {
	if !t.Status.CanTransitionTo(TransactionStatusCompleted) {
		return ErrInvalidTransition
	}
	t.Status = TransactionStatusCompleted
	t.ApprovedBy = &adminID
	t.ApprovedAt = &at
	return nil
}

// Reject moves a pending withdrawal to FAILED and stamps the rejecting admin and reason
func (t *Transaction) Reject(adminID, reason string, at time.Time) error {
	if !t.Status.CanTransitionTo(TransactionStatusFailed) {
		return ErrInvalidTransition
	}
	t.Status = TransactionStatusFailed
	t.RejectedBy = &adminID
	t.RejectedAt = &at
	t.RejectionReason = &reason
	return nil
}

// RiskAnnotation is the externally computed risk verdict attached to a transaction
type RiskAnnotation struct {
	Score   *int
	Flagged bool
	Reason  *string
}

// TransactionFilter narrows transaction listings
type TransactionFilter struct {
	WalletID string
	Type     *TransactionType
	Status   *TransactionStatus
	// OldestFirst orders by creation time ascending, as the moderation queue wants
	OldestFirst bool
	Limit       int
	Offset      int
}

package service

import (
	"errors"
	"fmt"

	"satsledger/models"
)

// ErrorKind classifies ledger failures for callers translating them into responses
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindStorage    ErrorKind = "storage"
	KindForbidden  ErrorKind = "forbidden"
)

// LedgerError is the error type returned by ledger operations.
// Shortfall is only set for the wager requirement conflict.
type LedgerError struct {
	Kind      ErrorKind
	Reason    string
	Shortfall models.Sats
	Err       error
}

func (e *LedgerError) Error() string {
	msg := string(e.Kind) + ": " + e.Reason
	if e.Shortfall > 0 {
		msg = fmt.Sprintf("%s (shortfall %d sats)", msg, e.Shortfall)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Is matches on kind and reason so a decorated error still matches its sentinel
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

var (
	ErrInvalidAmount  = &LedgerError{Kind: KindValidation, Reason: "invalid_amount"}
	ErrInvalidFee     = &LedgerError{Kind: KindValidation, Reason: "invalid_fee"}
	ErrInvalidRequest = &LedgerError{Kind: KindValidation, Reason: "invalid_request"}

	ErrWalletNotFound      = &LedgerError{Kind: KindNotFound, Reason: "wallet_not_found"}
	ErrTransactionNotFound = &LedgerError{Kind: KindNotFound, Reason: "transaction_not_found"}

	ErrInsufficientFunds      = &LedgerError{Kind: KindConflict, Reason: "insufficient_funds"}
	ErrWagerRequirementNotMet = &LedgerError{Kind: KindConflict, Reason: "wager_requirement_not_met"}
	ErrAlreadyProcessed       = &LedgerError{Kind: KindConflict, Reason: "already_processed"}
	ErrNotWithdrawal          = &LedgerError{Kind: KindConflict, Reason: "not_a_withdrawal"}

	ErrNotAdmin = &LedgerError{Kind: KindForbidden, Reason: "not_admin"}
)

// NewWagerRequirementNotMet reports how many more sats must be wagered
func NewWagerRequirementNotMet(shortfall models.Sats) *LedgerError {
	return &LedgerError{Kind: KindConflict, Reason: ErrWagerRequirementNotMet.Reason, Shortfall: shortfall}
}

// invalid decorates a validation sentinel with the offending detail
func invalid(sentinel *LedgerError, format string, args ...any) *LedgerError {
	return &LedgerError{Kind: sentinel.Kind, Reason: sentinel.Reason, Err: fmt.Errorf(format, args...)}
}

// storageError wraps anything that escaped a unit of work without a classification
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	return &LedgerError{Kind: KindStorage, Reason: op, Err: err}
}

// KindOf classifies err. Unclassified errors count as storage failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindStorage
}

// ShortfallOf returns the wager shortfall carried by err, if any
func ShortfallOf(err error) (models.Sats, bool) {
	var le *LedgerError
	if errors.As(err, &le) && le.Reason == ErrWagerRequirementNotMet.Reason {
		return le.Shortfall, true
	}
	return 0, false
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"satsledger/events"
	"satsledger/models"

	log "github.com/sirupsen/logrus"
)

// Operation names used for metrics and logs
const (
	OpOpenWallet        = "open_wallet"
	OpDeposit           = "deposit"
	OpRequestWithdrawal = "request_withdrawal"
	OpApproveWithdrawal = "approve_withdrawal"
	OpRejectWithdrawal  = "reject_withdrawal"
	OpRecordWager       = "record_wager"
	OpAnnotateRisk      = "annotate_risk"
)

type ledgerService struct {
	uowFactory UnitOfWorkFactory
	authorizer AdminAuthorizer
	mutator    *BalanceMutator
	moderation *ModerationLog
	metrics    MetricsRecorder
	now        func() time.Time
}

// NewLedgerService creates the wallet ledger. metrics may be nil.
func NewLedgerService(uowFactory UnitOfWorkFactory, authorizer AdminAuthorizer, metrics MetricsRecorder) LedgerService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &ledgerService{
		uowFactory: uowFactory,
		authorizer: authorizer,
		mutator:    NewBalanceMutator(),
		moderation: NewModerationLog(uowFactory, authorizer),
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *ledgerService) OpenWallet(ctx context.Context, userID string) (wallet *models.Wallet, err error) {
	defer s.observe(ctx, OpOpenWallet, time.Now(), &err)

	if strings.TrimSpace(userID) == "" {
		return nil, invalid(ErrInvalidRequest, "user id is required")
	}

	wallet, err = s.createWallet(ctx, userID)
	if err == nil {
		return wallet, nil
	}

	// A concurrent open for the same user wins the unique constraint; return its wallet
	existing, getErr := s.GetWalletByUser(ctx, userID)
	if getErr == nil {
		return existing, nil
	}
	return nil, storageError(OpOpenWallet, err)
}

func (s *ledgerService) createWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer uow.Rollback()

	existing, err := uow.WalletRepository().GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	wallet := &models.Wallet{ID: models.NewID(), UserID: userID}
	if err := uow.WalletRepository().Create(ctx, wallet); err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"walletID": wallet.ID,
		"userID":   userID,
	}).Info("Wallet opened")

	return wallet, nil
}

func (s *ledgerService) GetWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := s.read(ctx, func(uow UnitOfWork) error {
		var err error
		wallet, err = uow.WalletRepository().GetByID(ctx, walletID)
		return err
	})
	if err != nil {
		return nil, storageError("get_wallet", err)
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}
	return wallet, nil
}

func (s *ledgerService) GetWalletByUser(ctx context.Context, userID string) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := s.read(ctx, func(uow UnitOfWork) error {
		var err error
		wallet, err = uow.WalletRepository().GetByUserID(ctx, userID)
		return err
	})
	if err != nil {
		return nil, storageError("get_wallet", err)
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}
	return wallet, nil
}

func (s *ledgerService) Deposit(ctx context.Context, req DepositRequest) (result *DepositResult, err error) {
	defer s.observe(ctx, OpDeposit, time.Now(), &err)

	if !req.AmountSats.IsPositive() {
		return nil, invalid(ErrInvalidAmount, "deposit amount %d must be positive", req.AmountSats)
	}
	if req.WalletID == "" {
		return nil, invalid(ErrInvalidRequest, "wallet id is required")
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storageError(OpDeposit, err)
	}
	defer uow.Rollback()

	wallet, err := uow.WalletRepository().GetByIDForUpdate(ctx, req.WalletID)
	if err != nil {
		return nil, storageError(OpDeposit, err)
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}

	tx := &models.Transaction{
		ID:         models.NewID(),
		WalletID:   wallet.ID,
		Type:       models.TransactionTypeDeposit,
		Status:     models.TransactionStatusCompleted,
		AmountSats: req.AmountSats,
		PaymentRef: req.PaymentRef,
		Metadata:   req.Metadata,
	}

	updated, err := s.mutator.Credit(ctx, uow, wallet, req.AmountSats, tx.ID)
	if err != nil {
		return nil, storageError(OpDeposit, err)
	}

	if err := uow.TransactionRepository().Create(ctx, tx); err != nil {
		return nil, storageError(OpDeposit, err)
	}

	uow.EventBus().Publish(events.TransactionStateChangeEvent{
		TransactionID: tx.ID,
		WalletID:      tx.WalletID,
		TxType:        tx.Type,
		NewStatus:     tx.Status,
		AmountSats:    tx.AmountSats,
	})

	if err := uow.Commit(); err != nil {
		return nil, storageError(OpDeposit, err)
	}

	s.metrics.RecordSatsMoved(ctx, OpDeposit, req.AmountSats)
	log.WithFields(log.Fields{
		"walletID":      wallet.ID,
		"transactionID": tx.ID,
		"amountSats":    int64(req.AmountSats),
		"newBalance":    int64(updated.BalanceSats),
	}).Info("Deposit credited")

	return &DepositResult{Transaction: tx, NewBalanceSats: updated.BalanceSats}, nil
}

func (s *ledgerService) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (result *WithdrawalResult, err error) {
	defer s.observe(ctx, OpRequestWithdrawal, time.Now(), &err)

	if !req.AmountSats.IsPositive() {
		return nil, invalid(ErrInvalidAmount, "withdrawal amount %d must be positive", req.AmountSats)
	}
	if req.FeeSats < 0 || req.FeeSats >= req.AmountSats {
		return nil, invalid(ErrInvalidFee, "fee %d must be at least 0 and below amount %d", req.FeeSats, req.AmountSats)
	}
	if req.WalletID == "" {
		return nil, invalid(ErrInvalidRequest, "wallet id is required")
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storageError(OpRequestWithdrawal, err)
	}
	defer uow.Rollback()

	// The locked read feeds both the eligibility gate and the balance check
	wallet, err := uow.WalletRepository().GetByIDForUpdate(ctx, req.WalletID)
	if err != nil {
		return nil, storageError(OpRequestWithdrawal, err)
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}

	if err := CheckWithdrawalEligibility(wallet); err != nil {
		return nil, err
	}

	fee := req.FeeSats
	net := req.AmountSats - req.FeeSats
	tx := &models.Transaction{
		ID:                models.NewID(),
		WalletID:          wallet.ID,
		Type:              models.TransactionTypeWithdraw,
		Status:            models.TransactionStatusPending,
		AmountSats:        req.AmountSats,
		WithdrawalFeeSats: &fee,
		NetAmountSats:     &net,
		ToAddress:         req.ToAddress,
		CryptoCurrency:    req.CryptoCurrency,
		Metadata:          req.Metadata,
	}

	updated, err := s.mutator.Reserve(ctx, uow, wallet, req.AmountSats, tx.ID)
	if err != nil {
		return nil, storageError(OpRequestWithdrawal, err)
	}

	if err := uow.TransactionRepository().Create(ctx, tx); err != nil {
		return nil, storageError(OpRequestWithdrawal, err)
	}

	uow.EventBus().Publish(events.TransactionStateChangeEvent{
		TransactionID: tx.ID,
		WalletID:      tx.WalletID,
		TxType:        tx.Type,
		NewStatus:     tx.Status,
		AmountSats:    tx.AmountSats,
	})

	if err := uow.Commit(); err != nil {
		return nil, storageError(OpRequestWithdrawal, err)
	}

	s.metrics.RecordSatsMoved(ctx, OpRequestWithdrawal, req.AmountSats)
	log.WithFields(log.Fields{
		"walletID":      wallet.ID,
		"transactionID": tx.ID,
		"amountSats":    int64(req.AmountSats),
		"feeSats":       int64(fee),
		"newBalance":    int64(updated.BalanceSats),
	}).Info("Withdrawal requested")

	return &WithdrawalResult{TransactionID: tx.ID, Transaction: tx, NewBalanceSats: updated.BalanceSats}, nil
}

func (s *ledgerService) ApproveWithdrawal(ctx context.Context, transactionID, adminID string) (err error) {
	defer s.observe(ctx, OpApproveWithdrawal, time.Now(), &err)

	if err := s.authorizer.RequireAdmin(ctx, adminID); err != nil {
		return err
	}
	if transactionID == "" {
		return invalid(ErrInvalidRequest, "transaction id is required")
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return storageError(OpApproveWithdrawal, err)
	}
	defer uow.Rollback()

	tx, err := s.lockPendingWithdrawal(ctx, uow, transactionID)
	if err != nil {
		return err
	}

	if err := tx.Approve(adminID, s.now()); err != nil {
		return ErrAlreadyProcessed
	}
	if err := uow.TransactionRepository().Finalize(ctx, tx); err != nil {
		return storageError(OpApproveWithdrawal, err)
	}

	action := &models.AdminAction{
		ID:         models.NewID(),
		AdminID:    adminID,
		Action:     models.AdminActionApproveWithdrawal,
		TargetType: models.TargetTypeTransaction,
		TargetID:   tx.ID,
		Details: map[string]any{
			"wallet_id":   tx.WalletID,
			"amount_sats": int64(tx.AmountSats),
		},
	}
	if err := s.moderation.Record(ctx, uow, action); err != nil {
		return storageError(OpApproveWithdrawal, err)
	}

	uow.EventBus().Publish(events.TransactionStateChangeEvent{
		TransactionID: tx.ID,
		WalletID:      tx.WalletID,
		TxType:        tx.Type,
		OldStatus:     models.TransactionStatusPending,
		NewStatus:     tx.Status,
		AmountSats:    tx.AmountSats,
	})

	if err := uow.Commit(); err != nil {
		return storageError(OpApproveWithdrawal, err)
	}

	log.WithFields(log.Fields{
		"transactionID": tx.ID,
		"walletID":      tx.WalletID,
		"adminID":       adminID,
		"amountSats":    int64(tx.AmountSats),
	}).Info("Withdrawal approved")

	return nil
}

func (s *ledgerService) RejectWithdrawal(ctx context.Context, transactionID, adminID, reason string) (err error) {
	defer s.observe(ctx, OpRejectWithdrawal, time.Now(), &err)

	if err := s.authorizer.RequireAdmin(ctx, adminID); err != nil {
		return err
	}
	if transactionID == "" {
		return invalid(ErrInvalidRequest, "transaction id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return invalid(ErrInvalidRequest, "rejection reason is required")
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return storageError(OpRejectWithdrawal, err)
	}
	defer uow.Rollback()

	// Lock order is transaction then wallet; request paths only ever lock the wallet
	tx, err := s.lockPendingWithdrawal(ctx, uow, transactionID)
	if err != nil {
		return err
	}

	wallet, err := uow.WalletRepository().GetByIDForUpdate(ctx, tx.WalletID)
	if err != nil {
		return storageError(OpRejectWithdrawal, err)
	}
	if wallet == nil {
		return ErrWalletNotFound
	}

	if err := tx.Reject(adminID, reason, s.now()); err != nil {
		return ErrAlreadyProcessed
	}
	if err := uow.TransactionRepository().Finalize(ctx, tx); err != nil {
		return storageError(OpRejectWithdrawal, err)
	}

	updated, err := s.mutator.Release(ctx, uow, wallet, tx.AmountSats, tx.ID)
	if err != nil {
		return storageError(OpRejectWithdrawal, err)
	}

	action := &models.AdminAction{
		ID:         models.NewID(),
		AdminID:    adminID,
		Action:     models.AdminActionRejectWithdrawal,
		TargetType: models.TargetTypeTransaction,
		TargetID:   tx.ID,
		Details:    map[string]any{"reason": reason},
	}
	if err := s.moderation.Record(ctx, uow, action); err != nil {
		return storageError(OpRejectWithdrawal, err)
	}

	uow.EventBus().Publish(events.TransactionStateChangeEvent{
		TransactionID: tx.ID,
		WalletID:      tx.WalletID,
		TxType:        tx.Type,
		OldStatus:     models.TransactionStatusPending,
		NewStatus:     tx.Status,
		AmountSats:    tx.AmountSats,
	})

	if err := uow.Commit(); err != nil {
		return storageError(OpRejectWithdrawal, err)
	}

	s.metrics.RecordSatsMoved(ctx, OpRejectWithdrawal, tx.AmountSats)
	log.WithFields(log.Fields{
		"transactionID": tx.ID,
		"walletID":      tx.WalletID,
		"adminID":       adminID,
		"refundSats":    int64(tx.AmountSats),
		"newBalance":    int64(updated.BalanceSats),
	}).Info("Withdrawal rejected and refunded")

	return nil
}

// lockPendingWithdrawal loads and locks a transaction that may still be moderated
func (s *ledgerService) lockPendingWithdrawal(ctx context.Context, uow UnitOfWork, transactionID string) (*models.Transaction, error) {
	tx, err := uow.TransactionRepository().GetByIDForUpdate(ctx, transactionID)
	if err != nil {
		return nil, storageError("lock_transaction", err)
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	// Deposits are born COMPLETED, so the type is checked before the status
	if tx.Type != models.TransactionTypeWithdraw {
		return nil, ErrNotWithdrawal
	}
	if tx.Status.IsTerminal() {
		return nil, ErrAlreadyProcessed
	}
	return tx, nil
}

func (s *ledgerService) RecordWager(ctx context.Context, walletID string, amount models.Sats) (wallet *models.Wallet, err error) {
	defer s.observe(ctx, OpRecordWager, time.Now(), &err)

	if !amount.IsPositive() {
		return nil, invalid(ErrInvalidAmount, "wager amount %d must be positive", amount)
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storageError(OpRecordWager, err)
	}
	defer uow.Rollback()

	locked, err := uow.WalletRepository().GetByIDForUpdate(ctx, walletID)
	if err != nil {
		return nil, storageError(OpRecordWager, err)
	}
	if locked == nil {
		return nil, ErrWalletNotFound
	}

	updated, err := s.mutator.AddWagered(ctx, uow, locked, amount)
	if err != nil {
		return nil, storageError(OpRecordWager, err)
	}

	if err := uow.Commit(); err != nil {
		return nil, storageError(OpRecordWager, err)
	}

	log.WithFields(log.Fields{
		"walletID":     walletID,
		"wagerSats":    int64(amount),
		"totalWagered": int64(updated.TotalWageredSats),
	}).Debug("Wager recorded")

	return updated, nil
}

func (s *ledgerService) AnnotateRisk(ctx context.Context, transactionID string, annotation models.RiskAnnotation) (tx *models.Transaction, err error) {
	defer s.observe(ctx, OpAnnotateRisk, time.Now(), &err)

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, storageError(OpAnnotateRisk, err)
	}
	defer uow.Rollback()

	tx, err = uow.TransactionRepository().Annotate(ctx, transactionID, annotation)
	if err != nil {
		return nil, storageError(OpAnnotateRisk, err)
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}

	if err := uow.Commit(); err != nil {
		return nil, storageError(OpAnnotateRisk, err)
	}

	return tx, nil
}

func (s *ledgerService) ListPendingWithdrawals(ctx context.Context, limit, offset int) ([]*models.Transaction, error) {
	status := models.TransactionStatusPending
	txType := models.TransactionTypeWithdraw
	return s.ListTransactions(ctx, models.TransactionFilter{
		Type:        &txType,
		Status:      &status,
		OldestFirst: true,
		Limit:       limit,
		Offset:      offset,
	})
}

func (s *ledgerService) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	err := s.read(ctx, func(uow UnitOfWork) error {
		var err error
		txs, err = uow.TransactionRepository().List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, storageError("list_transactions", err)
	}
	return txs, nil
}

func (s *ledgerService) ListAdminActions(ctx context.Context, filter models.AdminActionFilter) ([]*models.AdminAction, error) {
	var actions []*models.AdminAction
	err := s.read(ctx, func(uow UnitOfWork) error {
		var err error
		actions, err = uow.AdminActionRepository().List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, storageError("list_admin_actions", err)
	}
	return actions, nil
}

// read runs fn in a unit of work that is always rolled back
func (s *ledgerService) read(ctx context.Context, fn func(uow UnitOfWork) error) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()
	return fn(uow)
}

// observe records the outcome of an operation; conflicts log at Warn, storage failures at Error
func (s *ledgerService) observe(ctx context.Context, operation string, start time.Time, errp *error) {
	outcome := "success"
	var err error
	if errp != nil && *errp != nil {
		err = *errp
		outcome = string(KindOf(err))
	}

	s.metrics.RecordOperation(ctx, operation, outcome, time.Since(start))

	if err == nil {
		return
	}

	entry := log.WithFields(log.Fields{
		"operation": operation,
		"outcome":   outcome,
	}).WithError(err)

	if shortfall, ok := ShortfallOf(err); ok {
		entry = entry.WithField("shortfallSats", int64(shortfall))
	}

	switch KindOf(err) {
	case KindStorage:
		entry.Error("Ledger operation failed")
	case KindConflict, KindForbidden:
		entry.Warn("Ledger operation refused")
	default:
		entry.Debug("Ledger operation rejected")
	}
}

type noopMetrics struct{}

func (noopMetrics) RecordOperation(context.Context, string, string, time.Duration) {}
func (noopMetrics) RecordSatsMoved(context.Context, string, models.Sats)           {}

// IsConflict reports whether err is a conflict a caller may present to the user
func IsConflict(err error) bool {
	var le *LedgerError
	return errors.As(err, &le) && le.Kind == KindConflict
}

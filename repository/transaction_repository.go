package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"satsledger/database"
	"satsledger/models"
	"satsledger/service"

	"github.com/jackc/pgx/v5"
)

const transactionColumns = `
	id, wallet_id, type, status, amount_sats, withdrawal_fee_sats, net_amount_sats,
	to_address, crypto_currency, payment_ref, risk_score, is_flagged, flag_reason,
	approved_by, approved_at, rejected_by, rejected_at, rejection_reason, metadata, created_at`

// TransactionRepository implements the TransactionRepository interface
type TransactionRepository struct {
	q queryable
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *database.DB) *TransactionRepository {
	return &TransactionRepository{q: db.Pool}
}

// newTransactionRepositoryWithTx creates a new transaction repository with a transaction
func newTransactionRepositoryWithTx(tx queryable) *TransactionRepository {
	return &TransactionRepository{q: tx}
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var (
		t            models.Transaction
		metadataJSON []byte
	)
	err := row.Scan(
		&t.ID,
		&t.WalletID,
		&t.Type,
		&t.Status,
		&t.AmountSats,
		&t.WithdrawalFeeSats,
		&t.NetAmountSats,
		&t.ToAddress,
		&t.CryptoCurrency,
		&t.PaymentRef,
		&t.RiskScore,
		&t.IsFlagged,
		&t.FlagReason,
		&t.ApprovedBy,
		&t.ApprovedAt,
		&t.RejectedBy,
		&t.RejectedAt,
		&t.RejectionReason,
		&metadataJSON,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for transaction %s: %w", t.ID, err)
		}
	}

	return &t, nil
}

// Create appends a new transaction record
func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	if tx.ID == "" {
		tx.ID = models.NewID()
	}

	metadata := tx.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction metadata: %w", err)
	}

	query := `
		INSERT INTO transactions (
			id, wallet_id, type, status, amount_sats, withdrawal_fee_sats, net_amount_sats,
			to_address, crypto_currency, payment_ref, risk_score, is_flagged, flag_reason, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at
	`

	err = r.q.QueryRow(ctx, query,
		tx.ID,
		tx.WalletID,
		tx.Type,
		tx.Status,
		tx.AmountSats,
		tx.WithdrawalFeeSats,
		tx.NetAmountSats,
		tx.ToAddress,
		tx.CryptoCurrency,
		tx.PaymentRef,
		tx.RiskScore,
		tx.IsFlagged,
		tx.FlagReason,
		metadataJSON,
	).Scan(&tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create %s transaction for wallet %s: %w", tx.Type, tx.WalletID, err)
	}

	return nil
}

// GetByID retrieves a transaction by its ID
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	tx, err := scanTransaction(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}

	return tx, nil
}

// GetByIDForUpdate retrieves a transaction and locks its row
func (r *TransactionRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

	tx, err := scanTransaction(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock transaction %s: %w", id, err)
	}

	return tx, nil
}

// Finalize writes the status and moderation fields of tx, but only if the stored row
// is still PENDING. A row that already left PENDING is reported as ErrAlreadyProcessed.
func (r *TransactionRepository) Finalize(ctx context.Context, tx *models.Transaction) error {
	if !tx.Status.IsTerminal() {
		return fmt.Errorf("transaction %s finalized with non-terminal status %s", tx.ID, tx.Status)
	}

	query := `
		UPDATE transactions
		SET status = $2,
		    approved_by = $3,
		    approved_at = $4,
		    rejected_by = $5,
		    rejected_at = $6,
		    rejection_reason = $7
		WHERE id = $1 AND status = 'PENDING'
	`

	result, err := r.q.Exec(ctx, query,
		tx.ID,
		tx.Status,
		tx.ApprovedBy,
		tx.ApprovedAt,
		tx.RejectedBy,
		tx.RejectedAt,
		tx.RejectionReason,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize transaction %s: %w", tx.ID, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", tx.ID, service.ErrAlreadyProcessed)
	}

	return nil
}

// Annotate stores externally computed risk fields; allowed in any status
func (r *TransactionRepository) Annotate(ctx context.Context, id string, annotation models.RiskAnnotation) (*models.Transaction, error) {
	query := `
		UPDATE transactions
		SET risk_score = $2, is_flagged = $3, flag_reason = $4
		WHERE id = $1
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.q.QueryRow(ctx, query, id, annotation.Score, annotation.Flagged, annotation.Reason))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to annotate transaction %s: %w", id, err)
	}

	return tx, nil
}

// List returns transactions matching the filter
func (r *TransactionRepository) List(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.WalletID != "" {
		args = append(args, filter.WalletID)
		conditions = append(conditions, fmt.Sprintf("wallet_id = $%d", len(args)))
	}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	if filter.OldestFirst {
		query += ` ORDER BY created_at ASC, id ASC`
	} else {
		query += ` ORDER BY created_at DESC, id DESC`
	}
	query += limitOffset(&args, filter.Limit, filter.Offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return transactions, nil
}

// limitOffset appends LIMIT/OFFSET placeholders when set
func limitOffset(args *[]any, limit, offset int) string {
	var clause string
	if limit > 0 {
		*args = append(*args, limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if offset > 0 {
		*args = append(*args, offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return clause
}

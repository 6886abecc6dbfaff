package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"satsledger/database"
	"satsledger/models"

	"github.com/jackc/pgx/v5"
)

const adminActionColumns = `id, admin_id, action, target_type, target_id, details, created_at`

// AdminActionRepository implements the AdminActionRepository interface.
// The table is append-only; there is no update or delete path.
type AdminActionRepository struct {
	q queryable
}

// NewAdminActionRepository creates a new admin action repository
func NewAdminActionRepository(db *database.DB) *AdminActionRepository {
	return &AdminActionRepository{q: db.Pool}
}

// newAdminActionRepositoryWithTx creates a new admin action repository with a transaction
func newAdminActionRepositoryWithTx(tx queryable) *AdminActionRepository {
	return &AdminActionRepository{q: tx}
}

func scanAdminAction(row pgx.Row) (*models.AdminAction, error) {
	var (
		a           models.AdminAction
		detailsJSON []byte
	)
	err := row.Scan(&a.ID, &a.AdminID, &a.Action, &a.TargetType, &a.TargetID, &detailsJSON, &a.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &a.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details for admin action %s: %w", a.ID, err)
		}
	}

	return &a, nil
}

// Record appends an admin action
func (r *AdminActionRepository) Record(ctx context.Context, action *models.AdminAction) error {
	if action.ID == "" {
		action.ID = models.NewID()
	}

	details := action.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal admin action details: %w", err)
	}

	query := `
		INSERT INTO admin_actions (id, admin_id, action, target_type, target_id, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err = r.q.QueryRow(ctx, query,
		action.ID,
		action.AdminID,
		action.Action,
		action.TargetType,
		action.TargetID,
		detailsJSON,
	).Scan(&action.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record %s by admin %s: %w", action.Action, action.AdminID, err)
	}

	return nil
}

// GetByID retrieves an admin action by its ID
func (r *AdminActionRepository) GetByID(ctx context.Context, id string) (*models.AdminAction, error) {
	query := `SELECT ` + adminActionColumns + ` FROM admin_actions WHERE id = $1`

	action, err := scanAdminAction(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admin action %s: %w", id, err)
	}

	return action, nil
}

// List returns admin actions matching the filter, newest first
func (r *AdminActionRepository) List(ctx context.Context, filter models.AdminActionFilter) ([]*models.AdminAction, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.AdminID != "" {
		args = append(args, filter.AdminID)
		conditions = append(conditions, fmt.Sprintf("admin_id = $%d", len(args)))
	}
	if filter.TargetType != "" {
		args = append(args, filter.TargetType)
		conditions = append(conditions, fmt.Sprintf("target_type = $%d", len(args)))
	}
	if filter.TargetID != "" {
		args = append(args, filter.TargetID)
		conditions = append(conditions, fmt.Sprintf("target_id = $%d", len(args)))
	}

	query := `SELECT ` + adminActionColumns + ` FROM admin_actions`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	query += limitOffset(&args, filter.Limit, filter.Offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.AdminAction
	for rows.Next() {
		action, err := scanAdminAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan admin action: %w", err)
		}
		actions = append(actions, action)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate admin actions: %w", err)
	}

	return actions, nil
}

package models

import (
	"time"
)

// AdminActionKind names the moderation decision that was taken
type AdminActionKind string

const (
	AdminActionApproveWithdrawal AdminActionKind = "APPROVE_WITHDRAWAL"
	AdminActionRejectWithdrawal  AdminActionKind = "REJECT_WITHDRAWAL"
	AdminActionBanUser           AdminActionKind = "BAN_USER"
	AdminActionUnbanUser         AdminActionKind = "UNBAN_USER"
	AdminActionEditProfileField  AdminActionKind = "EDIT_PROFILE_FIELD"
	AdminActionToggleGame        AdminActionKind = "TOGGLE_GAME"
)

// TargetType is the kind of entity an admin action refers to.
// Targets are polymorphic so there is no foreign key behind TargetID.
type TargetType string

const (
	TargetTypeTransaction TargetType = "transaction"
	TargetTypeUser        TargetType = "user"
	TargetTypeWallet      TargetType = "wallet"
	TargetTypeGame        TargetType = "game"
)

// AdminAction is an immutable audit record of a moderation decision
type AdminAction struct {
	ID         string          `db:"id"`
	AdminID    string          `db:"admin_id"`
	Action     AdminActionKind `db:"action"`
	TargetType TargetType      `db:"target_type"`
	TargetID   string          `db:"target_id"`
	Details    map[string]any  `db:"details"`
	CreatedAt  time.Time       `db:"created_at"`
}

// AdminActionFilter narrows audit log listings
type AdminActionFilter struct {
	AdminID    string
	TargetType TargetType
	TargetID   string
	Limit      int
	Offset     int
}

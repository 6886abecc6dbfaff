package service

import (
	"context"
	"fmt"
	"strings"

	"satsledger/events"
	"satsledger/models"

	log "github.com/sirupsen/logrus"
)

// ModerationLog couples admin-triggered mutations to their audit record.
// Both are written in the same unit of work, so neither exists without the other.
type ModerationLog struct {
	uowFactory UnitOfWorkFactory
	authorizer AdminAuthorizer
}

// NewModerationLog creates a new moderation log
func NewModerationLog(uowFactory UnitOfWorkFactory, authorizer AdminAuthorizer) *ModerationLog {
	return &ModerationLog{
		uowFactory: uowFactory,
		authorizer: authorizer,
	}
}

// Record appends action inside an already started unit of work.
// The caller is responsible for having authorized action.AdminID.
func (l *ModerationLog) Record(ctx context.Context, uow UnitOfWork, action *models.AdminAction) error {
	if err := validateAdminAction(action); err != nil {
		return err
	}

	if err := uow.AdminActionRepository().Record(ctx, action); err != nil {
		return fmt.Errorf("failed to record admin action: %w", err)
	}

	uow.EventBus().Publish(events.AdminActionRecordedEvent{Action: *action})
	return nil
}

// Apply authorizes the acting admin, then runs mutate and records action in one unit of work.
// Any error from mutate or from the audit write rolls back both.
func (l *ModerationLog) Apply(ctx context.Context, action *models.AdminAction, mutate func(ctx context.Context, uow UnitOfWork) error) error {
	if err := validateAdminAction(action); err != nil {
		return err
	}
	if err := l.authorizer.RequireAdmin(ctx, action.AdminID); err != nil {
		return err
	}

	uow := l.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return storageError("moderation", err)
	}
	defer uow.Rollback()

	if mutate != nil {
		if err := mutate(ctx, uow); err != nil {
			return err
		}
	}

	if err := l.Record(ctx, uow, action); err != nil {
		return storageError("moderation", err)
	}

	if err := uow.Commit(); err != nil {
		return storageError("moderation", err)
	}

	log.WithFields(log.Fields{
		"adminID":    action.AdminID,
		"action":     action.Action,
		"targetType": action.TargetType,
		"targetID":   action.TargetID,
	}).Info("Admin action applied")

	return nil
}

func validateAdminAction(action *models.AdminAction) error {
	switch {
	case action == nil:
		return invalid(ErrInvalidRequest, "admin action is required")
	case strings.TrimSpace(action.AdminID) == "":
		return invalid(ErrInvalidRequest, "admin id is required")
	case action.Action == "":
		return invalid(ErrInvalidRequest, "action kind is required")
	case action.TargetType == "" || action.TargetID == "":
		return invalid(ErrInvalidRequest, "action target is required")
	}
	return nil
}

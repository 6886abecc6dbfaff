package service

import (
	"context"
	"fmt"
	"strings"
)

// StaticAuthorizer admits a fixed set of admin ids loaded from configuration
type StaticAuthorizer struct {
	admins map[string]struct{}
}

// NewStaticAuthorizer creates an authorizer for the given admin ids. Blank ids are ignored.
func NewStaticAuthorizer(adminIDs []string) *StaticAuthorizer {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			admins[id] = struct{}{}
		}
	}
	return &StaticAuthorizer{admins: admins}
}

// RequireAdmin returns ErrNotAdmin unless actorID is a configured admin
func (a *StaticAuthorizer) RequireAdmin(ctx context.Context, actorID string) error {
	if _, ok := a.admins[actorID]; !ok {
		return &LedgerError{
			Kind:   ErrNotAdmin.Kind,
			Reason: ErrNotAdmin.Reason,
			Err:    fmt.Errorf("actor %q is not an admin", actorID),
		}
	}
	return nil
}

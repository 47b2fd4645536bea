// Package service contains the business rules of Teamify.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces rules, orchestrates
//	Repository (data layer)  → reads/writes the store
//
// Services accept plain values and return domain errors from apperror.
// They never see an *http.Request, and the handler decides which status
// code an apperror maps to.
//
// DEPENDENCY INJECTION:
// Every service takes a repository.Store (an interface), a clock and a
// logger. main.go passes the SQLite or Mongo store and the wall clock;
// tests pass an in-memory fake and a testclock.
//
// SIDE EFFECTS:
// Notifications are emitted through a Notifier only after the primary
// write succeeded. A failed notification never fails the operation that
// caused it; the notify package retries it in the background.
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/model"
)

// Notifier delivers notifications after a successful write.
// *notify.Emitter implements it.
type Notifier interface {
	Emit(ctx context.Context, notifications ...model.Notification)
}

// requireID trims id and rejects it when empty.
func requireID(field, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperror.ValidationFailed(field, field+" is required")
	}
	return id, nil
}

// displayName is how a user is referred to in notification messages.
func displayName(u *model.User) string {
	if u == nil {
		return "Someone"
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

func isNotFound(err error) bool {
	return errors.Is(err, apperror.ErrNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, apperror.ErrConflict)
}

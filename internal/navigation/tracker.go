package navigation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/session"
)

// Tracker hands out per-session navigation state over one store.
type Tracker struct {
	store  session.Store
	log    *zap.Logger
	maxAge time.Duration
}

// NewTracker creates a tracker. A non-positive returnMaxAge selects DefaultReturnMaxAge.
func NewTracker(store session.Store, logger *zap.Logger, returnMaxAge time.Duration) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if returnMaxAge <= 0 {
		returnMaxAge = DefaultReturnMaxAge
	}
	return &Tracker{store: store, log: logger.Named("navigation"), maxAge: returnMaxAge}
}

// History returns the redirect history of scope.
func (t *Tracker) History(scope string) History {
	return History{scope: session.NewScope(t.store, scope)}
}

// ReturnPaths returns the return path manager of scope.
func (t *Tracker) ReturnPaths(scope string) ReturnPaths {
	return ReturnPaths{scope: session.NewScope(t.store, scope), log: t.log, maxAge: t.maxAge}
}

// Clear wipes all navigation state of scope; called on sign-out.
func (t *Tracker) Clear(ctx context.Context, scope string) error {
	return errors.Join(
		t.History(scope).Reset(ctx),
		t.ReturnPaths(scope).Clear(ctx),
	)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/identity"
	"github.com/and161185/practigate/internal/navigation"
)

// opaqueTokenLifetime bounds tokens that carry no readable expiry.
const opaqueTokenLifetime = 12 * time.Hour

// ErrNoScope rejects session changes that arrive without a browsing scope.
var ErrNoScope = errors.New("no browsing scope")

// ScopedSessions resolves the sign-in state of one browsing scope. Sessions
// invalidate their claims before announcing a change.
type ScopedSessions interface {
	Session(scope string) *identity.Session
}

// SessionService manages sign-in and sign-out per browsing scope.
type SessionService interface {
	// SignIn stores token for scope and returns where the browser should go
	// next: the saved return path of scope if one is pending, the landing page otherwise.
	SignIn(ctx context.Context, scope, token string) (string, error)
	// SignOut clears the token, the claims and the navigation state of scope.
	SignOut(ctx context.Context, scope string) error
	// ReturnPath consumes the saved return path of scope.
	ReturnPath(ctx context.Context, scope string) (string, bool, error)
}

type SessionServiceImpl struct {
	sessions ScopedSessions
	tracker  *navigation.Tracker
	now      func() time.Time
	log      *zap.Logger
}

// NewSessionService constructs SessionService.
func NewSessionService(sessions ScopedSessions, tracker *navigation.Tracker, logger *zap.Logger) *SessionServiceImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionServiceImpl{sessions: sessions, tracker: tracker, now: time.Now, log: logger.Named("session")}
}

// SignIn persists token for as long as it is valid.
func (s *SessionServiceImpl) SignIn(ctx context.Context, scope, token string) (string, error) {
	if scope == "" {
		return "", fmt.Errorf("sign in: %w", ErrNoScope)
	}
	exp, ok := identity.TokenExpiry(token)
	if !ok {
		exp = s.now().Add(opaqueTokenLifetime)
	}
	if err := s.sessions.Session(scope).SignIn(token, exp); err != nil {
		return "", fmt.Errorf("sign in: %w", err)
	}
	s.log.Info("signed in", zap.String("scope", scope))

	next, _, err := s.ReturnPath(ctx, scope)
	if err != nil {
		s.log.Warn("read return path", zap.Error(err))
	}
	return navigation.SanitizeTarget(next), nil
}

// SignOut clears everything tied to the old identity of scope. All steps run
// even if one fails. Without a scope there is no identity to clear.
func (s *SessionServiceImpl) SignOut(ctx context.Context, scope string) error {
	if scope == "" {
		s.log.Debug("sign out without scope ignored")
		return nil
	}
	var errList []error
	if err := s.sessions.Session(scope).SignOut(); err != nil {
		errList = append(errList, fmt.Errorf("clear token: %w", err))
	}
	if s.tracker != nil {
		if err := s.tracker.Clear(ctx, scope); err != nil {
			errList = append(errList, fmt.Errorf("clear navigation state: %w", err))
		}
	}
	err := errors.Join(errList...)
	if err != nil {
		s.log.Warn("sign out incomplete", zap.String("scope", scope), zap.Error(err))
	} else {
		s.log.Info("signed out", zap.String("scope", scope))
	}
	return err
}

// ReturnPath consumes the pending return path.
func (s *SessionServiceImpl) ReturnPath(ctx context.Context, scope string) (string, bool, error) {
	if scope == "" || s.tracker == nil {
		return "", false, nil
	}
	return s.tracker.ReturnPaths(scope).Consume(ctx, s.now())
}

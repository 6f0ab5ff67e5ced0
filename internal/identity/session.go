package identity

import (
	"errors"
	"time"
)

// Invalidator drops state derived from the current identity.
type Invalidator interface {
	Invalidate()
}

// Session ties the persisted token to session-change notifications.
// Invalidators run after the token changes and before subscribers hear
// about it, so a subscriber that re-reads claims never sees the old identity.
type Session struct {
	tokens       TokenStore
	notifier     *Notifier
	invalidators []Invalidator
}

// NewSession constructs a Session.
func NewSession(tokens TokenStore, notifier *Notifier, invalidators ...Invalidator) *Session {
	return &Session{tokens: tokens, notifier: notifier, invalidators: invalidators}
}

// Token implements TokenSource.
func (s *Session) Token() (string, error) { return s.tokens.Token() }

// SignIn stores token and announces the new principal.
func (s *Session) SignIn(token string, expiresAt time.Time) error {
	if token == "" {
		return errors.New("empty token")
	}
	if err := s.tokens.Save(token, expiresAt); err != nil {
		return err
	}
	s.changed(EventSignedIn)
	return nil
}

// SignOut removes the token. Subscribers are notified even if removal fails
// so nobody keeps acting on the old identity.
func (s *Session) SignOut() error {
	err := s.tokens.Clear()
	s.changed(EventSignedOut)
	return err
}

// ClaimsChanged announces that claims changed server-side (e.g. verification finished).
func (s *Session) ClaimsChanged() { s.changed(EventClaimsUpdated) }

// Notifier exposes the underlying event source.
func (s *Session) Notifier() *Notifier { return s.notifier }

func (s *Session) changed(kind EventKind) {
	for _, inv := range s.invalidators {
		inv.Invalidate()
	}
	s.notifier.Publish(kind)
}

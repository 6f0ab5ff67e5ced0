package principal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/practigate/internal/errs"
	"github.com/and161185/practigate/internal/identity"
	"github.com/and161185/practigate/internal/session"
)

// tokenKey is the session-store key holding a scope's access token.
const tokenKey = "identity.token"

const storeTimeout = 5 * time.Second

type storedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// scopedTokens keeps one browsing session's token in the shared session store.
type scopedTokens struct {
	scope session.Scope
	now   func() time.Time
}

var (
	_ identity.TokenStore         = (*scopedTokens)(nil)
	_ identity.ContextTokenSource = (*scopedTokens)(nil)
)

func (t *scopedTokens) Token() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return t.TokenContext(ctx)
}

func (t *scopedTokens) TokenContext(ctx context.Context) (string, error) {
	raw, err := t.scope.Get(ctx, tokenKey)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return "", errs.ErrNoSession
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	var st storedToken
	if err := json.Unmarshal(raw, &st); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if st.AccessToken == "" || !t.now().Before(st.ExpiresAt) {
		return "", errs.ErrNoSession
	}
	return st.AccessToken, nil
}

func (t *scopedTokens) Save(token string, expiresAt time.Time) error {
	raw, err := json.Marshal(storedToken{AccessToken: token, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return t.scope.Put(ctx, tokenKey, raw, expiresAt)
}

func (t *scopedTokens) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := t.scope.Delete(ctx, tokenKey); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	return nil
}

// noTokens backs the anonymous principal: it never holds a token.
type noTokens struct{}

var _ identity.TokenStore = noTokens{}

func (noTokens) Token() (string, error)       { return "", errs.ErrNoSession }
func (noTokens) Save(string, time.Time) error { return errs.ErrNoSession }
func (noTokens) Clear() error                 { return nil }

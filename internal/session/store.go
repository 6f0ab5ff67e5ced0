// Package session provides small key/value storage scoped to one browser session.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/practigate/internal/errs"
)

// MaxEntrySize caps a single stored value.
const MaxEntrySize = 4 << 10

// Store persists values per scope. Get returns errs.ErrNotFound for missing
// or expired entries. A zero expiresAt means the entry does not expire.
type Store interface {
	Get(ctx context.Context, scope, key string) ([]byte, error)
	Put(ctx context.Context, scope, key string, value []byte, expiresAt time.Time) error
	Delete(ctx context.Context, scope, key string) error
	Clear(ctx context.Context, scope string) error
}

// NewScopeID returns a fresh random scope identifier.
func NewScopeID() string { return uuid.Must(uuid.NewV4()).String() }

// CheckSize rejects values above MaxEntrySize.
func CheckSize(key string, value []byte) error {
	if len(value) > MaxEntrySize {
		return fmt.Errorf("%s: %d bytes: %w", key, len(value), errs.ErrEntryTooLarge)
	}
	return nil
}

// Scope binds a Store to one scope id.
type Scope struct {
	store Store
	id    string
}

// NewScope returns a view of store restricted to id.
func NewScope(store Store, id string) Scope { return Scope{store: store, id: id} }

// ID returns the scope identifier.
func (s Scope) ID() string { return s.id }

func (s Scope) Get(ctx context.Context, key string) ([]byte, error) {
	return s.store.Get(ctx, s.id, key)
}

func (s Scope) Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	return s.store.Put(ctx, s.id, key, value, expiresAt)
}

func (s Scope) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, s.id, key)
}

func (s Scope) Clear(ctx context.Context) error {
	return s.store.Clear(ctx, s.id)
}

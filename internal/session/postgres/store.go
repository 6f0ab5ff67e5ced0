package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/practigate/internal/errs"
	"github.com/and161185/practigate/internal/session"
)

// Sealer encrypts values and hashes scope ids before they are written.
type Sealer interface {
	ScopeHash(scope string) []byte
	Seal(scope, key string, plaintext []byte) ([]byte, error)
	Open(scope, key string, blob []byte) ([]byte, error)
}

// Store implements session.Store on the session_entries table.
// Raw scope ids never reach the database; only their hashes do.
type Store struct {
	db     *DB
	sealer Sealer
	now    func() time.Time
}

var _ session.Store = (*Store)(nil)

// NewStore constructs a store.
func NewStore(db *DB, sealer Sealer) *Store {
	return &Store{db: db, sealer: sealer, now: time.Now}
}

const (
	qGet = `SELECT value FROM session_entries
WHERE scope_hash=$1 AND key=$2 AND (expires_at IS NULL OR expires_at > $3)`
	qPut = `INSERT INTO session_entries (scope_hash, key, value, expires_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (scope_hash, key) DO UPDATE SET value=EXCLUDED.value, expires_at=EXCLUDED.expires_at, updated_at=now()`
	qDelete = `DELETE FROM session_entries WHERE scope_hash=$1 AND key=$2`
	qClear  = `DELETE FROM session_entries WHERE scope_hash=$1`
	qPurge  = `DELETE FROM session_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`
)

// Get returns the opened value. Entries that fail to open are treated as absent.
func (s *Store) Get(ctx context.Context, scope, key string) ([]byte, error) {
	var blob []byte
	err := s.db.Pool.QueryRow(ctx, qGet, s.sealer.ScopeHash(scope), key, s.now()).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	v, err := s.sealer.Open(scope, key, blob)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, errs.ErrNotFound)
	}
	return v, nil
}

// Put upserts the sealed value.
func (s *Store) Put(ctx context.Context, scope, key string, value []byte, expiresAt time.Time) error {
	if err := session.CheckSize(key, value); err != nil {
		return err
	}
	blob, err := s.sealer.Seal(scope, key, value)
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	var exp *time.Time
	if !expiresAt.IsZero() {
		exp = &expiresAt
	}
	if _, err := s.db.Pool.Exec(ctx, qPut, s.sealer.ScopeHash(scope), key, blob, exp); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, scope, key string) error {
	if _, err := s.db.Pool.Exec(ctx, qDelete, s.sealer.ScopeHash(scope), key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, scope string) error {
	if _, err := s.db.Pool.Exec(ctx, qClear, s.sealer.ScopeHash(scope)); err != nil {
		return fmt.Errorf("clear scope: %w", err)
	}
	return nil
}

// Purge removes expired rows and returns how many were deleted.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, qPurge, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

package session

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/practigate/internal/errs"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	scopes map[string]map[string]memEntry
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: make(map[string]map[string]memEntry), now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Get(_ context.Context, scope, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.scopes[scope][key]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if e.expired(m.now()) {
		delete(m.scopes[scope], key)
		return nil, errs.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryStore) Put(_ context.Context, scope, key string, value []byte, expiresAt time.Time) error {
	if err := CheckSize(key, value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.scopes[scope]
	if !ok {
		entries = make(map[string]memEntry)
		m.scopes[scope] = entries
	}
	entries[key] = memEntry{value: append([]byte(nil), value...), expiresAt: expiresAt}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scopes[scope], key)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scopes, scope)
	return nil
}

// Purge drops expired entries across all scopes and reports how many went.
func (m *MemoryStore) Purge(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for scope, entries := range m.scopes {
		for k, e := range entries {
			if e.expired(now) {
				delete(entries, k)
				n++
			}
		}
		if len(entries) == 0 {
			delete(m.scopes, scope)
		}
	}
	return n, nil
}

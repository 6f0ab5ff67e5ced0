package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/and161185/practigate/internal/errs"
)

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/practigate or ~/.config/practigate.
func DefaultConfigDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "practigate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "practigate")
}

// FileTokenStore keeps the session token in a JSON file readable only by the owner.
type FileTokenStore struct {
	dir string
	now func() time.Time
}

var _ TokenStore = (*FileTokenStore)(nil)

// NewFileTokenStore stores the token under dir; empty dir means DefaultConfigDir.
func NewFileTokenStore(dir string) *FileTokenStore {
	if dir == "" {
		dir = DefaultConfigDir()
	}
	return &FileTokenStore{dir: dir, now: time.Now}
}

// Path returns the token file location.
func (s *FileTokenStore) Path() string { return filepath.Join(s.dir, "session.json") }

// Save writes token with its expiry.
func (s *FileTokenStore) Save(token string, expiresAt time.Time) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.Path(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: token, ExpiresAt: expiresAt})
}

// Token returns the stored token, or errs.ErrNoSession when missing or expired.
func (s *FileTokenStore) Token() (string, error) {
	b, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errs.ErrNoSession
		}
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", fmt.Errorf("decode token file: %w", err)
	}
	if tf.AccessToken == "" || s.now().After(tf.ExpiresAt) {
		return "", errs.ErrNoSession
	}
	return tf.AccessToken, nil
}

// Clear removes the token file. Missing file is not an error.
func (s *FileTokenStore) Clear() error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// StaticToken is a fixed bearer token, e.g. passed on the command line.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	if v := strings.TrimSpace(string(t)); v != "" {
		return v, nil
	}
	return "", errs.ErrNoSession
}

// Package crypto seals session entries before they reach persistent storage.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyLen is the size of every derived key.
const KeyLen = 32

// MinSecretLen is the shortest operator secret NewSealer accepts.
const MinSecretLen = 16

// Argon2id parameters for stretching the operator secret once at startup.
const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 19 * 1024
	argonThreads uint8  = 1
)

var masterSalt = []byte("practigate/session-store/v1")

// ErrShortSecret is returned for secrets below MinSecretLen.
var ErrShortSecret = errors.New("session secret too short")

// ErrMalformed is returned for sealed values that cannot be opened.
var ErrMalformed = errors.New("sealed value malformed")

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Sealer encrypts values per scope with XChaCha20-Poly1305. Scope keys are
// derived from a master key with HKDF-SHA256; the entry key is bound as AAD.
type Sealer struct {
	master []byte
}

// NewSealer stretches secret into the master key.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrShortSecret
	}
	return &Sealer{master: argon2.IDKey(secret, masterSalt, argonTime, argonMemory, argonThreads, KeyLen)}, nil
}

// ScopeHash returns a stable, non-reversible identifier for scope.
func (s *Sealer) ScopeHash(scope string) []byte {
	m := hmac.New(sha256.New, s.master)
	m.Write([]byte("scope:"))
	m.Write([]byte(scope))
	return m.Sum(nil)
}

func (s *Sealer) scopeKey(scope string) ([]byte, error) {
	r := hkdf.New(sha256.New, s.master, nil, []byte("entry:"+scope))
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext for (scope, key). Output is nonce||ciphertext.
func (s *Sealer) Seal(scope, key string, plaintext []byte) ([]byte, error) {
	k, err := s.scopeKey(scope)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(k)
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, []byte(key)), nil
}

// Open reverses Seal. A value sealed for another scope or key fails.
func (s *Sealer) Open(scope, key string, blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, ErrMalformed
	}
	k, err := s.scopeKey(scope)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(k)
	if err != nil {
		return nil, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	pt, err := aead.Open(nil, nonce, blob[chacha20poly1305.NonceSizeX:], []byte(key))
	if err != nil {
		return nil, ErrMalformed
	}
	return pt, nil
}

// Package kek implements the key-encryption-key subsystem: a single
// Argon2id-derived AES-256 key, held only in process memory, that wraps
// the secrets this server persists (client secrets, private JWKs, OPAQUE
// OPRF keys and server static key, in-flight OPAQUE login state, TOTP
// secrets). Wrapped DRK blobs are client-encrypted and stored without KEK
// wrapping.
package kek

import (
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
)

const (
	keyLen       = 32
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 1
)

// Service holds the derived KEK. It is constructed once at process start and
// never persisted or logged.
type Service struct {
	key []byte
}

// New derives the KEK from passphrase and salt using Argon2id. salt is a
// per-deployment value persisted in the settings table, so re-deriving
// the same KEK requires both the passphrase and the database.
func New(passphrase string, salt []byte) (*Service, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("kek passphrase must not be empty")
	}
	if len(salt) < 16 {
		return nil, fmt.Errorf("kek salt must be at least 16 bytes")
	}
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keyLen)
	return &Service{key: key}, nil
}

// Encrypt seals plaintext under the KEK. aad binds the ciphertext to its
// storage context (e.g. "jwks:private", "client:secret") so a sealed
// value cannot be copied between columns.
func (s *Service) Encrypt(plaintext, aad []byte) ([]byte, error) {
	return cryptoutil.SealAESGCM(s.key, plaintext, aad)
}

// Decrypt reverses Encrypt. aad must match the value passed to Encrypt.
func (s *Service) Decrypt(sealed, aad []byte) ([]byte, error) {
	return cryptoutil.OpenAESGCM(s.key, sealed, aad)
}

// NewSalt generates a fresh random salt suitable for New; the server calls
// it on first start, when no salt is persisted yet.
func NewSalt() ([]byte, error) {
	return cryptoutil.RandomBytes(16)
}

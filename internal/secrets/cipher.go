// Package secrets encrypts callback credentials at rest. Settings rows keep
// secrets sealed; they are opened only at dispatch time, never logged or
// returned over the API.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/beaconmesh/beacon/internal/core"
)

// SaltSize is the Argon2id salt length in bytes.
const SaltSize = 32

// Cipher seals and opens small secrets with a key derived from a master
// passphrase via Argon2id. The derived key lives only in memory; the salt is
// persisted alongside the data directory so restarts derive the same key.
type Cipher struct {
	mu  sync.RWMutex
	key []byte
}

// NewCipher derives the sealing key from the passphrase and salt.
func NewCipher(passphrase string, salt []byte) (*Cipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("empty passphrase: %w", core.ErrLocked)
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	key := argon2.IDKey([]byte(passphrase), salt, 3, 64*1024, 4, chacha20poly1305.KeySize)
	return &Cipher{key: key}, nil
}

// NewSalt generates a fresh random salt for first-run key derivation.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext), suitable
// for storage in a text column.
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	c.mu.RLock()
	key := c.key
	c.mu.RUnlock()
	if key == nil {
		return "", core.ErrLocked
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (c *Cipher) Open(encoded string) ([]byte, error) {
	c.mu.RLock()
	key := c.key
	c.mu.RUnlock()
	if key == nil {
		return nil, core.ErrLocked
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed secret: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed secret too short: %w", core.ErrDecryptionFailed)
	}
	nonce := sealed[:aead.NonceSize()]
	ciphertext := sealed[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong master passphrase?", core.ErrDecryptionFailed)
	}
	return plaintext, nil
}

// Wipe zeroes the derived key. Subsequent Seal/Open calls fail with ErrLocked.
func (c *Cipher) Wipe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.key {
		c.key[i] = 0
	}
	c.key = nil
}

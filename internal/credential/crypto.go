// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeranaias/nutrichat/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// SaltSize is the PBKDF2 salt length.
	SaltSize = 32
	// DefaultIterations is the PBKDF2-SHA-256 work factor (OWASP 2023).
	DefaultIterations = 600000
)

var (
	// ErrDecryptionFailed indicates a wrong key or a tampered value.
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")

	// ErrInvalidKeyFile indicates a key file of the wrong length.
	ErrInvalidKeyFile = errors.New("invalid key file")
)

// ZeroBytes overwrites sensitive key material.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// =============================================================================
// KEY SOURCES
// =============================================================================

// KeySource yields the 32-byte key that seals stored secrets.
type KeySource interface {
	Key() ([]byte, error)
}

// KeyFunc adapts a function to KeySource.
type KeyFunc func() ([]byte, error)

// Key implements KeySource.
func (f KeyFunc) Key() ([]byte, error) { return f() }

// PassphraseKey derives the key from a passphrase with PBKDF2. The salt is
// read from saltPath and created on first use. iterations <= 0 selects
// DefaultIterations.
func PassphraseKey(passphrase, saltPath string, iterations int) KeySource {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return KeyFunc(func() ([]byte, error) {
		if passphrase == "" {
			return nil, errors.New("passphrase is empty")
		}
		salt, err := loadOrCreate(saltPath, SaltSize)
		if err != nil {
			return nil, fmt.Errorf("load salt: %w", err)
		}
		return pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize, sha256.New), nil
	})
}

// FileKey reads a random key from path, generating it with 0600 permissions
// on first use.
func FileKey(path string) KeySource {
	return KeyFunc(func() ([]byte, error) {
		key, err := loadOrCreate(path, KeySize)
		if err != nil {
			return nil, fmt.Errorf("load key file: %w", err)
		}
		return key, nil
	})
}

// loadOrCreate returns the contents of path, which must be exactly size
// bytes, creating it with random bytes when missing.
func loadOrCreate(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) != size {
			ZeroBytes(data)
			return nil, fmt.Errorf("%w: %s has %d bytes, want %d", ErrInvalidKeyFile, path, len(data), size)
		}
		return data, nil
	case !os.IsNotExist(err):
		return nil, err
	}

	data = make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, data); err != nil {
		return nil, fmt.Errorf("generate random bytes: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0o600); err != nil {
		return nil, err
	}
	return data, nil
}

// =============================================================================
// SEALING
// =============================================================================

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts plaintext as nonce || ciphertext || tag, binding it to key
// as additional data so a value cannot be moved between keys.
func seal(aead cipher.AEAD, plaintext []byte, key string) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, []byte(key)), nil
}

func open(aead cipher.AEAD, sealed []byte, key string) ([]byte, error) {
	if len(sealed) < aead.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

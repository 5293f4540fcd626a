// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credential

import (
	"errors"
	"sync"
)

// Well-known keys.
const (
	KeyAccessToken = "auth.access_token"
	KeyTOTPSecret  = "unlock.totp_secret"
)

var (
	// ErrNotFound indicates no secret is stored under the key.
	ErrNotFound = errors.New("credential not found")

	// ErrEmptyKey indicates a blank key was supplied.
	ErrEmptyKey = errors.New("credential key is empty")
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store keeps small secrets by key. Implementations are safe for concurrent use.
type Store interface {
	// Save stores secret under key, replacing any existing value.
	Save(secret []byte, key string) error
	// Get returns the secret under key or ErrNotFound.
	Get(key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string][]byte)}
}

// Save implements Store.
func (m *MemoryStore) Save(secret []byte, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.secrets[key]; ok {
		ZeroBytes(old)
	}
	m.secrets[key] = append([]byte(nil), secret...)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.secrets[key]; ok {
		ZeroBytes(old)
		delete(m.secrets, key)
	}
	return nil
}

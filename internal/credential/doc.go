// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credential stores the access token and unlock secret.
//
// SQLiteStore seals every value with AES-256-GCM before it reaches disk. The
// key comes from a KeySource: PassphraseKey derives it with PBKDF2-SHA-256
// from a user passphrase and a salt file, FileKey reads a random key file
// created with 0600 permissions.
//
//	store, err := credential.OpenSQLite(dbPath, credential.FileKey(keyPath))
//	err = store.Save([]byte(token), credential.KeyAccessToken)
package credential

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth logs in against the backend and keeps the access token in the
// credential store. A Service is the api.TokenSource the HTTP clients use.
package auth

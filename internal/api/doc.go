// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the authenticated REST client for the nutrition backend.
//
// It owns the base URL, bearer token attachment, rate limiting, retry of
// idempotent calls, and the error taxonomy shared with the streaming client.
//
// # Errors
//
// Every failure is an *Error tagged with a Kind:
//
//   - KindTransport: connectivity failure, reset or timeout
//   - KindServer: non-success status or server error event, with Status and Reason
//   - KindDecoding: malformed or oversized payload
//   - KindCancelled: caller cancellation
//
// Match kinds with errors.Is against ErrTransport, ErrServer, ErrDecoding and
// ErrCancelled, and causes with ReasonOf.
//
// # Usage
//
//	client, err := api.New(cfg.API.BaseURL,
//	    api.WithTokenSource(authService),
//	    api.WithLogger(logger))
//	history, err := client.FetchHistory(ctx)
package api

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package unlock gates access to stored credentials behind a second factor.
//
// The terminal has no biometric sensor, so TOTP stands in for it: a one-time
// code from an authenticator app unlocks the session. Results mirror a
// biometric prompt: Success, Cancelled, Failed, NotEnrolled and LockedOut.
// Consecutive failures lock the gate for a while.
package unlock

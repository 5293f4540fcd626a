// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package unlock

import (
	"sync"
	"time"
)

const (
	// DefaultMaxAttempts is the number of consecutive failures before lockout.
	DefaultMaxAttempts = 3

	// DefaultLockoutDuration is how long a lockout lasts.
	DefaultLockoutDuration = 15 * time.Minute
)

// lockout counts consecutive failures and locks after maxAttempts.
type lockout struct {
	mu          sync.Mutex
	maxAttempts int
	duration    time.Duration
	now         func() time.Time

	failures    int
	lockedUntil time.Time
}

// locked reports whether attempts are blocked, clearing an expired lockout.
func (l *lockout) locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lockedUntil.IsZero() {
		return false
	}
	if l.now().Before(l.lockedUntil) {
		return true
	}
	l.lockedUntil = time.Time{}
	l.failures = 0
	return false
}

// failure records a failed attempt and reports whether it caused a lockout.
func (l *lockout) failure() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	if l.failures >= l.maxAttempts {
		l.lockedUntil = l.now().Add(l.duration)
		return true
	}
	return false
}

func (l *lockout) success() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = 0
	l.lockedUntil = time.Time{}
}

// remaining returns the time left on an active lockout.
func (l *lockout) remaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lockedUntil.IsZero() {
		return 0
	}
	if d := l.lockedUntil.Sub(l.now()); d > 0 {
		return d
	}
	return 0
}

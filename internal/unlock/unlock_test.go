// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package unlock

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/nutrichat/internal/credential"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// codes returns a prompter that replays answers in order.
func codes(answers ...func() (string, error)) Prompter {
	var mu sync.Mutex
	return func(context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(answers) == 0 {
			return "", errors.New("no more answers")
		}
		next := answers[0]
		answers = answers[1:]
		return next()
	}
}

func fixed(code string) func() (string, error) {
	return func() (string, error) { return code, nil }
}

func enrolled(t *testing.T, clock *fakeClock, prompt Prompter, opts ...Option) (*TOTP, string) {
	t.Helper()
	store := credential.NewMemoryStore()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	auth := NewTOTP(store, prompt, opts...)

	raw, err := auth.Enroll("nutrichat", "sam@example.com")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "otpauth", u.Scheme)

	secret, err := store.Get(credential.KeyTOTPSecret)
	require.NoError(t, err)
	return auth, string(secret)
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "not enrolled", NotEnrolled.String())
	assert.Equal(t, "locked out", LockedOut.String())
	assert.Equal(t, "unknown", Result(99).String())
}

func TestAlways(t *testing.T) {
	assert.Equal(t, Cancelled, Always(Cancelled).Authenticate(context.Background()))
}

func TestTOTP_NotEnrolled(t *testing.T) {
	auth := NewTOTP(credential.NewMemoryStore(), codes())
	assert.False(t, auth.Enrolled())
	assert.Equal(t, NotEnrolled, auth.Authenticate(context.Background()))
}

func TestTOTP_Success(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	var secret string
	auth, secret := enrolled(t, clock, codes(func() (string, error) {
		return totp.GenerateCode(secret, clock.Now())
	}))
	assert.True(t, auth.Enrolled())
	assert.Equal(t, Success, auth.Authenticate(context.Background()))
}

func TestTOTP_CodeWithSpaces(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	var secret string
	auth, secret := enrolled(t, clock, codes(func() (string, error) {
		code, err := totp.GenerateCode(secret, clock.Now())
		return " " + code[:3] + " " + code[3:] + "\n", err
	}))
	assert.Equal(t, Success, auth.Authenticate(context.Background()))
}

func TestTOTP_Cancelled(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	auth, _ := enrolled(t, clock, codes(func() (string, error) { return "", ErrPromptCancelled }))
	assert.Equal(t, Cancelled, auth.Authenticate(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	auth2, _ := enrolled(t, clock, codes(func() (string, error) { return "", context.Canceled }))
	assert.Equal(t, Cancelled, auth2.Authenticate(ctx))
}

func TestTOTP_LockoutAndRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	var secret string
	auth, secret := enrolled(t, clock,
		codes(fixed("000000"), fixed("000000"), fixed("000000"), func() (string, error) {
			return totp.GenerateCode(secret, clock.Now())
		}),
		WithMaxAttempts(3), WithLockoutDuration(time.Minute))

	ctx := context.Background()
	assert.Equal(t, Failed, auth.Authenticate(ctx))
	assert.Equal(t, Failed, auth.Authenticate(ctx))
	assert.Equal(t, LockedOut, auth.Authenticate(ctx))

	assert.Equal(t, LockedOut, auth.Authenticate(ctx), "locked attempts do not prompt")
	assert.Equal(t, time.Minute, auth.LockoutRemaining())

	clock.Advance(61 * time.Second)
	assert.Zero(t, auth.LockoutRemaining())
	assert.Equal(t, Success, auth.Authenticate(ctx))
}

func TestTOTP_PromptError(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	auth, _ := enrolled(t, clock, codes(func() (string, error) { return "", errors.New("tty closed") }))
	assert.Equal(t, Failed, auth.Authenticate(context.Background()))
}

func TestTOTP_Unenroll(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	auth, _ := enrolled(t, clock, codes())
	require.NoError(t, auth.Unenroll())
	assert.False(t, auth.Enrolled())
	assert.Equal(t, NotEnrolled, auth.Authenticate(context.Background()))
}

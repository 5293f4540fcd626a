// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package unlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/jeranaias/nutrichat/internal/credential"
)

// validateOpts matches what authenticator apps generate by default.
var validateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTP unlocks with a time-based one-time code whose secret lives in the
// credential store.
type TOTP struct {
	store  credential.Store
	prompt Prompter
	logger *zap.Logger
	lock   *lockout
}

// Option configures a TOTP authenticator.
type Option func(*TOTP)

// WithMaxAttempts sets the failures allowed before lockout.
func WithMaxAttempts(n int) Option {
	return func(t *TOTP) {
		if n > 0 {
			t.lock.maxAttempts = n
		}
	}
}

// WithLockoutDuration sets the lockout duration.
func WithLockoutDuration(d time.Duration) Option {
	return func(t *TOTP) {
		if d > 0 {
			t.lock.duration = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *TOTP) {
		if now != nil {
			t.lock.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *TOTP) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTOTP creates a TOTP authenticator that reads codes from prompt.
func NewTOTP(store credential.Store, prompt Prompter, opts ...Option) *TOTP {
	t := &TOTP{
		store:  store,
		prompt: prompt,
		logger: zap.NewNop(),
		lock: &lockout{
			maxAttempts: DefaultMaxAttempts,
			duration:    DefaultLockoutDuration,
			now:         time.Now,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Enrolled reports whether a secret is stored.
func (t *TOTP) Enrolled() bool {
	secret, err := t.store.Get(credential.KeyTOTPSecret)
	credential.ZeroBytes(secret)
	return err == nil
}

// Enroll generates and stores a new secret, returning the otpauth:// URL to
// load into an authenticator app.
func (t *TOTP) Enroll(issuer, account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	if err := t.store.Save([]byte(key.Secret()), credential.KeyTOTPSecret); err != nil {
		return "", err
	}
	t.lock.success()
	t.logger.Info("unlock enrolled", zap.String("issuer", issuer))
	return key.URL(), nil
}

// Unenroll removes the stored secret.
func (t *TOTP) Unenroll() error {
	return t.store.Delete(credential.KeyTOTPSecret)
}

// LockoutRemaining returns the time left on an active lockout.
func (t *TOTP) LockoutRemaining() time.Duration {
	return t.lock.remaining()
}

// Authenticate implements Authenticator.
func (t *TOTP) Authenticate(ctx context.Context) Result {
	if t.lock.locked() {
		return LockedOut
	}

	secret, err := t.store.Get(credential.KeyTOTPSecret)
	if errors.Is(err, credential.ErrNotFound) {
		return NotEnrolled
	}
	if err != nil {
		t.logger.Warn("unlock secret unavailable", zap.Error(err))
		return Failed
	}
	defer credential.ZeroBytes(secret)

	code, err := t.prompt(ctx)
	if errors.Is(err, ErrPromptCancelled) || ctx.Err() != nil {
		return Cancelled
	}
	if err != nil {
		t.logger.Warn("unlock prompt failed", zap.Error(err))
		return Failed
	}

	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	ok, err := totp.ValidateCustom(code, string(secret), t.lock.now().UTC(), validateOpts)
	if err == nil && ok {
		t.lock.success()
		return Success
	}

	if t.lock.failure() {
		t.logger.Warn("unlock locked out", zap.Duration("duration", t.lock.duration))
		return LockedOut
	}
	return Failed
}

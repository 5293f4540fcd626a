// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/nutrichat/internal/api"
	"github.com/jeranaias/nutrichat/internal/credential"
)

// ErrMissingCredentials is returned when email or password is blank.
var ErrMissingCredentials = errors.New("email and password are required")

// Service exchanges credentials for a token and serves it to API calls.
type Service struct {
	api    *api.Client
	store  credential.Store
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service. client may be nil when only Token is needed.
func New(client *api.Client, store credential.Store, opts ...Option) *Service {
	s := &Service{
		api:    client,
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login authenticates and stores the returned access token. A previous token
// is replaced only after the new one is received.
func (s *Service) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return ErrMissingCredentials
	}
	if s.api == nil {
		return errors.New("auth: no api client")
	}

	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		s.logger.Info("login failed", zap.String("reason", string(api.ReasonOf(err))))
		return err
	}

	token := []byte(resp.AccessToken)
	defer credential.ZeroBytes(token)
	if err := s.store.Save(token, credential.KeyAccessToken); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	s.logger.Info("logged in")
	return nil
}

// Logout removes the stored token. Logging out twice is not an error.
func (s *Service) Logout() error {
	err := s.store.Delete(credential.KeyAccessToken)
	if err != nil && !errors.Is(err, credential.ErrNotFound) {
		return err
	}
	return nil
}

// Token implements api.TokenSource.
func (s *Service) Token(context.Context) (string, error) {
	raw, err := s.store.Get(credential.KeyAccessToken)
	if errors.Is(err, credential.ErrNotFound) {
		return "", api.ErrNotAuthenticated
	}
	if err != nil {
		return "", err
	}
	defer credential.ZeroBytes(raw)
	if len(raw) == 0 {
		return "", api.ErrNotAuthenticated
	}
	return string(raw), nil
}

// LoggedIn reports whether a token is stored.
func (s *Service) LoggedIn() bool {
	_, err := s.Token(context.Background())
	return err == nil
}

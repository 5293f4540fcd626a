// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"

	"github.com/jeranaias/nutrichat/internal/model"
)

// Backend paths, relative to the base URL.
const (
	PathLogin       = "/api/auth/login"
	PathChatStream  = "/api/chat/stream"
	PathImageStream = "/api/chat/image/stream"
	PathHistory     = "/api/chat/history"
)

// ImageUploadField is the multipart field name for image uploads.
const ImageUploadField = "file"

// LoginRequest is the body of a login call.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.DoJSON(ctx, http.MethodPost, PathLogin, LoginRequest{Email: email, Password: password}, &resp, false); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, Decoding("login response has no access_token", nil)
	}
	return &resp, nil
}

// historyResponse accepts both a bare array and {"messages": [...]}.
type historyResponse []model.HistoryEntry

func (h *historyResponse) UnmarshalJSON(data []byte) error {
	var entries []model.HistoryEntry
	if err := unmarshalEither(data, &entries, "messages", "history"); err != nil {
		return err
	}
	*h = entries
	return nil
}

// FetchHistory returns the server-side chat history of the signed-in user.
func (c *Client) FetchHistory(ctx context.Context) ([]model.HistoryEntry, error) {
	var resp historyResponse
	if err := c.DoJSON(ctx, http.MethodGet, PathHistory, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

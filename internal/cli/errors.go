// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/nutrichat/internal/api"
	"github.com/jeranaias/nutrichat/internal/chat"
	"github.com/jeranaias/nutrichat/internal/config"
	"github.com/jeranaias/nutrichat/internal/credential"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitAuthError    = 4
	ExitNetworkError = 5
	ExitTimeoutError = 8
)

// GetExitCode determines the exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var verrs config.ValidateErrors
	if errors.As(err, &verrs) {
		return ExitConfigError
	}
	if errors.Is(err, api.ErrNotAuthenticated) || errors.Is(err, credential.ErrDecryptionFailed) {
		return ExitAuthError
	}

	switch api.KindOf(err) {
	case api.KindTransport:
		if api.ReasonOf(err) == api.ReasonTimeout {
			return ExitTimeoutError
		}
		return ExitNetworkError
	case api.KindServer:
		switch api.ReasonOf(err) {
		case api.ReasonUnauthorized, api.ReasonForbidden:
			return ExitAuthError
		}
	}
	return ExitGeneralError
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// Describe turns an error into a line for the user.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, api.ErrNotAuthenticated):
		return "not logged in; run `nutrichat login`"
	case errors.Is(err, credential.ErrDecryptionFailed):
		return "credential store could not be decrypted; check NUTRICHAT_PASSPHRASE"
	case errors.Is(err, chat.ErrSendInFlight):
		return "still waiting for the previous reply"
	case errors.Is(err, api.ErrCancelled):
		return "cancelled"
	}

	switch api.ReasonOf(err) {
	case api.ReasonUnauthorized:
		return "session expired; run `nutrichat login`"
	case api.ReasonProfileNotFound:
		return "no diet profile yet; finish onboarding in the app first"
	case api.ReasonRateLimited:
		return "too many requests; try again shortly"
	case api.ReasonTimeout:
		return "the server took too long to answer"
	}

	if api.KindOf(err) == api.KindTransport {
		return fmt.Sprintf("cannot reach the server: %v", err)
	}
	return err.Error()
}

// DisplayError writes a styled error line.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[Error]"), Describe(err))
}

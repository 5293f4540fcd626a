// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package unlock

import (
	"context"
	"errors"
)

// Result is the outcome of an unlock attempt.
type Result int

const (
	Success Result = iota
	Cancelled
	Failed
	NotEnrolled
	LockedOut
)

// String returns the result name used in logs and prompts.
func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	case NotEnrolled:
		return "not enrolled"
	case LockedOut:
		return "locked out"
	default:
		return "unknown"
	}
}

// ErrPromptCancelled is returned by a Prompter when the user backs out.
var ErrPromptCancelled = errors.New("prompt cancelled")

// Authenticator gates access to stored credentials.
type Authenticator interface {
	Authenticate(ctx context.Context) Result
}

// Prompter asks the user for a one-time code.
type Prompter func(ctx context.Context) (string, error)

// Always is an Authenticator that returns a fixed result.
type Always Result

// Authenticate implements Authenticator.
func (a Always) Authenticate(context.Context) Result { return Result(a) }

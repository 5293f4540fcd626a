// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind classifies why a request or stream failed.
type Kind int

const (
	// KindTransport covers connectivity failures, resets and timeouts.
	KindTransport Kind = iota + 1
	// KindServer is a non-success status or an error event from the server.
	KindServer
	// KindDecoding is a malformed or oversized payload.
	KindDecoding
	// KindCancelled means the caller cancelled the operation.
	KindCancelled
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindServer:
		return "server"
	case KindDecoding:
		return "decoding"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Sentinels matched by *Error through errors.Is.
var (
	ErrTransport = errors.New("transport error")
	ErrServer    = errors.New("server error")
	ErrDecoding  = errors.New("decoding error")
	ErrCancelled = errors.New("cancelled")

	// ErrNotAuthenticated indicates no access token is available.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// =============================================================================
// REASON CODES
// =============================================================================

// Reason is a machine-checkable cause attached to server errors.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonBadRequest      Reason = "bad_request"
	ReasonUnauthorized    Reason = "unauthorized"
	ReasonForbidden       Reason = "forbidden"
	ReasonNotFound        Reason = "not_found"
	ReasonProfileNotFound Reason = "profile_not_found"
	ReasonValidation      Reason = "validation"
	ReasonRateLimited     Reason = "rate_limited"
	ReasonServer          Reason = "server"
	ReasonTimeout         Reason = "timeout"
	ReasonOversize        Reason = "oversize"
)

// ReasonForStatus maps an HTTP status to its default reason.
func ReasonForStatus(status int) Reason {
	switch {
	case status == http.StatusBadRequest:
		return ReasonBadRequest
	case status == http.StatusUnauthorized:
		return ReasonUnauthorized
	case status == http.StatusForbidden:
		return ReasonForbidden
	case status == http.StatusNotFound:
		return ReasonNotFound
	case status == http.StatusUnprocessableEntity:
		return ReasonValidation
	case status == http.StatusTooManyRequests:
		return ReasonRateLimited
	case status >= 500:
		return ReasonServer
	default:
		return ReasonNone
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is the single error type surfaced by the REST and streaming clients.
type Error struct {
	Kind    Kind
	Status  int    // HTTP status for server errors, 0 otherwise
	Reason  Reason // machine-checkable cause, may be empty
	Message string // human-readable detail
	Err     error  // underlying cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Reason != ReasonNone {
		fmt.Fprintf(&b, " [%s]", e.Reason)
	}
	switch {
	case e.Message != "" && e.Err != nil:
		fmt.Fprintf(&b, ": %s: %v", e.Message, e.Err)
	case e.Message != "":
		fmt.Fprintf(&b, ": %s", e.Message)
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows *Error to be compared with the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrServer:
		return e.Kind == KindServer
	case ErrDecoding:
		return e.Kind == KindDecoding
	case ErrCancelled:
		return e.Kind == KindCancelled
	}
	return false
}

// Transport wraps a connectivity failure.
func Transport(err error) *Error {
	return &Error{Kind: KindTransport, Err: err}
}

// Server builds a server error. An empty reason is derived from status.
func Server(status int, reason Reason, msg string) *Error {
	if reason == ReasonNone {
		reason = ReasonForStatus(status)
	}
	return &Error{Kind: KindServer, Status: status, Reason: reason, Message: msg}
}

// Decoding wraps a malformed payload.
func Decoding(msg string, err error) *Error {
	return &Error{Kind: KindDecoding, Message: msg, Err: err}
}

// Cancelled wraps a caller cancellation.
func Cancelled(err error) *Error {
	if err == nil {
		err = context.Canceled
	}
	return &Error{Kind: KindCancelled, Err: err}
}

// Classify maps a raw error from the HTTP stack or a body read into the
// taxonomy. ctx is consulted first so a cancelled request never reports as a
// transport failure. Errors that are already *Error pass through.
func Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return err
	}
	if ctx != nil {
		switch ctx.Err() {
		case context.Canceled:
			return Cancelled(err)
		case context.DeadlineExceeded:
			return &Error{Kind: KindTransport, Reason: ReasonTimeout, Err: err}
		}
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled(err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTransport, Reason: ReasonTimeout, Err: err}
	}
	return Transport(err)
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

// ReasonOf returns the reason code carried by err, if any.
func ReasonOf(err error) Reason {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Reason
	}
	return ReasonNone
}

// Retryable reports whether an idempotent request may be retried after err.
// Rate limiting, 5xx responses and transport failures are retryable;
// cancellation and timeouts of the caller's own deadline are not.
func Retryable(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Kind {
	case KindTransport:
		return apiErr.Reason != ReasonTimeout
	case KindServer:
		return apiErr.Reason == ReasonRateLimited || apiErr.Status >= 500
	}
	return false
}

// =============================================================================
// SERVER ERROR BODIES
// =============================================================================

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Code   string          `json:"code"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type validationItem struct {
	Msg string `json:"msg"`
}

// DecodeServerError builds a server error from a non-success response body.
// It understands {"detail": "..."}, {"detail": [{"msg": ...}]},
// {"detail": ..., "code": ...} and {"error": {"code", "message"}}, and falls
// back to the raw body text or the status text.
func DecodeServerError(status int, body []byte) *Error {
	msg, code := parseErrorBody(body)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return Server(status, Reason(code), msg)
}

// parseErrorBody extracts a message and optional code. Empty results mean the
// body did not match a known shape.
func parseErrorBody(body []byte) (string, string) {
	var eb errorBody
	if len(body) == 0 || json.Unmarshal(body, &eb) != nil {
		return "", ""
	}
	if eb.Error != nil && eb.Error.Message != "" {
		return eb.Error.Message, eb.Error.Code
	}
	return detailMessage(eb.Detail), eb.Code
}

func detailMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []validationItem
	if err := json.Unmarshal(raw, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	return ""
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jeranaias/nutrichat/internal/api"
	"github.com/jeranaias/nutrichat/internal/model"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Kind distinguishes stream events.
type Kind int

const (
	// KindDelta carries an incremental text fragment.
	KindDelta Kind = iota + 1
	// KindHistory carries the server's authoritative history. It is always
	// the last event of a stream.
	KindHistory
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindHistory:
		return "history"
	default:
		return "unknown"
	}
}

// Event is a single element of a response stream.
type Event struct {
	Kind    Kind
	Text    string               // KindDelta
	History []model.HistoryEntry // KindHistory
}

// Delta returns a delta event.
func Delta(text string) Event { return Event{Kind: KindDelta, Text: text} }

// History returns a history event.
func History(entries []model.HistoryEntry) Event {
	return Event{Kind: KindHistory, History: entries}
}

// ErrConsumed is yielded when a stream is iterated a second time.
var ErrConsumed = errors.New("stream already consumed")

// =============================================================================
// REQUESTS
// =============================================================================

// FilePart is a local file uploaded as a multipart form field.
type FilePart struct {
	Field string
	Path  string
}

// Request describes one streaming call. JSON and File are mutually
// exclusive; File wins when both are set.
type Request struct {
	Method string // defaults to POST
	Path   string
	JSON   any
	File   *FilePart
	Auth   bool
}

// =============================================================================
// CLIENT
// =============================================================================

// Client opens event streams against the backend.
type Client struct {
	api           *api.Client
	logger        *zap.Logger
	maxEventBytes int
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to the API client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxEventBytes bounds the size of a single event.
func WithMaxEventBytes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxEventBytes = n
		}
	}
}

// NewClient creates a streaming client on top of a REST client.
func NewClient(apiClient *api.Client, opts ...Option) *Client {
	c := &Client{
		api:           apiClient,
		logger:        apiClient.Logger(),
		maxEventBytes: DefaultMaxEventBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open prepares a stream. No I/O happens until the stream is iterated.
func (c *Client) Open(ctx context.Context, req Request) *Stream {
	if req.Method == "" {
		req.Method = http.MethodPost
	}
	return &Stream{ctx: ctx, req: req, client: c}
}

// StreamText streams the reply to a text message.
func (c *Client) StreamText(ctx context.Context, message string) *Stream {
	return c.Open(ctx, Request{
		Path: api.PathChatStream,
		JSON: map[string]string{"message": message},
		Auth: true,
	})
}

// StreamImage uploads a local image and streams the reply.
func (c *Client) StreamImage(ctx context.Context, localPath string) *Stream {
	return c.Open(ctx, Request{
		Path: api.PathImageStream,
		File: &FilePart{Field: api.ImageUploadField, Path: localPath},
		Auth: true,
	})
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is a lazy, single-use sequence of events for one request.
type Stream struct {
	ctx    context.Context
	req    Request
	client *Client
	used   atomic.Bool
}

// Events returns the event sequence. Iterating it performs the request and
// yields zero or more deltas, at most one history event and at most one
// error, after which iteration stops. The response body is released when
// iteration ends for any reason, including an early break.
func (s *Stream) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if !s.used.CompareAndSwap(false, true) {
			yield(Event{}, ErrConsumed)
			return
		}

		body, err := s.open()
		if err != nil {
			yield(Event{}, err)
			return
		}
		defer body.Close()

		log := s.client.logger.With(zap.String("path", s.req.Path))
		reader := NewSSEReader(body, s.client.maxEventBytes)
		reader.OnUnknownField = func(field string) {
			log.Debug("ignoring unknown stream field", zap.String("field", field))
		}

		for {
			if err := s.ctx.Err(); err != nil {
				yield(Event{}, api.Classify(s.ctx, err))
				return
			}

			frame, err := reader.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Event{}, s.readError(err))
				return
			}

			ev, action, err := decodeFrame(frame)
			switch {
			case err != nil:
				yield(Event{}, err)
				return
			case action == actionDone:
				return
			case action == actionSkip:
				name := ev.name
				if name == "" {
					name = "untyped"
				}
				log.Debug("skipping stream event", zap.String("type", name))
				continue
			}

			if !yield(ev.Event, nil) {
				return
			}
			if ev.Kind == KindHistory {
				return
			}
		}
	}
}

func (s *Stream) readError(err error) error {
	if errors.Is(err, ErrEventTooLarge) {
		return &api.Error{Kind: api.KindDecoding, Reason: api.ReasonOversize, Message: "stream event too large", Err: err}
	}
	return api.Classify(s.ctx, err)
}

// open sends the request and returns the body of a successful response.
func (s *Stream) open() (io.ReadCloser, error) {
	var (
		body        io.Reader
		upload      io.Closer
		contentType string
	)

	switch {
	case s.req.File != nil:
		rc, ct, err := api.MultipartFile(s.req.File.Field, s.req.File.Path)
		if err != nil {
			return nil, err
		}
		body, upload, contentType = rc, rc, ct
	case s.req.JSON != nil:
		payload, err := json.Marshal(s.req.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body, contentType = bytes.NewReader(payload), "application/json"
	}

	httpReq, err := s.client.api.NewRequest(s.ctx, s.req.Method, s.req.Path, body, contentType, s.req.Auth)
	if err != nil {
		if upload != nil {
			upload.Close()
		}
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.api.Do(httpReq)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// =============================================================================
// DECODING
// =============================================================================

type frameAction int

const (
	actionYield frameAction = iota
	actionSkip
	actionDone
)

type decoded struct {
	Event
	name string // event type, kept for logging skipped events
}

// envelope is the JSON shape of a structured stream event.
type envelope struct {
	Type     string          `json:"type"`
	Content  *string         `json:"content"`
	Messages json.RawMessage `json:"messages"`
	History  json.RawMessage `json:"history"`
	Data     json.RawMessage `json:"data"`
	Detail   json.RawMessage `json:"detail"`
	Message  string          `json:"message"`
	Code     string          `json:"code"`
}

func decodeFrame(f Frame) (decoded, frameAction, error) {
	if f.Data == "" {
		return decoded{}, actionSkip, nil
	}
	trimmed := strings.TrimSpace(f.Data)
	if trimmed == "[DONE]" {
		return decoded{}, actionDone, nil
	}
	// Plain payloads are raw text fragments; whitespace is significant.
	if trimmed == "" || trimmed[0] != '{' {
		return decoded{Event: Delta(f.Data)}, actionYield, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		if f.Event == "" {
			return decoded{Event: Delta(f.Data)}, actionYield, nil
		}
		return decoded{}, actionYield, api.Decoding("malformed stream event", err)
	}

	typ := strings.ToLower(env.Type)
	if typ == "" {
		typ = strings.ToLower(f.Event)
	}
	if typ == "" {
		typ = inferType(env)
	}
	if typ == "" {
		// A bare JSON object with no envelope fields is assistant text.
		return decoded{Event: Delta(f.Data)}, actionYield, nil
	}

	switch typ {
	case "message", "delta", "content", "token":
		if env.Content == nil {
			return decoded{name: typ}, actionSkip, nil
		}
		return decoded{Event: Delta(*env.Content)}, actionYield, nil

	case "history":
		entries, err := decodeHistory(env)
		if err != nil {
			return decoded{}, actionYield, err
		}
		return decoded{Event: History(entries)}, actionYield, nil

	case "error":
		return decoded{}, actionYield, eventError(trimmed, env)

	case "done", "end":
		return decoded{}, actionDone, nil
	}
	return decoded{name: typ}, actionSkip, nil
}

func inferType(env envelope) string {
	switch {
	case env.Messages != nil || env.History != nil:
		return "history"
	case env.Content != nil:
		return "message"
	case env.Detail != nil:
		return "error"
	}
	return ""
}

func decodeHistory(env envelope) ([]model.HistoryEntry, error) {
	for _, raw := range []json.RawMessage{env.Messages, env.History, env.Data} {
		if raw == nil {
			continue
		}
		var entries []model.HistoryEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, api.Decoding("malformed history event", err)
		}
		return entries, nil
	}
	return nil, api.Decoding("history event has no messages", nil)
}

func eventError(raw string, env envelope) error {
	var err *api.Error
	if env.Detail == nil && env.Message != "" {
		err = api.Server(0, api.Reason(env.Code), env.Message)
	} else {
		err = api.DecodeServerError(0, []byte(raw))
	}
	if err.Reason == api.ReasonNone {
		err.Reason = api.ReasonServer
	}
	return err
}

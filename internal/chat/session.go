// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/nutrichat/internal/api"
	"github.com/jeranaias/nutrichat/internal/model"
	"github.com/jeranaias/nutrichat/internal/stream"
)

// DefaultStreamTimeout bounds a single send, including the upload.
const DefaultStreamTimeout = 180 * time.Second

var (
	// ErrSendInFlight is returned when a send is attempted while another is
	// still streaming.
	ErrSendInFlight = errors.New("a message is already being sent")

	// ErrEmptyMessage is returned for blank text or an empty transcript.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoTranscriber is returned by SendVoice when no transcriber is set.
	ErrNoTranscriber = errors.New("speech-to-text is not available")

	// ErrNoHistory is returned by LoadHistory when no loader is set.
	ErrNoHistory = errors.New("history loading is not available")

	// errCleared reports a send whose messages were removed by Clear.
	errCleared = errors.New("session cleared")
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// EventSource is a single-use sequence of stream events.
type EventSource interface {
	Events() iter.Seq2[stream.Event, error]
}

// Streamer opens reply streams for the session.
type Streamer interface {
	StreamText(ctx context.Context, message string) EventSource
	StreamImage(ctx context.Context, localPath string) EventSource
}

// Transcriber converts a local recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, audioPath string) (string, error)

// Transcribe implements Transcriber.
func (f TranscriberFunc) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return f(ctx, audioPath)
}

// HistoryLoader fetches the server-side history of the thread.
type HistoryLoader interface {
	FetchHistory(ctx context.Context) ([]model.HistoryEntry, error)
}

type streamClient struct{ c *stream.Client }

func (s streamClient) StreamText(ctx context.Context, message string) EventSource {
	return s.c.StreamText(ctx, message)
}

func (s streamClient) StreamImage(ctx context.Context, localPath string) EventSource {
	return s.c.StreamImage(ctx, localPath)
}

// FromStreamClient adapts a streaming client to Streamer.
func FromStreamClient(c *stream.Client) Streamer {
	return streamClient{c: c}
}

// =============================================================================
// SESSION
// =============================================================================

// pending tracks the one send allowed at a time.
type pending struct {
	userID  string
	replyID string
	cancel  context.CancelFunc
}

// Session owns the ordered message list of one chat thread. All mutations
// are serialized by mu; observers receive immutable snapshots.
type Session struct {
	streams     Streamer
	transcriber Transcriber
	history     HistoryLoader
	logger      *zap.Logger
	timeout     time.Duration

	mu       sync.Mutex
	messages []model.Message
	version  uint64
	inflight *pending
	subs     map[int]chan model.Snapshot
	nextSub  int
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeout sets the per-send deadline. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

// WithTranscriber enables SendVoice.
func WithTranscriber(t Transcriber) Option {
	return func(s *Session) { s.transcriber = t }
}

// WithHistoryLoader enables LoadHistory.
func WithHistoryLoader(h HistoryLoader) Option {
	return func(s *Session) { s.history = h }
}

// New creates an empty session.
func New(streams Streamer, opts ...Option) *Session {
	s := &Session{
		streams: streams,
		logger:  zap.NewNop(),
		timeout: DefaultStreamTimeout,
		subs:    make(map[int]chan model.Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// SENDING
// =============================================================================

// SendText appends the user message and a placeholder, streams the reply
// into the placeholder and returns the final assistant message.
func (s *Session) SendText(ctx context.Context, text string) (model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, ErrEmptyMessage
	}
	user := model.NewUserText(text)
	return s.run(ctx, user, func(ctx context.Context) EventSource {
		return s.streams.StreamText(ctx, text)
	}, nil)
}

// SendImage appends a user image message backed by localPath, uploads it and
// streams the reply. The server caption from history is copied onto the user
// message; the local path is kept.
func (s *Session) SendImage(ctx context.Context, localPath string) (model.Message, error) {
	if strings.TrimSpace(localPath) == "" {
		return model.Message{}, ErrEmptyMessage
	}
	user := model.NewUserImage(localPath)
	return s.run(ctx, user, func(ctx context.Context) EventSource {
		return s.streams.StreamImage(ctx, localPath)
	}, reconcileImage)
}

// SendVoice transcribes the recording at localPath, appends a voice message
// carrying the transcript and streams the reply to the transcript. Nothing is
// appended when transcription fails or yields no text.
func (s *Session) SendVoice(ctx context.Context, localPath string) (model.Message, error) {
	if s.transcriber == nil {
		return model.Message{}, ErrNoTranscriber
	}
	if s.InFlight() {
		return model.Message{}, ErrSendInFlight
	}

	raw, err := s.transcriber.Transcribe(ctx, localPath)
	if err != nil {
		return model.Message{}, fmt.Errorf("transcribe %s: %w", localPath, err)
	}
	transcript := strings.TrimSpace(norm.NFC.String(raw))
	if transcript == "" {
		return model.Message{}, ErrEmptyMessage
	}

	user := model.NewUserVoice(transcript, localPath)
	return s.run(ctx, user, func(ctx context.Context) EventSource {
		return s.streams.StreamText(ctx, transcript)
	}, reconcileVoice)
}

// reconciler patches the local user message from server history.
type reconciler func(user *model.Message, entries []model.HistoryEntry)

func (s *Session) run(ctx context.Context, user model.Message, open func(context.Context) EventSource, reconcile reconciler) (model.Message, error) {
	op, ctx, err := s.begin(ctx, user)
	if err != nil {
		return model.Message{}, err
	}
	defer op.cancel()

	log := s.logger.With(zap.String("reply_id", op.replyID), zap.String("type", user.Type.String()))
	log.Debug("send started")

	var streamErr error
	deltas := 0
	for ev, err := range open(ctx).Events() {
		if err != nil {
			streamErr = err
			break
		}
		switch ev.Kind {
		case stream.KindDelta:
			streamErr = s.applyDelta(ctx, op, ev.Text)
			deltas++
		case stream.KindHistory:
			streamErr = s.applyHistory(ctx, op, ev.History, reconcile)
		}
		if streamErr != nil {
			break
		}
	}

	msg, err := s.finish(op, streamErr)
	if err != nil {
		log.Debug("send ended with error", zap.Int("deltas", deltas), zap.Error(err))
	} else {
		log.Debug("send completed", zap.Int("deltas", deltas))
	}
	return msg, err
}

// begin registers a send and appends its user message and placeholder.
func (s *Session) begin(parent context.Context, user model.Message) (*pending, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight != nil {
		return nil, nil, ErrSendInFlight
	}

	ctx, cancel := context.WithCancel(parent)
	if s.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.timeout)
		inner := cancel
		cancel = func() {
			cancelTimeout()
			inner()
		}
	}

	reply := model.NewPlaceholder()
	op := &pending{userID: user.ID, replyID: reply.ID, cancel: cancel}
	s.inflight = op
	s.messages = append(s.messages, user, reply)
	s.publishLocked()
	return op, ctx, nil
}

// applyDelta appends text to the placeholder. It refuses once the send has
// been cancelled or cleared so no fragment lands after cancellation.
func (s *Session) applyDelta(ctx context.Context, op *pending, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx, op); err != nil {
		return err
	}
	i := s.indexLocked(op.replyID)
	s.messages[i].Content += text
	s.publishLocked()
	return nil
}

func (s *Session) applyHistory(ctx context.Context, op *pending, entries []model.HistoryEntry, reconcile reconciler) error {
	if reconcile == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx, op); err != nil {
		return err
	}
	i := s.indexLocked(op.userID)
	if i < 0 {
		return nil
	}
	reconcile(&s.messages[i], entries)
	s.publishLocked()
	return nil
}

func (s *Session) checkLocked(ctx context.Context, op *pending) error {
	if s.inflight != op || s.indexLocked(op.replyID) < 0 {
		return api.Cancelled(errCleared)
	}
	if err := ctx.Err(); err != nil {
		return api.Classify(ctx, err)
	}
	return nil
}

// finish releases the in-flight slot and finalizes the placeholder.
func (s *Session) finish(op *pending, streamErr error) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight == op {
		s.inflight = nil
	}
	i := s.indexLocked(op.replyID)
	if i < 0 {
		if streamErr == nil {
			streamErr = api.Cancelled(errCleared)
		}
		return model.Message{}, streamErr
	}

	reply := &s.messages[i]
	reply.Pending = false
	reply.Truncated = streamErr != nil
	s.publishLocked()
	return reply.Clone(), streamErr
}

// =============================================================================
// CONTROL
// =============================================================================

// CancelPending cancels the in-flight send, if any. The partial reply stays
// in the list and is marked truncated once the send unwinds.
func (s *Session) CancelPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil {
		s.inflight.cancel()
	}
}

// Clear cancels any in-flight send and empties the list.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil {
		s.inflight.cancel()
		s.inflight = nil
	}
	s.messages = nil
	s.publishLocked()
}

// LoadHistory replaces the list with the server-side history.
func (s *Session) LoadHistory(ctx context.Context) (int, error) {
	if s.history == nil {
		return 0, ErrNoHistory
	}
	if s.InFlight() {
		return 0, ErrSendInFlight
	}

	entries, err := s.history.FetchHistory(ctx)
	if err != nil {
		return 0, err
	}

	msgs := make([]model.Message, len(entries))
	for i, e := range entries {
		msgs[i] = e.ToMessage()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil {
		return 0, ErrSendInFlight
	}
	s.messages = msgs
	s.publishLocked()
	return len(msgs), nil
}

// InFlight reports whether a send is streaming.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight != nil
}

// Messages returns a copy of the current list.
func (s *Session) Messages() []model.Message {
	return s.Snapshot().Messages
}

// Snapshot returns the current versioned list.
func (s *Session) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.NewSnapshot(s.version, s.messages)
}

func (s *Session) indexLocked(id string) int {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func reconcileImage(user *model.Message, entries []model.HistoryEntry) {
	entry, ok := model.LatestUser(entries, model.HistoryEntry.HasImage)
	if !ok {
		return
	}
	if entry.Content != "" {
		user.Content = entry.Content
	}
	if entry.TranscribedText != "" {
		user.TranscribedText = entry.TranscribedText
	}
	if user.ImageRef == nil {
		user.ImageRef = &model.AssetRef{}
	}
	user.ImageRef.URL = entry.ImageURL
}

func reconcileVoice(user *model.Message, entries []model.HistoryEntry) {
	entry, ok := model.LatestUser(entries, model.HistoryEntry.HasVoice)
	if !ok {
		return
	}
	if entry.TranscribedText != "" {
		user.TranscribedText = entry.TranscribedText
	}
	if user.VoiceRef == nil {
		user.VoiceRef = &model.AssetRef{}
	}
	user.VoiceRef.URL = entry.VoiceURL
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/nutrichat/internal/api"
	"github.com/jeranaias/nutrichat/internal/chat"
	"github.com/jeranaias/nutrichat/internal/config"
	"github.com/jeranaias/nutrichat/internal/credential"
	"github.com/jeranaias/nutrichat/internal/model"
	"github.com/jeranaias/nutrichat/internal/stream"
)

func init() {
	applyColorProfile(true)
}

// =============================================================================
// FAKES
// =============================================================================

type fakeSource struct {
	events []stream.Event
	err    error
}

func (f fakeSource) Events() iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		for _, ev := range f.events {
			if !yield(ev, nil) {
				return
			}
		}
		if f.err != nil {
			yield(stream.Event{}, f.err)
		}
	}
}

type fakeStreamer struct {
	mu     sync.Mutex
	texts  []string
	images []string
	reply  []string
	err    error
}

func (f *fakeStreamer) source() fakeSource {
	src := fakeSource{err: f.err}
	for _, r := range f.reply {
		src.events = append(src.events, stream.Delta(r))
	}
	return src
}

func (f *fakeStreamer) StreamText(_ context.Context, message string) chat.EventSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, message)
	return f.source()
}

func (f *fakeStreamer) StreamImage(_ context.Context, path string) chat.EventSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, path)
	return f.source()
}

func newTestREPL(streams chat.Streamer) (*repl, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	session := chat.New(streams, chat.WithTranscriber(chat.TranscriberFunc(sidecarTranscript)))
	r := newREPL(session, &out, &errOut)
	r.width = func() int { return 40 }
	r.interrupts = nil
	return r, &out, &errOut
}

// stallingStreamer yields one delta, then blocks until the send is cancelled.
type stallingStreamer struct {
	started chan struct{}
}

func (s *stallingStreamer) StreamText(ctx context.Context, _ string) chat.EventSource {
	return stallingSource{ctx: ctx, started: s.started}
}

func (s *stallingStreamer) StreamImage(ctx context.Context, _ string) chat.EventSource {
	return stallingSource{ctx: ctx, started: s.started}
}

type stallingSource struct {
	ctx     context.Context
	started chan struct{}
}

func (s stallingSource) Events() iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		if !yield(stream.Delta("Half a"), nil) {
			return
		}
		close(s.started)
		<-s.ctx.Done()
		yield(stream.Event{}, api.Cancelled(s.ctx.Err()))
	}
}

type historyFunc func(ctx context.Context) ([]model.HistoryEntry, error)

func (f historyFunc) FetchHistory(ctx context.Context) ([]model.HistoryEntry, error) { return f(ctx) }

// =============================================================================
// REPL
// =============================================================================

func TestReplyPrinter_PrintsSuffixes(t *testing.T) {
	var buf bytes.Buffer
	p := &replyPrinter{w: &buf}

	user := model.NewUserText("hi")
	reply := model.NewPlaceholder()

	p.update(model.NewSnapshot(1, []model.Message{user}))
	reply.Content = "Hel"
	p.update(model.NewSnapshot(2, []model.Message{user, reply}))
	reply.Content = "Hello there"
	p.update(model.NewSnapshot(3, []model.Message{user, reply}))

	reply.Pending = false
	p.finish(reply, nil)
	assert.Equal(t, "nutrichat> Hello there\n", buf.String())
}

func TestReplyPrinter_FinalOnlyAndInterrupted(t *testing.T) {
	var buf bytes.Buffer
	p := &replyPrinter{w: &buf}

	reply := model.NewPlaceholder()
	reply.Content = "Partial"
	reply.Pending = false
	reply.Truncated = true
	p.finish(reply, api.Cancelled(context.Canceled))
	assert.Equal(t, "nutrichat> Partial [interrupted]\n", buf.String())
}

func TestREPL_SendText(t *testing.T) {
	streams := &fakeStreamer{reply: []string{"Try ", "oatmeal."}}
	r, out, _ := newTestREPL(streams)

	quit, err := r.handle(context.Background(), "what's for breakfast?")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Equal(t, []string{"what's for breakfast?"}, streams.texts)
	assert.Contains(t, out.String(), "Try oatmeal.")

	msgs := r.session.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Try oatmeal.", msgs[1].Content)
}

func TestREPL_SendCancelledIsNotAnError(t *testing.T) {
	streams := &fakeStreamer{reply: []string{"Half"}, err: api.Cancelled(context.Canceled)}
	r, out, _ := newTestREPL(streams)

	_, err := r.handle(context.Background(), "hello")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[interrupted]")
}

func TestREPL_SendServerError(t *testing.T) {
	streams := &fakeStreamer{err: api.Server(401, "", "expired")}
	r, _, _ := newTestREPL(streams)

	_, err := r.handle(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, "session expired; run `nutrichat login`", Describe(err))
}

func TestREPL_Voice(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "note.m4a")
	require.NoError(t, os.WriteFile(audio, []byte("audio"), 0o600))

	streams := &fakeStreamer{reply: []string{"Logged."}}
	r, _, _ := newTestREPL(streams)

	_, err := r.handle(context.Background(), "/voice "+audio)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transcript found")
	assert.Empty(t, r.session.Messages())

	require.NoError(t, os.WriteFile(audio+".txt", []byte("  I had two eggs\n"), 0o600))
	_, err = r.handle(context.Background(), "/voice "+audio)
	require.NoError(t, err)
	assert.Equal(t, []string{"I had two eggs"}, streams.texts)

	msgs := r.session.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.TypeVoice, msgs[0].Type)
	assert.Equal(t, "I had two eggs", msgs[0].Content)
	assert.Equal(t, audio, msgs[0].VoiceRef.Path)
}

func TestREPL_Image(t *testing.T) {
	streams := &fakeStreamer{reply: []string{"Looks balanced."}}
	r, out, _ := newTestREPL(streams)

	_, err := r.handle(context.Background(), "/image")
	assert.EqualError(t, err, "usage: /image <path>")

	_, err = r.handle(context.Background(), "/image /tmp/lunch.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/lunch.jpg"}, streams.images)
	assert.Contains(t, out.String(), "Looks balanced.")
}

func TestREPL_HistoryTruncatesToWidth(t *testing.T) {
	streams := &fakeStreamer{reply: []string{strings.Repeat("protein ", 20)}}
	r, out, _ := newTestREPL(streams)

	_, err := r.handle(context.Background(), "how much protein?")
	require.NoError(t, err)
	out.Reset()

	_, err = r.handle(context.Background(), "/history")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "how much protein?")
	assert.True(t, strings.HasSuffix(lines[1], "..."), lines[1])
	for _, l := range lines {
		assert.LessOrEqual(t, len([]rune(l)), 40, l)
	}
}

func TestREPL_Commands(t *testing.T) {
	r, out, _ := newTestREPL(&fakeStreamer{reply: []string{"ok"}})
	ctx := context.Background()

	_, err := r.handle(ctx, "hello")
	require.NoError(t, err)

	_, err = r.handle(ctx, "/clear")
	require.NoError(t, err)
	assert.Empty(t, r.session.Messages())
	assert.Contains(t, out.String(), "Conversation cleared.")

	_, err = r.handle(ctx, "/help")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "/voice <path>")

	_, err = r.handle(ctx, "/reload")
	assert.ErrorIs(t, err, chat.ErrNoHistory)

	_, err = r.handle(ctx, "/bogus")
	assert.EqualError(t, err, "unknown command /bogus (try /help)")

	quit, err := r.handle(ctx, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestREPL_LoopReadsUntilQuit(t *testing.T) {
	streams := &fakeStreamer{reply: []string{"Hi!"}}
	r, out, errOut := newTestREPL(streams)

	in := &plainInput{lines: bufio.NewReader(strings.NewReader("\nhello\n/nope\n/quit\nignored\n")), out: out}
	require.NoError(t, r.loop(context.Background(), in))

	assert.Equal(t, []string{"hello"}, streams.texts)
	assert.Contains(t, errOut.String(), "unknown command /nope")
}

func TestREPL_LoopEndsOnEOF(t *testing.T) {
	r, out, _ := newTestREPL(&fakeStreamer{})
	in := &plainInput{lines: bufio.NewReader(strings.NewReader("")), out: out}
	assert.NoError(t, r.loop(context.Background(), in))
}

func TestREPL_InterruptCancelsOnlyDuringSend(t *testing.T) {
	streams := &stallingStreamer{started: make(chan struct{})}
	r, out, _ := newTestREPL(streams)

	sigs := make(chan os.Signal, 1)
	var subscribed, stopped int
	r.interrupts = func() (<-chan os.Signal, func()) {
		subscribed++
		return sigs, func() { stopped++ }
	}

	go func() {
		<-streams.started
		sigs <- os.Interrupt
	}()

	quit, err := r.handle(context.Background(), "is rice ok?")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, out.String(), "nutrichat> Half a [interrupted]")
	assert.Equal(t, 1, subscribed)
	assert.Equal(t, 1, stopped, "interrupts must be released once the send ends")
	assert.False(t, r.session.InFlight())

	// Commands that do not send leave Ctrl+C alone.
	_, err = r.handle(context.Background(), "/history")
	require.NoError(t, err)
	assert.Equal(t, 1, subscribed)
}

func TestREPL_LoadedReportsLastMessage(t *testing.T) {
	loader := historyFunc(func(context.Context) ([]model.HistoryEntry, error) {
		return []model.HistoryEntry{
			{Content: "Lunch?", IsUser: true},
			{Content: "A lentil bowl with greens keeps you full all afternoon."},
		}, nil
	})
	var out bytes.Buffer
	session := chat.New(&fakeStreamer{}, chat.WithHistoryLoader(loader))
	r := newREPL(session, &out, io.Discard)
	r.width = func() int { return 50 }

	n, err := session.LoadHistory(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	r.loaded()
	assert.Equal(t, "Loaded 2 messages. Last: A lentil bowl with gre...\n", out.String())
}

// =============================================================================
// ERRORS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"not authenticated", api.ErrNotAuthenticated, ExitAuthError},
		{"unauthorized", api.Server(401, "", "no"), ExitAuthError},
		{"transport", api.Transport(errors.New("refused")), ExitNetworkError},
		{"timeout", api.Classify(context.Background(), context.DeadlineExceeded), ExitTimeoutError},
		{"config", fmt.Errorf("invalid config: %w", config.ValidateErrors{{Field: "x", Message: "y"}}), ExitConfigError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
	assert.Equal(t, "not logged in; run `nutrichat login`", Describe(api.ErrNotAuthenticated))
	assert.Equal(t, "no diet profile yet; finish onboarding in the app first",
		Describe(api.Server(404, api.ReasonProfileNotFound, "Profile not found")))
	assert.Contains(t, Describe(api.Transport(errors.New("dial tcp: refused"))), "cannot reach the server")
	assert.Equal(t, "boom", Describe(errors.New("boom")))
}

// =============================================================================
// COMMANDS
// =============================================================================

type testApp struct {
	*app
	out    *bytes.Buffer
	errOut *bytes.Buffer
}

func newTestApp(t *testing.T, input string, store credential.Store) *testApp {
	t.Helper()
	in := strings.NewReader(input)
	var out, errOut bytes.Buffer
	a := &app{
		in:     in,
		lines:  bufio.NewReader(in),
		out:    &out,
		errOut: &errOut,
		openStore: func(*config.Config) (credential.Store, func() error, error) {
			return store, func() error { return nil }, nil
		},
	}
	return &testApp{app: a, out: &out, errOut: &errOut}
}

func (ta *testApp) run(args ...string) error {
	root := ta.rootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"NUTRICHAT_API_URL", "NUTRICHAT_LOG_LEVEL", "NUTRICHAT_STREAM_TIMEOUT", "NUTRICHAT_PASSPHRASE"} {
		t.Setenv(k, "")
	}
	t.Setenv("NUTRICHAT_LOG_LEVEL", "error")
}

func TestConfigInitAndShow(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	store := credential.NewMemoryStore()

	ta := newTestApp(t, "", store)
	require.NoError(t, ta.run("--config", path, "config", "init"))
	assert.Contains(t, ta.out.String(), "Wrote "+path)

	ta = newTestApp(t, "", store)
	err := ta.run("--config", path, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	ta = newTestApp(t, "", store)
	require.NoError(t, ta.run("--config", path, "config", "show"))
	assert.Contains(t, ta.out.String(), `base_url = "`+api.DefaultBaseURL+`"`)
	assert.Contains(t, ta.out.String(), "timeout_secs = 180")
}

func TestRoot_InvalidLogLevelFlag(t *testing.T) {
	clearEnv(t)
	ta := newTestApp(t, "", credential.NewMemoryStore())
	err := ta.run("--config", filepath.Join(t.TempDir(), "c.toml"), "--log-level", "loud", "config", "show")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, GetExitCode(err))
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(api.PathLogin, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"tok-abc","token_type":"bearer"}`)
	})
	mux.HandleFunc(api.PathHistory, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[]`)
	})
	mux.HandleFunc(api.PathChatStream, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range []string{`{"type":"message","content":"Eat more "}`, `{"type":"message","content":"greens."}`, `[DONE]`} {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			w.(http.Flusher).Flush()
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginChatLogout(t *testing.T) {
	clearEnv(t)
	srv := newBackend(t)
	t.Setenv("NUTRICHAT_API_URL", srv.URL)
	path := filepath.Join(t.TempDir(), "config.toml")
	store := credential.NewMemoryStore()

	ta := newTestApp(t, "", store)
	err := ta.run("--config", path, "chat")
	require.ErrorIs(t, err, api.ErrNotAuthenticated)
	assert.Equal(t, ExitAuthError, GetExitCode(err))

	ta = newTestApp(t, "sam@example.com\nhunter2\n", store)
	require.NoError(t, ta.run("--config", path, "login"))
	assert.Contains(t, ta.out.String(), "Logged in as sam@example.com")
	token, err := store.Get(credential.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", string(token))

	ta = newTestApp(t, "what should I eat?\n/history\n/quit\n", store)
	require.NoError(t, ta.run("--config", path, "chat"))
	assert.Contains(t, ta.out.String(), "Eat more greens.")
	assert.Contains(t, ta.out.String(), "what should I eat?")

	ta = newTestApp(t, "", store)
	require.NoError(t, ta.run("--config", path, "logout"))
	_, err = store.Get(credential.KeyAccessToken)
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestSidecarTranscript(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "a.wav")

	_, err := sidecarTranscript(context.Background(), audio)
	assert.Error(t, err, "missing recording")

	require.NoError(t, os.WriteFile(audio, nil, 0o600))
	require.NoError(t, os.WriteFile(audio+".txt", []byte("salad"), 0o600))
	got, err := sidecarTranscript(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, "salad", got)
}

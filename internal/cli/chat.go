// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command.
//
// Interactive Commands (during chat):
//   /image <path>       Send a meal photo
//   /voice <path>       Send a voice note (transcript read from <path>.txt)
//   /history            Show the conversation
//   /clear              Clear the conversation
//   /reload             Load the conversation from the server
//   /help               Show available commands
//   /quit               Exit chat
//   Ctrl+C              Cancel the reply being streamed
//   Ctrl+D              Exit chat

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/nutrichat/internal/api"
	"github.com/jeranaias/nutrichat/internal/chat"
	"github.com/jeranaias/nutrichat/internal/config"
	"github.com/jeranaias/nutrichat/internal/logging"
	"github.com/jeranaias/nutrichat/internal/model"
	"github.com/jeranaias/nutrichat/internal/stream"
	"github.com/jeranaias/nutrichat/internal/util"
)

func (a *app) chatCommand() *cobra.Command {
	var noHistory bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Example: `  nutrichat chat
  nutrichat chat --no-history
  NUTRICHAT_LOG_LEVEL=debug nutrichat chat`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd.Context(), !noHistory)
		},
	}
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "start without loading server history")
	return cmd
}

func (a *app) runChat(ctx context.Context, loadHistory bool) error {
	if err := a.services(); err != nil {
		return err
	}
	if !a.auth.LoggedIn() {
		return api.ErrNotAuthenticated
	}
	if a.cfg.Unlock.Enabled {
		if err := a.unlockGate(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	streams := stream.NewClient(a.client,
		stream.WithLogger(a.logger.Named("stream")),
		stream.WithMaxEventBytes(a.cfg.Stream.MaxEventBytes))
	session := chat.New(chat.FromStreamClient(streams),
		chat.WithLogger(a.logger.Named("chat")),
		chat.WithTimeout(a.cfg.StreamTimeout()),
		chat.WithTranscriber(chat.TranscriberFunc(sidecarTranscript)),
		chat.WithHistoryLoader(a.client))

	a.watchConfig(ctx)

	input := a.newInput()
	defer input.Close()

	r := newREPL(session, a.out, a.errOut)
	r.welcome()
	if loadHistory {
		if n, err := session.LoadHistory(ctx); err != nil {
			DisplayError(a.errOut, err)
		} else if n > 0 {
			r.loaded()
		}
	}
	return r.loop(ctx, input)
}

// watchConfig applies log level edits to the running session.
func (a *app) watchConfig(ctx context.Context) {
	path, err := a.configPath()
	if err != nil {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	go func() {
		err := config.Watch(ctx, path, func(cfg *config.Config, err error) {
			if err != nil {
				a.logger.Warn("config reload failed", zap.Error(err))
				return
			}
			if err := logging.SetLevel(a.level, cfg.Logging.Level); err != nil {
				a.logger.Warn("config reload failed", zap.Error(err))
				return
			}
			a.logger.Info("config reloaded", zap.String("log_level", cfg.Logging.Level))
		})
		if err != nil {
			a.logger.Debug("config watch stopped", zap.Error(err))
		}
	}()
}

// sidecarTranscript reads the transcript of a recording from <path>.txt.
// The terminal has no speech recognizer of its own.
func sidecarTranscript(_ context.Context, audioPath string) (string, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return "", err
	}
	data, err := os.ReadFile(audioPath + ".txt")
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("no transcript found (expected %s.txt)", filepath.Base(audioPath))
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// =============================================================================
// INPUT
// =============================================================================

// lineInput reads REPL lines.
type lineInput interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// newInput uses liner on a terminal and plain line reads otherwise.
func (a *app) newInput() lineInput {
	if f, ok := a.in.(*os.File); ok && f == os.Stdin && IsTTY() {
		return newLinerInput()
	}
	return &plainInput{lines: a.lines, out: a.out}
}

// linerInput provides line editing and persistent input history.
type linerInput struct {
	*liner.State
	historyFile string
}

func newLinerInput() *linerInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &linerInput{State: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(in.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return in
}

// Close saves the history with 0600 permissions and restores the terminal.
func (l *linerInput) Close() error {
	if err := os.MkdirAll(filepath.Dir(l.historyFile), util.PrivateDirPerm); err == nil {
		if f, err := os.OpenFile(l.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = l.State.WriteHistory(f)
			f.Close()
		}
	}
	return l.State.Close()
}

// plainInput reads lines from a pipe or test buffer.
type plainInput struct {
	lines *bufio.Reader
	out   io.Writer
}

func (p *plainInput) Prompt(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	return readLine(p.lines)
}

func (p *plainInput) AppendHistory(string) {}

func (p *plainInput) Close() error { return nil }

// =============================================================================
// REPL
// =============================================================================

type repl struct {
	session *chat.Session
	out     io.Writer
	errOut  io.Writer
	width   func() int

	// interrupts subscribes to Ctrl+C for the duration of one send. Nil
	// leaves interrupts alone.
	interrupts func() (<-chan os.Signal, func())
}

func newREPL(session *chat.Session, out, errOut io.Writer) *repl {
	return &repl{
		session:    session,
		out:        out,
		errOut:     errOut,
		width:      GetTerminalWidth,
		interrupts: notifyInterrupt,
	}
}

// notifyInterrupt routes SIGINT to a channel until stop is called. Outside a
// send the default handling applies, so Ctrl+C at a plain prompt exits.
func notifyInterrupt() (<-chan os.Signal, func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	return sigs, func() { signal.Stop(sigs) }
}

// cancelOnInterrupt cancels the pending send on Ctrl+C until the returned
// func is called.
func (r *repl) cancelOnInterrupt() func() {
	if r.interrupts == nil {
		return func() {}
	}
	sigs, stop := r.interrupts()
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-done:
				return
			case <-sigs:
				r.session.CancelPending()
			}
		}
	}()
	return func() {
		stop()
		close(done)
		<-exited
	}
}

func (r *repl) welcome() {
	fmt.Fprintln(r.out, TitleStyle.Render("nutrichat"))
	fmt.Fprintln(r.out, DimStyle.Render("Ask about meals, macros or your plan. /help lists commands."))
	fmt.Fprintln(r.out, RenderSeparator(r.width()))
}

// loop reads lines until /quit, Ctrl+D or an aborted prompt.
func (r *repl) loop(ctx context.Context, in lineInput) error {
	for {
		line, err := in.Prompt(PromptStyle.Render("you> "))
		if err != nil {
			fmt.Fprintln(r.out)
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		in.AppendHistory(line)

		quit, err := r.handle(ctx, line)
		if err != nil {
			DisplayError(r.errOut, err)
		}
		if quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handle runs one line. It reports whether the REPL should exit.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, r.send(ctx, func(ctx context.Context) (model.Message, error) {
			return r.session.SendText(ctx, line)
		})
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "/help", "/h", "/?":
		r.help()
	case "/image", "/i":
		if arg == "" {
			return false, errors.New("usage: /image <path>")
		}
		path := util.ExpandHome(arg)
		return false, r.send(ctx, func(ctx context.Context) (model.Message, error) {
			return r.session.SendImage(ctx, path)
		})
	case "/voice", "/v":
		if arg == "" {
			return false, errors.New("usage: /voice <path>")
		}
		path := util.ExpandHome(arg)
		return false, r.send(ctx, func(ctx context.Context) (model.Message, error) {
			return r.session.SendVoice(ctx, path)
		})
	case "/history":
		r.history()
	case "/clear", "/c":
		r.session.Clear()
		fmt.Fprintln(r.out, SuccessStyle.Render("Conversation cleared."))
	case "/reload", "/r":
		n, err := r.session.LoadHistory(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render(fmt.Sprintf("Loaded %d messages.", n)))
	case "/quit", "/q", "/exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (r *repl) help() {
	rows := [][2]string{
		{"/image <path>", "send a meal photo"},
		{"/voice <path>", "send a voice note (transcript in <path>.txt)"},
		{"/history", "show the conversation"},
		{"/clear", "clear the conversation"},
		{"/reload", "load the conversation from the server"},
		{"/quit", "exit"},
		{"Ctrl+C", "cancel the reply being streamed"},
	}
	for _, row := range rows {
		fmt.Fprintln(r.out, RenderKeyValue(row[0], row[1]))
	}
}

// history prints one line per message, truncated to the terminal width.
func (r *repl) history() {
	msgs := r.session.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No messages yet."))
		return
	}
	width := r.width()
	for _, m := range msgs {
		who := "nutrichat"
		style := AssistantStyle
		if m.IsUser {
			who, style = "you", UserStyle
		}
		prefix := fmt.Sprintf("%s %-9s ", m.Timestamp.Local().Format("15:04"), who)

		text := historyText(m)
		if m.Truncated {
			text += " [interrupted]"
		}
		avail := width - len(prefix)
		if avail < 10 {
			avail = 10
		}
		fmt.Fprintln(r.out, style.Render(prefix)+util.TruncateWidth(util.SingleLine(text), avail))
	}
}

func historyText(m model.Message) string {
	switch m.Type {
	case model.TypeImage:
		if m.Content != "" {
			return "[photo] " + m.Content
		}
		return "[photo]"
	case model.TypeVoice:
		if m.TranscribedText != "" {
			return "[voice] " + m.TranscribedText
		}
		return "[voice] " + m.Content
	default:
		return m.Content
	}
}

// loaded reports the history fetched at startup.
func (r *repl) loaded() {
	snap := r.session.Snapshot()
	last, ok := snap.Last()
	if !ok {
		return
	}
	line := fmt.Sprintf("Loaded %d messages. Last: ", snap.Len())
	avail := r.width() - len(line)
	if avail < 10 {
		avail = 10
	}
	fmt.Fprintln(r.out, DimStyle.Render(line+util.TruncateWidth(util.SingleLine(historyText(last)), avail)))
}

// send runs a send and prints the reply as it streams in.
func (r *repl) send(ctx context.Context, do func(context.Context) (model.Message, error)) error {
	stopInterrupts := r.cancelOnInterrupt()
	defer stopInterrupts()

	snaps, unsubscribe := r.session.Subscribe()
	p := &replyPrinter{w: r.out}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for snap := range snaps {
			p.update(snap)
		}
	}()

	reply, err := do(ctx)
	unsubscribe()
	<-done
	p.finish(reply, err)

	if errors.Is(err, api.ErrCancelled) {
		return nil
	}
	return err
}

// replyPrinter writes the growing reply text to w, one suffix at a time.
type replyPrinter struct {
	w       io.Writer
	id      string
	printed int
	started bool
}

// update prints whatever the tracked reply gained since the last snapshot.
// The first pending reply seen becomes the tracked one.
func (p *replyPrinter) update(snap model.Snapshot) {
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		m := snap.Messages[i]
		if p.id == "" && m.Pending && !m.IsUser {
			p.id = m.ID
		}
		if m.ID == p.id {
			p.write(m.Content)
			return
		}
	}
}

func (p *replyPrinter) write(content string) {
	if len(content) <= p.printed {
		return
	}
	if !p.started {
		fmt.Fprint(p.w, AssistantStyle.Render("nutrichat> "))
		p.started = true
	}
	fmt.Fprint(p.w, content[p.printed:])
	p.printed = len(content)
}

// finish flushes the final reply and ends the line.
func (p *replyPrinter) finish(reply model.Message, err error) {
	if reply.ID != "" && (p.id == "" || p.id == reply.ID) {
		p.id = reply.ID
		p.write(reply.Content)
	}
	if !p.started {
		return
	}
	if reply.Truncated || err != nil {
		fmt.Fprint(p.w, " "+WarningStyle.Render("[interrupted]"))
	}
	fmt.Fprintln(p.w)
}

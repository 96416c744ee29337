// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

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
	"golang.org/x/term"

	"github.com/jeranaias/memchat/internal/chat"
	"github.com/jeranaias/memchat/internal/config"
	"github.com/jeranaias/memchat/internal/model"
	"github.com/jeranaias/memchat/internal/util"
)

// chatHelp is printed by /help.
const chatHelp = `Commands:
  /help, /h            Show this help
  /new                 Start a new session
  /clear, /c           Clear the transcript (backend memory is kept)
  /mode [mode]         Show or set the context mode
  /stats, /s           Refresh backend memory statistics
  /context [query]     Show the memory context for this session
  /history             Show the transcript
  /forget              Delete this session's history on the backend
  /quit, /q            Exit
  Ctrl+C               Cancel the current reply
  Ctrl+D               Exit`

type chatOptions struct {
	mode     string
	noStream bool
}

func newChatCmd(flags *globalFlags) *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Example: `  memchat chat
  memchat chat --mode recent_only
  memchat --api-base http://10.0.0.5:8000 chat`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, flags, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "context mode: hybrid, recent_only, semantic_only, none")
	cmd.Flags().BoolVar(&opts.noStream, "no-stream", false, "wait for whole replies instead of streaming")
	return cmd
}

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of user input.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close()
}

// linerReader provides history and line editing on a terminal.
type linerReader struct {
	line        *liner.State
	historyFile string
}

func newLinerReader() *linerReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &linerReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *linerReader) ReadLine(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (r *linerReader) Close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// scanReader reads piped input.
type scanReader struct {
	scanner *bufio.Scanner
}

func (r *scanReader) ReadLine(string) (string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *scanReader) Close() {}

// newLineReader uses liner when stdin and stdout are terminals.
func newLineReader(cmd *cobra.Command) lineReader {
	in, inOK := cmd.InOrStdin().(*os.File)
	out, outOK := cmd.OutOrStdout().(*os.File)
	if inOK && outOK && term.IsTerminal(int(in.Fd())) && term.IsTerminal(int(out.Fd())) {
		return newLinerReader()
	}
	return &scanReader{scanner: bufio.NewScanner(cmd.InOrStdin())}
}

// terminalWidth returns the width of w, or 80.
func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 80
}

// =============================================================================
// REPL
// =============================================================================

// repl is one interactive chat.
type repl struct {
	app       *app
	ctrl      *chat.Controller
	out       io.Writer
	errOut    io.Writer
	streaming bool
}

func runChat(cmd *cobra.Command, flags *globalFlags, opts *chatOptions) error {
	a, err := newApp(cmd, flags)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	a.serveMetrics(ctx)

	ctrl, err := a.newController(opts.mode)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	r := &repl{
		app:       a,
		ctrl:      ctrl,
		out:       cmd.OutOrStdout(),
		errOut:    cmd.ErrOrStderr(),
		streaming: a.cfg.Chat.Streaming && !opts.noStream,
	}

	if a.configPath != "" {
		go r.watchConfig(ctx, a.configPath)
	}

	r.printWelcome()
	if a.cfg.Chat.RefreshStatsOnStart {
		if err := ctrl.RefreshMemoryStats(ctx); err != nil {
			fmt.Fprintf(r.errOut, "[Warning] memory stats unavailable: %v\n", err)
		} else if s := ctrl.Snapshot().MemoryStats; s != nil {
			fmt.Fprintf(r.out, "Memory: %s\n", s.Summary())
		}
	}
	fmt.Fprintln(r.out)

	input := newLineReader(cmd)
	defer input.Close()

	for {
		line, err := input.ReadLine("memchat> ")
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or end of input.
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				return err
			}
			r.printGoodbye()
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if !r.handleCommand(ctx, line) {
				r.printGoodbye()
				return nil
			}
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			r.printGoodbye()
			return nil
		}

		if err := r.sendLine(ctx, line); err != nil {
			fmt.Fprintf(r.errOut, "[Error] %v\n", err)
		}
	}
}

// sendLine sends one message. Ctrl+C cancels it without leaving the REPL.
func (r *repl) sendLine(ctx context.Context, text string) error {
	sendCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Fprintln(r.out)
	err := send(r.ctrl, r.out, func() error {
		if r.streaming {
			return r.ctrl.SendMessageStreaming(sendCtx, text)
		}
		return r.ctrl.SendMessage(sendCtx, text)
	})
	if err != nil {
		return err
	}
	if sendCtx.Err() != nil && ctx.Err() == nil {
		fmt.Fprintln(r.errOut, "[Cancelled]")
		return nil
	}
	if info := r.ctrl.Snapshot().ContextInfo; info != nil {
		fmt.Fprintf(r.errOut, "[context: %s]\n", info.Summary())
	}
	fmt.Fprintln(r.out)
	return nil
}

// handleCommand runs a slash command. It returns false to exit.
func (r *repl) handleCommand(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/help", "/h", "/?":
		fmt.Fprintln(r.out, chatHelp)

	case "/quit", "/q", "/exit":
		return false

	case "/new":
		s := r.ctrl.StartNewSession()
		fmt.Fprintf(r.out, "New session %s (mode %s)\n", s.ID, s.ContextMode)

	case "/clear", "/c":
		r.ctrl.ClearMessages()
		fmt.Fprintln(r.out, "Transcript cleared.")

	case "/mode":
		if arg == "" {
			mode := r.ctrl.Snapshot().ContextMode
			fmt.Fprintf(r.out, "Context mode: %s (%s)\n", mode, mode.Description())
			return true
		}
		mode, err := model.ParseContextMode(arg)
		if err == nil {
			err = r.ctrl.SetContextMode(mode)
		}
		if err != nil {
			fmt.Fprintf(r.errOut, "[Error] %v\n", err)
			return true
		}
		fmt.Fprintf(r.out, "Context mode set to %s\n", mode)

	case "/stats", "/s":
		if err := r.ctrl.RefreshMemoryStats(ctx); err != nil {
			fmt.Fprintf(r.errOut, "[Error] %v\n", err)
			return true
		}
		if s := r.ctrl.Snapshot().MemoryStats; s != nil {
			printStats(r.out, *s)
		}

	case "/context":
		sc, err := r.ctrl.LoadSessionContext(ctx, arg)
		if err != nil {
			fmt.Fprintf(r.errOut, "[Error] %v\n", err)
			return true
		}
		fmt.Fprintf(r.out, "Context: %s\n\n%s\n", sc.Analysis.Summary(), sc.Context)

	case "/history":
		r.printHistory()

	case "/forget":
		resp, err := r.ctrl.ClearSessionMemory(ctx)
		if err != nil {
			fmt.Fprintf(r.errOut, "[Error] %v\n", err)
			return true
		}
		fmt.Fprintln(r.out, resp.Message)

	default:
		fmt.Fprintf(r.errOut, "Unknown command %s. Type /help for commands.\n", name)
	}
	return true
}

func (r *repl) printWelcome() {
	s := r.ctrl.Snapshot()
	fmt.Fprintf(r.out, "memchat %s | backend %s\n", Version, r.app.client.BaseURL())
	fmt.Fprintf(r.out, "Session %s | context mode %s\n", s.ID, s.ContextMode)
	fmt.Fprintln(r.out, "Type /help for commands, /quit to exit.")
}

func (r *repl) printHistory() {
	s := r.ctrl.Snapshot()
	if len(s.Messages) == 0 {
		fmt.Fprintln(r.out, "No messages yet.")
		return
	}
	width := terminalWidth(r.out)
	streaming, isStreaming := s.Streaming()
	for _, m := range s.Messages {
		prefix := fmt.Sprintf("%s %-9s ", m.Timestamp.Format("15:04:05"), m.Sender.DisplayName()+":")
		avail := width - util.StringWidth(prefix)
		if avail < 10 {
			avail = 10
		}
		text := m.Preview(avail)
		switch {
		case isStreaming && m.ID == streaming.ID:
			text = util.TruncateWidth(text+" [streaming]", avail)
		case !m.IsUser() && !m.Complete && !m.Streaming:
			text = util.TruncateWidth(text+" [interrupted]", avail)
		}
		fmt.Fprintln(r.out, prefix+text)
	}
}

func (r *repl) printGoodbye() {
	s := r.ctrl.Snapshot()
	fmt.Fprintf(r.out, "\nSession %s: %d messages.\n", s.ID, len(s.Messages))
}

// watchConfig re-applies context_mode when the config file changes.
func (r *repl) watchConfig(ctx context.Context, path string) {
	last := r.app.cfg.Chat.Mode()
	err := config.Watch(ctx, path, func(cfg *config.Config, err error) {
		if err != nil {
			r.app.log.Warn().Err(err).Str("path", path).Msg("CONFIG_RELOAD_FAILED")
			return
		}
		mode := cfg.Chat.Mode()
		if mode == last {
			return
		}
		last = mode
		if err := r.ctrl.SetContextMode(mode); err != nil {
			r.app.log.Warn().Err(err).Msg("CONFIG_RELOAD_FAILED")
			return
		}
		r.app.log.Info().Str("context_mode", string(mode)).Msg("CONFIG_RELOADED")
	})
	if err != nil && ctx.Err() == nil {
		r.app.log.Warn().Err(err).Str("path", path).Msg("CONFIG_WATCH_FAILED")
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/memchat/internal/chat"
	"github.com/jeranaias/memchat/internal/model"
)

// =============================================================================
// ASK
// =============================================================================

type askOptions struct {
	mode     string
	noStream bool
	quiet    bool
}

func newAskCmd(flags *globalFlags) *cobra.Command {
	opts := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask <message...>",
		Short: "Send one message and print the reply",
		Example: `  memchat ask "what did we talk about yesterday?"
  memchat ask --mode semantic_only "remind me of the plan"
  memchat ask --no-stream hello`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, flags, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "context mode: hybrid, recent_only, semantic_only, none")
	cmd.Flags().BoolVar(&opts.noStream, "no-stream", false, "wait for the whole reply instead of streaming")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "print only the reply")
	return cmd
}

func runAsk(cmd *cobra.Command, flags *globalFlags, opts *askOptions, message string) error {
	a, err := newApp(cmd, flags)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	a.serveMetrics(ctx)

	ctrl, err := a.newController(opts.mode)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	streaming := a.cfg.Chat.Streaming && !opts.noStream
	out := cmd.OutOrStdout()
	err = send(ctrl, out, func() error {
		if streaming {
			return ctrl.SendMessageStreaming(ctx, message)
		}
		return ctrl.SendMessage(ctx, message)
	})
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return errors.New("cancelled")
	}

	if !opts.quiet {
		printExchangeFooter(cmd.ErrOrStderr(), ctrl)
	}
	return nil
}

// printExchangeFooter prints the session id and context used by the last
// exchange.
func printExchangeFooter(w io.Writer, ctrl *chat.Controller) {
	s := ctrl.Snapshot()
	line := "session " + s.ID
	if s.ContextInfo != nil {
		line += " | context " + s.ContextInfo.Summary()
	}
	fmt.Fprintf(w, "[%s]\n", line)
}

// =============================================================================
// STATS
// =============================================================================

func newStatsCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show backend memory statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			stats, err := a.client.MemoryStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to fetch memory stats: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			printStats(cmd.OutOrStdout(), *stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func printStats(w io.Writer, stats model.MemoryStats) {
	fmt.Fprintf(w, "Memory:   %s\n", stats.Summary())
	if !stats.Operational() {
		return
	}
	if at, ok := stats.LastMessageAt(); ok {
		fmt.Fprintf(w, "Last:     %s\n", at.Format("2006-01-02 15:04:05"))
	}
}

// =============================================================================
// CONTEXT / FORGET
// =============================================================================

func newContextCmd(flags *globalFlags) *cobra.Command {
	var (
		sessionID string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "context [query...]",
		Short: "Show the memory context the backend would use for a session",
		Example: `  memchat context --session 0192f... "project deadlines"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			if query == "" {
				query = chat.DefaultContextQuery
			}
			sc, err := a.client.SessionContext(cmd.Context(), sessionID, query)
			if err != nil {
				return fmt.Errorf("failed to load session context: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sc)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Context: %s\n\n%s\n", sc.Analysis.Summary(), sc.Context)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newForgetCmd(flags *globalFlags) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Delete a session's stored history from the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			resp, err := a.client.ClearSession(cmd.Context(), sessionID)
			if err != nil {
				return fmt.Errorf("failed to clear session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (required)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

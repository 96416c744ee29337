// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command mockbackend runs the development chat backend that memchat talks
// to. History lives in SQLite (in memory unless --db is given); replies are
// echoes annotated with the memory they were given.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/memchat/internal/config"
	"github.com/jeranaias/memchat/internal/logging"
	"github.com/jeranaias/memchat/internal/mockbackend"
)

// Version is set at build time.
var Version = "dev"

type serveOptions struct {
	addr       string
	dsn        string
	chunkWords int
	chunkDelay time.Duration
	metrics    bool
	origins    []string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:          "mockbackend",
		Short:        "Development hybrid-memory chat backend",
		Version:      Version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", mockbackend.DefaultAddr, "listen address")
	f.StringVar(&opts.dsn, "db", "", "SQLite database file (default: in memory)")
	f.IntVar(&opts.chunkWords, "chunk-words", mockbackend.DefaultChunkWords, "words per streamed content record")
	f.DurationVar(&opts.chunkDelay, "chunk-delay", mockbackend.DefaultChunkDelay, "pause between streamed content records")
	f.BoolVar(&opts.metrics, "metrics", true, "serve Prometheus metrics at /metrics")
	f.StringSliceVar(&opts.origins, "cors-origin", nil, "allowed browser origin (repeatable)")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level")
	f.StringVar(&opts.logFormat, "log-format", "auto", "log format: auto, console, json")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *serveOptions) error {
	log, err := logging.New(config.LogConfig{Level: opts.logLevel, Format: opts.logFormat}, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	store, err := mockbackend.OpenStore(opts.dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	var cors *mockbackend.CORSConfig
	if len(opts.origins) > 0 {
		cors = &mockbackend.CORSConfig{AllowedOrigins: opts.origins}
	}

	srv, err := mockbackend.NewServer(mockbackend.Options{
		Store:         store,
		Logger:        &log,
		ChunkWords:    opts.chunkWords,
		ChunkDelay:    opts.chunkDelay,
		CORS:          cors,
		ExposeMetrics: opts.metrics,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(opts.addr)
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "mockbackend listening on http://%s\n", opts.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

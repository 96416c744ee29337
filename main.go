// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// memchat is a terminal client for a hybrid-memory chat backend.
//
// Usage:
//
//	memchat chat                      Interactive chat (streaming)
//	memchat ask "hello"               One-shot question
//	memchat stats                     Backend memory statistics
//	memchat context --session ID      Memory context for a session
//	memchat forget --session ID       Clear a session's stored memory
//	memchat config init|show|get|set  Manage ~/.memchat/config.toml
//	memchat version                   Print version information
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/memchat/internal/backend"
	"github.com/jeranaias/memchat/internal/chat"
	"github.com/jeranaias/memchat/internal/config"
	"github.com/jeranaias/memchat/internal/logging"
	"github.com/jeranaias/memchat/internal/metrics"
	"github.com/jeranaias/memchat/internal/model"
)

// Version information (set at build time via ldflags).
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath  string
	apiBase     string
	logLevel    string
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "memchat",
		Short: "memchat - chat with a hybrid-memory backend",
		Long: `memchat is a terminal client for a chat backend that remembers.

Each conversation is a session. The backend answers with context drawn from
the session's recent history, from semantically related memories of earlier
sessions, or both, depending on the context mode.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ~/.memchat/config.toml)")
	pf.StringVar(&flags.apiBase, "api-base", "", "backend base URL (overrides config)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newChatCmd(flags))
	cmd.AddCommand(newAskCmd(flags))
	cmd.AddCommand(newStatsCmd(flags))
	cmd.AddCommand(newContextCmd(flags))
	cmd.AddCommand(newForgetCmd(flags))
	cmd.AddCommand(newConfigCmd(flags))

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "memchat %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app holds what every backend command needs.
type app struct {
	cfg        *config.Config
	configPath string
	log        zerolog.Logger
	client     *backend.Client
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig(flags *globalFlags) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path = flags.configPath
		err  error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
		if err != nil {
			return nil, "", err
		}
	} else {
		cfg, err = config.Load()
		if cfg == nil {
			return nil, "", err
		}
		// A broken file falls back to defaults; the caller logs err.
		if p, perr := config.ConfigPathTOML(); perr == nil {
			if _, serr := os.Stat(p); serr == nil {
				path = p
			}
		}
	}

	if flags.apiBase != "" {
		cfg.Backend.BaseURL = flags.apiBase
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.metricsAddr != "" {
		cfg.Metrics.ListenAddr = flags.metricsAddr
	}
	if verr := cfg.Validate(); verr != nil {
		return nil, "", fmt.Errorf("invalid config: %w", verr)
	}
	return cfg, path, err
}

// newApp loads config and builds the logger and backend client.
func newApp(cmd *cobra.Command, flags *globalFlags) (*app, error) {
	cfg, path, loadErr := loadConfig(flags)
	if cfg == nil {
		return nil, loadErr
	}

	log, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if loadErr != nil {
		log.Warn().Err(loadErr).Msg("CONFIG_FALLBACK_DEFAULTS")
	}

	client := backend.NewClientWithConfig(&backend.ClientConfig{
		BaseURL:   cfg.Backend.BaseURL,
		Timeout:   cfg.Backend.Timeout(),
		RateLimit: cfg.Backend.RateLimit,
		Burst:     cfg.Backend.Burst,
		UserAgent: "memchat/" + Version,
		Logger:    &log,
	})

	return &app{cfg: cfg, configPath: path, log: log, client: client}, nil
}

// newController creates a chat controller. An empty mode uses the config.
func (a *app) newController(mode string) (*chat.Controller, error) {
	m := a.cfg.Chat.Mode()
	if mode != "" {
		parsed, err := model.ParseContextMode(mode)
		if err != nil {
			return nil, err
		}
		m = parsed
	}
	return chat.New(a.client, chat.Options{ContextMode: m, Logger: &a.log}), nil
}

// serveMetrics serves /metrics until ctx is done. It is a no-op when no
// address is configured.
func (a *app) serveMetrics(ctx context.Context) {
	addr := a.cfg.Metrics.ListenAddr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.log.Info().Str("addr", addr).Msg("METRICS_LISTEN")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("METRICS_SERVER_FAILED")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}

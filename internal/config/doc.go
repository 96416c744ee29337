// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for memchat.
//
// Supports both TOML and JSON configuration formats, with defaults,
// environment variable overrides, validation and live reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - BackendConfig: Backend URL, timeout and request pacing
//   - ChatConfig: Context mode and streaming defaults
//   - LogConfig: Logger level and output format
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (MEMCHAT_*), including a .env file in the working directory
//   - ~/.memchat/config.toml
//   - ~/.memchat/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := backend.NewClientWithConfig(&backend.ClientConfig{
//	    BaseURL: cfg.Backend.BaseURL,
//	    Timeout: cfg.Backend.Timeout(),
//	})
//
// Reload on edit:
//
//	go config.Watch(ctx, path, func(cfg *config.Config, err error) { ... })
package config

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/memchat/internal/model"
)

// clearEnv unsets every override so tests see file values only.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MEMCHAT_API_BASE", "MEMCHAT_TIMEOUT", "MEMCHAT_RATE_LIMIT", "MEMCHAT_CONTEXT_MODE",
		"MEMCHAT_STREAMING", "MEMCHAT_LOG_LEVEL", "MEMCHAT_METRICS_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, model.ContextHybrid, cfg.Chat.Mode())
	assert.True(t, cfg.Chat.Streaming)
	assert.Equal(t, 60*time.Second, cfg.Backend.Timeout())
}

func TestLoadFromPath_TOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", `
[backend]
base_url = "https://chat.example.com"
rate_limit = 2.5

[chat]
context_mode = "semantic_only"
streaming = false
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, 2.5, cfg.Backend.RateLimit)
	assert.Equal(t, 60, cfg.Backend.TimeoutSecs, "missing keys keep defaults")
	assert.Equal(t, model.ContextSemanticOnly, cfg.Chat.Mode())
	assert.False(t, cfg.Chat.Streaming)
	assert.True(t, cfg.Chat.RefreshStatsOnStart)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadFromPath_JSON(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.json", `{"backend":{"base_url":"http://10.0.0.2:9000"},"log":{"level":"debug"}}`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.2:9000", cfg.Backend.BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromPath_Invalid(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", `
[backend]
base_url = "ftp://example.com"
burst = -1

[chat]
context_mode = "everything"
`)

	_, err := LoadFromPath(path)

	var verrs ValidateErrors
	require.ErrorAs(t, err, &verrs)
	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"backend.base_url", "backend.burst", "chat.context_mode"}, fields)
}

func TestLoadFromPath_BadSyntax(t *testing.T) {
	path := writeFile(t, "config.toml", "[backend\nbase_url=")
	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEMCHAT_API_BASE", "http://override:8000")
	t.Setenv("MEMCHAT_CONTEXT_MODE", "recent_only")
	t.Setenv("MEMCHAT_STREAMING", "false")
	t.Setenv("MEMCHAT_RATE_LIMIT", "4")
	t.Setenv("MEMCHAT_TIMEOUT", "not-a-number")
	t.Setenv("MEMCHAT_LOG_LEVEL", "debug")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "http://override:8000", cfg.Backend.BaseURL)
	assert.Equal(t, "recent_only", cfg.Chat.ContextMode)
	assert.False(t, cfg.Chat.Streaming)
	assert.Equal(t, 4.0, cfg.Backend.RateLimit)
	assert.Equal(t, 60, cfg.Backend.TimeoutSecs)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_DotEnvAndHome(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("MEMCHAT_API_BASE")
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	work := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(work, ".env"), []byte("MEMCHAT_API_BASE=http://from-dotenv:8000\n"), 0600))
	t.Chdir(work)
	t.Cleanup(func() { os.Unsetenv("MEMCHAT_API_BASE") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://from-dotenv:8000", cfg.Backend.BaseURL)
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Chat.ContextMode = string(model.ContextNone)
	cfg.Metrics.ListenAddr = "127.0.0.1:9464"

	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("chat.context_mode", "none"))
	require.NoError(t, cfg.Set("chat.streaming", "false"))
	require.NoError(t, cfg.Set("backend.timeout_secs", "5"))
	require.NoError(t, cfg.Set("backend.rate_limit", "1.5"))

	v, err := cfg.Get("chat.context_mode")
	require.NoError(t, err)
	assert.Equal(t, "none", v)
	assert.False(t, cfg.Chat.Streaming)
	assert.Equal(t, 5, cfg.Backend.TimeoutSecs)
	assert.Equal(t, 1.5, cfg.Backend.RateLimit)

	assert.Error(t, cfg.Set("chat.streaming", "maybe"))
	assert.Error(t, cfg.Set("chat.nope", "x"))
	_, err = cfg.Get("backend")
	assert.Error(t, err)
}

func TestGetAllKeys_Resolve(t *testing.T) {
	cfg := Default()
	keys := GetAllKeys()
	assert.Contains(t, keys, "backend.base_url")
	assert.Contains(t, keys, "metrics.listen_addr")
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveTOML(Default(), path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config, err error) {
			if err == nil {
				reloaded <- cfg
			}
		})
	}()

	// Rewrite until the watcher is registered and sees a change.
	cfg := Default()
	cfg.Chat.ContextMode = string(model.ContextRecentOnly)
	var got *Config
	require.Eventually(t, func() bool {
		if err := SaveTOML(cfg, path); err != nil {
			return false
		}
		select {
		case got = <-reloaded:
			return true
		case <-time.After(300 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, model.ContextRecentOnly, got.Chat.Mode())
	cancel()
	assert.NoError(t, <-done)
}

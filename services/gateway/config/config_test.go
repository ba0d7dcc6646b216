// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(kv map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := kv[key]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// =============================================================================
// Load Tests
// =============================================================================

func TestLoadWithEnv_Defaults(t *testing.T) {
	cfg, err := LoadWithEnv("", env(nil))
	require.NoError(t, err)

	assert.Equal(t, 12230, cfg.Port)
	assert.Equal(t, "http://localhost:8000", cfg.Backend.URL)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 40, cfg.Backend.Burst)
	assert.Equal(t, 3*time.Second, cfg.Jobs.PollInterval)
	assert.Equal(t, "eval-gateway", cfg.Telemetry.ServiceName)
	assert.True(t, cfg.Policy.DocumentsEnabled())
	assert.True(t, cfg.Policy.VersionsEnabled())
	assert.False(t, cfg.InfluxDB.Enabled())
	assert.False(t, cfg.GCS.Enabled())
}

func TestLoadWithEnv_FileThenEnv(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
port: 9000
backend:
  url: "https://eval.example.com/"
  api_key: from-file
  timeout: 5s
jobs:
  poll_interval: 1s
  ttl: 10m
policy:
  scan_documents: false
gcs:
  bucket: eval-exports
`)

	cfg, err := LoadWithEnv(path, env(map[string]string{
		"EVAL_GATEWAY_PORT": "9100",
		"BACKEND_API_KEY":   "from-env",
		"JOB_RETENTION":     "2h",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "https://eval.example.com", cfg.Backend.URL, "trailing slash trimmed")
	assert.Equal(t, "from-env", cfg.Backend.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, time.Second, cfg.Jobs.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.TTL)
	assert.Equal(t, 2*time.Hour, cfg.Jobs.Retention)
	assert.False(t, cfg.Policy.DocumentsEnabled())
	assert.True(t, cfg.Policy.VersionsEnabled())
	assert.True(t, cfg.GCS.Enabled())
}

func TestLoadWithEnv_AllowedOriginsAndLogFormat(t *testing.T) {
	cfg, err := LoadWithEnv("", env(map[string]string{
		"ALLOWED_ORIGINS": " https://dash.example.com, http://localhost:3000 ,",
		"LOG_FORMAT":      "JSON",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"https://dash.example.com", "http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, "JSON", cfg.Logging.Format)
}

func TestLoadWithEnv_BadEnvValues(t *testing.T) {
	_, err := LoadWithEnv("", env(map[string]string{
		"EVAL_GATEWAY_PORT": "eighty",
		"BACKEND_TIMEOUT":   "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EVAL_GATEWAY_PORT")
	assert.Contains(t, err.Error(), "BACKEND_TIMEOUT")
}

func TestLoadWithEnv_EmptyEnvIgnored(t *testing.T) {
	cfg, err := LoadWithEnv("", env(map[string]string{"BACKEND_URL": "  "}))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", cfg.Backend.URL)
}

func TestLoadWithEnv_MissingFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
	assert.Error(t, err)
}

func TestLoadWithEnv_MalformedFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "port: [")
	_, err := LoadWithEnv(path, env(nil))
	assert.Error(t, err)
}

// =============================================================================
// Validate Tests
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 0 }},
		{"gin mode", func(c *Config) { c.GinMode = "loud" }},
		{"relative backend url", func(c *Config) { c.Backend.URL = "localhost:8000" }},
		{"timeout", func(c *Config) { c.Backend.Timeout = 0 }},
		{"rps", func(c *Config) { c.Backend.RPS = 0 }},
		{"retries", func(c *Config) { c.Backend.MaxRetries = -1 }},
		{"poll interval", func(c *Config) { c.Jobs.PollInterval = 0 }},
		{"ttl below poll", func(c *Config) { c.Jobs.TTL = time.Second }},
		{"retention", func(c *Config) { c.Jobs.Retention = 0 }},
		{"influx without bucket", func(c *Config) { c.InfluxDB.URL = "http://influx:8086" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"origin without scheme", func(c *Config) { c.AllowedOrigins = []string{"dash.example.com"} }},
		{"origin with path", func(c *Config) { c.AllowedOrigins = []string{"https://dash.example.com/app"} }},
	}

	require.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestReloadable(t *testing.T) {
	cfg := Default()
	cfg.Backend.APIKey = "k"
	cfg.Logging.Level = "debug"
	assert.Equal(t, Reloadable{DefaultAPIKey: "k", LogLevel: "debug"}, cfg.Reloadable())
}

// =============================================================================
// Watcher Tests
// =============================================================================

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher("", func(Config) {})
	assert.Error(t, err)
	_, err = NewWatcher("x.yaml", nil)
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "backend:\n  api_key: first\n")

	changes := make(chan Config, 4)
	w, err := NewWatcher(path, func(c Config) { changes <- c })
	require.NoError(t, err)
	w.lookup = env(nil)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	assert.Error(t, w.Start(ctx), "second start is rejected")

	require.NoError(t, os.WriteFile(path, []byte("backend:\n  api_key: second\n"), 0600))

	select {
	case cfg := <-changes:
		assert.Equal(t, "second", cfg.Backend.APIKey)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_InvalidFileKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "port: 9000\n")

	changes := make(chan Config, 4)
	w, err := NewWatcher(path, func(c Config) { changes <- c })
	require.NoError(t, err)
	w.lookup = env(nil)

	w.reload()
	require.Len(t, changes, 1)
	<-changes

	require.NoError(t, os.WriteFile(path, []byte("port: -1\n"), 0600))
	w.reload()
	assert.Len(t, changes, 0)
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "c.yaml"), func(Config) {})
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}

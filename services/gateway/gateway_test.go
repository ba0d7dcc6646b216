// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/AleutianAI/AleutianEval/pkg/extensions"
	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/AleutianAI/AleutianEval/services/gateway/config"
)

func testSettings(t *testing.T) config.Config {
	t.Helper()
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":[]}`))
	}))
	t.Cleanup(backendSrv.Close)

	cfg := config.Default()
	cfg.GinMode = "test"
	cfg.Backend.URL = backendSrv.URL
	return cfg
}

func newTestService(t *testing.T, cfg Config, opts *extensions.ServiceOptions) *service {
	t.Helper()
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	svc, err := New(cfg, opts)
	require.NoError(t, err)
	s := svc.(*service)
	t.Cleanup(s.cleanup)
	return s
}

func serve(s *service, method, target, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if key != "" {
		req.Header.Set("X-API-KEY", key)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_ServesHealthAndMetrics(t *testing.T) {
	s := newTestService(t, Config{Settings: testSettings(t)}, nil)

	w := serve(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = serve(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aleutian_eval_backend_breaker_state")
}

func TestNew_ProxiesWithRequestKey(t *testing.T) {
	s := newTestService(t, Config{Settings: testSettings(t)}, nil)

	assert.Equal(t, http.StatusUnauthorized, serve(s, http.MethodGet, "/api/evaluations", "").Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/evaluations", "k1").Code)
}

func TestNew_InvalidSettings(t *testing.T) {
	settings := testSettings(t)
	settings.GinMode = "turbo"

	_, err := New(Config{Settings: settings, Registry: prometheus.NewRegistry()}, nil)

	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNew_PersistentJobStore(t *testing.T) {
	settings := testSettings(t)
	settings.Jobs.DBPath = filepath.Join(t.TempDir(), "jobs")

	s := newTestService(t, Config{Settings: settings}, nil)

	assert.False(t, s.db.InMemory())
}

func TestNew_CallerAPIKeyProviderIsReloaded(t *testing.T) {
	provider := extensions.NewAPIKeyProvider("fixed")
	opts := extensions.DefaultOptions().WithAuth(provider)

	s := newTestService(t, Config{Settings: testSettings(t)}, &opts)
	s.applyReload(config.Config{Backend: config.BackendConfig{APIKey: "ignored"}})

	assert.Equal(t, "ignored", provider.DefaultKey())
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{})
	def := config.Default()

	assert.Equal(t, def.Port, cfg.Settings.Port)
	assert.Equal(t, def.Backend.URL, cfg.Settings.Backend.URL)
	assert.Equal(t, def.Backend.RPS, cfg.Settings.Backend.RPS)
	assert.Equal(t, def.Jobs.TTL, cfg.Settings.Jobs.TTL)
	assert.Equal(t, "eval-gateway", cfg.Settings.Telemetry.ServiceName)
	assert.NoError(t, cfg.Settings.Validate())
}

// =============================================================================
// Reload Tests
// =============================================================================

func TestApplyReload_DefaultKeyAndLogLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Format: logging.FormatText, Output: &buf})
	s := newTestService(t, Config{Settings: testSettings(t), Logger: logger}, nil)

	require.Equal(t, http.StatusUnauthorized, serve(s, http.MethodGet, "/api/jobs", "").Code)

	reloaded := config.Default()
	reloaded.Backend.APIKey = "shared-key"
	reloaded.Logging.Level = "debug"
	s.applyReload(reloaded)

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/jobs", "").Code)
	assert.True(t, logger.Enabled(logging.LevelDebug))

	reloaded.Logging.Level = "shouting"
	s.applyReload(reloaded)
	assert.True(t, logger.Enabled(logging.LevelDebug), "invalid level keeps the previous one")
}

func TestInitTracer_Disabled(t *testing.T) {
	cleanup, err := initTracer(config.TelemetryConfig{})
	require.NoError(t, err)
	cleanup(t.Context())
}

func TestInitTracer_OTLPConnectionClosedOnCleanup(t *testing.T) {
	dial := dialOTLP
	t.Cleanup(func() { dialOTLP = dial })
	var conn *grpc.ClientConn
	dialOTLP = func(endpoint string) (*grpc.ClientConn, error) {
		c, err := dial(endpoint)
		conn = c
		return c, err
	}

	cleanup, err := initTracer(config.TelemetryConfig{OTLPEndpoint: "127.0.0.1:4317", ServiceName: "eval-gateway-test"})
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.NotEqual(t, connectivity.Shutdown, conn.GetState())

	cleanup(t.Context())
	assert.Equal(t, connectivity.Shutdown, conn.GetState())
}

func TestInitTracer_Stdout(t *testing.T) {
	cleanup, err := initTracer(config.TelemetryConfig{OTLPEndpoint: StdoutExporter, ServiceName: "eval-gateway-test"})
	require.NoError(t, err)
	cleanup(t.Context())
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway assembles the eval dashboard gateway.
//
// The gateway sits between the dashboard and the evaluation backend. It
// forwards requests with the caller's X-API-KEY, tracks collection jobs
// so the dashboard can show in-flight collections, scans uploads and
// config versions for secrets, diffs config versions, and optionally
// records WER history and exports evaluations.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := gateway.New(gateway.Config{Settings: cfg, ConfigPath: path}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// Deployments that issue keys or keep an audit trail elsewhere pass their
// own extensions.ServiceOptions.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianEval/pkg/extensions"
	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/AleutianAI/AleutianEval/services/gateway/backend"
	"github.com/AleutianAI/AleutianEval/services/gateway/config"
	"github.com/AleutianAI/AleutianEval/services/gateway/handlers"
	"github.com/AleutianAI/AleutianEval/services/gateway/jobs"
	"github.com/AleutianAI/AleutianEval/services/gateway/observability"
	"github.com/AleutianAI/AleutianEval/services/gateway/results"
	"github.com/AleutianAI/AleutianEval/services/gateway/routes"
	kv "github.com/AleutianAI/AleutianEval/services/gateway/storage/badger"
	"github.com/AleutianAI/AleutianEval/services/policy_engine"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
const ShutdownTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service is a runnable gateway.
//
// Run blocks until SIGINT/SIGTERM or a server error and releases every
// resource before returning. It must be called at most once.
type Service interface {
	// Run starts background work and the HTTP server and blocks.
	Run() error

	// Router returns the configured engine, for tests.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config is what New needs beyond extension options.
type Config struct {
	// Settings is the validated gateway configuration.
	Settings config.Config

	// ConfigPath enables hot reload of the file when set.
	ConfigPath string

	// Logger receives level changes on reload. Optional.
	Logger *logging.Logger

	// Registry receives the gateway metrics. Default: the global
	// Prometheus registry.
	Registry *prometheus.Registry
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config Config
	opts   extensions.ServiceOptions

	// keys is non-nil when the auth provider is the built-in one, which
	// lets reloads swap the default key.
	keys *extensions.APIKeyProvider

	router   *gin.Engine
	metrics  *observability.GatewayMetrics
	backend  *backend.Client
	db       *kv.DB
	tracker  *jobs.Tracker
	wer      results.WERRecorder
	exporter results.Exporter
	watcher  *config.Watcher

	tracerCleanup func(context.Context)
}

// New builds a gateway from cfg. A nil opts uses the built-in API key
// provider seeded with the configured default key.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	settings := s.config.Settings
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	if opts != nil {
		s.opts = *opts
	}
	if s.opts.AuthProvider == nil {
		s.opts.AuthProvider = extensions.NewAPIKeyProvider(settings.Backend.APIKey)
	}
	s.opts = s.opts.WithDefaults()
	if p, ok := s.opts.AuthProvider.(*extensions.APIKeyProvider); ok {
		s.keys = p
	}

	cleanup, err := initTracer(settings.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.Registry != nil {
		s.metrics = observability.NewGatewayMetrics(s.config.Registry)
	} else {
		s.metrics = observability.InitMetrics()
	}

	if err := s.initBackend(); err != nil {
		s.cleanup()
		return nil, err
	}
	if err := s.initJobs(); err != nil {
		s.cleanup()
		return nil, err
	}
	if err := s.initSinks(); err != nil {
		s.cleanup()
		return nil, err
	}

	engine, err := policy_engine.NewPolicyEngine()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	s.initRouter(engine)

	if s.config.ConfigPath != "" {
		s.watcher, err = config.NewWatcher(s.config.ConfigPath, s.applyReload)
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
	}
	return s, nil
}

// Run starts the job poller and config watcher, serves HTTP, and shuts
// everything down on SIGINT/SIGTERM.
func (s *service) Run() error {
	defer s.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.tracker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job tracker: %w", err)
	}
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			slog.Warn("Config hot reload disabled", "path", s.config.ConfigPath, "error", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Settings.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting eval gateway",
			"port", s.config.Settings.Port,
			"backend", s.backend.BaseURL(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down eval gateway")
	// Closing the hub ends websocket streams, which Shutdown does not wait for.
	s.tracker.Hub().Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills the fields a hand-built Config may leave zero.
func applyConfigDefaults(cfg Config) Config {
	def := config.Default()
	st := &cfg.Settings
	if st.Port == 0 {
		st.Port = def.Port
	}
	if st.GinMode == "" {
		st.GinMode = def.GinMode
	}
	if st.Backend.URL == "" {
		st.Backend.URL = def.Backend.URL
	}
	if st.Backend.Timeout <= 0 {
		st.Backend.Timeout = def.Backend.Timeout
	}
	if st.Backend.RPS <= 0 {
		st.Backend.RPS = def.Backend.RPS
	}
	if st.Jobs.PollInterval <= 0 {
		st.Jobs.PollInterval = def.Jobs.PollInterval
	}
	if st.Jobs.TTL <= 0 {
		st.Jobs.TTL = def.Jobs.TTL
	}
	if st.Jobs.Retention <= 0 {
		st.Jobs.Retention = def.Jobs.Retention
	}
	if st.Telemetry.ServiceName == "" {
		st.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	return cfg
}

func (s *service) initBackend() error {
	b := s.config.Settings.Backend
	retry := backend.DefaultRetryConfig()
	retry.MaxRetries = b.MaxRetries

	client, err := backend.New(backend.Config{
		BaseURL: b.URL,
		Timeout: b.Timeout,
		RPS:     b.RPS,
		Burst:   b.Burst,
		Retry:   &retry,
		Breaker: backend.BreakerConfig{
			FailureThreshold: b.FailureThreshold,
			OpenTimeout:      b.OpenTimeout,
		},
		Observer: s.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}
	s.backend = client
	return nil
}

func (s *service) initJobs() error {
	jc := s.config.Settings.Jobs

	var err error
	if jc.DBPath == "" {
		slog.Info("Job store is in memory; tracked jobs are lost on restart")
		s.db, err = kv.OpenInMemory()
	} else {
		dbCfg := kv.DefaultConfig(jc.DBPath)
		dbCfg.Logger = slog.Default().With("component", "badger")
		s.db, err = kv.Open(dbCfg)
	}
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}

	trackerCfg := jobs.Config{PollInterval: jc.PollInterval, TTL: jc.TTL}
	if s.keys != nil {
		trackerCfg.DefaultKey = s.keys.DefaultKey
	}
	s.tracker = jobs.NewTracker(
		jobs.NewStore(s.db, jc.Retention),
		jobs.NewKeyring(),
		s.backend,
		jobs.NewHub(0),
		s.metrics,
		trackerCfg,
	)
	return nil
}

func (s *service) initSinks() error {
	s.wer = results.NewWERRecorder(s.config.Settings.InfluxDB)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	exporter, err := results.NewExporter(ctx, s.config.Settings.GCS)
	if err != nil {
		return fmt.Errorf("failed to create evaluation exporter: %w", err)
	}
	s.exporter = exporter
	return nil
}

func (s *service) initRouter(engine *policy_engine.PolicyEngine) {
	gin.SetMode(s.config.Settings.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.config.Settings.Telemetry.ServiceName))

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if s.config.Registry != nil {
		gatherer = s.config.Registry
	}

	deps := &handlers.Deps{
		Backend:  s.backend,
		Tracker:  s.tracker,
		Policy:   engine,
		Scanning: s.config.Settings.Policy,
		WER:      s.wer,
		Exporter: s.exporter,
		Audit:    s.opts.AuditLogger,
		Metrics:  s.metrics,

		AllowedOrigins: s.config.Settings.AllowedOrigins,
	}
	routes.SetupRoutes(router, deps, gatherer, s.opts)
	s.router = router
}

// applyReload applies the hot-reloadable subset of a reloaded config.
func (s *service) applyReload(cfg config.Config) {
	r := cfg.Reloadable()
	if s.keys != nil {
		s.keys.SetDefaultKey(r.DefaultAPIKey)
	}
	if s.config.Logger != nil {
		level, err := logging.ParseLevel(r.LogLevel)
		if err != nil {
			slog.Warn("Ignoring invalid log level from reloaded config", "level", r.LogLevel)
		} else {
			s.config.Logger.SetLevel(level)
		}
	}
	slog.Info("Applied config reload",
		"default_key_set", r.DefaultAPIKey != "",
		"log_level", r.LogLevel,
	)
}

// cleanup releases everything New created. Safe on a partially built
// service.
func (s *service) cleanup() {
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	if s.tracker != nil {
		s.tracker.Stop()
		s.tracker.Hub().Close()
	}
	if s.wer != nil {
		s.wer.Close()
	}
	if s.exporter != nil {
		if err := s.exporter.Close(); err != nil {
			slog.Warn("Failed to close evaluation exporter", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("Failed to close job store", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	jobs.PurgeSecureMemory()
}

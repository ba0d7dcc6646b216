// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads eval gateway configuration.
//
// Values are resolved in three layers, later layers winning:
//
//  1. Default()
//  2. an optional YAML file
//  3. environment variables (see ApplyEnv)
//
// The result is checked by Validate before the gateway starts. A Watcher
// can reload the file at runtime; only the fields listed in Reloadable
// take effect without a restart.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full gateway configuration.
type Config struct {
	// Port is the HTTP listen port. Default: 12230
	Port int `yaml:"port"`

	// GinMode is "debug", "release" or "test". Default: "release"
	GinMode string `yaml:"gin_mode"`

	// AllowedOrigins lists browser origins, besides the gateway's own, that
	// may open the job websocket, e.g. "https://dash.example.com".
	// "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	Backend   BackendConfig   `yaml:"backend"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Policy    PolicyConfig    `yaml:"policy"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	GCS       GCSConfig       `yaml:"gcs"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BackendConfig describes the evaluation backend the gateway fronts.
type BackendConfig struct {
	// URL is the backend base URL, e.g. "http://localhost:8000".
	URL string `yaml:"url"`

	// APIKey is forwarded when a request carries no key of its own.
	// Optional; hot-reloadable.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a single backend call. Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// RPS limits outbound calls across all callers. Default: 20
	RPS float64 `yaml:"rps"`

	// Burst is the limiter bucket size. Default: 2*RPS
	Burst int `yaml:"burst"`

	// MaxRetries applies to idempotent GETs only. Default: 2
	MaxRetries int `yaml:"max_retries"`

	// FailureThreshold consecutive transport failures open the breaker.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// OpenTimeout is how long the breaker stays open. Default: 30s
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// JobsConfig controls the collection job tracker.
type JobsConfig struct {
	// PollInterval between backend status checks. Default: 3s
	PollInterval time.Duration `yaml:"poll_interval"`

	// TTL after which a non-terminal job is marked expired. Default: 30m
	TTL time.Duration `yaml:"ttl"`

	// Retention keeps terminal jobs visible before they are dropped.
	// Default: 24h
	Retention time.Duration `yaml:"retention"`

	// DBPath is the badger directory. Empty means in-memory.
	DBPath string `yaml:"db_path"`
}

// PolicyConfig toggles content scanning.
type PolicyConfig struct {
	// ScanDocuments scans text-like uploads. Default: true
	ScanDocuments *bool `yaml:"scan_documents"`

	// ScanVersions scans prompt/config version content. Default: true
	ScanVersions *bool `yaml:"scan_versions"`
}

// DocumentsEnabled reports whether uploads are scanned.
func (p PolicyConfig) DocumentsEnabled() bool {
	return p.ScanDocuments == nil || *p.ScanDocuments
}

// VersionsEnabled reports whether new versions are scanned.
func (p PolicyConfig) VersionsEnabled() bool {
	return p.ScanVersions == nil || *p.ScanVersions
}

// InfluxDBConfig enables recording WER results. Disabled unless URL is set.
type InfluxDBConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether the WER sink is configured.
func (c InfluxDBConfig) Enabled() bool {
	return c.URL != ""
}

// GCSConfig enables evaluation export. Disabled unless Bucket is set.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// CredentialsFile is a service account JSON. Empty uses ADC.
	CredentialsFile string `yaml:"credentials_file"`
}

// Enabled reports whether export is configured.
func (c GCSConfig) Enabled() bool {
	return c.Bucket != ""
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// OTLPEndpoint is a gRPC collector address, "stdout", or empty to
	// disable tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// ServiceName is the otel resource name. Default: "eval-gateway"
	ServiceName string `yaml:"service_name"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:    12230,
		GinMode: "release",
		Backend: BackendConfig{
			URL:              "http://localhost:8000",
			Timeout:          30 * time.Second,
			RPS:              20,
			MaxRetries:       2,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Jobs: JobsConfig{
			PollInterval: 3 * time.Second,
			TTL:          30 * time.Minute,
			Retention:    24 * time.Hour,
		},
		Telemetry: TelemetryConfig{ServiceName: "eval-gateway"},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the process environment, then validates it.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return Config{}, err
	}
	cfg.applyDerivedDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read the config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from environment variables.
//
//	EVAL_GATEWAY_PORT, GIN_MODE, ALLOWED_ORIGINS (comma-separated),
//	BACKEND_URL, BACKEND_API_KEY, BACKEND_TIMEOUT, BACKEND_RPS, BACKEND_MAX_RETRIES,
//	JOB_POLL_INTERVAL, JOB_TTL, JOB_RETENTION, JOBS_DB_PATH,
//	INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG, INFLUXDB_BUCKET,
//	GCS_BUCKET, GCS_PREFIX, GCS_CREDENTIALS_FILE,
//	OTEL_EXPORTER_OTLP_ENDPOINT, LOG_LEVEL, LOG_DIR, LOG_FORMAT
//
// Unparseable numbers and durations are reported, not ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.int("EVAL_GATEWAY_PORT", &c.Port)
	e.str("GIN_MODE", &c.GinMode)
	e.list("ALLOWED_ORIGINS", &c.AllowedOrigins)

	e.str("BACKEND_URL", &c.Backend.URL)
	e.str("BACKEND_API_KEY", &c.Backend.APIKey)
	e.duration("BACKEND_TIMEOUT", &c.Backend.Timeout)
	e.float("BACKEND_RPS", &c.Backend.RPS)
	e.int("BACKEND_MAX_RETRIES", &c.Backend.MaxRetries)

	e.duration("JOB_POLL_INTERVAL", &c.Jobs.PollInterval)
	e.duration("JOB_TTL", &c.Jobs.TTL)
	e.duration("JOB_RETENTION", &c.Jobs.Retention)
	e.str("JOBS_DB_PATH", &c.Jobs.DBPath)

	e.str("INFLUXDB_URL", &c.InfluxDB.URL)
	e.str("INFLUXDB_TOKEN", &c.InfluxDB.Token)
	e.str("INFLUXDB_ORG", &c.InfluxDB.Org)
	e.str("INFLUXDB_BUCKET", &c.InfluxDB.Bucket)

	e.str("GCS_BUCKET", &c.GCS.Bucket)
	e.str("GCS_PREFIX", &c.GCS.Prefix)
	e.str("GCS_CREDENTIALS_FILE", &c.GCS.CredentialsFile)

	e.str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	e.str("LOG_LEVEL", &c.Logging.Level)
	e.str("LOG_DIR", &c.Logging.Dir)
	e.str("LOG_FORMAT", &c.Logging.Format)

	return errors.Join(e.errs...)
}

func (c *Config) applyDerivedDefaults() {
	c.Backend.URL = strings.TrimRight(strings.Trim(c.Backend.URL, "\"' "), "/")
	if c.Backend.Burst <= 0 {
		c.Backend.Burst = int(c.Backend.RPS * 2)
		if c.Backend.Burst < 1 {
			c.Backend.Burst = 1
		}
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "eval-gateway"
	}
}

// Validate reports every problem with c, each wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Port <= 0 || c.Port > 65535 {
		fail("port %d out of range", c.Port)
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		fail("gin_mode %q must be debug, release or test", c.GinMode)
	}

	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			continue
		}
		o, err := url.Parse(origin)
		if err != nil || (o.Scheme != "http" && o.Scheme != "https") || o.Host == "" || strings.TrimLeft(o.Path, "/") != "" {
			fail("allowed_origins entry %q must be \"*\" or scheme://host[:port]", origin)
		}
	}

	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fail("backend.url %q must be an absolute http(s) URL", c.Backend.URL)
	}
	if c.Backend.Timeout <= 0 {
		fail("backend.timeout must be positive")
	}
	if c.Backend.RPS <= 0 {
		fail("backend.rps must be positive")
	}
	if c.Backend.MaxRetries < 0 {
		fail("backend.max_retries must not be negative")
	}

	if c.Jobs.PollInterval <= 0 {
		fail("jobs.poll_interval must be positive")
	}
	if c.Jobs.TTL < c.Jobs.PollInterval {
		fail("jobs.ttl %s must be at least jobs.poll_interval %s", c.Jobs.TTL, c.Jobs.PollInterval)
	}
	if c.Jobs.Retention <= 0 {
		fail("jobs.retention must be positive")
	}

	if c.InfluxDB.Enabled() && (c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		fail("influxdb.org and influxdb.bucket are required when influxdb.url is set")
	}

	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		fail("logging.format %q must be auto, text or json", c.Logging.Format)
	}

	return errors.Join(errs...)
}

// Reloadable is the subset of Config a running gateway applies on reload.
type Reloadable struct {
	DefaultAPIKey string
	LogLevel      string
}

// Reloadable extracts the hot-reloadable fields.
func (c Config) Reloadable() Reloadable {
	return Reloadable{DefaultAPIKey: c.Backend.APIKey, LogLevel: c.Logging.Level}
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

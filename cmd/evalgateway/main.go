// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command evalgateway starts the eval dashboard gateway HTTP server.
//
// This is the entry point for the containerized gateway. It reads its
// configuration from environment variables only; use `aleutian-eval serve`
// for a YAML config file with hot reload.
//
// # Environment Variables
//
//   - EVAL_GATEWAY_PORT: HTTP server port (default: 12230)
//   - BACKEND_URL: evaluation backend base URL (default: http://localhost:8000)
//   - BACKEND_API_KEY: key used for background job polling (optional)
//   - JOBS_DB_PATH: BadgerDB directory for tracked jobs (default: in-memory)
//   - INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG, INFLUXDB_BUCKET: WER history sink (optional)
//   - GCS_BUCKET, GCS_PREFIX: evaluation export sink (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector, or "stdout" (optional)
//   - LOG_LEVEL, LOG_DIR, LOG_FORMAT: logging (default: info, stderr only, auto)
//
// # Usage
//
//	# Build
//	go build -o evalgateway ./cmd/evalgateway
//
//	# Run
//	BACKEND_URL=http://eval-backend:8000 ./evalgateway
package main

import (
	"log"
	"log/slog"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/AleutianAI/AleutianEval/services/gateway"
	"github.com/AleutianAI/AleutianEval/services/gateway/config"
)

func main() {
	settings, err := config.Load("")
	if err != nil {
		log.Fatalf("Invalid gateway configuration: %v", err)
	}

	level, err := logging.ParseLevel(settings.Logging.Level)
	if err != nil {
		log.Fatalf("Invalid LOG_LEVEL: %v", err)
	}
	format, err := logging.ParseFormat(settings.Logging.Format)
	if err != nil {
		log.Fatalf("Invalid LOG_FORMAT: %v", err)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  settings.Logging.Dir,
		Service: settings.Telemetry.ServiceName,
		Format:  format,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	slog.Info("Starting eval gateway",
		"port", settings.Port,
		"backend_url", settings.Backend.URL,
		"jobs_db", settings.Jobs.DBPath,
	)

	// Default (no-op) extension options; enterprise builds pass their own.
	svc, err := gateway.New(gateway.Config{Settings: settings, Logger: logger}, nil)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
}

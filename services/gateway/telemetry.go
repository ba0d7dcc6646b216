// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianEval/services/gateway/config"
)

// StdoutExporter selects the pretty-printing stdout span exporter.
const StdoutExporter = "stdout"

// dialOTLP creates the collector connection. The connection is lazy, so
// an unreachable collector does not fail startup.
var dialOTLP = func(endpoint string) (*grpc.ClientConn, error) {
	return grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// initTracer installs the global tracer provider described by cfg.
//
// An empty endpoint disables tracing and returns a no-op cleanup. The
// propagator is installed either way so trace headers from the dashboard
// are still forwarded to the backend.
func initTracer(cfg config.TelemetryConfig) (func(context.Context), error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	if cfg.OTLPEndpoint == "" {
		slog.Info("Tracing disabled")
		return func(context.Context) {}, nil
	}

	ctx := context.Background()
	var (
		exporter sdktrace.SpanExporter
		conn     *grpc.ClientConn
	)
	// WithGRPCConn leaves the connection to us.
	closeConn := func() {
		if conn == nil {
			return
		}
		if err := conn.Close(); err != nil {
			slog.Warn("failed to close the OTLP connection", "error", err)
		}
	}

	if cfg.OTLPEndpoint == StdoutExporter {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	} else {
		var err error
		conn, err = dialOTLP(cfg.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			closeConn()
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		_ = exporter.Shutdown(ctx)
		closeConn()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))
	otel.SetTracerProvider(provider)
	slog.Info("Tracing enabled", "endpoint", cfg.OTLPEndpoint, "service", cfg.ServiceName)

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		closeConn()
	}, nil
}

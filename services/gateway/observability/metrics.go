// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the eval gateway.
//
// # Description
//
// Metrics cover three areas:
//   - Inbound proxy traffic (by route template, method and status)
//   - Outbound backend calls (by outcome) and circuit breaker state
//   - Collection job tracking (jobs by status, websocket subscribers)
//
// All metrics live under the "aleutian_eval" prefix and are exposed on
// GET /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every Record/Observe method is a no-op on a nil *GatewayMetrics so
// components can be built without metrics in tests.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "aleutian"

const gatewaySubsystem = "eval"

// BreakerStates lists every label value of the breaker state gauge.
var BreakerStates = []string{"closed", "open", "half_open"}

// GatewayMetrics holds all Prometheus collectors for the gateway.
type GatewayMetrics struct {
	ProxyRequestsTotal     *prometheus.CounterVec
	ProxyDurationSeconds   *prometheus.HistogramVec
	BackendCallsTotal      *prometheus.CounterVec
	BackendDurationSeconds *prometheus.HistogramVec
	BreakerState           *prometheus.GaugeVec
	TrackedJobs            *prometheus.GaugeVec
	JobTransitionsTotal    *prometheus.CounterVec
	WebsocketSubscribers   prometheus.Gauge
	PolicyBlocksTotal      *prometheus.CounterVec
	WERRecordsTotal        *prometheus.CounterVec
}

var (
	// DefaultMetrics is registered on the default registry by InitMetrics.
	DefaultMetrics *GatewayMetrics
	initOnce       sync.Once
)

// InitMetrics registers GatewayMetrics on prometheus.DefaultRegisterer
// once and returns it on every call.
func InitMetrics() *GatewayMetrics {
	initOnce.Do(func() {
		DefaultMetrics = NewGatewayMetrics(prometheus.DefaultRegisterer)
	})
	return DefaultMetrics
}

// NewGatewayMetrics registers a fresh set of collectors on reg.
// Tests pass prometheus.NewRegistry() to stay isolated.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	factory := promauto.With(reg)
	return &GatewayMetrics{
		ProxyRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "proxy_requests_total",
				Help:      "Inbound requests by route template, method and status code",
			},
			[]string{"route", "method", "status"},
		),
		ProxyDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "proxy_request_duration_seconds",
				Help:      "Inbound request latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route", "method"},
		),
		BackendCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "backend_calls_total",
				Help:      "Outbound backend call attempts by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		BackendDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "backend_call_duration_seconds",
				Help:      "Outbound backend call attempt latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "backend_breaker_state",
				Help:      "1 for the current backend circuit breaker state, 0 otherwise",
			},
			[]string{"state"},
		),
		TrackedJobs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "tracked_jobs",
				Help:      "Collection jobs held by the tracker by status",
			},
			[]string{"status"},
		),
		JobTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "job_transitions_total",
				Help:      "Collection job status changes by new status",
			},
			[]string{"status"},
		),
		WebsocketSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "websocket_subscribers",
				Help:      "Open job event websocket connections",
			},
		),
		PolicyBlocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "policy_blocks_total",
				Help:      "Requests rejected by the policy engine by content kind",
			},
			[]string{"kind"},
		),
		WERRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "wer_records_total",
				Help:      "WER results written to the history sink by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// =============================================================================
// Label Values
// =============================================================================

// PolicyKind labels PolicyBlocksTotal.
type PolicyKind string

const (
	PolicyKindDocument PolicyKind = "document"
	PolicyKindVersion  PolicyKind = "config_version"
)

// =============================================================================
// Recording Methods
// =============================================================================

// RecordProxyRequest records one inbound request. route is the gin route
// template (e.g. "/api/collections/:id") so cardinality stays bounded.
func (m *GatewayMetrics) RecordProxyRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.ProxyRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.ProxyDurationSeconds.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveBackendCall implements backend.Observer.
func (m *GatewayMetrics) ObserveBackendCall(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BackendCallsTotal.WithLabelValues(method, outcome).Inc()
	m.BackendDurationSeconds.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveBreakerState implements backend.Observer.
func (m *GatewayMetrics) ObserveBreakerState(state string) {
	if m == nil {
		return
	}
	for _, s := range BreakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.BreakerState.WithLabelValues(s).Set(v)
	}
}

// SetTrackedJobs replaces the per-status job counts. Statuses missing from
// counts are reset to zero.
func (m *GatewayMetrics) SetTrackedJobs(counts map[string]int, statuses []string) {
	if m == nil {
		return
	}
	for _, s := range statuses {
		m.TrackedJobs.WithLabelValues(s).Set(float64(counts[s]))
	}
}

// RecordJobTransition counts a job entering status.
func (m *GatewayMetrics) RecordJobTransition(status string) {
	if m == nil {
		return
	}
	m.JobTransitionsTotal.WithLabelValues(status).Inc()
}

// SubscriberConnected increments the websocket gauge.
func (m *GatewayMetrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.WebsocketSubscribers.Inc()
}

// SubscriberDisconnected decrements the websocket gauge.
func (m *GatewayMetrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.WebsocketSubscribers.Dec()
}

// RecordPolicyBlock counts a request rejected for blocking findings.
func (m *GatewayMetrics) RecordPolicyBlock(kind PolicyKind) {
	if m == nil {
		return
	}
	m.PolicyBlocksTotal.WithLabelValues(string(kind)).Inc()
}

// RecordWER counts a WER history write.
func (m *GatewayMetrics) RecordWER(success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.WERRecordsTotal.WithLabelValues(outcome).Inc()
}

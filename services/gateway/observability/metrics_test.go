// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper: Create isolated metrics for testing
// ============================================================================

func newTestMetrics(t *testing.T) (*GatewayMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewGatewayMetrics(reg), reg
}

// ============================================================================
// Registration Tests
// ============================================================================

func TestNewGatewayMetrics_RegistersAll(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordProxyRequest("/health", "GET", 200, time.Millisecond)
	m.ObserveBackendCall("GET", "ok", time.Millisecond)
	m.ObserveBreakerState("closed")
	m.SetTrackedJobs(map[string]int{"pending": 1}, []string{"pending"})
	m.RecordJobTransition("processing")
	m.SubscriberConnected()
	m.RecordPolicyBlock(PolicyKindDocument)
	m.RecordWER(true)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"aleutian_eval_proxy_requests_total",
		"aleutian_eval_proxy_request_duration_seconds",
		"aleutian_eval_backend_calls_total",
		"aleutian_eval_backend_call_duration_seconds",
		"aleutian_eval_backend_breaker_state",
		"aleutian_eval_tracked_jobs",
		"aleutian_eval_job_transitions_total",
		"aleutian_eval_websocket_subscribers",
		"aleutian_eval_policy_blocks_total",
		"aleutian_eval_wer_records_total",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestInitMetrics_Idempotent(t *testing.T) {
	first := InitMetrics()
	second := InitMetrics()
	assert.Same(t, first, second)
	assert.Same(t, DefaultMetrics, first)
}

// ============================================================================
// Recording Tests
// ============================================================================

func TestRecordProxyRequest(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordProxyRequest("/api/collections/:id", "GET", 200, 10*time.Millisecond)
	m.RecordProxyRequest("/api/collections/:id", "GET", 200, 10*time.Millisecond)
	m.RecordProxyRequest("", "GET", 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProxyRequestsTotal.WithLabelValues("/api/collections/:id", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProxyRequestsTotal.WithLabelValues("unmatched", "GET", "404")))
}

func TestObserveBreakerState_OneHot(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.ObserveBreakerState("open")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("closed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("half_open")))

	m.ObserveBreakerState("closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("closed")))
}

func TestSetTrackedJobs_ResetsMissing(t *testing.T) {
	m, _ := newTestMetrics(t)
	statuses := []string{"pending", "failed"}
	m.SetTrackedJobs(map[string]int{"pending": 3, "failed": 1}, statuses)
	m.SetTrackedJobs(map[string]int{"pending": 2}, statuses)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TrackedJobs.WithLabelValues("pending")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TrackedJobs.WithLabelValues("failed")))
}

func TestSubscriberGauge(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.SubscriberConnected()
	m.SubscriberConnected()
	m.SubscriberDisconnected()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebsocketSubscribers))
}

func TestRecordWER(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordWER(true)
	m.RecordWER(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WERRecordsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WERRecordsTotal.WithLabelValues("error")))
}

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *GatewayMetrics
	assert.NotPanics(t, func() {
		m.RecordProxyRequest("/x", "GET", 200, time.Second)
		m.ObserveBackendCall("GET", "ok", time.Second)
		m.ObserveBreakerState("open")
		m.SetTrackedJobs(nil, []string{"pending"})
		m.RecordJobTransition("failed")
		m.SubscriberConnected()
		m.SubscriberDisconnected()
		m.RecordPolicyBlock(PolicyKindVersion)
		m.RecordWER(false)
	})
}

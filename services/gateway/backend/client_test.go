// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	states   []string
}

func (o *recordingObserver) ObserveBackendCall(_ string, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ObserveBreakerState(state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *recordingObserver) Outcomes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 2, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func newTestClient(t *testing.T, baseURL string, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := Config{BaseURL: baseURL, Timeout: 2 * time.Second, Retry: fastRetry()}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_InvalidBaseURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8000", "/relative"} {
		_, err := New(Config{BaseURL: u})
		assert.Error(t, err, u)
	}
}

func TestNew_DefaultRetry(t *testing.T) {
	c, err := New(Config{BaseURL: "http://backend"})
	require.NoError(t, err)
	assert.Equal(t, DefaultRetryConfig(), c.retry)
	assert.Equal(t, "http://backend", c.BaseURL())
}

func TestResolve_KeepsBasePath(t *testing.T) {
	c := newTestClient(t, "http://backend/prefix/")
	got := c.resolve("api/v1/collections/", url.Values{"page": {"2"}})
	assert.Equal(t, "http://backend/prefix/api/v1/collections/?page=2", got)
}

// =============================================================================
// Do Tests
// =============================================================================

func TestDo_ForwardsKeyQueryAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get(HeaderAPIKey))
		assert.Equal(t, "/api/v1/collections/", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "req-9", r.Header.Get("X-Request-ID"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"kb"}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"j1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Do(context.Background(), Request{
		Method:      http.MethodPost,
		Path:        "/api/v1/collections/",
		Query:       url.Values{"limit": {"10"}},
		APIKey:      "key-1",
		Body:        JSONBody([]byte(`{"name":"kb"}`)),
		ContentType: "application/json",
		Header:      http.Header{"X-Request-Id": {"req-9"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, resp.OK())
	assert.JSONEq(t, `{"job_id":"j1"}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.ContentType())
}

func TestDo_MissingAPIKey(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(context.Background(), Request{Path: "/x", APIKey: "  "})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Zero(t, hits.Load())
}

func TestDo_RelaysClientErrorsWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such collection"}`))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	c := newTestClient(t, srv.URL, func(cfg *Config) { cfg.Observer = obs })
	resp, err := c.Do(context.Background(), Request{Path: "/api/v1/collections/x", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, []string{OutcomeStatusError}, obs.Outcomes())
}

func TestDo_RetriesGETOnGatewayErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), Request{Path: "/api/v1/collections/", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), Request{Path: "/x", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(3), hits.Load(), "1 attempt + 2 retries")
}

func TestDo_ZeroRetryConfigDisablesRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *Config) { cfg.Retry = &RetryConfig{} })
	resp, err := c.Do(context.Background(), Request{Path: "/x", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, RetryConfig{}, c.retry)
}

func TestDo_NeverRetriesMutations(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodPut} {
		t.Run(method, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer srv.Close()

			resp, err := newTestClient(t, srv.URL).Do(context.Background(), Request{Method: method, Path: "/x", APIKey: "k"})
			require.NoError(t, err)
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestDo_UnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	obs := &recordingObserver{}
	c := newTestClient(t, addr, func(cfg *Config) { cfg.Observer = obs })
	_, err := c.Do(context.Background(), Request{Path: "/x", APIKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Len(t, obs.Outcomes(), 3)
	for _, o := range obs.Outcomes() {
		assert.Equal(t, OutcomeUnavailable, o)
	}
}

func TestDo_CircuitOpensOnRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := newTestClient(t, addr, func(cfg *Config) {
		cfg.Retry = &RetryConfig{}
		cfg.Breaker = BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute}
	})

	for i := 0; i < 2; i++ {
		_, err := c.Do(context.Background(), Request{Path: "/x", APIKey: "k"})
		require.ErrorIs(t, err, ErrBackendUnavailable)
	}
	assert.Equal(t, CircuitOpen, c.BreakerState())

	_, err := c.Do(context.Background(), Request{Path: "/x", APIKey: "k"})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestDo_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestClient(t, srv.URL).Do(ctx, Request{Path: "/slow", APIKey: "k"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// GetJSON / Envelope Tests
// =============================================================================

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wrapped":
			_, _ = w.Write([]byte(`{"success":true,"data":{"id":"e1","status":"completed"}}`))
		case "/bare":
			_, _ = w.Write([]byte(`{"id":"e2","status":"pending"}`))
		case "/failed":
			_, _ = w.Write([]byte(`{"success":false,"error":"quota exceeded"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Not Found"}`))
		}
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	type item struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}

	var wrapped item
	require.NoError(t, c.GetJSON(context.Background(), "/wrapped", nil, "k", &wrapped))
	assert.Equal(t, item{ID: "e1", Status: "completed"}, wrapped)

	var bare item
	require.NoError(t, c.GetJSON(context.Background(), "/bare", nil, "k", &bare))
	assert.Equal(t, "e2", bare.ID)

	err := c.GetJSON(context.Background(), "/failed", nil, "k", &bare)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "quota exceeded", se.Message())

	err = c.GetJSON(context.Background(), "/missing", nil, "k", &bare)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "Not Found")
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    any
		wantErr bool
	}{
		{"empty body", "", nil, false},
		{"bare array", `[1,2]`, []any{1.0, 2.0}, false},
		{"object without success", `{"a":1}`, map[string]any{"a": 1.0}, false},
		{"envelope", `{"success":true,"data":[3]}`, []any{3.0}, false},
		{"envelope without data", `{"success":true}`, nil, false},
		{"non-bool success is data", `{"success":"yes"}`, map[string]any{"success": "yes"}, false},
		{"failure envelope", `{"success":false,"error":"nope"}`, nil, true},
		{"invalid json", `{`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out any
			err := DecodeEnvelope([]byte(tt.body), &out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestUnwrap(t *testing.T) {
	assert.JSONEq(t, `{"id":1}`, string(Unwrap([]byte(`{"success":true,"data":{"id":1}}`))))
	assert.JSONEq(t, `{"id":1}`, string(Unwrap([]byte(`{"id":1}`))))
}

func TestStatusError_Message(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":"bad"}`, "bad"},
		{`{"detail":[{"loc":["body","name"]}]}`, `[{"loc":["body","name"]}]`},
		{`{"message":"m"}`, "m"},
		{"plain text\n", "plain text"},
		{strings.Repeat("x", 300), strings.Repeat("x", 256) + "..."},
	}
	for _, tt := range tests {
		se := &StatusError{StatusCode: 400, Method: "GET", Path: "/p", Body: []byte(tt.body)}
		assert.Equal(t, tt.want, se.Message())
	}
	empty := &StatusError{StatusCode: 503, Method: "GET", Path: "/p"}
	assert.Equal(t, "backend GET /p returned 503: Service Unavailable", empty.Error())
}

func TestEnvelope_JSONShape(t *testing.T) {
	b, err := json.Marshal(Envelope{Success: false, Error: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"x"}`, string(b))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend is the HTTP client for the external evaluation backend.
//
// Every call carries the caller's key in the X-API-KEY header. Outbound
// traffic is shaped by a shared token-bucket limiter and guarded by a
// circuit breaker; idempotent calls are retried on transport errors and
// 502/503/504, mutating calls never are.
//
// # Example
//
//	client, err := backend.New(backend.Config{BaseURL: "http://localhost:8000"})
//	resp, err := client.Do(ctx, backend.Request{
//	    Method: http.MethodGet,
//	    Path:   "/api/v1/collections/",
//	    APIKey: key,
//	})
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// HeaderAPIKey is the header the backend authenticates with.
const HeaderAPIKey = "X-API-KEY"

// MaxResponseBytes bounds how much of a backend response is buffered.
const MaxResponseBytes = 32 << 20

var tracer = otel.Tracer("aleutian.eval.backend")

// Observer receives per-call telemetry. observability.GatewayMetrics
// implements it.
type Observer interface {
	ObserveBackendCall(method, outcome string, elapsed time.Duration)
	ObserveBreakerState(state string)
}

// Call outcomes reported to the Observer.
const (
	OutcomeOK          = "ok"
	OutcomeStatusError = "status_error"
	OutcomeUnavailable = "unavailable"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeCancelled   = "cancelled"
)

// Config configures a Client.
type Config struct {
	// BaseURL of the backend, without trailing slash. Required.
	BaseURL string

	// Timeout per attempt. Default: 30s
	Timeout time.Duration

	// RPS and Burst shape outbound traffic. RPS <= 0 disables limiting.
	RPS   float64
	Burst int

	// Retry controls GET retries. Nil means DefaultRetryConfig; a zero
	// RetryConfig disables retries.
	Retry   *RetryConfig
	Breaker BreakerConfig

	// HTTPClient overrides the transport. Its Timeout is replaced by Timeout.
	HTTPClient *http.Client

	// Observer is optional.
	Observer Observer
}

// Request is one backend call.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	APIKey      string
	Body        io.Reader
	ContentType string

	// Header holds extra headers, e.g. X-Request-ID.
	Header http.Header
}

// Response is a fully buffered backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ContentType returns the response Content-Type, defaulting to JSON.
func (r *Response) ContentType() string {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/json"
}

// Client talks to the backend. Safe for concurrent use.
type Client struct {
	base     *url.URL
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *Breaker
	retry    RetryConfig
	observer Observer
}

// New validates cfg and creates a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{}
	if cfg.HTTPClient != nil {
		clone := *cfg.HTTPClient
		httpClient = &clone
	}
	httpClient.Timeout = cfg.Timeout

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	c := &Client{
		base:     base,
		http:     httpClient,
		limiter:  limiter,
		retry:    retry,
		observer: cfg.Observer,
	}

	breakerCfg := cfg.Breaker
	userHook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(from, to CircuitState) {
		slog.Warn("Backend circuit breaker state change", "from", from.String(), "to", to.String())
		if c.observer != nil {
			c.observer.ObserveBreakerState(to.String())
		}
		if userHook != nil {
			userHook(from, to)
		}
	}
	c.breaker = NewBreaker(breakerCfg)
	if c.observer != nil {
		c.observer.ObserveBreakerState(CircuitClosed.String())
	}
	return c, nil
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// BreakerState exposes the breaker state for health checks.
func (c *Client) BreakerState() CircuitState {
	return c.breaker.State()
}

// errUpstreamUnhealthy marks a 502/503/504 for the breaker; the response
// itself is still returned to the caller.
var errUpstreamUnhealthy = errors.New("upstream unhealthy")

// Do performs req and returns the buffered response for any HTTP status.
//
// The error is non-nil only when no response was obtained: ErrMissingAPIKey,
// ErrBackendUnavailable (wrapping the cause), or the context's error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	target := c.resolve(req.Path, req.Query)

	ctx, span := tracer.Start(ctx, "backend "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.String("server.address", c.base.Host),
		))
	defer span.End()

	attempts := 1
	if idempotent(req.Method) && req.Body == nil {
		attempts += c.retry.MaxRetries
	}

	var (
		resp    *Response
		lastErr error
		made    int
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := c.retry.backoff(attempt - 1)
			slog.Debug("Retrying backend call", "method", req.Method, "path", req.Path,
				"attempt", attempt+1, "backoff", wait, "error", lastErr)
			if err := sleep(ctx, wait); err != nil {
				lastErr = err
				break
			}
		}

		made++
		resp, lastErr = c.attempt(ctx, req, target)
		if lastErr == nil && !retryableStatus(resp.StatusCode) {
			break
		}
		if lastErr != nil && !retryableErr(ctx, lastErr) {
			break
		}
	}
	span.SetAttributes(attribute.Int("aleutian.backend.attempts", made))

	if lastErr != nil {
		outcome := OutcomeUnavailable
		switch {
		case ctx.Err() != nil:
			outcome = OutcomeCancelled
		case errors.Is(lastErr, ErrCircuitOpen):
			outcome = OutcomeCircuitOpen
		}
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, outcome)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrBackendUnavailable, req.Method, req.Path, lastErr)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

// attempt runs one rate-limited, breaker-guarded round trip.
func (c *Client) attempt(ctx context.Context, req Request, target string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	var resp *Response
	err := c.breaker.Execute(func() error {
		r, err := c.roundTrip(ctx, req, target)
		if err != nil {
			return err
		}
		resp = r
		if retryableStatus(r.StatusCode) {
			return errUpstreamUnhealthy
		}
		return nil
	})
	if errors.Is(err, errUpstreamUnhealthy) {
		err = nil
	}

	if c.observer != nil {
		outcome := OutcomeOK
		switch {
		case errors.Is(err, ErrCircuitOpen):
			outcome = OutcomeCircuitOpen
		case err != nil && ctx.Err() != nil:
			outcome = OutcomeCancelled
		case err != nil:
			outcome = OutcomeUnavailable
		case !resp.OK():
			outcome = OutcomeStatusError
		}
		c.observer.ObserveBackendCall(req.Method, outcome, time.Since(start))
	}
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, req Request, target string) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set(HeaderAPIKey, req.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, MaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       body,
	}, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.base
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// GetJSON fetches path and decodes the payload into out.
//
// Non-2xx responses become *StatusError. The body may be a bare JSON value
// or an Envelope; see DecodeEnvelope.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, apiKey string, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query, APIKey: apiKey})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &StatusError{StatusCode: resp.StatusCode, Method: http.MethodGet, Path: path, Body: resp.Body}
	}
	if err := DecodeEnvelope(resp.Body, out); err != nil {
		var envErr *EnvelopeError
		if errors.As(err, &envErr) {
			return &StatusError{StatusCode: resp.StatusCode, Method: http.MethodGet, Path: path, Body: resp.Body}
		}
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// JSONBody wraps b as a Request.Body. An empty b yields a nil reader so
// the request is sent without a body.
func JSONBody(b []byte) io.Reader {
	if len(b) == 0 {
		return nil
	}
	return bytes.NewReader(b)
}

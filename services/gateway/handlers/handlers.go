// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gateway's HTTP endpoints.
//
// Nearly every endpoint is a relay: it resolves the caller's API key,
// forwards the request to the evaluation backend with X-API-KEY attached,
// and returns the backend's status and JSON body. The exceptions add
// gateway-side behavior: collection jobs are tracked and merged into the
// collection list, uploads and new config versions are scanned for secrets,
// and config versions are diffed locally.
package handlers

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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianEval/pkg/extensions"
	"github.com/AleutianAI/AleutianEval/services/gateway/backend"
	"github.com/AleutianAI/AleutianEval/services/gateway/config"
	"github.com/AleutianAI/AleutianEval/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianEval/services/gateway/jobs"
	"github.com/AleutianAI/AleutianEval/services/gateway/middleware"
	"github.com/AleutianAI/AleutianEval/services/gateway/observability"
	"github.com/AleutianAI/AleutianEval/services/gateway/results"
	"github.com/AleutianAI/AleutianEval/services/policy_engine"
)

// MaxJSONBodyBytes bounds JSON request bodies read by the gateway.
const MaxJSONBodyBytes = 4 << 20

// MaxUploadBytes bounds multipart document uploads.
const MaxUploadBytes = 64 << 20

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Backend  *backend.Client
	Tracker  *jobs.Tracker
	Policy   *policy_engine.PolicyEngine
	Scanning config.PolicyConfig
	WER      results.WERRecorder
	Exporter results.Exporter
	Audit    extensions.AuditLogger
	Metrics  *observability.GatewayMetrics

	// AllowedOrigins may open the job websocket in addition to the
	// gateway's own origin.
	AllowedOrigins []string
}

// WithDefaults returns a copy of d with no-op collaborators filled in.
func (d *Deps) WithDefaults() *Deps {
	out := *d
	if out.WER == nil {
		out.WER = results.NopWERRecorder{}
	}
	if out.Exporter == nil {
		out.Exporter = results.NopExporter{}
	}
	if out.Audit == nil {
		out.Audit = &extensions.NopAuditLogger{}
	}
	return &out
}

// =============================================================================
// Responses
// =============================================================================

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, datatypes.ErrorResponse{Success: false, Error: msg})
}

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// respondBackendError maps a failed backend call to a gateway response.
func respondBackendError(c *gin.Context, err error) {
	_ = c.Error(err)

	var se *backend.StatusError
	switch {
	case errors.As(err, &se):
		relayStatusError(c, se.StatusCode, se.Body)
	case errors.Is(err, backend.ErrMissingAPIKey):
		respondError(c, http.StatusUnauthorized, "missing API key")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "backend timed out")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		c.Status(499)
	case errors.Is(err, backend.ErrCircuitOpen):
		respondError(c, http.StatusBadGateway, "backend unavailable: too many recent failures, retry shortly")
	case errors.Is(err, backend.ErrBackendUnavailable):
		respondError(c, http.StatusBadGateway, "backend unavailable")
	default:
		respondError(c, http.StatusBadGateway, err.Error())
	}
}

// relay writes a backend response back to the caller.
//
// Successful bodies pass through untouched. Error bodies are normalized to
// the error envelope so the dashboard sees a single error shape.
func relay(c *gin.Context, resp *backend.Response) {
	if resp.OK() {
		if len(resp.Body) == 0 {
			c.Status(resp.StatusCode)
			return
		}
		c.Data(resp.StatusCode, resp.ContentType(), resp.Body)
		return
	}
	relayStatusError(c, resp.StatusCode, resp.Body)
}

func relayStatusError(c *gin.Context, status int, body []byte) {
	se := &backend.StatusError{StatusCode: status, Body: body}
	msg := se.Message()
	if msg == "" {
		msg = http.StatusText(status)
	}
	respondError(c, status, msg)
}

// =============================================================================
// Forwarding
// =============================================================================

// apiKey returns the key resolved by AuthMiddleware.
func apiKey(c *gin.Context) string {
	if info := middleware.GetAuthInfo(c); info != nil {
		return info.APIKey
	}
	return ""
}

func fingerprint(c *gin.Context) string {
	if info := middleware.GetAuthInfo(c); info != nil {
		return info.KeyFingerprint
	}
	return ""
}

// call forwards one request and returns the buffered response.
func (d *Deps) call(c *gin.Context, method, path string, query url.Values, body []byte, contentType string) (*backend.Response, error) {
	header := http.Header{}
	if id := middleware.GetRequestID(c); id != "" {
		header.Set(middleware.HeaderRequestID, id)
	}
	if contentType == "" && len(body) > 0 {
		contentType = "application/json"
	}
	return d.Backend.Do(c.Request.Context(), backend.Request{
		Method:      method,
		Path:        path,
		Query:       query,
		APIKey:      apiKey(c),
		Body:        backend.JSONBody(body),
		ContentType: contentType,
		Header:      header,
	})
}

// forward calls the backend and relays the response. It returns the
// response on success so callers can post-process it; nil means a response
// has already been written.
func (d *Deps) forward(c *gin.Context, method, path string, body []byte, contentType string) *backend.Response {
	resp, err := d.call(c, method, path, c.Request.URL.Query(), body, contentType)
	if err != nil {
		respondBackendError(c, err)
		return nil
	}
	relay(c, resp)
	return resp
}

// Proxy returns a handler that forwards the request unchanged to the
// backend path built by pathFn.
func Proxy(d *Deps, method string, pathFn func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body []byte
		if method != http.MethodGet && method != http.MethodHead && method != http.MethodDelete {
			var ok bool
			if body, ok = readBody(c, MaxJSONBodyBytes); !ok {
				return
			}
		}
		resp := d.forward(c, method, pathFn(c), body, c.ContentType())
		if resp != nil && method != http.MethodGet && method != http.MethodHead {
			d.audit(c, auditEventType(method, c.FullPath()), method, c.Param("id"), resp.StatusCode)
		}
	}
}

// readBody reads at most limit bytes. On failure it writes the response
// and returns false.
func readBody(c *gin.Context, limit int64) ([]byte, bool) {
	if c.Request.Body == nil {
		return nil, true
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		respondError(c, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if int64(len(body)) > limit {
		respondError(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", limit))
		return nil, false
	}
	return body, true
}

// bindAndValidate reads a JSON body into dst and runs its validation
// tags. The raw body is returned for forwarding.
func bindAndValidate(c *gin.Context, dst any) ([]byte, bool) {
	body, ok := readBody(c, MaxJSONBodyBytes)
	if !ok {
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		respondError(c, http.StatusBadRequest, "request body is required")
		return nil, false
	}
	if err := decodeJSON(body, dst); err != nil {
		respondError(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return nil, false
	}
	if err := datatypes.Validate(dst); err != nil {
		respondError(c, http.StatusBadRequest, datatypes.ValidationMessage(err))
		return nil, false
	}
	return body, true
}

// segment escapes a route parameter for use as one backend path segment.
func segment(c *gin.Context, name string) string {
	return url.PathEscape(c.Param(name))
}

// =============================================================================
// Audit
// =============================================================================

func (d *Deps) audit(c *gin.Context, eventType, action, resourceID string, status int) {
	outcome := "success"
	if status >= 400 {
		outcome = "failure"
	}
	d.logAudit(c, extensions.AuditEvent{
		EventType:    eventType,
		Action:       action,
		ResourceType: resourceTypeOf(eventType),
		ResourceID:   resourceID,
		Outcome:      outcome,
		StatusCode:   status,
	})
}

func (d *Deps) logAudit(c *gin.Context, ev extensions.AuditEvent) {
	ev.Timestamp = time.Now().UTC()
	ev.KeyFingerprint = fingerprint(c)
	if err := d.Audit.Log(c.Request.Context(), ev); err != nil {
		slog.Warn("Audit log failed", "event_type", ev.EventType, "error", err)
	}
}

// auditEventType derives "configs.update" style names from a route.
func auditEventType(method, route string) string {
	parts := strings.Split(strings.TrimPrefix(route, "/api/"), "/")
	var kept []string
	for _, p := range parts {
		if p != "" && !strings.HasPrefix(p, ":") {
			kept = append(kept, p)
		}
	}
	verb := map[string]string{
		http.MethodPost:   "create",
		http.MethodPut:    "replace",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}[method]
	if verb == "" {
		verb = strings.ToLower(method)
	}
	return strings.Join(append(kept, verb), ".")
}

func resourceTypeOf(eventType string) string {
	if i := strings.LastIndex(eventType, "."); i > 0 {
		return eventType[:i]
	}
	return eventType
}

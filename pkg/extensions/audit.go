// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent describes one mutating call relayed to the backend.
type AuditEvent struct {
	// EventType groups events, e.g. "collection.create", "config.version.create".
	EventType string

	Timestamp time.Time

	// KeyFingerprint identifies the caller without the raw key.
	KeyFingerprint string

	// Action is the HTTP method forwarded.
	Action string

	ResourceType string
	ResourceID   string

	// Outcome is "success", "failure" or "blocked".
	Outcome string

	// StatusCode is the status relayed to the caller.
	StatusCode int

	Metadata map[string]any
}

// AuditLogger records audit events. Log must not block the request path for
// long; implementations that ship events remotely should buffer.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log implements AuditLogger.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// SlogAuditLogger writes events to a slog.Logger at Info level under the
// "audit" message.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger returns an AuditLogger backed by logger, or by
// slog.Default when logger is nil.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

// Log implements AuditLogger.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	attrs := []any{
		"event_type", event.EventType,
		"timestamp", event.Timestamp,
		"key_fingerprint", event.KeyFingerprint,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"outcome", event.Outcome,
		"status", event.StatusCode,
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, "metadata", event.Metadata)
	}
	l.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)

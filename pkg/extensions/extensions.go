// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable edges of the eval gateway.
//
// The gateway ships with implementations that need no extra services:
// API keys are taken from the request or the configured default, and
// audit events go to the structured log. Deployments that want SSO-backed
// key issuance or an external audit sink inject their own implementations
// via ServiceOptions.
//
//   - auth.go: API key resolution (AuthProvider)
//   - audit.go: audit trail for mutating proxy calls (AuditLogger)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups the extension points passed to gateway.New.
//
// Nil fields are replaced by WithDefaults.
type ServiceOptions struct {
	// AuthProvider resolves the API key forwarded to the backend.
	// Default: an APIKeyProvider without a default key.
	AuthProvider AuthProvider

	// AuditLogger records create/update/delete calls.
	// Default: NopAuditLogger.
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions that require every request to carry
// its own key and keep no audit trail.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: NewAPIKeyProvider(""),
		AuditLogger:  &NopAuditLogger{},
	}
}

// WithDefaults fills nil fields from DefaultOptions.
func (opts ServiceOptions) WithDefaults() ServiceOptions {
	def := DefaultOptions()
	if opts.AuthProvider == nil {
		opts.AuthProvider = def.AuthProvider
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = def.AuditLogger
	}
	return opts
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

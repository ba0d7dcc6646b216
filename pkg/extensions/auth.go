// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync/atomic"
)

// ErrUnauthorized is returned when no API key can be resolved.
var ErrUnauthorized = errors.New("unauthorized")

// KeySource records where a resolved API key came from.
type KeySource string

const (
	// KeySourceRequest means the caller sent the key.
	KeySourceRequest KeySource = "request"
	// KeySourceDefault means the configured default key was used.
	KeySourceDefault KeySource = "default"
)

// AuthInfo carries the key that will be forwarded to the backend.
//
// The raw key must never be logged. Use KeyFingerprint for logs, metrics
// labels and persisted records.
type AuthInfo struct {
	APIKey         string    `json:"-"`
	KeyFingerprint string    `json:"key_fingerprint"`
	Source         KeySource `json:"source"`
}

// String implements fmt.Stringer without exposing the key.
func (a *AuthInfo) String() string {
	if a == nil {
		return "<nil>"
	}
	return "key:" + a.KeyFingerprint + " (" + string(a.Source) + ")"
}

// AuthProvider turns the credential found on a request into an AuthInfo.
//
// token is the X-API-KEY header or bearer token, and may be empty.
// Implementations return ErrUnauthorized when no key can be resolved.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// Fingerprint returns a short stable identifier for an API key.
//
// It is the first 16 hex characters of the key's SHA-256. The empty key
// has the empty fingerprint.
func Fingerprint(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// APIKeyProvider accepts any non-empty key from the request and falls back
// to a default key that can be swapped at runtime.
type APIKeyProvider struct {
	defaultKey atomic.Pointer[string]
}

// NewAPIKeyProvider returns a provider with the given default key, which
// may be empty.
func NewAPIKeyProvider(defaultKey string) *APIKeyProvider {
	p := &APIKeyProvider{}
	p.SetDefaultKey(defaultKey)
	return p
}

// SetDefaultKey replaces the fallback key. Used on config reload.
func (p *APIKeyProvider) SetDefaultKey(key string) {
	key = strings.TrimSpace(key)
	p.defaultKey.Store(&key)
}

// DefaultKey returns the current fallback key.
func (p *APIKeyProvider) DefaultKey() string {
	if k := p.defaultKey.Load(); k != nil {
		return *k
	}
	return ""
}

// Validate implements AuthProvider.
func (p *APIKeyProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if token = strings.TrimSpace(token); token != "" {
		return &AuthInfo{APIKey: token, KeyFingerprint: Fingerprint(token), Source: KeySourceRequest}, nil
	}
	if def := p.DefaultKey(); def != "" {
		return &AuthInfo{APIKey: def, KeyFingerprint: Fingerprint(def), Source: KeySourceDefault}, nil
	}
	return nil, ErrUnauthorized
}

var _ AuthProvider = (*APIKeyProvider)(nil)

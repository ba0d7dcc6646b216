// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// ServiceOptions Tests
// ============================================================================

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if _, ok := opts.AuthProvider.(*APIKeyProvider); !ok {
		t.Error("DefaultOptions().AuthProvider should be *APIKeyProvider")
	}
	if _, ok := opts.AuditLogger.(*NopAuditLogger); !ok {
		t.Error("DefaultOptions().AuditLogger should be *NopAuditLogger")
	}
}

func TestServiceOptions_WithDefaults(t *testing.T) {
	custom := NewSlogAuditLogger(nil)
	opts := ServiceOptions{AuditLogger: custom}.WithDefaults()

	if opts.AuthProvider == nil {
		t.Fatal("WithDefaults should fill AuthProvider")
	}
	if opts.AuditLogger != custom {
		t.Error("WithDefaults should keep a caller-provided AuditLogger")
	}
}

func TestServiceOptions_FluentChaining(t *testing.T) {
	auth := NewAPIKeyProvider("k")
	audit := NewSlogAuditLogger(nil)

	opts := DefaultOptions().WithAuth(auth).WithAudit(audit)

	if opts.AuthProvider != auth {
		t.Error("WithAuth did not set provider")
	}
	if opts.AuditLogger != audit {
		t.Error("WithAudit did not set logger")
	}
}

// ============================================================================
// Auth Tests
// ============================================================================

func TestFingerprint(t *testing.T) {
	if Fingerprint("") != "" {
		t.Error("empty key should have empty fingerprint")
	}
	fp := Fingerprint("secret-key")
	if len(fp) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(fp))
	}
	if fp != Fingerprint("secret-key") {
		t.Error("fingerprint should be stable")
	}
	if fp == Fingerprint("other-key") {
		t.Error("different keys should have different fingerprints")
	}
	if strings.Contains(fp, "secret") {
		t.Error("fingerprint must not contain the key")
	}
}

func TestAPIKeyProvider_Validate(t *testing.T) {
	tests := []struct {
		name       string
		defaultKey string
		token      string
		wantKey    string
		wantSource KeySource
		wantErr    error
	}{
		{"request key wins", "default", "caller", "caller", KeySourceRequest, nil},
		{"falls back to default", "default", "", "default", KeySourceDefault, nil},
		{"whitespace token falls back", "default", "   ", "default", KeySourceDefault, nil},
		{"no key at all", "", "", "", "", ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewAPIKeyProvider(tt.defaultKey)
			info, err := p.Validate(context.Background(), tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if info.APIKey != tt.wantKey {
				t.Errorf("APIKey = %q, want %q", info.APIKey, tt.wantKey)
			}
			if info.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", info.Source, tt.wantSource)
			}
			if info.KeyFingerprint != Fingerprint(tt.wantKey) {
				t.Error("fingerprint does not match key")
			}
		})
	}
}

func TestAPIKeyProvider_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewAPIKeyProvider("k").Validate(ctx, "t"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAPIKeyProvider_SetDefaultKeyConcurrent(t *testing.T) {
	p := NewAPIKeyProvider("a")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.SetDefaultKey("b")
		}()
		go func() {
			defer wg.Done()
			if _, err := p.Validate(context.Background(), ""); err != nil {
				t.Errorf("Validate: %v", err)
			}
		}()
	}
	wg.Wait()

	if p.DefaultKey() != "b" {
		t.Errorf("DefaultKey = %q, want b", p.DefaultKey())
	}
}

func TestAuthInfo_StringHidesKey(t *testing.T) {
	info := &AuthInfo{APIKey: "super-secret", KeyFingerprint: Fingerprint("super-secret"), Source: KeySourceRequest}
	if strings.Contains(info.String(), "super-secret") {
		t.Error("String() leaked the API key")
	}
	var nilInfo *AuthInfo
	if nilInfo.String() != "<nil>" {
		t.Error("nil AuthInfo should print <nil>")
	}
}

// ============================================================================
// Audit Tests
// ============================================================================

func TestNopAuditLogger_Log(t *testing.T) {
	if err := (&NopAuditLogger{}).Log(context.Background(), AuditEvent{}); err != nil {
		t.Errorf("NopAuditLogger.Log() = %v", err)
	}
}

func TestSlogAuditLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogAuditLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	err := logger.Log(context.Background(), AuditEvent{
		EventType:      "collection.create",
		Timestamp:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		KeyFingerprint: "abcd",
		Action:         "POST",
		ResourceType:   "collection",
		Outcome:        "success",
		StatusCode:     202,
		Metadata:       map[string]any{"job_id": "j1"},
	})
	if err != nil {
		t.Fatalf("Log() = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"msg=audit", "event_type=collection.create", "status=202", "key_fingerprint=abcd", "job_id"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrBackendUnavailable means the backend could not be reached: a
	// transport error, a timeout or an open circuit.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrMissingAPIKey is returned before any network call when a request
	// has no API key.
	ErrMissingAPIKey = errors.New("missing API key")
)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	StatusCode int
	Method     string
	Path       string
	Body       []byte
}

func (e *StatusError) Error() string {
	msg := e.Message()
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("backend %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// Message extracts a human-readable message from the body.
//
// JSON bodies are searched for "error", "detail" and "message" in that
// order; any other body is returned trimmed and truncated.
func (e *StatusError) Message() string {
	return messageFromBody(e.Body)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

func messageFromBody(body []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, key := range []string{"error", "detail", "message"} {
			switch v := fields[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case nil:
			default:
				if b, err := json.Marshal(v); err == nil {
					return string(b)
				}
			}
		}
	}
	const maxLen = 256
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}

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
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the wrapper the backend puts around most payloads.
type Envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// EnvelopeError is an envelope with success=false.
type EnvelopeError struct {
	Message string
}

func (e *EnvelopeError) Error() string {
	if e.Message == "" {
		return "backend reported failure"
	}
	return e.Message
}

// DecodeEnvelope decodes body into out.
//
// A JSON object with a boolean "success" field is treated as an Envelope:
// on success its "data" is decoded into out, otherwise an *EnvelopeError
// is returned. Any other JSON value is decoded into out directly. A nil
// out only checks the envelope.
func DecodeEnvelope(body []byte, out any) error {
	payload := bytes.TrimSpace(body)
	if len(payload) == 0 {
		return nil
	}

	if payload[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(payload, &fields); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		if raw, ok := fields["success"]; ok {
			var success bool
			if err := json.Unmarshal(raw, &success); err == nil {
				var env Envelope
				if err := json.Unmarshal(payload, &env); err != nil {
					return fmt.Errorf("invalid envelope: %w", err)
				}
				if !env.Success {
					return &EnvelopeError{Message: env.Error}
				}
				payload = env.Data
				if len(payload) == 0 {
					return nil
				}
			}
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Unwrap returns the "data" of an envelope, or body unchanged when it is
// not an envelope.
func Unwrap(body []byte) json.RawMessage {
	var raw json.RawMessage
	if err := DecodeEnvelope(body, &raw); err != nil || raw == nil {
		return body
	}
	return raw
}

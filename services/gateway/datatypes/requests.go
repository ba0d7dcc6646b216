// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the request and response bodies the gateway
// validates before forwarding to the evaluation backend.
//
// Request types only declare the fields the gateway checks. Handlers forward
// the original body, so fields unknown to the gateway still reach the
// backend unchanged.
package datatypes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxTextBytes bounds free-text fields such as transcripts and prompts.
const MaxTextBytes = 1 << 20

// MaxDiffContext bounds the context lines a diff request may ask for.
const MaxDiffContext = 50

// MaxDiffLines bounds the lines on either side of a diff. Diff time grows
// with the product of input size and edit distance.
const MaxDiffLines = 5000

// =============================================================================
// Shared Validator Instance
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = validate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = validate.RegisterValidation("jsonobject", validateJSONObject)
}

// validateMaxBytes checks byte length rather than rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxTextBytes
}

// validateJSONObject accepts a json.RawMessage holding a JSON object.
func validateJSONObject(fl validator.FieldLevel) bool {
	raw, ok := fl.Field().Interface().(json.RawMessage)
	if !ok {
		return false
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}

// Validate runs the struct tags of v.
func Validate(v any) error {
	return validate.Struct(v)
}

// ValidationMessage turns a validator error into a short message for the
// error envelope, e.g. "name is required; model must be at most 128 characters".
func ValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "gte", "lte":
			msgs = append(msgs, fmt.Sprintf("%s is out of range", field))
		case "maxbytes":
			msgs = append(msgs, fmt.Sprintf("%s exceeds %d bytes", field, MaxTextBytes))
		case "jsonobject":
			msgs = append(msgs, field+" must be a JSON object")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// =============================================================================
// Collections
// =============================================================================

// CreateCollectionRequest is the body of POST /api/collections.
type CreateCollectionRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=128"`
	Description string `json:"description,omitempty" validate:"max=2048"`
}

// CollectionJob is the backend's answer to a collection create: a job to
// poll rather than the collection itself.
type CollectionJob struct {
	JobID        string `json:"job_id"`
	ID           string `json:"id"`
	Status       string `json:"status"`
	CollectionID string `json:"collection_id,omitempty"`
}

// JobIdentifier returns whichever id field the backend populated.
func (j CollectionJob) JobIdentifier() string {
	if j.JobID != "" {
		return j.JobID
	}
	return j.ID
}

// =============================================================================
// Evaluations
// =============================================================================

// CreateEvaluationRequest is the body of POST /api/evaluations.
type CreateEvaluationRequest struct {
	Name         string `json:"name" validate:"required,max=256"`
	CollectionID string `json:"collection_id,omitempty" validate:"max=128"`
	ConfigID     string `json:"config_id,omitempty" validate:"max=128"`
}

// CreateSTTDatasetRequest is the body of POST /api/evaluations/stt/datasets.
type CreateSTTDatasetRequest struct {
	Name        string `json:"name" validate:"required,max=256"`
	Description string `json:"description,omitempty" validate:"max=2048"`
	Language    string `json:"language,omitempty" validate:"max=16"`
}

// CreateSTTRunRequest is the body of POST /api/evaluations/stt/runs.
type CreateSTTRunRequest struct {
	DatasetID string `json:"dataset_id" validate:"required,max=128"`
	Model     string `json:"model" validate:"required,max=128"`
	Name      string `json:"name,omitempty" validate:"max=256"`
}

// WERRequest is the body of POST /api/evaluations/stt/wer.
type WERRequest struct {
	Reference  string `json:"reference" validate:"required,maxbytes"`
	Hypothesis string `json:"hypothesis" validate:"maxbytes"`
	RunID      string `json:"run_id,omitempty" validate:"max=128"`
	Model      string `json:"model,omitempty" validate:"max=128"`
	Dataset    string `json:"dataset,omitempty" validate:"max=128"`
}

// =============================================================================
// Configs
// =============================================================================

// CreateConfigRequest is the body of POST /api/configs.
type CreateConfigRequest struct {
	Name        string          `json:"name" validate:"required,max=256"`
	Description string          `json:"description,omitempty" validate:"max=2048"`
	ConfigBlob  json.RawMessage `json:"config_blob,omitempty" validate:"omitempty,jsonobject"`
}

// UpdateConfigRequest is the body of PATCH /api/configs/:id.
type UpdateConfigRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitnil,min=1,max=256"`
	Description *string `json:"description,omitempty" validate:"omitnil,max=2048"`
}

// CreateConfigVersionRequest is the body of POST /api/configs/:id/versions.
type CreateConfigVersionRequest struct {
	ConfigBlob json.RawMessage `json:"config_blob" validate:"required,jsonobject"`
	Message    string          `json:"message,omitempty" validate:"max=1024"`
}

// ConfigVersion is the part of a backend config version the diff reads.
type ConfigVersion struct {
	Version    json.Number     `json:"version"`
	ConfigBlob json.RawMessage `json:"config_blob"`
	Message    string          `json:"message,omitempty"`
	CreatedAt  string          `json:"created_at,omitempty"`
}

// DiffRequest is the body of POST /api/diff.
type DiffRequest struct {
	Old     string `json:"old" validate:"maxbytes"`
	New     string `json:"new" validate:"maxbytes"`
	OldName string `json:"old_name,omitempty" validate:"max=256"`
	NewName string `json:"new_name,omitempty" validate:"max=256"`
	Context *int   `json:"context,omitempty" validate:"omitnil,gte=0,lte=50"`
}

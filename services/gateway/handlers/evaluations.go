// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianEval/pkg/validation"
	"github.com/AleutianAI/AleutianEval/services/gateway/backend"
	"github.com/AleutianAI/AleutianEval/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianEval/services/gateway/results"
)

const (
	evaluationsPath  = "/api/v1/evaluations/"
	sttDatasetsPath  = "/api/v1/evaluations/stt/datasets/"
	sttRunsPath      = "/api/v1/evaluations/stt/runs/"
	sttWERPath       = "/api/v1/evaluations/stt/wer"
	werRecordTimeout = 5 * time.Second
)

// =============================================================================
// Text Evaluations
// =============================================================================

// ListEvaluations relays the evaluation list.
func ListEvaluations(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, func(*gin.Context) string { return evaluationsPath })
}

// CreateEvaluation validates and forwards a new evaluation.
func CreateEvaluation(d *Deps) gin.HandlerFunc {
	return validatedPost(d, evaluationsPath, "evaluations.create", func() any {
		return &datatypes.CreateEvaluationRequest{}
	})
}

// GetEvaluation relays one evaluation.
func GetEvaluation(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, func(c *gin.Context) string {
		return evaluationsPath + segment(c, "id")
	})
}

// ExportEvaluation fetches an evaluation and uploads it with the
// configured Exporter. Returns 501 when export is not configured.
func ExportEvaluation(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := validation.ValidateIdentifier(id); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		resp, err := d.call(c, http.MethodGet, evaluationsPath+segment(c, "id"), nil, nil, "")
		if err != nil {
			respondBackendError(c, err)
			return
		}
		if !resp.OK() {
			relay(c, resp)
			return
		}

		uri, err := d.Exporter.Export(c.Request.Context(), id, backend.Unwrap(resp.Body))
		if errors.Is(err, results.ErrNotConfigured) {
			respondError(c, http.StatusNotImplemented, "evaluation export is not configured")
			return
		}
		if err != nil {
			slog.Error("Evaluation export failed", "evaluation_id", id, "error", err)
			respondError(c, http.StatusBadGateway, "export failed: "+err.Error())
			d.audit(c, "evaluations.export", http.MethodPost, id, http.StatusBadGateway)
			return
		}
		d.audit(c, "evaluations.export", http.MethodPost, id, http.StatusOK)
		respondData(c, http.StatusOK, gin.H{"evaluation_id": id, "uri": uri})
	}
}

// =============================================================================
// STT
// =============================================================================

// ListSTTDatasets relays the STT dataset list.
func ListSTTDatasets(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, func(*gin.Context) string { return sttDatasetsPath })
}

// CreateSTTDataset validates and forwards a new dataset.
func CreateSTTDataset(d *Deps) gin.HandlerFunc {
	return validatedPost(d, sttDatasetsPath, "evaluations.stt.datasets.create", func() any {
		return &datatypes.CreateSTTDatasetRequest{}
	})
}

// GetSTTDataset relays one dataset.
func GetSTTDataset(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, func(c *gin.Context) string {
		return sttDatasetsPath + segment(c, "id")
	})
}

// ListSTTRuns relays the STT run list.
func ListSTTRuns(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, func(*gin.Context) string { return sttRunsPath })
}

// CreateSTTRun validates and forwards a new transcription run.
func CreateSTTRun(d *Deps) gin.HandlerFunc {
	return validatedPost(d, sttRunsPath, "evaluations.stt.runs.create", func() any {
		return &datatypes.CreateSTTRunRequest{}
	})
}

// GetSTTRun relays one run.
func GetSTTRun(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, func(c *gin.Context) string {
		return sttRunsPath + segment(c, "id")
	})
}

// GetSTTRunResults relays the per-utterance results of a run.
func GetSTTRunResults(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, func(c *gin.Context) string {
		return sttRunsPath + segment(c, "id") + "/results"
	})
}

// ComputeWER forwards a WER request. The backend does the scoring; a
// successful result is also recorded in the WER history when configured.
func ComputeWER(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.WERRequest
		body, ok := bindAndValidate(c, &req)
		if !ok {
			return
		}

		resp := d.forward(c, http.MethodPost, sttWERPath, body, "application/json")
		if resp == nil || !resp.OK() {
			return
		}

		rec, ok := results.ParseWERResult(body, backend.Unwrap(resp.Body))
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), werRecordTimeout)
		defer cancel()
		if err := d.WER.Record(ctx, rec); err != nil {
			slog.Warn("Failed to record WER result", "run_id", rec.RunID, "error", err)
			d.Metrics.RecordWER(false)
			return
		}
		if _, nop := d.WER.(results.NopWERRecorder); !nop {
			d.Metrics.RecordWER(true)
		}
	}
}

// WERHistory returns recorded WER results for ?run_id=, newest first.
func WERHistory(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Query("run_id")
		if runID == "" {
			respondError(c, http.StatusBadRequest, "run_id is required")
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

		history, err := d.WER.History(c.Request.Context(), runID, limit)
		if errors.Is(err, results.ErrNotConfigured) {
			respondError(c, http.StatusNotImplemented, "WER history is not configured")
			return
		}
		if errors.Is(err, results.ErrInvalidRunID) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			respondError(c, http.StatusBadGateway, err.Error())
			return
		}
		if history == nil {
			history = []results.WERRecord{}
		}
		respondData(c, http.StatusOK, history)
	}
}

// validatedPost validates the body against the type returned by newReq
// and forwards it unchanged.
func validatedPost(d *Deps, path, eventType string, newReq func() any) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := bindAndValidate(c, newReq())
		if !ok {
			return
		}
		resp := d.forward(c, http.MethodPost, path, body, "application/json")
		if resp != nil {
			d.audit(c, eventType, http.MethodPost, "", resp.StatusCode)
		}
	}
}

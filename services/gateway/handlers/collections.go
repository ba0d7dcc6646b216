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
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianEval/services/gateway/backend"
	"github.com/AleutianAI/AleutianEval/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianEval/services/gateway/jobs"
)

const collectionsPath = "/api/v1/collections/"

// optimisticCollection is the placeholder shown for a collection whose
// creation job has not finished.
type optimisticCollection struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Status       jobs.Status `json:"status"`
	JobID        string      `json:"job_id"`
	CollectionID string      `json:"collection_id,omitempty"`
	Error        string      `json:"error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	Optimistic   bool        `json:"optimistic"`
}

func toOptimistic(job jobs.Job) optimisticCollection {
	return optimisticCollection{
		ID:           job.ID,
		Name:         job.Name,
		Description:  job.Description,
		Status:       job.Status,
		JobID:        job.ID,
		CollectionID: job.CollectionID,
		Error:        job.Error,
		CreatedAt:    job.CreatedAt,
		Optimistic:   true,
	}
}

// ListCollections returns the backend's collections followed by optimistic
// entries for the caller's in-flight and failed creation jobs.
func ListCollections(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := d.call(c, http.MethodGet, collectionsPath, c.Request.URL.Query(), nil, "")
		if err != nil {
			respondBackendError(c, err)
			return
		}
		if !resp.OK() {
			relay(c, resp)
			return
		}

		var collections []json.RawMessage
		if err := backend.DecodeEnvelope(resp.Body, &collections); err != nil {
			// Not a list; the dashboard gets the backend payload as is.
			relay(c, resp)
			return
		}

		pending, err := d.Tracker.Pending(c.Request.Context(), fingerprint(c))
		if err != nil {
			slog.Warn("Failed to load optimistic collections", "error", err)
		}

		known := make(map[string]bool, len(collections))
		for _, raw := range collections {
			var item struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(raw, &item) == nil && item.ID != "" {
				known[item.ID] = true
			}
		}

		merged := make([]any, 0, len(collections)+len(pending))
		for _, raw := range collections {
			merged = append(merged, raw)
		}
		for _, job := range pending {
			if job.CollectionID != "" && known[job.CollectionID] {
				continue
			}
			merged = append(merged, toOptimistic(job))
		}
		respondData(c, http.StatusOK, merged)
	}
}

// CreateCollection forwards a create and tracks the returned job.
func CreateCollection(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateCollectionRequest
		body, ok := bindAndValidate(c, &req)
		if !ok {
			return
		}

		resp := d.forward(c, http.MethodPost, collectionsPath, body, "application/json")
		if resp == nil {
			return
		}
		d.audit(c, "collections.create", http.MethodPost, "", resp.StatusCode)
		if !resp.OK() {
			return
		}

		var created datatypes.CollectionJob
		if err := backend.DecodeEnvelope(resp.Body, &created); err != nil || created.JobIdentifier() == "" {
			slog.Debug("Collection create returned no job; nothing to track")
			return
		}
		job := jobs.Job{
			ID:           created.JobIdentifier(),
			Name:         req.Name,
			Description:  req.Description,
			Status:       jobs.Status(created.Status),
			CollectionID: created.CollectionID,
		}
		// The backend already accepted the job; a client disconnect must not
		// drop it.
		if _, err := d.Tracker.Track(context.WithoutCancel(c.Request.Context()), job, apiKey(c)); err != nil {
			slog.Warn("Failed to track collection job", "job_id", job.ID, "error", err)
		}
	}
}

// GetCollection relays one collection. With ?include=documents the
// collection and its documents are fetched concurrently and combined.
func GetCollection(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := collectionsPath + segment(c, "id")
		if c.Query("include") != "documents" {
			d.forward(c, http.MethodGet, path, nil, "")
			return
		}

		var collResp, docsResp *backend.Response
		var docsErr error
		g, _ := errgroup.WithContext(c.Request.Context())
		g.Go(func() error {
			var err error
			collResp, err = d.call(c, http.MethodGet, path, nil, nil, "")
			return err
		})
		g.Go(func() error {
			docsResp, docsErr = d.call(c, http.MethodGet, path+"/documents", nil, nil, "")
			return nil
		})
		if err := g.Wait(); err != nil {
			respondBackendError(c, err)
			return
		}
		if !collResp.OK() {
			relay(c, collResp)
			return
		}

		var collection map[string]any
		if err := backend.DecodeEnvelope(collResp.Body, &collection); err != nil || collection == nil {
			relay(c, collResp)
			return
		}
		switch {
		case docsErr != nil:
			collection["documents_error"] = docsErr.Error()
		case !docsResp.OK():
			se := &backend.StatusError{StatusCode: docsResp.StatusCode, Body: docsResp.Body}
			collection["documents_error"] = se.Message()
		default:
			collection["documents"] = backend.Unwrap(docsResp.Body)
		}
		respondData(c, http.StatusOK, collection)
	}
}

// DeleteCollection forwards a delete.
func DeleteCollection(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodDelete, func(c *gin.Context) string {
		return collectionsPath + segment(c, "id")
	})
}

// GetCollectionJob relays the backend's view of a creation job.
func GetCollectionJob(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, func(c *gin.Context) string {
		return jobs.JobPath + segment(c, "jobId")
	})
}

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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianEval/pkg/extensions"
	"github.com/AleutianAI/AleutianEval/pkg/myers"
	"github.com/AleutianAI/AleutianEval/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianEval/services/gateway/observability"
	"github.com/AleutianAI/AleutianEval/services/policy_engine"
)

const configsPath = "/api/v1/configs/"

func configPath(c *gin.Context) string {
	return configsPath + segment(c, "id")
}

func versionsPath(c *gin.Context) string {
	return configPath(c) + "/versions/"
}

// ListConfigs relays the config list.
func ListConfigs(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, func(*gin.Context) string { return configsPath })
}

// GetConfig relays one config.
func GetConfig(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, configPath)
}

// DeleteConfig forwards a delete.
func DeleteConfig(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodDelete, configPath)
}

// ListConfigVersions relays a config's version history.
func ListConfigVersions(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, versionsPath)
}

// GetConfigVersion relays one version.
func GetConfigVersion(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, func(c *gin.Context) string {
		return versionsPath(c) + segment(c, "version")
	})
}

// CreateConfig validates and forwards a new config. An initial config_blob
// is scanned like a new version.
func CreateConfig(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateConfigRequest
		body, ok := bindAndValidate(c, &req)
		if !ok {
			return
		}
		if d.rejectSecrets(c, "configs.create", "", req.ConfigBlob) {
			return
		}
		resp := d.forward(c, http.MethodPost, configsPath, body, "application/json")
		if resp != nil {
			d.audit(c, "configs.create", http.MethodPost, "", resp.StatusCode)
		}
	}
}

// UpdateConfig validates and forwards a metadata update.
func UpdateConfig(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UpdateConfigRequest
		body, ok := bindAndValidate(c, &req)
		if !ok {
			return
		}
		resp := d.forward(c, http.MethodPatch, configPath(c), body, "application/json")
		if resp != nil {
			d.audit(c, "configs.update", http.MethodPatch, c.Param("id"), resp.StatusCode)
		}
	}
}

// CreateConfigVersion scans the new content for secrets and forwards it.
// Content with high-confidence secrets is rejected with 422.
func CreateConfigVersion(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateConfigVersionRequest
		body, ok := bindAndValidate(c, &req)
		if !ok {
			return
		}
		if d.rejectSecrets(c, "configs.versions.create", c.Param("id"), req.ConfigBlob) {
			return
		}
		resp := d.forward(c, http.MethodPost, versionsPath(c), body, "application/json")
		if resp != nil {
			d.audit(c, "configs.versions.create", http.MethodPost, c.Param("id"), resp.StatusCode)
		}
	}
}

// rejectSecrets scans blob and writes a 422 if it must be rejected.
func (d *Deps) rejectSecrets(c *gin.Context, eventType, resourceID string, blob json.RawMessage) bool {
	if !d.Scanning.VersionsEnabled() || d.Policy == nil || len(blob) == 0 {
		return false
	}
	text, err := myers.CanonicalJSON(blob)
	if err != nil {
		text = string(blob)
	}
	blocking := policy_engine.BlockingFindings(d.Policy.ScanNamed("config_blob", text))
	if len(blocking) == 0 {
		return false
	}

	d.Metrics.RecordPolicyBlock(observability.PolicyKindVersion)
	d.logAudit(c, extensions.AuditEvent{
		EventType:    eventType,
		Action:       http.MethodPost,
		ResourceType: resourceTypeOf(eventType),
		ResourceID:   resourceID,
		Outcome:      "blocked",
		StatusCode:   http.StatusUnprocessableEntity,
		Metadata:     map[string]any{"findings": len(blocking)},
	})
	c.JSON(http.StatusUnprocessableEntity, datatypes.PolicyViolation{
		Success:  false,
		Error:    "config contains secrets; reference them from the environment instead",
		Findings: blocking,
	})
	return true
}

// =============================================================================
// Diff
// =============================================================================

// DiffConfigVersions compares two versions of a config.
//
// Both versions are fetched concurrently. Their config_blob values are
// canonicalized to indented JSON with sorted keys so that key order and
// formatting never show up as changes, then diffed line by line.
func DiffConfigVersions(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		from, to := c.Query("from"), c.Query("to")
		if from == "" || to == "" {
			respondError(c, http.StatusBadRequest, "from and to query parameters are required")
			return
		}
		contextLines, ok := diffContext(c.Query("context"))
		if !ok {
			respondError(c, http.StatusBadRequest, fmt.Sprintf("context must be an integer between 0 and %d", datatypes.MaxDiffContext))
			return
		}

		var oldVersion, newVersion datatypes.ConfigVersion
		base := versionsPath(c)
		key := apiKey(c)
		g, ctx := errgroup.WithContext(c.Request.Context())
		g.Go(func() error {
			return d.Backend.GetJSON(ctx, base+url.PathEscape(from), nil, key, &oldVersion)
		})
		g.Go(func() error {
			return d.Backend.GetJSON(ctx, base+url.PathEscape(to), nil, key, &newVersion)
		})
		if err := g.Wait(); err != nil {
			respondBackendError(c, err)
			return
		}

		oldText, err := myers.CanonicalJSON(oldVersion.ConfigBlob)
		if err != nil {
			respondError(c, http.StatusBadGateway, "version "+from+" has an invalid config_blob")
			return
		}
		newText, err := myers.CanonicalJSON(newVersion.ConfigBlob)
		if err != nil {
			respondError(c, http.StatusBadGateway, "version "+to+" has an invalid config_blob")
			return
		}

		resp, err := datatypes.NewDiffResponse("v"+from, "v"+to, oldText, newText, contextLines)
		if err != nil {
			respondDiffError(c, err)
			return
		}
		respondData(c, http.StatusOK, resp)
	}
}

// DiffTexts diffs two texts posted by the dashboard.
func DiffTexts() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.DiffRequest
		if _, ok := bindAndValidate(c, &req); !ok {
			return
		}
		contextLines := myers.DefaultContext
		if req.Context != nil {
			contextLines = *req.Context
		}
		oldName, newName := req.OldName, req.NewName
		if oldName == "" {
			oldName = "old"
		}
		if newName == "" {
			newName = "new"
		}

		resp, err := datatypes.NewDiffResponse(oldName, newName, req.Old, req.New, contextLines)
		if err != nil {
			respondDiffError(c, err)
			return
		}
		respondData(c, http.StatusOK, resp)
	}
}

func respondDiffError(c *gin.Context, err error) {
	if errors.Is(err, datatypes.ErrDiffTooLarge) {
		respondError(c, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	respondError(c, http.StatusInternalServerError, err.Error())
}

func diffContext(raw string) (int, bool) {
	if raw == "" {
		return myers.DefaultContext, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > datatypes.MaxDiffContext {
		return 0, false
	}
	return n, true
}

// decodeJSON unmarshals data with json.Number for numbers.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

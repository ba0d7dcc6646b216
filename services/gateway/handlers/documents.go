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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianEval/pkg/extensions"
	"github.com/AleutianAI/AleutianEval/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianEval/services/gateway/observability"
	"github.com/AleutianAI/AleutianEval/services/policy_engine"
)

const documentsPath = "/api/v1/documents/"

// textExtensions are scanned regardless of their declared content type.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".tsv": true,
	".json": true, ".jsonl": true, ".yaml": true, ".yml": true, ".toml": true,
	".xml": true, ".html": true, ".env": true, ".ini": true, ".cfg": true,
	".conf": true, ".log": true, ".py": true, ".go": true, ".js": true,
	".ts": true, ".sh": true, ".sql": true, ".pem": true, ".key": true,
}

// ListDocuments relays the document list.
func ListDocuments(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, func(*gin.Context) string { return documentsPath })
}

// GetDocument relays one document.
func GetDocument(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodGet, func(c *gin.Context) string {
		return documentsPath + segment(c, "id")
	})
}

// DeleteDocument forwards a delete.
func DeleteDocument(d *Deps) gin.HandlerFunc {
	return Proxy(d, http.MethodDelete, func(c *gin.Context) string {
		return documentsPath + segment(c, "id")
	})
}

// UploadDocuments scans text-like files of a multipart upload and forwards
// the untouched body. Files with high-confidence secrets block the upload
// with 422 unless ?force=true.
func UploadDocuments(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		mediaType, params, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
			respondError(c, http.StatusBadRequest, "expected a multipart/form-data upload")
			return
		}

		body, ok := readBody(c, MaxUploadBytes)
		if !ok {
			return
		}

		force, _ := strconv.ParseBool(c.Query("force"))
		if d.Scanning.DocumentsEnabled() && d.Policy != nil {
			findings, files, err := scanMultipart(d.Policy, body, params["boundary"])
			if err != nil {
				respondError(c, http.StatusBadRequest, "malformed multipart body: "+err.Error())
				return
			}
			if files == 0 {
				respondError(c, http.StatusBadRequest, "no files in upload")
				return
			}
			if blocking := policy_engine.BlockingFindings(findings); len(blocking) > 0 {
				if !force {
					d.Metrics.RecordPolicyBlock(observability.PolicyKindDocument)
					d.logAudit(c, extensions.AuditEvent{
						EventType:    "documents.create",
						Action:       http.MethodPost,
						ResourceType: "documents",
						Outcome:      "blocked",
						StatusCode:   http.StatusUnprocessableEntity,
						Metadata:     map[string]any{"findings": len(blocking)},
					})
					c.JSON(http.StatusUnprocessableEntity, datatypes.PolicyViolation{
						Success:  false,
						Error:    "upload contains secrets; remove them or retry with ?force=true",
						Findings: blocking,
					})
					return
				}
				slog.Warn("Uploading documents with secrets (forced)",
					"findings", len(blocking),
					"key_fingerprint", fingerprint(c),
				)
			}
		}

		query := c.Request.URL.Query()
		query.Del("force")
		resp, err := d.call(c, http.MethodPost, documentsPath, query, body, c.GetHeader("Content-Type"))
		if err != nil {
			respondBackendError(c, err)
			return
		}
		relay(c, resp)
		d.audit(c, "documents.create", http.MethodPost, "", resp.StatusCode)
	}
}

// scanMultipart scans every text-like file part and returns the findings
// and the number of file parts seen.
func scanMultipart(engine *policy_engine.PolicyEngine, body []byte, boundary string) ([]policy_engine.ScanFinding, int, error) {
	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	var findings []policy_engine.ScanFinding
	files := 0
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, files, err
		}
		name := part.FileName()
		if name == "" {
			_ = part.Close()
			continue
		}
		files++

		content, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, files, fmt.Errorf("read %s: %w", name, err)
		}
		if !isTextLike(name, part.Header.Get("Content-Type"), content) {
			continue
		}
		findings = append(findings, engine.ScanNamed(name, string(content))...)
	}
	return findings, files, nil
}

// isTextLike decides whether a file is worth scanning.
func isTextLike(name, contentType string, content []byte) bool {
	if textExtensions[strings.ToLower(filepath.Ext(name))] {
		return true
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/json",
		mediaType == "application/x-yaml",
		mediaType == "application/yaml",
		mediaType == "application/xml":
		return true
	case mediaType == "" || mediaType == "application/octet-stream":
		sample := content
		if len(sample) > 8192 {
			sample = sample[:8192]
			// Drop a rune split by the cut.
			for i := 0; i < utf8.UTFMax-1 && !utf8.Valid(sample); i++ {
				sample = sample[:len(sample)-1]
			}
		}
		return len(sample) > 0 && utf8.Valid(sample) && !bytes.ContainsRune(sample, 0)
	default:
		return false
	}
}

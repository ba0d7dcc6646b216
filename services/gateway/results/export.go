// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package results

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianEval/services/gateway/config"
)

// Exporter uploads an evaluation payload and returns its location.
type Exporter interface {
	Export(ctx context.Context, evaluationID string, payload []byte) (string, error)
	Close() error
}

// NopExporter rejects every export with ErrNotConfigured.
type NopExporter struct{}

func (NopExporter) Export(context.Context, string, []byte) (string, error) {
	return "", ErrNotConfigured
}

func (NopExporter) Close() error { return nil }

// GCSExporter writes evaluations to gs://{bucket}/{prefix}/evaluations/{id}.json.
type GCSExporter struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewExporter returns a GCS exporter when cfg is enabled and a NopExporter
// otherwise. extra options are appended to the client options.
func NewExporter(ctx context.Context, cfg config.GCSConfig, extra ...option.ClientOption) (Exporter, error) {
	if !cfg.Enabled() {
		return NopExporter{}, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, extra...)

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSExporter{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// ObjectName returns the object path for an evaluation.
func ObjectName(prefix, evaluationID string) string {
	id := strings.ReplaceAll(evaluationID, "/", "_")
	return path.Join(strings.Trim(prefix, "/"), "evaluations", id+".json")
}

// Export uploads payload and returns its gs:// URI.
func (e *GCSExporter) Export(ctx context.Context, evaluationID string, payload []byte) (string, error) {
	name := ObjectName(e.prefix, evaluationID)
	writer := e.client.Bucket(e.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, bytes.NewReader(payload)); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to write GCS object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", e.bucket, name)
	slog.Info("Exported evaluation", "evaluation_id", evaluationID, "uri", uri, "bytes", len(payload))
	return uri, nil
}

// Close releases the storage client.
func (e *GCSExporter) Close() error {
	return e.client.Close()
}

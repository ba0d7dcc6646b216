// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	kv "github.com/AleutianAI/AleutianEval/services/gateway/storage/badger"
)

const keyPrefix = "job/"

// Store persists jobs in BadgerDB.
//
// Terminal jobs are written with a TTL of Retention so they disappear on
// their own; non-terminal jobs never expire at the storage layer.
type Store struct {
	db        *kv.DB
	retention time.Duration
}

// NewStore wraps db. A non-positive retention keeps terminal jobs forever.
func NewStore(db *kv.DB, retention time.Duration) *Store {
	return &Store{db: db, retention: retention}
}

// Put inserts or replaces job.
func (s *Store) Put(ctx context.Context, job Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	var ttl time.Duration
	if job.Status.Terminal() {
		ttl = s.retention
	}
	if err := s.db.PutJSON(ctx, keyPrefix+job.ID, job, ttl); err != nil {
		return fmt.Errorf("store job %s: %w", job.ID, err)
	}
	return nil
}

// Get loads one job.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	var job Job
	err := s.db.GetJSON(ctx, keyPrefix+id, &job)
	if errors.Is(err, kv.ErrNotFound) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	return job, nil
}

// Delete removes a job. Missing jobs are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.Delete(ctx, keyPrefix+id)
}

// List returns all jobs, oldest first. An empty fingerprint matches every
// job; otherwise only jobs tracked under that key are returned.
func (s *Store) List(ctx context.Context, fingerprint string) ([]Job, error) {
	var out []Job
	err := s.db.ScanPrefix(ctx, keyPrefix, func(key string, value []byte) error {
		var job Job
		if err := json.Unmarshal(value, &job); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if fingerprint == "" || job.KeyFingerprint == fingerprint {
			out = append(out, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

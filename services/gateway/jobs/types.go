// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jobs tracks asynchronous collection-creation jobs.
//
// Creating a collection on the backend returns a job id rather than the
// collection. The Tracker persists each job, polls the backend until the job
// reaches a terminal status, and publishes events so the dashboard can show
// an optimistic entry that is replaced once the collection exists.
//
// API keys used for polling are held in memguard enclaves and never written
// to the job store. Jobs only carry the key's fingerprint.
package jobs

import (
	"errors"
	"strings"
	"time"
)

// ErrJobNotFound is returned when no tracked job has the requested id.
var ErrJobNotFound = errors.New("job not found")

// Status is the lifecycle state of a tracked job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"

	// StatusExpired is assigned locally when a job outlives the tracking TTL.
	StatusExpired Status = "expired"
)

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusProcessing, StatusSuccessful, StatusFailed, StatusExpired}
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// ParseStatus maps a backend status string to a Status.
//
// Matching is case-insensitive and accepts the synonyms the backend has
// used over time. The second result is false for unknown values.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "queued", "created":
		return StatusPending, true
	case "processing", "running", "in_progress", "started":
		return StatusProcessing, true
	case "successful", "success", "succeeded", "completed", "complete", "done":
		return StatusSuccessful, true
	case "failed", "failure", "error", "errored":
		return StatusFailed, true
	case "expired":
		return StatusExpired, true
	default:
		return "", false
	}
}

// Job is a tracked collection-creation job.
type Job struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	KeyFingerprint string    `json:"key_fingerprint"`
	Status         Status    `json:"status"`
	CollectionID   string    `json:"collection_id,omitempty"`
	Error          string    `json:"error,omitempty"`
	Attempts       int       `json:"attempts"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Optimistic reports whether the job should still be shown as a placeholder
// collection. Failed jobs stay visible so the failure can be surfaced.
func (j Job) Optimistic() bool {
	return !j.Status.Terminal() || j.Status == StatusFailed
}

// EventType identifies what happened to a job.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event is published on every job change.
type Event struct {
	Type EventType `json:"type"`
	Job  Job       `json:"job"`
	At   time.Time `json:"at"`
}

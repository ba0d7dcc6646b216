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
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianEval/pkg/extensions"
	"github.com/AleutianAI/AleutianEval/services/gateway/backend"
	"github.com/AleutianAI/AleutianEval/services/gateway/observability"
)

// JobPath is the backend endpoint polled for a job's status.
const JobPath = "/api/v1/collections/jobs/"

// JobSource fetches job status from the backend. *backend.Client
// implements it.
type JobSource interface {
	GetJSON(ctx context.Context, path string, query url.Values, apiKey string, out any) error
}

var _ JobSource = (*backend.Client)(nil)

// Config controls polling and expiry.
type Config struct {
	// PollInterval is the time between poll cycles. Default: 3s.
	PollInterval time.Duration

	// TTL is how long a job may stay non-terminal before it is expired.
	// Default: 30m.
	TTL time.Duration

	// DefaultKey returns the gateway's configured API key. It is used for
	// jobs whose own key is no longer in memory, provided the fingerprints
	// match. Optional.
	DefaultKey func() string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Minute
	}
	return c
}

// PollResult summarizes one poll cycle.
type PollResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// backendJob is the subset of the backend job payload the tracker reads.
type backendJob struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	CollectionID string `json:"collection_id"`
	Error        string `json:"error"`
	Message      string `json:"message"`
}

// Tracker records collection jobs and polls the backend until they finish.
//
// The poll loop follows the start/stop/run-now shape of a scheduler: it runs
// one cycle immediately on Start and then on every tick until Stop or
// context cancellation.
//
// Thread Safety: Safe for concurrent use.
type Tracker struct {
	store   *Store
	keys    *Keyring
	source  JobSource
	hub     *Hub
	metrics *observability.GatewayMetrics
	config  Config
	now     func() time.Time

	pollMu  sync.Mutex // serializes poll cycles
	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
	running bool
}

// NewTracker wires a tracker. hub and metrics may be nil.
func NewTracker(store *Store, keys *Keyring, source JobSource, hub *Hub, metrics *observability.GatewayMetrics, config Config) *Tracker {
	if hub == nil {
		hub = NewHub(0)
	}
	return &Tracker{
		store:   store,
		keys:    keys,
		source:  source,
		hub:     hub,
		metrics: metrics,
		config:  config.withDefaults(),
		now:     time.Now,
	}
}

// Hub returns the tracker's event hub.
func (t *Tracker) Hub() *Hub {
	return t.hub
}

// Track starts tracking job on behalf of apiKey.
//
// The job's fingerprint is derived from apiKey, which is sealed in the
// keyring for polling. A missing or unrecognized status becomes pending.
func (t *Tracker) Track(ctx context.Context, job Job, apiKey string) (Job, error) {
	if job.ID == "" {
		return Job{}, errors.New("job id is required")
	}
	if apiKey == "" {
		return Job{}, backend.ErrMissingAPIKey
	}
	if s, ok := ParseStatus(string(job.Status)); ok {
		job.Status = s
	} else {
		job.Status = StatusPending
	}

	now := t.now().UTC()
	job.KeyFingerprint = t.keys.Put(apiKey)
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := t.store.Put(ctx, job); err != nil {
		return Job{}, err
	}
	slog.Info("Tracking collection job",
		"job_id", job.ID,
		"status", string(job.Status),
		"key_fingerprint", job.KeyFingerprint,
	)
	t.hub.Publish(Event{Type: EventCreated, Job: job, At: now})
	t.metrics.RecordJobTransition(string(job.Status))
	t.refreshGauge(ctx)
	return job, nil
}

// Get returns a tracked job.
func (t *Tracker) Get(ctx context.Context, id string) (Job, error) {
	return t.store.Get(ctx, id)
}

// List returns the jobs tracked under fingerprint, oldest first.
func (t *Tracker) List(ctx context.Context, fingerprint string) ([]Job, error) {
	return t.store.List(ctx, fingerprint)
}

// Pending returns the optimistic entries for fingerprint: jobs still in
// flight plus failed jobs.
func (t *Tracker) Pending(ctx context.Context, fingerprint string) ([]Job, error) {
	all, err := t.store.List(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(all))
	for _, job := range all {
		if job.Optimistic() {
			out = append(out, job)
		}
	}
	return out, nil
}

// Dismiss stops tracking a job owned by fingerprint.
func (t *Tracker) Dismiss(ctx context.Context, id, fingerprint string) error {
	job, err := t.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if fingerprint != "" && job.KeyFingerprint != fingerprint {
		return ErrJobNotFound
	}
	if err := t.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("dismiss job %s: %w", id, err)
	}
	t.hub.Publish(Event{Type: EventRemoved, Job: job, At: t.now().UTC()})
	t.refreshGauge(ctx)
	return nil
}

// Start launches the poll loop.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("job tracker is already running")
	}
	t.running = true
	t.done = make(chan struct{})
	t.stopped = make(chan struct{})
	t.mu.Unlock()

	slog.Info("Collection job tracker starting",
		"poll_interval", t.config.PollInterval.String(),
		"ttl", t.config.TTL.String(),
	)
	go t.runLoop(ctx)
	return nil
}

// Stop ends the poll loop and waits for an in-flight cycle. Safe to call
// more than once.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.done)
	stopped := t.stopped
	t.mu.Unlock()

	<-stopped
	slog.Info("Collection job tracker stopped")
}

// RunNow runs one poll cycle immediately.
func (t *Tracker) RunNow(ctx context.Context) (PollResult, error) {
	return t.poll(ctx)
}

func (t *Tracker) runLoop(ctx context.Context) {
	defer close(t.stopped)
	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	t.executePoll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			t.executePoll(ctx)
		}
	}
}

func (t *Tracker) executePoll(ctx context.Context) {
	result, err := t.poll(ctx)
	if err != nil {
		slog.Error("Job poll cycle failed", "error", err)
		return
	}
	if result.Updated > 0 || result.Expired > 0 || result.Errors > 0 {
		slog.Debug("Job poll cycle complete",
			"checked", result.Checked,
			"updated", result.Updated,
			"expired", result.Expired,
			"skipped", result.Skipped,
			"errors", result.Errors,
		)
	}
}

func (t *Tracker) poll(ctx context.Context) (PollResult, error) {
	t.pollMu.Lock()
	defer t.pollMu.Unlock()

	var result PollResult
	started := time.Now()
	all, err := t.store.List(ctx, "")
	if err != nil {
		return result, err
	}

	active := make(map[string]bool)
	for _, job := range all {
		if job.Status.Terminal() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++

		next, changed, outcome := t.check(ctx, job)
		switch outcome {
		case outcomeSkipped:
			result.Skipped++
		case outcomeError:
			result.Errors++
		case outcomeExpired:
			result.Expired++
		}
		if changed {
			if err := t.store.Put(ctx, next); err != nil {
				return result, err
			}
			if next.Status != job.Status {
				t.metrics.RecordJobTransition(string(next.Status))
				if outcome != outcomeExpired {
					result.Updated++
				}
			}
			if outcome != outcomeError {
				t.hub.Publish(Event{Type: EventUpdated, Job: next, At: next.UpdatedAt})
			}
		}
		if !next.Status.Terminal() {
			active[next.KeyFingerprint] = true
		}
	}

	if dropped := t.keys.Retain(active, started); dropped > 0 {
		slog.Debug("Released API keys with no active jobs", "count", dropped)
	}
	t.refreshGauge(ctx)
	return result, nil
}

type checkOutcome int

const (
	outcomeChecked checkOutcome = iota
	outcomeSkipped
	outcomeError
	outcomeExpired
)

// check polls one job and returns its next state and whether it changed.
func (t *Tracker) check(ctx context.Context, job Job) (Job, bool, checkOutcome) {
	now := t.now().UTC()
	if now.Sub(job.CreatedAt) > t.config.TTL {
		job.Status = StatusExpired
		job.Error = fmt.Sprintf("job did not finish within %s", t.config.TTL)
		job.UpdatedAt = now
		slog.Warn("Collection job expired", "job_id", job.ID, "ttl", t.config.TTL.String())
		return job, true, outcomeExpired
	}

	apiKey, ok := t.resolveKey(job.KeyFingerprint)
	if !ok {
		return job, false, outcomeSkipped
	}

	var remote backendJob
	err := t.source.GetJSON(ctx, JobPath+url.PathEscape(job.ID), nil, apiKey, &remote)
	if err != nil {
		if backend.IsNotFound(err) {
			job.Status = StatusFailed
			job.Error = "job no longer exists on the backend"
			job.UpdatedAt = now
			return job, true, outcomeChecked
		}
		job.Attempts++
		job.UpdatedAt = now
		slog.Warn("Job status check failed", "job_id", job.ID, "attempts", job.Attempts, "error", err)
		return job, true, outcomeError
	}

	status, known := ParseStatus(remote.Status)
	if !known {
		slog.Debug("Unknown backend job status", "job_id", job.ID, "status", remote.Status)
		return job, false, outcomeChecked
	}

	next := job
	next.Status = status
	if remote.CollectionID != "" {
		next.CollectionID = remote.CollectionID
	}
	if status == StatusFailed {
		next.Error = firstNonEmpty(remote.Error, remote.Message, "collection creation failed")
	}
	if next.Status == job.Status && next.CollectionID == job.CollectionID && next.Error == job.Error {
		return job, false, outcomeChecked
	}
	next.UpdatedAt = now
	slog.Info("Collection job updated",
		"job_id", job.ID,
		"from", string(job.Status),
		"to", string(next.Status),
	)
	return next, true, outcomeChecked
}

// resolveKey finds the API key for fingerprint: the sealed key if held,
// otherwise the default key when it has the same fingerprint.
func (t *Tracker) resolveKey(fingerprint string) (string, bool) {
	if key, ok := t.keys.Get(fingerprint); ok {
		return key, true
	}
	if t.config.DefaultKey == nil {
		return "", false
	}
	key := t.config.DefaultKey()
	if key != "" && extensions.Fingerprint(key) == fingerprint {
		return key, true
	}
	return "", false
}

func (t *Tracker) refreshGauge(ctx context.Context) {
	if t.metrics == nil {
		return
	}
	all, err := t.store.List(ctx, "")
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, job := range all {
		counts[string(job.Status)]++
	}
	statuses := make([]string, 0, len(AllStatuses()))
	for _, s := range AllStatuses() {
		statuses = append(statuses, string(s))
	}
	t.metrics.SetTrackedJobs(counts, statuses)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package results holds optional sinks for evaluation results: a WER
// history in InfluxDB and evaluation exports to Google Cloud Storage.
//
// Both sinks have Nop implementations used when they are not configured,
// so handlers never branch on configuration.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianEval/pkg/validation"
	"github.com/AleutianAI/AleutianEval/services/gateway/config"
)

var (
	// ErrNotConfigured is returned by Nop sinks.
	ErrNotConfigured = errors.New("result sink not configured")

	// ErrInvalidRunID rejects run ids that cannot be used in a query.
	ErrInvalidRunID = errors.New("invalid run id")
)

// WERMeasurement is the InfluxDB measurement for WER results.
const WERMeasurement = "stt_wer"

// WERRecord is one word error rate result.
type WERRecord struct {
	RunID          string    `json:"run_id,omitempty"`
	Model          string    `json:"model,omitempty"`
	Dataset        string    `json:"dataset,omitempty"`
	WER            float64   `json:"wer"`
	Substitutions  int64     `json:"substitutions"`
	Deletions      int64     `json:"deletions"`
	Insertions     int64     `json:"insertions"`
	ReferenceWords int64     `json:"reference_words"`
	Timestamp      time.Time `json:"timestamp"`
}

// WERRecorder stores WER results and reads them back per run.
type WERRecorder interface {
	Record(ctx context.Context, rec WERRecord) error
	History(ctx context.Context, runID string, limit int) ([]WERRecord, error)
	Close()
}

// NopWERRecorder discards records.
type NopWERRecorder struct{}

func (NopWERRecorder) Record(context.Context, WERRecord) error { return nil }

func (NopWERRecorder) History(context.Context, string, int) ([]WERRecord, error) {
	return nil, ErrNotConfigured
}

func (NopWERRecorder) Close() {}

// InfluxWERRecorder writes WER records to InfluxDB v2.
type InfluxWERRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewWERRecorder returns an InfluxDB recorder when cfg is enabled and a
// NopWERRecorder otherwise.
func NewWERRecorder(cfg config.InfluxDBConfig) WERRecorder {
	if !cfg.Enabled() {
		return NopWERRecorder{}
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxWERRecorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		org:      cfg.Org,
		bucket:   cfg.Bucket,
	}
}

// Record writes rec as one point.
func (r *InfluxWERRecorder) Record(ctx context.Context, rec WERRecord) error {
	if err := r.writeAPI.WritePoint(ctx, werPoint(rec)); err != nil {
		return fmt.Errorf("write WER point: %w", err)
	}
	return nil
}

// History returns up to limit records for runID, newest first.
func (r *InfluxWERRecorder) History(ctx context.Context, runID string, limit int) ([]WERRecord, error) {
	if err := validation.ValidateIdentifier(runID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRunID, err)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -365d)
			|> filter(fn: (r) => r._measurement == "%s")
			|> filter(fn: (r) => r.run_id == "%s")
			|> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> group()
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, r.bucket, WERMeasurement, runID, limit)

	result, err := r.client.QueryAPI(r.org).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query WER history: %w", err)
	}
	var out []WERRecord
	for result.Next() {
		rec := result.Record()
		out = append(out, WERRecord{
			RunID:          runID,
			Model:          stringValue(rec.ValueByKey("model")),
			Dataset:        stringValue(rec.ValueByKey("dataset")),
			WER:            floatValue(rec.ValueByKey("wer")),
			Substitutions:  intValue(rec.ValueByKey("substitutions")),
			Deletions:      intValue(rec.ValueByKey("deletions")),
			Insertions:     intValue(rec.ValueByKey("insertions")),
			ReferenceWords: intValue(rec.ValueByKey("reference_words")),
			Timestamp:      rec.Time(),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read WER history: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Close flushes and closes the client.
func (r *InfluxWERRecorder) Close() {
	r.client.Close()
}

func werPoint(rec WERRecord) *write.Point {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	p := influxdb2.NewPointWithMeasurement(WERMeasurement)
	if rec.RunID != "" {
		p.AddTag("run_id", rec.RunID)
	}
	if rec.Model != "" {
		p.AddTag("model", rec.Model)
	}
	if rec.Dataset != "" {
		p.AddTag("dataset", rec.Dataset)
	}
	return p.
		AddField("wer", rec.WER).
		AddField("substitutions", rec.Substitutions).
		AddField("deletions", rec.Deletions).
		AddField("insertions", rec.Insertions).
		AddField("reference_words", rec.ReferenceWords).
		SetTime(ts)
}

// ParseWERResult builds a record from a WER request and the backend's
// response payload (already unwrapped from its envelope).
//
// Tags come from the request, falling back to the response. The second
// result is false when the response has no numeric "wer".
func ParseWERResult(request, response []byte) (WERRecord, bool) {
	var req, resp map[string]any
	_ = json.Unmarshal(request, &req)
	if err := json.Unmarshal(response, &resp); err != nil {
		return WERRecord{}, false
	}

	wer, ok := number(resp, "wer", "WER", "word_error_rate")
	if !ok {
		return WERRecord{}, false
	}
	subs, _ := number(resp, "substitutions", "S")
	dels, _ := number(resp, "deletions", "D")
	ins, _ := number(resp, "insertions", "I")
	words, _ := number(resp, "reference_words", "reference_length", "N")

	return WERRecord{
		RunID:          firstString(req, resp, "run_id"),
		Model:          firstString(req, resp, "model"),
		Dataset:        firstString(req, resp, "dataset", "dataset_id"),
		WER:            wer,
		Substitutions:  int64(subs),
		Deletions:      int64(dels),
		Insertions:     int64(ins),
		ReferenceWords: int64(words),
		Timestamp:      time.Now().UTC(),
	}, true
}

func number(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

func firstString(req, resp map[string]any, keys ...string) string {
	for _, m := range []map[string]any{req, resp} {
		for _, k := range keys {
			if s, ok := m[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func floatValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func intValue(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case uint64:
		return int64(n)
	}
	return 0
}

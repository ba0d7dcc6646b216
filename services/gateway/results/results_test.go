// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package results

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEval/services/gateway/config"
)

// =============================================================================
// WER Tests
// =============================================================================

func TestWERPoint_LineProtocol(t *testing.T) {
	ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	line := write.PointToLineProtocol(werPoint(WERRecord{
		RunID:          "run-1",
		Model:          "whisper-large",
		Dataset:        "librispeech",
		WER:            0.125,
		Substitutions:  3,
		Deletions:      1,
		Insertions:     2,
		ReferenceWords: 48,
		Timestamp:      ts,
	}), time.Nanosecond)

	assert.Contains(t, line, "stt_wer,")
	assert.Contains(t, line, "dataset=librispeech")
	assert.Contains(t, line, "model=whisper-large")
	assert.Contains(t, line, "run_id=run-1")
	assert.Contains(t, line, "wer=0.125")
	assert.Contains(t, line, "substitutions=3i")
	assert.Contains(t, line, "reference_words=48i")
}

func TestWERPoint_OmitsEmptyTags(t *testing.T) {
	line := write.PointToLineProtocol(werPoint(WERRecord{WER: 0.5}), time.Nanosecond)
	assert.NotContains(t, line, "run_id=")
	assert.True(t, strings.HasPrefix(line, "stt_wer "), line)
	assert.Contains(t, line, "wer=0.5")
}

func TestParseWERResult(t *testing.T) {
	req := []byte(`{"reference":"a b c","hypothesis":"a x c","run_id":"run-7","model":"m1"}`)
	resp := []byte(`{"wer":0.3333,"substitutions":1,"deletions":0,"insertions":0,"reference_words":3,"dataset":"ds-1"}`)

	rec, ok := ParseWERResult(req, resp)
	require.True(t, ok)
	assert.Equal(t, "run-7", rec.RunID)
	assert.Equal(t, "m1", rec.Model)
	assert.Equal(t, "ds-1", rec.Dataset)
	assert.InDelta(t, 0.3333, rec.WER, 1e-9)
	assert.Equal(t, int64(1), rec.Substitutions)
	assert.Equal(t, int64(3), rec.ReferenceWords)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestParseWERResult_NoWER(t *testing.T) {
	_, ok := ParseWERResult(nil, []byte(`{"detail":"bad input"}`))
	assert.False(t, ok)
	_, ok = ParseWERResult(nil, []byte(`not json`))
	assert.False(t, ok)
}

func TestNewWERRecorder_DisabledIsNop(t *testing.T) {
	rec := NewWERRecorder(config.InfluxDBConfig{})
	assert.IsType(t, NopWERRecorder{}, rec)
	assert.NoError(t, rec.Record(context.Background(), WERRecord{WER: 1}))
	_, err := rec.History(context.Background(), "run", 10)
	assert.ErrorIs(t, err, ErrNotConfigured)
	rec.Close()
}

func TestInfluxWERRecorder_Record(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotBody, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath, gotBody, gotAuth = r.URL.Path, string(body), r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	rec := NewWERRecorder(config.InfluxDBConfig{URL: server.URL, Token: "tok", Org: "aleutian", Bucket: "stt"})
	defer rec.Close()
	require.IsType(t, &InfluxWERRecorder{}, rec)

	err := rec.Record(context.Background(), WERRecord{RunID: "run-1", WER: 0.2, ReferenceWords: 10})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/api/v2/write", gotPath)
	assert.Contains(t, gotBody, "stt_wer,run_id=run-1")
	assert.Equal(t, "Token tok", gotAuth)
}

func TestInfluxWERRecorder_HistoryRejectsBadRunID(t *testing.T) {
	rec := NewWERRecorder(config.InfluxDBConfig{URL: "http://127.0.0.1:1"})
	defer rec.Close()
	_, err := rec.History(context.Background(), `x") |> drop()`, 10)
	assert.ErrorIs(t, err, ErrInvalidRunID)
}

// =============================================================================
// Export Tests
// =============================================================================

func TestObjectName(t *testing.T) {
	assert.Equal(t, "evaluations/ev-1.json", ObjectName("", "ev-1"))
	assert.Equal(t, "exports/prod/evaluations/ev-1.json", ObjectName("/exports/prod/", "ev-1"))
	assert.Equal(t, "evaluations/a_b.json", ObjectName("", "a/b"))
}

func TestNewExporter_DisabledIsNop(t *testing.T) {
	exp, err := NewExporter(context.Background(), config.GCSConfig{})
	require.NoError(t, err)
	_, err = exp.Export(context.Background(), "ev-1", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, exp.Close())
}

func TestNewExporter_MissingCredentials(t *testing.T) {
	_, err := NewExporter(context.Background(), config.GCSConfig{
		Bucket:          "evals",
		CredentialsFile: filepath.Join(t.TempDir(), "missing.json"),
	})
	assert.Error(t, err)
}

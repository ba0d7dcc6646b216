// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// =============================================================================
// Open Tests
// =============================================================================

func TestOpenInMemory(t *testing.T) {
	db := openTest(t)
	assert.True(t, db.InMemory())

	err := db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("key"), []byte("value"))
	})
	require.NoError(t, err)
}

func TestOpenWithPath_Persists(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.PutJSON(context.Background(), "job/1", record{Name: "kb"}, 0))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	var got record
	require.NoError(t, db.GetJSON(context.Background(), "job/1", &got))
	assert.Equal(t, "kb", got.Name)
	assert.False(t, db.InMemory())
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestConfigFunctions(t *testing.T) {
	cfg := DefaultConfig("/tmp/jobs")
	assert.Equal(t, "/tmp/jobs", cfg.Path)
	assert.True(t, cfg.SyncWrites)
	assert.Equal(t, 10*time.Minute, cfg.GCInterval)

	mem := InMemoryConfig()
	assert.True(t, mem.InMemory)
	assert.Zero(t, mem.GCInterval)
}

// =============================================================================
// Transaction Tests
// =============================================================================

func TestDB_WithTxn_RollbackOnError(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte("k"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var got record
	assert.ErrorIs(t, db.GetJSON(ctx, "k", &got), ErrNotFound)
}

func TestDB_WithTxn_ContextCancelled(t *testing.T) {
	db := openTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := db.WithTxn(ctx, func(txn *badger.Txn) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// JSON Helper Tests
// =============================================================================

func TestDB_PutGetDelete(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	require.NoError(t, db.PutJSON(ctx, "job/a", record{Name: "a", Count: 2}, 0))

	var got record
	require.NoError(t, db.GetJSON(ctx, "job/a", &got))
	assert.Equal(t, record{Name: "a", Count: 2}, got)

	require.NoError(t, db.Delete(ctx, "job/a"))
	assert.ErrorIs(t, db.GetJSON(ctx, "job/a", &got), ErrNotFound)
	assert.NoError(t, db.Delete(ctx, "job/missing"))
}

func TestDB_PutJSON_TTLExpires(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	// Badger TTLs have one-second resolution.
	require.NoError(t, db.PutJSON(ctx, "job/ttl", record{Name: "short"}, time.Second))

	var got record
	require.NoError(t, db.GetJSON(ctx, "job/ttl", &got))

	require.Eventually(t, func() bool {
		return errors.Is(db.GetJSON(ctx, "job/ttl", &got), ErrNotFound)
	}, 5*time.Second, 100*time.Millisecond)
}

func TestDB_ScanPrefix(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	require.NoError(t, db.PutJSON(ctx, "job/2", record{Name: "two"}, 0))
	require.NoError(t, db.PutJSON(ctx, "job/1", record{Name: "one"}, 0))
	require.NoError(t, db.PutJSON(ctx, "other/1", record{Name: "skip"}, 0))

	var keys []string
	err := db.ScanPrefix(ctx, "job/", func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"job/1", "job/2"}, keys)
}

func TestDB_ScanPrefix_StopsOnError(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	require.NoError(t, db.PutJSON(ctx, "job/1", record{}, 0))
	require.NoError(t, db.PutJSON(ctx, "job/2", record{}, 0))

	stop := errors.New("stop")
	calls := 0
	err := db.ScanPrefix(ctx, "job/", func(string, []byte) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

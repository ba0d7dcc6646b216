// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backend

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := NewBreaker(cfg)
	b.now = clock.Now
	return b, clock
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown(9)", CircuitState(9).String())
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	assert.Equal(t, 5, b.config.FailureThreshold)
	assert.Equal(t, 2, b.config.SuccessThreshold)
	assert.Equal(t, 30*time.Second, b.config.OpenTimeout)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
		assert.Equal(t, CircuitClosed, b.State())
	}
	assert.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, CircuitOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open circuit must not call fn")
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 2})

	_ = b.Execute(func() error { return errBoom })
	require.NoError(t, b.Execute(func() error { return nil }))
	_ = b.Execute(func() error { return errBoom })

	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Second})

	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, CircuitOpen, b.State())

	clock.Advance(2 * time.Second)
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, CircuitHalfOpen, b.State())

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second})

	_ = b.Execute(func() error { return errBoom })
	clock.Advance(2 * time.Second)
	_ = b.Execute(func() error { return errBoom })

	assert.Equal(t, CircuitOpen, b.State())
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrCircuitOpen)
}

func TestBreaker_OnStateChangeAndReset(t *testing.T) {
	transitions := make(chan [2]CircuitState, 4)
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		OnStateChange:    func(from, to CircuitState) { transitions <- [2]CircuitState{from, to} },
	})

	_ = b.Execute(func() error { return errBoom })
	select {
	case tr := <-transitions:
		assert.Equal(t, [2]CircuitState{CircuitClosed, CircuitOpen}, tr)
	case <-time.After(time.Second):
		t.Fatal("no state change callback")
	}

	b.Reset()
	assert.Equal(t, CircuitClosed, b.State())
	select {
	case tr := <-transitions:
		assert.Equal(t, [2]CircuitState{CircuitOpen, CircuitClosed}, tr)
	case <-time.After(time.Second):
		t.Fatal("no callback on reset")
	}
}

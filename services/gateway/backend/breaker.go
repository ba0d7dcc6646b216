// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState is the state of a Breaker.
type CircuitState int

const (
	// CircuitClosed lets every call through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until OpenTimeout has passed.
	CircuitOpen
	// CircuitHalfOpen lets trial calls through to test recovery.
	CircuitHalfOpen
)

// String returns "closed", "open" or "half_open".
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ErrCircuitOpen is returned by Execute while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a Breaker. Zero fields take the defaults shown.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit. Default: 5
	FailureThreshold int

	// SuccessThreshold consecutive half-open successes close it. Default: 2
	SuccessThreshold int

	// OpenTimeout before an open circuit allows a trial call. Default: 30s
	OpenTimeout time.Duration

	// OnStateChange is called on its own goroutine after each transition.
	OnStateChange func(from, to CircuitState)
}

// Breaker guards the backend against request pile-up while it is down.
//
// Only transport failures and gateway-class statuses count as failures;
// a 404 from a healthy backend is a success as far as the breaker cares.
type Breaker struct {
	config      BreakerConfig
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	now         func() time.Time
	mu          sync.Mutex
}

// NewBreaker creates a closed Breaker.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	return &Breaker{config: config, state: CircuitClosed, now: time.Now}
}

// Execute runs fn if the circuit allows it and records the outcome.
// Returns ErrCircuitOpen without calling fn when the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the circuit closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.successes = 0
	b.transitionTo(CircuitClosed)
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if b.now().Sub(b.lastFailure) > b.config.OpenTimeout {
			b.successes = 0
			b.transitionTo(CircuitHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		b.lastFailure = b.now()
		switch b.state {
		case CircuitClosed:
			if b.failures >= b.config.FailureThreshold {
				b.transitionTo(CircuitOpen)
			}
		case CircuitHalfOpen:
			b.transitionTo(CircuitOpen)
		}
		return
	}

	b.successes++
	switch b.state {
	case CircuitClosed:
		b.failures = 0
	case CircuitHalfOpen:
		if b.successes >= b.config.SuccessThreshold {
			b.failures = 0
			b.transitionTo(CircuitClosed)
		}
	}
}

// transitionTo must be called with mu held.
func (b *Breaker) transitionTo(state CircuitState) {
	if b.state == state {
		return
	}
	old := b.state
	b.state = state
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(old, state)
	}
}

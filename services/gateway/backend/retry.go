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
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"
)

// RetryConfig controls retries of idempotent requests.
type RetryConfig struct {
	// MaxRetries after the first attempt. Default: 2
	MaxRetries int

	// BaseBackoff doubles per attempt. Default: 200ms
	BaseBackoff time.Duration

	// MaxBackoff caps the doubled backoff. Default: 2s
	MaxBackoff time.Duration

	// MaxJitter is added uniformly at random. Default: 100ms
	MaxJitter time.Duration
}

// DefaultRetryConfig returns the retry policy used for backend GETs.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  2,
		BaseBackoff: 200 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
		MaxJitter:   100 * time.Millisecond,
	}
}

// backoff returns the delay before retry number attempt (0-based).
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := min(c.BaseBackoff<<attempt, c.MaxBackoff)
	if c.MaxJitter > 0 {
		d += rand.N(c.MaxJitter)
	}
	return d
}

// idempotent reports whether a method may be retried. Mutating calls are
// never retried so a slow backend cannot create a collection twice.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead:
		return true
	default:
		return false
	}
}

// retryableStatus is the set of gateway-class statuses that indicate the
// backend or something in front of it is temporarily unhealthy.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryableErr reports whether a transport-level error is worth retrying.
// An open circuit and a cancelled caller are not.
func retryableErr(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrCircuitOpen)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

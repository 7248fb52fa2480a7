// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retry provides exponential backoff retry for transient failures.
//
// The caller supplies a predicate deciding which errors are worth retrying;
// anything else propagates immediately. Backoff grows geometrically with
// jitter to avoid synchronized retry storms against the completion service.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config configures retry behavior with exponential backoff.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	// Default: 500ms
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	// Default: 10s
	MaxBackoff time.Duration

	// BackoffFactor multiplies the backoff after each attempt.
	// Default: 2.0
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of the backoff (0-1).
	// Default: 0.2
	JitterFactor float64
}

// DefaultConfig returns sensible defaults for calls to the completion service.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// Result contains the outcome of a retried operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int

	// TotalDuration is the total time spent including waits.
	TotalDuration time.Duration

	// LastError is the error from the final attempt (nil on success).
	LastError error
}

// Func is an operation that can be retried. It receives the 1-based attempt
// number and returns nil on success.
type Func func(ctx context.Context, attempt int) error

// Do executes fn with exponential backoff.
//
// fn is retried only while retryable(err) reports true. A non-retryable
// error, context cancellation, or attempt exhaustion ends the loop; the
// last error is returned alongside the attempt statistics.
func Do(ctx context.Context, config Config, retryable func(error) bool, fn Func) (Result, error) {
	start := time.Now()
	result := Result{}

	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			result.TotalDuration = time.Since(start)
			return result, nil
		}

		result.LastError = err

		if retryable != nil && !retryable(err) {
			result.TotalDuration = time.Since(start)
			return result, err
		}

		// No wait after the final attempt.
		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(withJitter(backoff, config.JitterFactor)):
		}

		backoff = nextBackoff(backoff, config.BackoffFactor, config.MaxBackoff)
	}

	result.TotalDuration = time.Since(start)
	return result, result.LastError
}

// withJitter spreads the backoff into [base*(1-jitter), base*(1+jitter)].
func withJitter(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}

// nextBackoff grows the backoff geometrically up to the configured cap.
func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}

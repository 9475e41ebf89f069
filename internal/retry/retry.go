// Package retry provides bounded retry helpers with linear and exponential
// backoff. The ad-archive API wants short linear waits on throttling; the
// site fetchers use exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ad-scout/internal/logging"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int           // total attempts, including the first
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap on any single delay
	Multiplier   float64       // 1.0 means linear growth, >1 exponential
}

// DefaultConfig returns exponential retry defaults: 1s, 2s, 4s, capped at 30s
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  4,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// LinearConfig returns the throttle-friendly schedule the ad-archive API
// expects: 0.5s, 1s, 1.5s across 3 retries.
func LinearConfig() *Config {
	return &Config{
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   1.0,
	}
}

// Func is an operation that can be retried. Returning a nil error stops the
// loop; the attempt number starts at 1.
type Func func(ctx context.Context, attempt int) error

// Result describes how a retried operation ended
type Result struct {
	Attempts      int
	Success       bool
	TotalDuration time.Duration
	LastError     error
}

// Do executes fn until it succeeds, attempts run out, or the context ends
func Do(ctx context.Context, config *Config, fn Func) *Result {
	logger := logging.FromContext(ctx)
	start := time.Now()
	result := &Result{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(start)
			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts": attempt,
					"duration": result.TotalDuration.String(),
				}).Info("operation succeeded after retry")
			}
			return result
		}
		result.LastError = err

		if attempt >= config.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		delay := Delay(config, attempt)
		logger.WithFields(map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		}).Warn("operation failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

// Delay computes the wait after the given attempt number.
// Multiplier 1.0 yields initial*attempt; otherwise initial*multiplier^(attempt-1).
func Delay(config *Config, attempt int) time.Duration {
	var d float64
	if config.Multiplier <= 1.0 {
		d = float64(config.InitialDelay) * float64(attempt)
	} else {
		d = float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	}
	if d > float64(config.MaxDelay) {
		d = float64(config.MaxDelay)
	}
	return time.Duration(d)
}

// Run is the error-returning wrapper around Do
func Run(ctx context.Context, config *Config, fn Func) error {
	result := Do(ctx, config, fn)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}

// Package config defines retry configuration.
package config

import (
	"time"
)

// RetryConfig holds the retry policy for transient failures while applying
// queued analysis results.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts
	MaxRetries int
	// InitialDelay is the initial delay before first retry
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier
	Multiplier float64
	// Jitter adds randomness to prevent thundering herd
	Jitter bool
}

// GetRetryConfig returns the retry configuration.
// In test environments, uses much shorter delays for faster test execution.
func (c Config) GetRetryConfig() RetryConfig {
	if c.IsTest() {
		return RetryConfig{MaxRetries: c.RetryMaxRetries, InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2.0}
	}
	return RetryConfig{
		MaxRetries:   c.RetryMaxRetries,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
		Jitter:       c.RetryJitter,
	}
}

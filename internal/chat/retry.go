package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RetryConfig configures backoff for background model calls (titles,
// summary compaction). User-visible turns are never retried automatically.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns sensible defaults for the model API.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryable reports whether an error is worth another attempt.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "quota", "429",
		"500", "502", "503", "504", "unavailable",
		"connection reset", "timeout", "temporary",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetry runs fn with exponential backoff on retryable errors.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	delay := cfg.InitialInterval
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || attempt == cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, cfg.MaxInterval)
		}
	}
	return lastErr
}

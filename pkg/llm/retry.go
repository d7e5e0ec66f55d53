package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// RetryConfig defines configuration for retry behavior.
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts
	InitialDelay  time.Duration // Initial delay before first retry
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Multiplier for exponential backoff
	Jitter        bool          // Add random jitter to prevent thundering herd
}

// DefaultRetryConfig provides reasonable defaults for retry behavior.
//
//nolint:gochecknoglobals // Package-level default configuration
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  200 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// RetryableClient wraps a Client with retry logic. Transient infra errors
// are recovered here at the call site, invisible to the coordinator's
// state machine when resolved within budget.
type RetryableClient struct {
	client Client
	config RetryConfig
}

// NewRetryableClient creates a retrying wrapper around client.
func NewRetryableClient(client Client, config RetryConfig) *RetryableClient {
	return &RetryableClient{client: client, config: config}
}

// Complete implements Client with bounded exponential-backoff retry.
func (r *RetryableClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			select {
			case <-ctx.Done():
				return CompletionResponse{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := r.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			break
		}
		if attempt == r.config.MaxRetries {
			break
		}
	}

	return CompletionResponse{}, fmt.Errorf("failed after %d retries: %w", r.config.MaxRetries, lastErr)
}

func (r *RetryableClient) calculateDelay(attempt int) time.Duration {
	delay := time.Duration(float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1)))
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	if r.config.Jitter {
		jitterFactor := 2*time.Now().UnixNano()%2 - 1 // -1 or 1
		jitter := time.Duration(float64(delay) * 0.1 * float64(jitterFactor))
		delay += jitter
		if delay < 0 {
			delay = r.config.InitialDelay
		}
	}
	return delay
}

// shouldRetry consults the classified error type first, then falls back
// to common error-string patterns for errors from provider SDKs.
func shouldRetry(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.ShouldRetry()
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "temporary") {
		return true
	}
	if strings.Contains(errStr, "rate") || strings.Contains(errStr, "429") {
		return true
	}
	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return true
	}
	if strings.Contains(errStr, "empty response") {
		return true
	}
	return false
}

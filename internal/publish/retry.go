package publish

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/abhisek/tierkit/internal/config"
)

// RetryPublisher is a decorator that retries transient errors with
// exponential backoff and jitter.
type RetryPublisher struct {
	inner  Publisher
	config config.RetryConfig
}

// WithRetry wraps a Publisher with retry logic.
func WithRetry(p Publisher, cfg config.RetryConfig) Publisher {
	return &RetryPublisher{inner: p, config: cfg}
}

func (r *RetryPublisher) Publish(ctx context.Context, msgs ...Message) error {
	var lastErr error
	attempts := max(r.config.MaxAttempts, 1)

	for attempt := range attempts {
		err := r.inner.Publish(ctx, msgs...)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		// Last attempt: no sleep.
		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff(attempt)):
		}
	}

	return lastErr
}

func (r *RetryPublisher) Close() error {
	return r.inner.Close()
}

// shouldRetry determines if an error is retryable.
func shouldRetry(err error) bool {
	// Context errors are never retried.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Broker errors say whether they are worth another try.
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}

	// Other errors (network, etc.) are treated as transient.
	return true
}

// backoff computes the wait duration for the given attempt.
func (r *RetryPublisher) backoff(attempt int) time.Duration {
	wait := float64(r.config.InitialWait) * math.Pow(r.config.Multiplier, float64(attempt))
	if wait > float64(r.config.MaxWait) {
		wait = float64(r.config.MaxWait)
	}

	// Add ±20% jitter.
	wait += wait * 0.2 * (2*rand.Float64() - 1)

	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

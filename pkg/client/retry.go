package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	networkRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopease_network_retries_total",
		Help: "Total number of network retry attempts",
	})

	networkRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shopease_network_retry_backoff_seconds",
		Help:    "Backoff duration before network retries",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	networkRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopease_network_retry_exhausted_total",
		Help: "Total number of times network retry attempts were exhausted",
	})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// NoRetry returns a configuration with a single attempt. Offline fallbacks
// should kick in at the first transport failure, so this is the default.
func NoRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       1,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// DefaultRetryConfig returns the retry configuration used when retries are enabled.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Backoff returns the wait before the retry that follows attempt (1-based):
// InitialBackoff grown by BackoffMultiplier per attempt, capped at
// MaxBackoff, with ±20% jitter.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	backoff := c.InitialBackoff
	for i := 1; i < attempt && backoff < c.MaxBackoff; i++ {
		backoff = time.Duration(float64(backoff) * c.BackoffMultiplier)
	}
	if c.MaxBackoff > 0 && backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	return time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
}

// retryWithBackoff executes fn with exponential backoff and jitter.
// fn must only return errors worth retrying. A single-attempt config
// returns fn's error unchanged.
func retryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err

		// If this was the last attempt, don't wait
		if attempt >= config.MaxAttempts {
			break
		}

		networkRetriesTotal.Inc()

		jitter := config.Backoff(attempt)
		networkRetryBackoffSeconds.Observe(jitter.Seconds())

		log.Debug().
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			log.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, lastErr)
		case <-time.After(jitter):
		}
	}

	if config.MaxAttempts == 1 {
		return lastErr
	}

	networkRetryExhaustedTotal.Inc()
	log.Warn().
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, config.MaxAttempts, lastErr)
}

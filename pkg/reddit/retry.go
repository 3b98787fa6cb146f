package reddit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	redditRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reddit_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	redditRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reddit_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	redditRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reddit_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for the shared retry/backoff primitive.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// Base is the starting backoff for rate-limit responses; the wait grows
	// as Base * 2^attempt.
	Base time.Duration

	// TransientWait is the fixed pause after server/network errors.
	TransientWait time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		Base:          2 * time.Second,
		TransientWait: 1 * time.Second,
	}
}

// Retry runs fn with bounded retries. Rate-limit errors back off
// exponentially (Base * 2^attempt), other transient errors wait a short fixed
// interval, client errors return immediately. When the budget is exhausted
// the last error is wrapped in ErrRetryExhausted; Retry never panics past
// this boundary, the caller decides item-level disposition.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				log.Info().
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		class := Classify(err)

		if !shouldRetry(class) {
			return lastErr
		}

		if attempt >= cfg.MaxRetries {
			break
		}

		var wait time.Duration
		if class == ErrorClassRateLimit {
			wait = cfg.Base << attempt
		} else {
			wait = cfg.TransientWait
		}

		redditRetriesTotal.WithLabelValues(string(class)).Inc()
		redditRetryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		log.Warn().
			Str("error_class", string(class)).
			Int("attempt", attempt+1).
			Int("max_retries", cfg.MaxRetries).
			Dur("backoff", wait).
			Err(err).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry interrupted: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	class := Classify(lastErr)
	redditRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
	log.Warn().
		Str("error_class", string(class)).
		Int("max_retries", cfg.MaxRetries).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d retries: %v", ErrRetryExhausted, cfg.MaxRetries, lastErr)
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/Dosada05/palanteer/metrics"
)

// RetryPolicy retries operations that fail with a *SystemError, using exponential
// backoff with ±25% jitter capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsSystemError(err) || ctx.Err() != nil || attempt == attempts-1 {
			break
		}

		delay := p.delay(attempt)
		metrics.ScoringRetries.WithLabelValues(op).Inc()
		if logger != nil {
			logger.WarnContext(ctx, "Retrying after system error",
				slog.String("operation", op),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, lastErr)
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := p.BaseDelay * time.Duration(1<<uint(attempt))

	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	delay = delay + jitter - (delay / 4)

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

package deltasync

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy is the bounded exponential backoff applied to unattended
// runs. Manual triggers bypass it: a human is watching those.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// DefaultRetryPolicy matches the unattended schedule: three attempts
// with doubling delays.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: 30 * time.Second}
}

// Run executes fn with the policy. Each failed attempt is logged; after
// the last one the final error is returned for the caller to escalate.
// A nil return from fn ends the attempts immediately, including the
// paused-by-priority outcome, which is not a failure.
func (p RetryPolicy) Run(ctx context.Context, logger *slog.Logger, name string, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	delay := p.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == p.MaxAttempts {
			break
		}
		logger.Warn("attempt failed, backing off",
			"name", name, "attempt", attempt, "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, p.MaxAttempts, lastErr)
}

package infra

import (
	"context"
	"log/slog"
	"math"
	"time"

	"essim_battery/internal/domain"
)

const (
	backoffBaseDelay = 1 * time.Second
	backoffMaxDelay  = 60 * time.Second
)

// CalculateBackoff returns the reconnect delay for a retry attempt:
// 1s doubling up to 60s.
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// Cap retry count to prevent overflow (2^6 = 64 seconds > max 60s)
	if retryCount > 6 {
		return backoffMaxDelay
	}
	delay := backoffBaseDelay * time.Duration(math.Pow(2, float64(retryCount)))
	if delay > backoffMaxDelay {
		delay = backoffMaxDelay
	}
	return delay
}

// Retry calls fn up to attempts times with exponential backoff (1s, 2s, 4s, ...).
// It stops early on success, on a non-retriable error, or when ctx is done.
func Retry(ctx context.Context, op string, attempts int, fn func(context.Context) error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := CalculateBackoff(i - 1)
			slog.Info("Retrying", slog.String("op", op), slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("Attempt failed", slog.String("op", op), slog.Int("attempt", i+1), slog.Any("error", err))
		if !domain.IsRetriable(err) {
			return err
		}
	}
	return lastErr
}

package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"essim_battery/internal/domain"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{100, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := CalculateBackoff(tt.retry); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestRetry(t *testing.T) {
	t.Run("succeeds first time", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), "write", 3, func(context.Context) error {
			calls++
			return nil
		})
		if err != nil || calls != 1 {
			t.Errorf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("stops on fatal error", func(t *testing.T) {
		calls := 0
		fatal := domain.NewFatalTransportError("write", errors.New("unauthorized"))
		err := Retry(context.Background(), "write", 3, func(context.Context) error {
			calls++
			return fatal
		})
		if !errors.Is(err, fatal) || calls != 1 {
			t.Errorf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Retry(ctx, "write", 3, func(context.Context) error {
			calls++
			cancel()
			return domain.NewTransportError("write", errors.New("timeout"))
		})
		if !errors.Is(err, context.Canceled) || calls != 1 {
			t.Errorf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("retries retriable error", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), "write", 2, func(context.Context) error {
			calls++
			if calls == 1 {
				return domain.NewTransportError("write", errors.New("timeout"))
			}
			return nil
		})
		if err != nil || calls != 2 {
			t.Errorf("err=%v calls=%d", err, calls)
		}
	})
}

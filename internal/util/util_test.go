package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait should succeed immediately: %v", err)
	}
}

func TestRateLimiterCancelledWait(t *testing.T) {
	// One op per minute: the second slot is a minute out, so a cancelled
	// context must abort the wait instead of blocking.
	rl := NewRateLimiter(1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait with cancelled context = %v, want context.Canceled", err)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "bogus"} {
		if NewLogger(lvl, "json") == nil {
			t.Fatalf("NewLogger(%q) returned nil", lvl)
		}
	}
	if NewLogger("info", "text") == nil {
		t.Fatal("NewLogger text format returned nil")
	}
}

func TestTradingCalendarFallback(t *testing.T) {
	tc := NewTradingCalendar("no-such-mic")
	if tc == nil {
		t.Fatal("NewTradingCalendar returned nil")
	}

	// 2024-01-06 is a Saturday.
	sat := time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC)
	if tc.IsTradingDay(sat) {
		t.Error("Saturday should not be a trading day")
	}

	// Monday mid-session in IST.
	loc := tc.Location()
	mon := time.Date(2024, 1, 8, 11, 0, 0, 0, loc)
	if !tc.IsTradingDay(mon) {
		t.Error("Monday should be a trading day")
	}

	if !tc.SameTradingDate(mon, mon.Add(2*time.Hour)) {
		t.Error("same-day timestamps should share a trading date")
	}
	if tc.SameTradingDate(mon, mon.AddDate(0, 0, 1)) {
		t.Error("different days should not share a trading date")
	}
}

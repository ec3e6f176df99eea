package queue

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRetryable(t *testing.T) {
	if Retryable(nil) != nil {
		t.Fatal("retryable nil should stay nil")
	}

	base := errors.New("connection reset")
	err := Retryable(base)

	var retryable *RetryableError
	if !errors.As(err, &retryable) {
		t.Fatalf("not retryable: %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapping lost the cause")
	}
	if err.Error() != "connection reset" {
		t.Fatalf("error text: %q", err.Error())
	}
}

func TestBackoffDoublesPerAttempt(t *testing.T) {
	c := NewConsumer(nil, testLogger(), ConsumerConfig{BackoffBase: time.Minute}, nil)

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
	}
	for _, tc := range cases {
		if got := c.backoff(tc.attempts); got != tc.want {
			t.Fatalf("backoff(%d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}
}

func TestConsumerDefaults(t *testing.T) {
	c := NewConsumer(nil, testLogger(), ConsumerConfig{}, nil)
	if c.maxAttempts != 3 {
		t.Fatalf("max attempts %d, want 3", c.maxAttempts)
	}
	if c.backoffBase != time.Minute {
		t.Fatalf("backoff base %s, want 1m", c.backoffBase)
	}
	if c.pollEvery != time.Second {
		t.Fatalf("poll interval %s, want 1s", c.pollEvery)
	}
	if c.stallAfter != 5*time.Minute {
		t.Fatalf("stall window %s, want 5m", c.stallAfter)
	}
}

func TestConsumerStallWindowOverride(t *testing.T) {
	c := NewConsumer(nil, testLogger(), ConsumerConfig{StallAfter: 30 * time.Second}, nil)
	if c.stallAfter != 30*time.Second {
		t.Fatalf("stall window %s, want 30s", c.stallAfter)
	}
}

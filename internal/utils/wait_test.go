package utils

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestWaitForHonoursContext(t *testing.T) {
	release := make(chan struct{})
	original := sleep
	sleep = func(time.Duration) { <-release }
	defer func() {
		close(release)
		sleep = original
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := WaitFor(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}

	if err := WaitFor(context.Background(), 0); err != nil {
		t.Fatalf("expected zero duration to return immediately, got %v", err)
	}
}

func TestClamp01(t *testing.T) {
	tests := []struct {
		in, expect float64
	}{
		{in: -0.5, expect: 0},
		{in: 0.4, expect: 0.4},
		{in: 1.7, expect: 1},
		{in: math.NaN(), expect: 0},
	}

	for _, tt := range tests {
		if got := Clamp01(tt.in); got != tt.expect {
			t.Fatalf("Clamp01(%v): expected %v, got %v", tt.in, tt.expect, got)
		}
	}
}

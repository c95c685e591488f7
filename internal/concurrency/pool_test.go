package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunReturnsFirstErrorAndCancels(t *testing.T) {
	boom := errors.New("boom")
	var cancelled atomic.Bool
	err := Run(context.Background(), 0,
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				cancelled.Store(true)
			case <-time.After(5 * time.Second):
			}
			return nil
		},
	)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if !cancelled.Load() {
		t.Fatalf("sibling task was not cancelled")
	}
}

func TestForEachRespectsLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	seen := make([]bool, 20)
	err := ForEach(context.Background(), 3, len(seen), func(ctx context.Context, i int) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		seen[i] = true
		inFlight.Add(-1)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if p := peak.Load(); p > 3 {
		t.Fatalf("peak concurrency = %d, want <= 3", p)
	}
	for i, ok := range seen {
		if !ok {
			t.Fatalf("index %d never ran", i)
		}
	}
}

func TestForEachStopsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	err := ForEach(ctx, 1, 5, func(ctx context.Context, i int) error {
		calls.Add(1)
		return nil
	})
	if !errors.Is(err, context.Canceled) || calls.Load() != 0 {
		t.Fatalf("err = %v calls = %d, want canceled with no calls", err, calls.Load())
	}
}

package kis

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestLimiterImmediateUnderCapacity(t *testing.T) {
	t.Parallel()
	rl := NewSlidingWindowLimiter(100)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := rl.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() returned error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("5 acquires under capacity took %v", elapsed)
	}
}

// 25 acquires from 5 workers at N=5 must take at least 4 seconds and never
// admit more than 5 requests in any rolling 1-second window.
func TestLimiterClamp(t *testing.T) {
	t.Parallel()
	const n = 5
	const total = 25
	rl := NewSlidingWindowLimiter(n)

	var mu sync.Mutex
	admissions := make([]time.Time, 0, total)

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total/5; i++ {
				if err := rl.Acquire(context.Background()); err != nil {
					t.Errorf("Acquire() returned error: %v", err)
					return
				}
				mu.Lock()
				admissions = append(admissions, time.Now())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if elapsed < 4*time.Second {
		t.Errorf("25 acquires at N=5 took %v, want ≥ 4s", elapsed)
	}

	sort.Slice(admissions, func(i, j int) bool { return admissions[i].Before(admissions[j]) })
	for i := range admissions {
		count := 1
		for j := i + 1; j < len(admissions); j++ {
			if admissions[j].Sub(admissions[i]) < time.Second {
				count++
			}
		}
		if count > n {
			t.Fatalf("window starting at admission %d holds %d admissions, want ≤ %d", i, count, n)
		}
	}
}

func TestLimiterContextCancelled(t *testing.T) {
	t.Parallel()
	rl := NewSlidingWindowLimiter(1)

	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rl.Acquire(ctx); err == nil {
		t.Error("expected context error, got nil")
	}
}

func TestLimiterReportsCapacity(t *testing.T) {
	t.Parallel()
	rl := NewSlidingWindowLimiter(7)
	if got := rl.Limit(); got != 7 {
		t.Errorf("Limit() = %d, want 7", got)
	}
}

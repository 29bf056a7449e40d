package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"feedrelay/internal/logging"
)

// fastDelay makes every feed fire a few milliseconds apart regardless of the
// configured interval, so tests run quickly.
func fastDelay(now time.Time, intervalMinutes int) time.Duration {
	return 5 * time.Millisecond
}

func TestNextFireDelay(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 17, 30, 0, time.UTC)
	cases := []struct {
		name    string
		minutes int
		want    time.Duration
	}{
		{"sub-hour interval repeats as-is", 15, 15 * time.Minute},
		{"one minute", 1, time.Minute},
		{"hourly aligns to the next hour boundary", 60, 42*time.Minute + 30*time.Second},
		{"two-hourly aligns to a boundary two hours out", 120, time.Hour + 42*time.Minute + 30*time.Second},
		{"90 minutes rounds down to hourly alignment", 90, 42*time.Minute + 30*time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := nextFireDelay(now, tc.minutes); got != tc.want {
				t.Errorf("nextFireDelay(%d) = %v, want %v", tc.minutes, got, tc.want)
			}
		})
	}
}

func TestClampInterval(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {-3, 1}, {1, 1}, {30, 30}, {1440, 1440}, {5000, 1440},
	}
	for _, tc := range cases {
		if got := clampInterval(tc.in); got != tc.want {
			t.Errorf("clampInterval(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSchedulerFiresRepeatedly(t *testing.T) {
	var fired atomic.Int32
	s := New(func(ctx context.Context, feedID int64) {
		fired.Add(1)
	}, logging.Nop())
	s.delayFn = fastDelay

	s.ScheduleFeed(1, 60)
	time.Sleep(60 * time.Millisecond)
	s.StopAll()

	if n := fired.Load(); n < 3 {
		t.Errorf("expected several firings, got %d", n)
	}
}

func TestSchedulerNeverOverlapsSameFeed(t *testing.T) {
	var inflight, maxInflight, fired int32
	var mu sync.Mutex
	s := New(func(ctx context.Context, feedID int64) {
		mu.Lock()
		inflight++
		if inflight > maxInflight {
			maxInflight = inflight
		}
		fired++
		mu.Unlock()

		time.Sleep(15 * time.Millisecond) // slower than the firing delay

		mu.Lock()
		inflight--
		mu.Unlock()
	}, logging.Nop())
	s.delayFn = fastDelay

	s.ScheduleFeed(1, 60)
	time.Sleep(80 * time.Millisecond)
	s.StopAll()

	mu.Lock()
	defer mu.Unlock()
	if maxInflight != 1 {
		t.Errorf("same-feed checks overlapped: max inflight %d", maxInflight)
	}
	if fired < 2 {
		t.Errorf("expected repeated firings, got %d", fired)
	}
}

func TestSchedulerIndependentFeedsRunConcurrently(t *testing.T) {
	var mu sync.Mutex
	inflight := map[int64]bool{}
	sawConcurrent := false
	s := New(func(ctx context.Context, feedID int64) {
		mu.Lock()
		inflight[feedID] = true
		if len(inflight) > 1 {
			sawConcurrent = true
		}
		mu.Unlock()

		time.Sleep(15 * time.Millisecond)

		mu.Lock()
		delete(inflight, feedID)
		mu.Unlock()
	}, logging.Nop())
	s.delayFn = fastDelay

	s.ScheduleFeed(1, 60)
	s.ScheduleFeed(2, 60)
	time.Sleep(80 * time.Millisecond)
	s.StopAll()

	mu.Lock()
	defer mu.Unlock()
	if !sawConcurrent {
		t.Error("different feeds should be able to run concurrently")
	}
}

func TestScheduleFeedReplacesExistingTimer(t *testing.T) {
	var fired atomic.Int32
	s := New(func(ctx context.Context, feedID int64) {
		fired.Add(1)
		time.Sleep(2 * time.Millisecond)
	}, logging.Nop())
	s.delayFn = fastDelay

	// Re-scheduling must not leave two live timers for the same feed.
	s.ScheduleFeed(1, 60)
	s.ScheduleFeed(1, 30)
	s.ScheduleFeed(1, 15)
	time.Sleep(50 * time.Millisecond)
	s.StopAll()

	// With a 5ms delay and ~2ms work per firing, a single timer fits at most
	// ~8 firings in 50ms; three stacked timers would roughly triple that.
	if n := fired.Load(); n > 12 {
		t.Errorf("suspiciously many firings (%d); replaced timers may still be alive", n)
	}
}

func TestUnscheduleFeedStopsFiring(t *testing.T) {
	var fired atomic.Int32
	s := New(func(ctx context.Context, feedID int64) {
		fired.Add(1)
	}, logging.Nop())
	s.delayFn = fastDelay

	s.ScheduleFeed(1, 60)
	time.Sleep(30 * time.Millisecond)
	s.UnscheduleFeed(1)
	count := fired.Load()
	time.Sleep(30 * time.Millisecond)

	if fired.Load() > count+1 {
		t.Errorf("feed kept firing after unschedule: %d -> %d", count, fired.Load())
	}

	// Unscheduling an unknown feed is a no-op.
	s.UnscheduleFeed(999)
	s.StopAll()
}

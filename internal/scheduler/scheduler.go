// Package scheduler owns one recurring timer per active feed and triggers
// check cycles at the configured interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckFunc runs one check cycle for one feed. The scheduler never re-arms a
// feed's timer until the previous invocation returned, so invocations for the
// same feed cannot overlap.
type CheckFunc func(ctx context.Context, feedID int64)

type Scheduler struct {
	check  CheckFunc
	logger *zap.SugaredLogger

	// delayFn computes time until the next firing; swapped out in tests.
	delayFn func(now time.Time, intervalMinutes int) time.Duration
	now     func() time.Time

	mu     sync.Mutex
	timers map[int64]*feedTimer
	wg     sync.WaitGroup
}

type feedTimer struct {
	stop chan struct{}
	done chan struct{}
}

func New(check CheckFunc, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		check:   check,
		logger:  logger,
		delayFn: nextFireDelay,
		now:     time.Now,
		timers:  make(map[int64]*feedTimer),
	}
}

// ScheduleFeed idempotently replaces any existing timer for the feed. The new
// timer only starts running after a previously scheduled job for the same
// feed has fully wound down.
func (s *Scheduler) ScheduleFeed(feedID int64, intervalMinutes int) {
	intervalMinutes = clampInterval(intervalMinutes)

	s.mu.Lock()
	prev := s.timers[feedID]
	if prev != nil {
		close(prev.stop)
	}
	t := &feedTimer{stop: make(chan struct{}), done: make(chan struct{})}
	s.timers[feedID] = t
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(t.done)
		if prev != nil {
			<-prev.done
		}
		s.run(feedID, intervalMinutes, t.stop)
	}()
	s.logger.Infof("scheduled feed %d every %d minute(s)", feedID, intervalMinutes)
}

// UnscheduleFeed cancels and removes the feed's timer; no-op if absent.
func (s *Scheduler) UnscheduleFeed(feedID int64) {
	s.mu.Lock()
	t, ok := s.timers[feedID]
	if ok {
		close(t.stop)
		delete(s.timers, feedID)
	}
	s.mu.Unlock()
	if ok {
		s.logger.Infof("unscheduled feed %d", feedID)
	}
}

// StopAll cancels every timer and waits for in-flight checks to finish
// naturally.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for _, t := range s.timers {
		close(t.stop)
	}
	s.timers = make(map[int64]*feedTimer)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(feedID int64, intervalMinutes int, stop chan struct{}) {
	for {
		timer := time.NewTimer(s.delayFn(s.now(), intervalMinutes))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		// Synchronous: the timer is re-armed only after the check returns.
		s.check(context.Background(), feedID)

		select {
		case <-stop:
			return
		default:
		}
	}
}

// nextFireDelay converts a minutes interval into the wait before the next
// firing. Intervals of an hour or more align to hour boundaries; smaller ones
// simply repeat every N minutes.
func nextFireDelay(now time.Time, intervalMinutes int) time.Duration {
	if intervalMinutes >= 60 {
		hours := intervalMinutes / 60
		next := now.Truncate(time.Hour).Add(time.Duration(hours) * time.Hour)
		return next.Sub(now)
	}
	return time.Duration(intervalMinutes) * time.Minute
}

func clampInterval(minutes int) int {
	if minutes < 1 {
		return 1
	}
	if minutes > 1440 {
		return 1440
	}
	return minutes
}

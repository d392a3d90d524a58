package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"BookmarkScout/internal/ports"
)

// ErrRunning is returned by Start when the scheduler already has a job.
var ErrRunning = errors.New("scheduler already running")

// IntervalScheduler triggers a job immediately and then every interval.
// Trigger times are reported in the configured location.
type IntervalScheduler struct {
	interval time.Duration
	location *time.Location

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds a scheduler; a nil location means UTC.
func NewIntervalScheduler(interval time.Duration, location *time.Location) *IntervalScheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if location == nil {
		location = time.UTC
	}
	return &IntervalScheduler{interval: interval, location: location}
}

// Start runs job on a background goroutine until ctx ends or Stop is called.
// Ticks that arrive while job is still running are dropped.
func (s *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		job(time.Now().In(s.location))
		for {
			select {
			case t := <-ticker.C:
				job(t.In(s.location))
			case <-runCtx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop cancels the loop and waits for an in-flight job to return, or for ctx.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

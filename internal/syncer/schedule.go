// internal/syncer/schedule.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Job is the body of a scheduled run.
type Job func(ctx context.Context)

var errSchedulerClosed = errors.New("scheduler is closed")

type loopKey struct{}

// Superseded reports whether ctx was handed to a job by a loop that has
// since been replaced or cancelled. A job that checks it before doing any
// work closes the window between the loop deciding to run and the job
// starting.
func Superseded(ctx context.Context) bool {
	loop, ok := ctx.Value(loopKey{}).(context.Context)
	return ok && loop.Err() != nil
}

// Scheduler holds at most one recurring job.
//
// Jobs are called with the scheduler's own context, so replacing or
// cancelling a schedule stops future runs without interrupting one in
// progress. Only Close cancels that context.
type Scheduler struct {
	mu     sync.Mutex
	base   context.Context
	stop   context.CancelFunc
	cancel context.CancelFunc // nil while idle
	logger *slog.Logger
}

// NewScheduler creates an idle Scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		base:   base,
		stop:   stop,
		logger: logger,
	}
}

// Install replaces the current job, if any, with job run every interval
// after initialDelay. The previous job is cancelled without waiting for a
// run in progress.
func (s *Scheduler) Install(interval, initialDelay time.Duration, job Job) error {
	if interval <= 0 {
		return errors.New("schedule interval must be positive")
	}
	if initialDelay < 0 {
		initialDelay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.base.Err() != nil {
		return errSchedulerClosed
	}
	if s.cancel != nil {
		s.cancel()
		s.logger.Info("Cancelled previous schedule")
	}

	loopCtx, cancel := context.WithCancel(s.base)
	s.cancel = cancel
	go s.loop(loopCtx, interval, initialDelay, job)

	s.logger.Info("Installed schedule", "interval", interval.String(), "initial_delay", initialDelay.String())
	return nil
}

// CancelAll stops the current job. It is a no-op while idle.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.logger.Info("Cancelled schedule")
}

// Running reports whether a job is installed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Close cancels the current job and any run in progress. Install fails afterwards.
func (s *Scheduler) Close() {
	s.CancelAll()
	s.stop()
}

func (s *Scheduler) loop(ctx context.Context, interval, initialDelay time.Duration, job Job) {
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !s.stillInstalled(ctx) {
			return
		}
		job(context.WithValue(s.base, loopKey{}, ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// stillInstalled is checked under the lock, but a replacement can still land
// between this check and the job starting. Jobs use Superseded for that gap.
func (s *Scheduler) stillInstalled(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ctx.Err() == nil
}

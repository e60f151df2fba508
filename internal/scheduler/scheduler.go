// Package scheduler triggers pipeline runs on an interval and on demand,
// never running two at once.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"newsletter-indexer/internal/logging"
	"newsletter-indexer/internal/models"

	"golang.org/x/sync/singleflight"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrStopped        = errors.New("scheduler stopped")
)

// failureWarnThreshold is the number of consecutive failed runs after which each failure is logged as a warning
const failureWarnThreshold = 5

const runKey = "run"

// RunFunc performs one ingestion and sync run
type RunFunc func(ctx context.Context) (*models.RunResult, error)

type Scheduler struct {
	run      RunFunc
	interval time.Duration

	group    singleflight.Group
	inflight sync.WaitGroup
	waiting  atomic.Int32
	failures atomic.Int32

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Scheduler calling run every interval once started
func New(run RunFunc, interval time.Duration) *Scheduler {
	return &Scheduler{run: run, interval: interval}
}

// Trigger runs the pipeline now. A call made while a run is in flight joins
// that run and gets its result. The run uses the context of the call that
// started it; ctx only bounds how long this caller waits. Once Stop has
// begun, Trigger returns ErrStopped.
func (s *Scheduler) Trigger(ctx context.Context) (*models.RunResult, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	// Held until the joined run returns, even if this caller gives up first
	s.inflight.Add(1)
	s.mu.Unlock()

	ch := s.group.DoChan(runKey, func() (any, error) {
		return s.execute(ctx)
	})
	s.waiting.Add(1)
	defer s.waiting.Add(-1)

	res := make(chan singleflight.Result, 1)
	go func() {
		defer s.inflight.Done()
		res <- <-ch
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-res:
		result, _ := r.Val.(*models.RunResult)
		return result, r.Err
	}
}

func (s *Scheduler) execute(ctx context.Context) (*models.RunResult, error) {
	start := time.Now()
	result, err := s.run(ctx)
	if err != nil {
		failures := s.failures.Add(1)
		entry := logging.Log.WithError(err).WithField("consecutive_failures", failures)
		if failures >= failureWarnThreshold {
			entry.Warnf("Run failed %d times in a row, next attempt in %s", failures, s.interval)
		} else {
			entry.Error("Run failed")
		}
		return result, err
	}

	s.failures.Store(0)
	entry := logging.Log.WithField("duration", time.Since(start).Round(time.Millisecond).String())
	if result != nil {
		entry = entry.WithField("trace_id", result.TraceID)
	}
	entry.Info("Run finished")
	return result, nil
}

// Failures returns the number of consecutive failed runs
func (s *Scheduler) Failures() int {
	return int(s.failures.Load())
}

// Waiting returns the number of callers waiting on the current run
func (s *Scheduler) Waiting() int {
	return int(s.waiting.Load())
}

// Start runs the pipeline immediately and then every interval until Stop is
// called or ctx ends. It returns once the loop is launched.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.done)
	logging.Log.Infof("Scheduler started, refresh every %s", s.interval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		_, _ = s.Trigger(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop refuses further triggers, cancels the loop and waits for the loop and
// any in-flight run to return. A stopped Scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.inflight.Wait()
	logging.Log.Info("Scheduler stopped")
}

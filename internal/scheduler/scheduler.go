// Package scheduler runs the periodic maintenance jobs: expired order sweeps, coupon deactivation
// and outbox delivery.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultJobTimeout = time.Minute

// Job is a unit of periodic work. Run reports how many items it handled.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) (int, error)
}

type Scheduler struct {
	logger *zap.Logger
	jobs   []Job

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(logger *zap.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger.Named("scheduler"), jobs: jobs}
}

// Start launches one ticker goroutine per job. Jobs with a non-positive interval are skipped.
// Calling Start twice without Stop is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, job := range s.jobs {
		if job.Interval <= 0 || job.Run == nil {
			s.logger.Info("job disabled", zap.String("job", job.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(runCtx, job)
	}
}

// Stop cancels every job and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce executes job a single time under its timeout and logs the outcome.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	n, err := job.Run(runCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("job completed",
			zap.String("job", job.Name),
			zap.Int("count", n),
			zap.Duration("elapsed", time.Since(started)))
	}
}

package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is periodic maintenance work run while serving.
type Job func(ctx context.Context) error

type scheduledJob struct {
	name     string
	interval time.Duration
	run      Job
}

// Scheduler runs named jobs on fixed intervals until its context ends.
// A panicking job is logged and rescheduled.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	jobs    []scheduledJob
	running bool
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger.Named("scheduler")}
}

// Every registers fn to run every interval. Jobs must be registered before Run.
func (s *Scheduler) Every(name string, interval time.Duration, fn Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if interval <= 0 {
		return fmt.Errorf("job '%s': interval must be positive", name)
	}
	for _, j := range s.jobs {
		if j.name == name {
			return fmt.Errorf("job '%s' is already scheduled", name)
		}
	}
	s.jobs = append(s.jobs, scheduledJob{name: name, interval: interval, run: fn})
	return nil
}

// Run blocks until ctx is done and every job goroutine has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	jobs := append([]scheduledJob(nil), s.jobs...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j scheduledJob) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	s.logger.Debug("scheduler started", zap.Int("jobs", len(jobs)))
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, j scheduledJob) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j scheduledJob) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered from panic in job", zap.String("job", j.name), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := j.run(ctx); err != nil {
		s.logger.Warn("job failed", zap.String("job", j.name), zap.Error(err))
		return
	}
	s.logger.Debug("job finished", zap.String("job", j.name), zap.Duration("elapsed", time.Since(start)))
}

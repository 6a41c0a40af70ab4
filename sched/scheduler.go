// Package sched runs the orchestrator's periodic background jobs: cache
// sweeps, provider health probes, and cost-window rollovers. Jobs are
// idempotent and safe to run concurrently with live traffic.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Job is one periodic task. Run must be idempotent; it only narrows or
// refreshes shared state and never invalidates an in-flight computation.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler drives each job on its own ticker.
type Scheduler struct {
	jobs   []Job
	clock  clock.Clock
	logger *zap.SugaredLogger

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(jobs []Job, logger *zap.SugaredLogger) *Scheduler {
	return newWithClock(jobs, logger, clock.New())
}

func newWithClock(jobs []Job, logger *zap.SugaredLogger, clk clock.Clock) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		clock:  clk,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Start launches one goroutine per job. Each job runs once immediately and
// then on its period.
func (s *Scheduler) Start() {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.run(job)
	}
}

// Stop halts all jobs and waits for in-progress runs to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}

func (s *Scheduler) run(job Job) {
	defer s.wg.Done()

	ticker := s.clock.Ticker(job.Every)
	defer ticker.Stop()

	s.runOnce(job)
	for {
		select {
		case <-ticker.C:
			s.runOnce(job)
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) runOnce(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), job.Every)
	defer cancel()

	if err := job.Run(ctx); err != nil {
		s.logger.Errorw("Background job failed", "job", job.Name, "error", err)
	}
}

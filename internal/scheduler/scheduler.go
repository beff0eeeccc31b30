// Package scheduler runs named maintenance jobs on fixed intervals.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/picly/internal/metrics"
)

type Job func(ctx context.Context) error

type entry struct {
	name     string
	interval time.Duration
	fn       Job
}

// Scheduler runs each registered job in its own goroutine: once at start,
// then on every tick. A job never overlaps with itself.
type Scheduler struct {
	log      *slog.Logger
	jobs     []entry
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

func New(log *slog.Logger) *Scheduler {
	return &Scheduler{
		log:      log.With(slog.String("component", "scheduler")),
		stopChan: make(chan struct{}),
	}
}

// Every registers fn. It must be called before Start.
func (s *Scheduler) Every(name string, interval time.Duration, fn Job) {
	if s.started {
		panic("scheduler: Every called after Start")
	}
	s.jobs = append(s.jobs, entry{name: name, interval: interval, fn: fn})
}

func (s *Scheduler) Start(ctx context.Context) {
	s.started = true
	for _, job := range s.jobs {
		s.log.Info("starting job", "job", job.name, "interval", job.interval)
		s.wg.Add(1)
		go func(job entry) {
			defer s.wg.Done()
			s.loop(ctx, job)
		}(job)
	}
}

// Stop signals every job loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		s.log.Info("scheduler stopped")
	})
}

func (s *Scheduler) loop(ctx context.Context, job entry) {
	s.run(ctx, job)

	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.run(ctx, job)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job entry) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.JobRuns.WithLabelValues(job.name, "panic").Inc()
			s.log.Error("job panicked", "job", job.name, "panic", r)
		}
	}()

	if err := job.fn(ctx); err != nil {
		metrics.JobRuns.WithLabelValues(job.name, "failed").Inc()
		s.log.Error("job failed", "job", job.name, "err", err, "duration", time.Since(started))
		return
	}
	metrics.JobRuns.WithLabelValues(job.name, "succeeded").Inc()
	s.log.Debug("job finished", "job", job.name, "duration", time.Since(started))
}

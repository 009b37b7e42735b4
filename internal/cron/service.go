package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/metrics"
)

const defaultInterval = time.Hour

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service wakes up every Interval and runs the jobs whose cadence elapsed.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		now:      time.Now,
	}, nil
}

// Run starts the cron loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.runCycle(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// RunOnce executes a single named job immediately, ignoring its cadence.
func (s *Service) RunOnce(ctx context.Context, name string) error {
	for _, job := range s.registry.Jobs() {
		if job.Name() == name {
			return s.runJob(ctx, job)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

func (s *Service) runCycle(ctx context.Context) {
	due := s.registry.Due(s.now().UTC())
	if len(due) == 0 {
		return
	}
	s.logg.Info(s.logg.WithField(ctx, "jobs_due", len(due)), "scheduled run starting")
	for _, job := range due {
		if ctx.Err() != nil {
			return
		}
		_ = s.runJob(ctx, job)
	}
	s.logg.Info(ctx, "scheduled run complete")
}

// runJob holds the job's lock for the duration of the run. A lock held by
// another instance skips the job without recording an outcome.
func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithJob(ctx, job.Name())
	locked, err := s.lock.Acquire(ctx, job.Name())
	if err != nil {
		s.logg.Error(jobCtx, "lock acquire failed", err)
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(jobCtx, "job locked by another instance; skipping")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx, job.Name()); relErr != nil {
			s.logg.Error(jobCtx, "failed to release cron lock", relErr)
		}
	}()

	s.logg.Info(jobCtx, "job start")
	start := s.now()
	err = job.Run(jobCtx)
	duration := s.now().Sub(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return err
	}
	s.registry.MarkSucceeded(job.Name(), start.UTC())
	s.logg.Info(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name())
	return nil
}

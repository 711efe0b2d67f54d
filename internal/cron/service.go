package cron

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/metrics"
)

const defaultInterval = time.Minute

var (
	// ErrJobBusy is returned by RunOnce when another instance holds the job's lock.
	ErrJobBusy = pkgerrors.New(pkgerrors.CodeConflict, "job is already running")
	// ErrUnknownJob is returned by RunOnce for names that were never registered.
	ErrUnknownJob = pkgerrors.New(pkgerrors.CodeNotFound, "job not registered")
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs every registered job on its own ticker. Each loop has its own
// lock key, so a slow retry sweep never delays the timeout sweep.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

// NewService builds a cron service.
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
	}, nil
}

// Run starts one loop per job and blocks until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for _, entry := range s.registry.Entries() {
		group.Go(func() error {
			return s.loop(groupCtx, entry)
		})
	}
	err := group.Wait()
	s.logg.Info(ctx, "cron service stopped")
	return err
}

func (s *Service) loop(ctx context.Context, entry Entry) error {
	interval := entry.Interval
	if interval <= 0 {
		interval = s.interval
	}
	loopCtx := s.logg.WithFields(ctx, map[string]any{
		"job":         entry.Job.Name(),
		"interval_ms": interval.Milliseconds(),
	})
	s.logg.Info(loopCtx, "job loop started")

	s.tick(loopCtx, entry.Job)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(loopCtx, "job loop context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.tick(loopCtx, entry.Job)
		}
	}
}

// tick runs the job once. Failures are logged by exec, so one bad run never
// stops the loop.
func (s *Service) tick(ctx context.Context, job Job) {
	if err := s.exec(ctx, job.Name(), job.Run); err == ErrJobBusy {
		s.logg.Info(ctx, "another instance is running this job; skipping tick")
	}
}

// RunOnce runs the named job a single time under its lock. Tests and the CLI
// use it instead of waiting on the ticker.
func (s *Service) RunOnce(ctx context.Context, name string) error {
	entry, ok := s.registry.Lookup(name)
	if !ok {
		return ErrUnknownJob
	}
	return s.exec(ctx, name, entry.Job.Run)
}

func (s *Service) exec(ctx context.Context, name string, fn func(context.Context) error) error {
	locked, err := s.lock.Acquire(ctx, name)
	if err != nil {
		err = fmt.Errorf("lock acquire: %w", err)
		s.logg.Error(s.logg.WithField(ctx, "job", name), "job not started", err)
		s.recordFailure(name)
		return err
	}
	if !locked {
		s.recordSkipped(name)
		return ErrJobBusy
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx), name); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()
	return s.runJob(ctx, name, fn)
}

func (s *Service) runJob(ctx context.Context, name string, fn func(context.Context) error) error {
	jobCtx := s.logg.WithField(ctx, "job", name)
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")
	s.logg.Debug(jobCtx, "job start")
	start := time.Now()
	err := fn(jobCtx)
	duration := time.Since(start)
	s.observeDuration(name, duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.recordFailure(name)
		return err
	}
	s.logg.Debug(jobCtx, "job completed")
	s.recordSuccess(name)
	return nil
}

func (s *Service) observeDuration(job string, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDuration(job, duration)
}

func (s *Service) recordSuccess(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncSuccess(job)
}

func (s *Service) recordFailure(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncFailure(job)
}

func (s *Service) recordSkipped(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncLockSkipped(job)
}

package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/packfinderz-dispatch/internal/dispatch"
)

// Job names double as lock keys and metric labels.
const (
	RetrySweepJob   = "retry_sweep"
	TimeoutSweepJob = "timeout_sweep"
)

// Sweeper is the dispatch surface the sweep jobs drive.
type Sweeper interface {
	RunRetrySweep(ctx context.Context) (*dispatch.SweepReport, error)
	RunTimeoutSweep(ctx context.Context) (*dispatch.SweepReport, error)
}

// SweepJob adapts one dispatch sweep to the Job interface. Per-order failures
// stay in the report and are logged by dispatch; only a failed scan fails the job.
type SweepJob struct {
	name  string
	sweep func(context.Context) (*dispatch.SweepReport, error)
}

// NewRetrySweepJob builds the job re-dispatching pending orders.
func NewRetrySweepJob(sweeper Sweeper) (*SweepJob, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	return &SweepJob{name: RetrySweepJob, sweep: sweeper.RunRetrySweep}, nil
}

// NewTimeoutSweepJob builds the job expiring unanswered offers.
func NewTimeoutSweepJob(sweeper Sweeper) (*SweepJob, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	return &SweepJob{name: TimeoutSweepJob, sweep: sweeper.RunTimeoutSweep}, nil
}

func (j *SweepJob) Name() string { return j.name }

func (j *SweepJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

// Sweep runs the sweep and returns its report.
func (j *SweepJob) Sweep(ctx context.Context) (*dispatch.SweepReport, error) {
	report, err := j.sweep(ctx)
	if err != nil {
		return report, fmt.Errorf("%s: %w", j.name, err)
	}
	return report, nil
}

// RunSweep runs the named sweep job once under its lock and returns the report.
func (s *Service) RunSweep(ctx context.Context, name string) (*dispatch.SweepReport, error) {
	entry, ok := s.registry.Lookup(name)
	if !ok {
		return nil, ErrUnknownJob
	}
	job, ok := entry.Job.(*SweepJob)
	if !ok {
		return nil, fmt.Errorf("job %s is not a sweep", name)
	}
	var report *dispatch.SweepReport
	err := s.exec(ctx, name, func(ctx context.Context) error {
		var runErr error
		report, runErr = job.Sweep(ctx)
		return runErr
	})
	return report, err
}

// NewSweepRegistry registers both sweeps with their cadences.
func NewSweepRegistry(sweeper Sweeper, retryEvery, timeoutEvery time.Duration) (*Registry, error) {
	retry, err := NewRetrySweepJob(sweeper)
	if err != nil {
		return nil, err
	}
	timeout, err := NewTimeoutSweepJob(sweeper)
	if err != nil {
		return nil, err
	}
	return NewRegistry(
		Entry{Job: retry, Interval: retryEvery},
		Entry{Job: timeout, Interval: timeoutEvery},
	), nil
}

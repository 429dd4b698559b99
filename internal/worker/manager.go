package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/docbuild/docworker/internal/core"
	"github.com/docbuild/docworker/internal/data"
	"github.com/docbuild/docworker/internal/domain/model"
	apperrors "github.com/docbuild/docworker/internal/errors"
)

// Validator checks a claimed job's eligibility before the pipeline runs.
type Validator interface {
	ValidateForExecution(ctx context.Context, job *model.Job) error
}

// ManagerConfig holds the claim loop settings.
type ManagerConfig struct {
	// PollInterval bounds the wait between claim attempts when the queue is
	// empty; a pg notification ends the wait early.
	PollInterval time.Duration
}

// Manager runs the claim-and-execute loop. One job is in flight per manager;
// horizontal scale is more worker processes, not more in-process concurrency.
type Manager struct {
	deps       PipelineDeps
	validator  Validator
	dispatcher core.TaskDispatcher
	cfg        ManagerConfig
	stop       atomic.Bool
	logger     *slog.Logger
}

// NewManager creates a Manager. dispatcher may be nil; jobs then execute
// in-process.
func NewManager(deps PipelineDeps, validator Validator, dispatcher core.TaskDispatcher, cfg ManagerConfig) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Manager{
		deps:       deps,
		validator:  validator,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("component", "manager"),
	}
}

// Run loops until the context is canceled or Stop is called. Errors inside one
// iteration mark that job failed and the loop continues; nothing short of
// context cancellation ends it.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "worker started", "poll_interval", m.cfg.PollInterval)
	for {
		if m.stop.Load() {
			m.logger.InfoContext(ctx, "worker stopping")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		job, err := m.deps.Jobs.ClaimNext(ctx)
		if errors.Is(err, model.ErrNoJobsAvailable) {
			m.waitForWork(ctx)
			continue
		}
		if err != nil {
			m.logger.ErrorContext(ctx, "claim failed", "err", err)
			m.sleep(ctx, m.cfg.PollInterval)
			continue
		}

		m.runJob(ctx, job)
	}
}

// StartSpecificJob claims and executes one job by id, then returns. It accepts
// a job that is already inProgress: the dispatching process claims on behalf of
// the offloaded container that actually executes.
func (m *Manager) StartSpecificJob(ctx context.Context, id string) error {
	job, err := m.deps.Jobs.ClaimByID(ctx, id)
	if errors.Is(err, model.ErrNoJobsAvailable) {
		job, err = m.deps.Jobs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if job.Status != model.JobStatusInProgress {
			return apperrors.Validationf("job %s is %s, not claimable", id, job.Status)
		}
	} else if err != nil {
		return err
	}

	m.runJob(ctx, job)
	return nil
}

// Stop requests cooperative shutdown. The in-flight pipeline observes the flag
// at its next stage boundary and resets its job to the queue.
func (m *Manager) Stop() {
	m.stop.Store(true)
}

func (m *Manager) runJob(ctx context.Context, job *model.Job) {
	logger := m.logger.With("job_id", job.ID, "job_type", job.Type)
	logger.InfoContext(ctx, "job claimed", "repo", job.Payload.RepoPath(), "branch", job.Payload.Branch)

	if m.dispatcher != nil {
		m.offload(ctx, job, logger)
		return
	}

	strategy, err := strategyFor(job.Type)
	if err == nil && m.validator != nil {
		err = m.validator.ValidateForExecution(ctx, job)
	}
	if err != nil {
		logger.WarnContext(ctx, "job rejected", "err", err)
		m.failJob(ctx, job, err.Error(), logger)
		return
	}

	runErr := NewPipeline(m.deps, job, strategy, &m.stop).Run(ctx)
	switch {
	case runErr == nil:
		logger.InfoContext(ctx, "job done")
	case apperrors.IsStopped(runErr):
		logger.InfoContext(ctx, "job returned to queue on shutdown")
	case m.stop.Load() && errors.Is(runErr, context.Canceled):
		// shutdown grace expired mid-command; put the job back instead of
		// failing it
		resetCtx := context.WithoutCancel(ctx)
		if resetErr := m.deps.Jobs.ResetToQueued(resetCtx, job.ID, "interrupted by worker shutdown"); resetErr != nil &&
			!errors.Is(resetErr, data.ErrJobNotInProgress) {
			logger.ErrorContext(ctx, "failed to reset interrupted job", "err", resetErr)
		}
	case apperrors.IsBuild(runErr) || apperrors.IsPublish(runErr) || apperrors.IsValidation(runErr):
		// already recorded on the job by the update stage
		logger.WarnContext(ctx, "job failed", "code", apperrors.GetCode(runErr), "err", runErr)
	default:
		logger.ErrorContext(ctx, "pipeline error", "err", runErr)
		m.failJob(ctx, job, runErr.Error(), logger)
	}
}

// offload hands the claimed job to the external compute service instead of
// executing it here. The remote container runs with this job's id pinned.
func (m *Manager) offload(ctx context.Context, job *model.Job, logger *slog.Logger) {
	taskID, err := m.dispatcher.Dispatch(ctx, job)
	if err != nil {
		logger.ErrorContext(ctx, "dispatch failed", "err", err)
		m.failJob(ctx, job, "failed to dispatch job to compute service: "+err.Error(), logger)
		return
	}
	if err := m.deps.Jobs.RecordTaskID(ctx, job.ID, taskID); err != nil {
		logger.ErrorContext(ctx, "failed to record task id", "task_id", taskID, "err", err)
		return
	}
	logger.InfoContext(ctx, "job dispatched", "task_id", taskID)
}

// failJob is the per-iteration error boundary: mark the job failed and notify,
// best effort. A job another actor already moved is left alone.
func (m *Manager) failJob(ctx context.Context, job *model.Job, reason string, logger *slog.Logger) {
	if err := m.deps.Jobs.MarkFailed(ctx, job.ID, reason); err != nil {
		if !errors.Is(err, data.ErrJobNotInProgress) {
			logger.ErrorContext(ctx, "failed to mark job failed", "err", err)
		}
		return
	}
	if m.deps.Status != nil {
		msg := model.StatusMessage{JobID: job.ID, Status: model.JobStatusFailed, TaskID: job.TaskID}
		if err := m.deps.Status.Publish(ctx, msg); err != nil {
			logger.ErrorContext(ctx, "failed to publish status message", "err", err)
		}
	}
}

// waitForWork blocks until a job notification arrives or the poll interval
// elapses, whichever is first.
func (m *Manager) waitForWork(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.PollInterval)
	defer cancel()
	if err := m.deps.Jobs.WaitForNotification(waitCtx); err != nil &&
		!errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		m.logger.WarnContext(ctx, "notification wait failed", "err", err)
		m.sleep(ctx, m.cfg.PollInterval)
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

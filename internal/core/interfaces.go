// Package core declares the contracts between docworker's service layer and its
// data and transport layers.
package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/docbuild/docworker/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Service implementations should depend on these interfaces, not concrete implementations.

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// ClaimNext atomically transitions the best eligible inQueue job to
	// inProgress and returns it. Returns model.ErrNoJobsAvailable when the
	// queue is empty; that is not a failure.
	ClaimNext(ctx context.Context) (*model.Job, error)
	// ClaimByID gives the same at-most-once guarantee scoped to a known job id.
	ClaimByID(ctx context.Context, id string) (*model.Job, error)
	WaitForNotification(ctx context.Context) error
	MarkCompleted(ctx context.Context, id string, result *model.BuildResult) error
	MarkFailed(ctx context.Context, id, reason string) error
	// ResetToQueued returns an in-flight job to the queue. Cooperative-shutdown
	// path only; it clears started_at and the error record.
	ResetToQueued(ctx context.Context, id, message string) error
	AppendLog(ctx context.Context, id string, lines []string) error
	AppendComMessage(ctx context.Context, id, message string) error
	UpdateExecution(ctx context.Context, id string, params UpdateExecutionParams) error
	RecordTaskID(ctx context.Context, id, taskID string) error
	Stats(ctx context.Context) (*model.JobStats, error)
}

// JobRepositoryTx defines optional transactional job creation support.
type JobRepositoryTx interface {
	CreateInTx(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error)
}

// UpdateExecutionParams groups the handler-computed execution fields persisted
// once the build stage has resolved them.
type UpdateExecutionParams struct {
	BuildCommands  []string
	DeployCommands []string
	Payload        model.Payload
}

// DocsetRepository defines read-only access to per-repository publish configuration.
type DocsetRepository interface {
	// GetByRepo returns the docset for owner/name with its branch configuration,
	// or errors.NotFound when the repository is not publish-configured.
	GetByRepo(ctx context.Context, owner, name string) (*model.Docset, error)
}

// ReaperRepository defines the interface for stuck-job reclamation.
type ReaperRepository interface {
	// ReclaimStuck fails jobs that have been inProgress longer than threshold.
	// Returns the number of jobs reclaimed.
	ReclaimStuck(ctx context.Context, threshold time.Duration, batchSize int) (int64, error)
	// DeleteOldJobs deletes terminal jobs older than maxAge, batchSize at a time.
	DeleteOldJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

// StatusPublisher pushes job status envelopes onto the cross-process queue.
type StatusPublisher interface {
	Publish(ctx context.Context, msg model.StatusMessage) error
}

// TaskDispatcher hands job execution to an external container execution service.
type TaskDispatcher interface {
	// Dispatch submits the job and returns the task handle used for cancellation.
	Dispatch(ctx context.Context, job *model.Job) (string, error)
	Cancel(ctx context.Context, taskID string) error
}

// Package service contains the domain services that sit between the worker
// loop and the data layer.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/docbuild/docworker/internal/core"
	"github.com/docbuild/docworker/internal/data"
	"github.com/docbuild/docworker/internal/domain/model"
	apperrors "github.com/docbuild/docworker/internal/errors"
)

// JobService validates jobs before execution and exposes enqueue and stats
// operations to producers.
type JobService struct {
	jobs    core.JobRepository
	docsets core.DocsetRepository
	logger  *slog.Logger
}

// NewJobService creates a JobService.
func NewJobService(jobs core.JobRepository, docsets core.DocsetRepository, logger *slog.Logger) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{jobs: jobs, docsets: docsets, logger: logger.With("component", "jobs")}
}

// Enqueue validates and creates a job.
func (s *JobService) Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	job, err := s.jobs.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "job enqueued",
		"job_id", job.ID, "job_type", job.Type, "repo", job.Payload.RepoPath())
	return job, nil
}

// Stats returns per-status job counts.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	return s.jobs.Stats(ctx)
}

// ValidateForExecution checks a claimed job's entitlement and, for deploying
// job types, its publish eligibility. Failures are validation-coded: the job
// is marked failed and never retried.
func (s *JobService) ValidateForExecution(ctx context.Context, job *model.Job) error {
	payload := &job.Payload
	if payload.RepoOwner == "" || payload.RepoName == "" || payload.Branch == "" {
		return apperrors.Validation("job payload is missing repository coordinates")
	}
	if payload.IsFork && payload.Private {
		return apperrors.Validationf("private fork %s is not entitled to build", payload.RepoPath())
	}

	switch job.Type {
	case model.JobTypeProductionDeploy, model.JobTypeRegression, model.JobTypeManifestGeneration:
		return s.validatePublishEligibility(ctx, job)
	case model.JobTypeGithubPush:
		return nil
	default:
		return apperrors.Validationf("unknown job type %q", job.Type)
	}
}

func (s *JobService) validatePublishEligibility(ctx context.Context, job *model.Job) error {
	payload := &job.Payload
	docset, err := s.docsets.GetByRepo(ctx, payload.RepoOwner, payload.RepoName)
	if err != nil {
		if errors.Is(err, data.ErrDocsetNotFound) {
			return apperrors.Validationf("repository %s is not publish-configured", payload.RepoPath())
		}
		return err
	}

	branch := docset.BranchNamed(payload.Branch)
	if branch == nil {
		return apperrors.Validationf("branch %q of %s is not publish-configured", payload.Branch, payload.RepoPath())
	}
	if !branch.Active {
		return apperrors.Validationf("branch %q of %s is inactive", payload.Branch, payload.RepoPath())
	}
	if job.Type == model.JobTypeProductionDeploy && !branch.Published {
		return apperrors.Validationf("branch %q of %s is not eligible for production deploy", payload.Branch, payload.RepoPath())
	}
	return nil
}

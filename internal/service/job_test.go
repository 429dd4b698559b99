package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/docbuild/docworker/internal/data"
	"github.com/docbuild/docworker/internal/domain/model"
	apperrors "github.com/docbuild/docworker/internal/errors"
	"github.com/docbuild/docworker/internal/mocks"
	"github.com/docbuild/docworker/internal/mocks/jobstest"
)

func configuredDocset() *model.Docset {
	return &model.Docset{
		Project: "docs-sample",
		Branches: []model.Branch{
			{Name: "main", Active: true, Published: true},
			{Name: "v1.0", Active: true, Published: false},
			{Name: "legacy", Active: false, Published: true},
		},
	}
}

func executionJob(jobType model.JobType, branch string) *model.Job {
	return &model.Job{
		ID:     "job-1",
		Type:   jobType,
		Status: model.JobStatusInProgress,
		Payload: model.Payload{
			RepoOwner: "docbuild",
			RepoName:  "docs-sample",
			Branch:    branch,
		},
	}
}

func TestValidateForExecution(t *testing.T) {
	tests := []struct {
		name       string
		job        *model.Job
		docset     *model.Docset
		docsetErr  error
		wantSubstr string
	}{
		{
			name: "github push needs no docset",
			job:  executionJob(model.JobTypeGithubPush, "main"),
		},
		{
			name: "missing coordinates",
			job: &model.Job{
				Type:    model.JobTypeGithubPush,
				Payload: model.Payload{RepoOwner: "docbuild"},
			},
			wantSubstr: "missing repository coordinates",
		},
		{
			name: "private fork rejected",
			job: &model.Job{
				Type: model.JobTypeGithubPush,
				Payload: model.Payload{
					RepoOwner: "someone", RepoName: "docs-sample", Branch: "main",
					IsFork: true, Private: true,
				},
			},
			wantSubstr: "private fork",
		},
		{
			name:   "production deploy on published branch",
			job:    executionJob(model.JobTypeProductionDeploy, "main"),
			docset: configuredDocset(),
		},
		{
			name:       "production deploy on unpublished branch",
			job:        executionJob(model.JobTypeProductionDeploy, "v1.0"),
			docset:     configuredDocset(),
			wantSubstr: "not eligible for production deploy",
		},
		{
			name:       "deploy on inactive branch",
			job:        executionJob(model.JobTypeProductionDeploy, "legacy"),
			docset:     configuredDocset(),
			wantSubstr: "is inactive",
		},
		{
			name:       "deploy on unconfigured branch",
			job:        executionJob(model.JobTypeRegression, "feature/x"),
			docset:     configuredDocset(),
			wantSubstr: "not publish-configured",
		},
		{
			name:       "deploy on unconfigured repository",
			job:        executionJob(model.JobTypeProductionDeploy, "main"),
			docsetErr:  data.ErrDocsetNotFound,
			wantSubstr: "not publish-configured",
		},
		{
			name:   "regression on unpublished branch is allowed",
			job:    executionJob(model.JobTypeRegression, "v1.0"),
			docset: configuredDocset(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			docsets := mocks.NewMockDocsetRepository(ctrl)
			if tt.docset != nil || tt.docsetErr != nil {
				docsets.EXPECT().
					GetByRepo(gomock.Any(), tt.job.Payload.RepoOwner, tt.job.Payload.RepoName).
					Return(tt.docset, tt.docsetErr)
			}

			svc := NewJobService(jobstest.NewFakeJobRepo(), docsets, nil)
			err := svc.ValidateForExecution(context.Background(), tt.job)

			if tt.wantSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), "expected validation-coded error, got %v", err)
			assert.Contains(t, err.Error(), tt.wantSubstr)
		})
	}
}

func TestValidateForExecutionStoreErrorPassesThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	storeErr := apperrors.Store("docset lookup timed out")
	docsets := mocks.NewMockDocsetRepository(ctrl)
	docsets.EXPECT().GetByRepo(gomock.Any(), "docbuild", "docs-sample").Return(nil, storeErr)

	svc := NewJobService(jobstest.NewFakeJobRepo(), docsets, nil)
	err := svc.ValidateForExecution(context.Background(), executionJob(model.JobTypeProductionDeploy, "main"))

	require.Error(t, err)
	assert.True(t, apperrors.IsStore(err), "store errors must not be downgraded to validation failures")
}

func TestEnqueueValidates(t *testing.T) {
	repo := jobstest.NewFakeJobRepo()
	svc := NewJobService(repo, nil, nil)

	job, err := svc.Enqueue(context.Background(), &model.CreateJobRequest{
		Type:     model.JobTypeGithubPush,
		Priority: 10,
		Payload:  model.Payload{RepoOwner: "docbuild", RepoName: "docs-sample", Branch: "main"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusInQueue, job.Status)

	_, err = svc.Enqueue(context.Background(), &model.CreateJobRequest{Type: "nope"})
	require.Error(t, err)
}

package worker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/docbuild/docworker/internal/domain/model"
	apperrors "github.com/docbuild/docworker/internal/errors"
	"github.com/docbuild/docworker/internal/mocks"
	"github.com/docbuild/docworker/internal/mocks/jobstest"
)

type validatorFunc func(ctx context.Context, job *model.Job) error

func (f validatorFunc) ValidateForExecution(ctx context.Context, job *model.Job) error {
	return f(ctx, job)
}

func TestRunReturnsAfterStop(t *testing.T) {
	repo := jobstest.NewFakeJobRepo()
	m := NewManager(PipelineDeps{Jobs: repo, Logger: slog.Default()}, nil, nil, ManagerConfig{PollInterval: 10 * time.Millisecond})
	m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Run(ctx))
}

func TestRunJobValidatorRejection(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := jobstest.NewFakeJobRepo()
	job := seededInProgressJob(repo, model.JobTypeProductionDeploy)

	publisher := mocks.NewMockStatusPublisher(ctrl)
	var published model.StatusMessage
	publisher.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg model.StatusMessage) error {
			published = msg
			return nil
		})

	rejected := apperrors.Validation("private fork docbuild/docs-sample is not entitled to build")
	validator := validatorFunc(func(_ context.Context, _ *model.Job) error { return rejected })

	m := NewManager(PipelineDeps{Jobs: repo, Status: publisher, Logger: slog.Default()}, validator, nil, ManagerConfig{})
	m.runJob(context.Background(), job)

	stored := repo.Get(job.ID)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Contains(t, stored.Error.Reason, "private fork")
	assert.Equal(t, model.JobStatusFailed, published.Status)
	assert.Equal(t, job.ID, published.JobID)
}

func TestRunJobOffloadsWhenDispatcherPresent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := jobstest.NewFakeJobRepo()
	job := seededInProgressJob(repo, model.JobTypeGithubPush)

	dispatcher := mocks.NewMockTaskDispatcher(ctrl)
	dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return("task-42", nil)

	m := NewManager(PipelineDeps{Jobs: repo, Logger: slog.Default()}, nil, dispatcher, ManagerConfig{})
	m.runJob(context.Background(), job)

	stored := repo.Get(job.ID)
	assert.Equal(t, model.JobStatusInProgress, stored.Status, "dispatched jobs stay inProgress until the container reports")
	require.NotNil(t, stored.TaskID)
	assert.Equal(t, "task-42", *stored.TaskID)
}

func TestRunJobDispatchFailureFailsJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := jobstest.NewFakeJobRepo()
	job := seededInProgressJob(repo, model.JobTypeGithubPush)

	dispatcher := mocks.NewMockTaskDispatcher(ctrl)
	dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return("", errors.New("compute unavailable"))

	m := NewManager(PipelineDeps{Jobs: repo, Logger: slog.Default()}, nil, dispatcher, ManagerConfig{})
	m.runJob(context.Background(), job)

	stored := repo.Get(job.ID)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Contains(t, stored.Error.Reason, "compute unavailable")
}

func TestStartSpecificJobUnknownID(t *testing.T) {
	repo := jobstest.NewFakeJobRepo()
	m := NewManager(PipelineDeps{Jobs: repo, Logger: slog.Default()}, nil, nil, ManagerConfig{})

	err := m.StartSpecificJob(context.Background(), "no-such-job")
	require.Error(t, err)
}

func TestStartSpecificJobTerminalJobRejected(t *testing.T) {
	repo := jobstest.NewFakeJobRepo()
	job := repo.Seed(model.Job{Type: model.JobTypeGithubPush, Status: model.JobStatusCompleted})

	m := NewManager(PipelineDeps{Jobs: repo, Logger: slog.Default()}, nil, nil, ManagerConfig{})
	err := m.StartSpecificJob(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestFailJobLeavesAlreadyMovedJobAlone(t *testing.T) {
	repo := jobstest.NewFakeJobRepo()
	job := repo.Seed(model.Job{Type: model.JobTypeGithubPush, Status: model.JobStatusInQueue})

	m := NewManager(PipelineDeps{Jobs: repo, Logger: slog.Default()}, nil, nil, ManagerConfig{})
	m.failJob(context.Background(), job, "too late", m.logger)

	stored := repo.Get(job.ID)
	assert.Equal(t, model.JobStatusInQueue, stored.Status)
}

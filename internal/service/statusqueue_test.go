package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/docbuild/docworker/config"
	"github.com/docbuild/docworker/internal/core"
	"github.com/docbuild/docworker/internal/domain/model"
	"github.com/docbuild/docworker/internal/mocks"
	"github.com/docbuild/docworker/internal/mocks/jobstest"
)

func TestBackoffGrowsLinearly(t *testing.T) {
	q := NewStatusQueue(nil, config.StatusQueueConfig{BaseDelay: 10 * time.Second}, nil)

	assert.Equal(t, 10*time.Second, q.Backoff(1))
	assert.Equal(t, 20*time.Second, q.Backoff(2))
	assert.Equal(t, 30*time.Second, q.Backoff(3))
}

func TestStatusQueueKeys(t *testing.T) {
	q := NewStatusQueue(nil, config.StatusQueueConfig{KeyPrefix: "docworker:status"}, nil)

	assert.Equal(t, "docworker:status:ready", q.readyKey())
	assert.Equal(t, "docworker:status:delayed", q.delayedKey())
	assert.Equal(t, "docworker:status:dead", q.deadKey())
}

func TestStatusMessageWireFormat(t *testing.T) {
	taskID := "task-42"
	msg := model.StatusMessage{
		JobID:  "job-1",
		Status: model.JobStatusFailed,
		TaskID: &taskID,
		Tries:  2,
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "job-1", decoded["jobId"])
	assert.Equal(t, "failed", decoded["jobStatus"])
	assert.Equal(t, "task-42", decoded["taskId"])
	assert.Equal(t, float64(2), decoded["tries"])

	var roundTrip model.StatusMessage
	require.NoError(t, json.Unmarshal(raw, &roundTrip))
	assert.Equal(t, msg, roundTrip)
}

type notifierFunc func(ctx context.Context, msg model.StatusMessage, job *model.Job) error

func (f notifierFunc) Notify(ctx context.Context, msg model.StatusMessage, job *model.Job) error {
	return f(ctx, msg, job)
}

func newTestConsumer(jobs *jobstest.FakeJobRepo, notifier Notifier, dispatcher *mocks.MockTaskDispatcher) *StatusConsumer {
	cfg := config.StatusQueueConfig{}
	cfg.Sanitize()
	var d core.TaskDispatcher
	if dispatcher != nil {
		d = dispatcher
	}
	return NewStatusConsumer(nil, jobs, notifier, d, cfg, nil)
}

func TestProcessNotifies(t *testing.T) {
	jobs := jobstest.NewFakeJobRepo()
	job := jobs.Seed(model.Job{Type: model.JobTypeGithubPush, Status: model.JobStatusCompleted})

	var gotMsg model.StatusMessage
	var gotJob *model.Job
	notifier := notifierFunc(func(_ context.Context, msg model.StatusMessage, j *model.Job) error {
		gotMsg, gotJob = msg, j
		return nil
	})

	c := newTestConsumer(jobs, notifier, nil)
	msg := model.StatusMessage{JobID: job.ID, Status: model.JobStatusCompleted}
	require.NoError(t, c.process(context.Background(), msg))

	assert.Equal(t, job.ID, gotMsg.JobID)
	require.NotNil(t, gotJob)
	assert.Equal(t, job.ID, gotJob.ID)
}

func TestProcessCancelsComputeTaskOnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	jobs := jobstest.NewFakeJobRepo()
	job := jobs.Seed(model.Job{Type: model.JobTypeGithubPush, Status: model.JobStatusFailed})

	dispatcher := mocks.NewMockTaskDispatcher(ctrl)
	dispatcher.EXPECT().Cancel(gomock.Any(), "task-9").Return(nil)

	c := newTestConsumer(jobs, nil, dispatcher)
	taskID := "task-9"
	msg := model.StatusMessage{JobID: job.ID, Status: model.JobStatusFailed, TaskID: &taskID}
	require.NoError(t, c.process(context.Background(), msg))
}

func TestProcessCompletedJobSkipsCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	jobs := jobstest.NewFakeJobRepo()
	job := jobs.Seed(model.Job{Type: model.JobTypeGithubPush, Status: model.JobStatusCompleted})

	// No Cancel expectation: a completed job's task finished on its own.
	dispatcher := mocks.NewMockTaskDispatcher(ctrl)

	c := newTestConsumer(jobs, nil, dispatcher)
	taskID := "task-9"
	msg := model.StatusMessage{JobID: job.ID, Status: model.JobStatusCompleted, TaskID: &taskID}
	require.NoError(t, c.process(context.Background(), msg))
}

func TestProcessMissingJobFails(t *testing.T) {
	c := newTestConsumer(jobstest.NewFakeJobRepo(), nil, nil)
	err := c.process(context.Background(), model.StatusMessage{JobID: "gone"})
	require.Error(t, err)
}

func TestProcessNotifierFailurePropagates(t *testing.T) {
	jobs := jobstest.NewFakeJobRepo()
	job := jobs.Seed(model.Job{Type: model.JobTypeGithubPush, Status: model.JobStatusFailed})

	notifier := notifierFunc(func(context.Context, model.StatusMessage, *model.Job) error {
		return errors.New("chat unreachable")
	})

	c := newTestConsumer(jobs, notifier, nil)
	err := c.process(context.Background(), model.StatusMessage{JobID: job.ID, Status: model.JobStatusFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat unreachable")
}

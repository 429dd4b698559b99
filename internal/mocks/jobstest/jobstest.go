// Package jobstest contains a hand-written in-memory JobRepository double.
// The port is large and fast-moving; a stateful fake keeps pipeline tests
// readable where generated expectation mocks would not.
package jobstest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docbuild/docworker/internal/core"
	"github.com/docbuild/docworker/internal/data"
	"github.com/docbuild/docworker/internal/domain/model"
)

// Ensure compile-time conformance to the port.
var _ core.JobRepository = (*FakeJobRepo)(nil)

// FakeJobRepo is an in-memory JobRepository. All operations follow the store's
// status-guard semantics; individual operations can be overridden per test via
// the Func fields.
type FakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job

	// Overrides; nil means the in-memory behaviour.
	ResetToQueuedFunc func(ctx context.Context, id, message string) error
	MarkFailedFunc    func(ctx context.Context, id, reason string) error

	// Recorded calls for assertions.
	ResetMessages []string
	FailReasons   []string
}

// NewFakeJobRepo creates an empty FakeJobRepo.
func NewFakeJobRepo() *FakeJobRepo {
	return &FakeJobRepo{jobs: make(map[string]*model.Job)}
}

// Seed stores a copy of the job directly, bypassing validation.
func (f *FakeJobRepo) Seed(job model.Job) *model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	f.jobs[job.ID] = &job
	return &job
}

// Get returns the stored job or nil. Test inspection helper.
func (f *FakeJobRepo) Get(id string) *model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		cp := *j
		return &cp
	}
	return nil
}

// Create implements core.JobRepository.
func (f *FakeJobRepo) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	job := &model.Job{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Status:    model.JobStatusInQueue,
		Priority:  req.Priority,
		Payload:   req.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

// GetByID implements core.JobRepository.
func (f *FakeJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// ClaimNext implements core.JobRepository.
func (f *FakeJobRepo) ClaimNext(_ context.Context) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *model.Job
	for _, j := range f.jobs {
		if j.Status != model.JobStatusInQueue {
			continue
		}
		if best == nil || j.Priority > best.Priority ||
			(j.Priority == best.Priority && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	if best == nil {
		return nil, model.ErrNoJobsAvailable
	}
	return f.claimLocked(best), nil
}

// ClaimByID implements core.JobRepository.
func (f *FakeJobRepo) ClaimByID(_ context.Context, id string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status != model.JobStatusInQueue {
		return nil, model.ErrNoJobsAvailable
	}
	return f.claimLocked(job), nil
}

func (f *FakeJobRepo) claimLocked(job *model.Job) *model.Job {
	now := time.Now().UTC()
	job.Status = model.JobStatusInProgress
	job.StartedAt = &now
	job.UpdatedAt = now
	cp := *job
	return &cp
}

// WaitForNotification implements core.JobRepository; it blocks until the
// context ends.
func (f *FakeJobRepo) WaitForNotification(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// MarkCompleted implements core.JobRepository.
func (f *FakeJobRepo) MarkCompleted(_ context.Context, id string, _ *model.BuildResult) error {
	return f.transition(id, model.JobStatusCompleted, "")
}

// MarkFailed implements core.JobRepository.
func (f *FakeJobRepo) MarkFailed(ctx context.Context, id, reason string) error {
	if f.MarkFailedFunc != nil {
		return f.MarkFailedFunc(ctx, id, reason)
	}
	f.mu.Lock()
	f.FailReasons = append(f.FailReasons, reason)
	f.mu.Unlock()
	return f.transition(id, model.JobStatusFailed, reason)
}

func (f *FakeJobRepo) transition(id string, status model.JobStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status != model.JobStatusInProgress {
		return data.ErrJobNotInProgress
	}
	now := time.Now().UTC()
	job.Status = status
	job.EndedAt = &now
	job.UpdatedAt = now
	if status != model.JobStatusCompleted {
		job.StartedAt = nil
		job.Error = &model.JobError{Time: now, Reason: reason}
	}
	return nil
}

// ResetToQueued implements core.JobRepository.
func (f *FakeJobRepo) ResetToQueued(ctx context.Context, id, message string) error {
	if f.ResetToQueuedFunc != nil {
		return f.ResetToQueuedFunc(ctx, id, message)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status != model.JobStatusInProgress {
		return data.ErrJobNotInProgress
	}
	job.Status = model.JobStatusInQueue
	job.StartedAt = nil
	job.Error = nil
	job.Logs = append(job.Logs, message)
	job.UpdatedAt = time.Now().UTC()
	f.ResetMessages = append(f.ResetMessages, message)
	return nil
}

// AppendLog implements core.JobRepository.
func (f *FakeJobRepo) AppendLog(_ context.Context, id string, lines []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return data.ErrJobNotFound
	}
	job.Logs = append(job.Logs, lines...)
	return nil
}

// AppendComMessage implements core.JobRepository.
func (f *FakeJobRepo) AppendComMessage(_ context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return data.ErrJobNotFound
	}
	job.ComMessage = append(job.ComMessage, message)
	return nil
}

// UpdateExecution implements core.JobRepository.
func (f *FakeJobRepo) UpdateExecution(_ context.Context, id string, params core.UpdateExecutionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status != model.JobStatusInProgress {
		return data.ErrJobNotInProgress
	}
	job.BuildCommands = params.BuildCommands
	job.DeployCommands = params.DeployCommands
	job.Payload = params.Payload
	return nil
}

// RecordTaskID implements core.JobRepository.
func (f *FakeJobRepo) RecordTaskID(_ context.Context, id, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return data.ErrJobNotFound
	}
	job.TaskID = &taskID
	return nil
}

// Stats implements core.JobRepository.
func (f *FakeJobRepo) Stats(_ context.Context) (*model.JobStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s model.JobStats
	for _, j := range f.jobs {
		switch j.Status {
		case model.JobStatusInQueue:
			s.InQueue++
		case model.JobStatusInProgress:
			s.InProgress++
		case model.JobStatusCompleted:
			s.Completed++
		case model.JobStatusFailed:
			s.Failed++
		case model.JobStatusTimedOut:
			s.TimedOut++
		}
	}
	return &s, nil
}

// Package model defines the core data types and structures used throughout the docworker job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the type of job to be executed.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeGithubPush represents a staging build triggered by a source-control push.
	JobTypeGithubPush JobType = "githubPush"
	// JobTypeProductionDeploy represents a production publish-and-deploy job.
	JobTypeProductionDeploy JobType = "productionDeploy"
	// JobTypeRegression represents a non-production verification run of the production pipeline.
	JobTypeRegression JobType = "regression"
	// JobTypeManifestGeneration represents a follow-up search-manifest build job.
	JobTypeManifestGeneration JobType = "manifestGeneration"

	// JobStatusInQueue indicates a job is waiting to be claimed.
	JobStatusInQueue JobStatus = "inQueue"
	// JobStatusInProgress indicates a job is currently being executed by a worker.
	JobStatusInProgress JobStatus = "inProgress"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job has failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusTimedOut indicates a job was failed by the reaper after exceeding
	// the in-progress threshold.
	JobStatusTimedOut JobStatus = "timedOut"
)

// ErrNoJobsAvailable is returned when no jobs are eligible for claiming.
var ErrNoJobsAvailable = errors.New("no jobs available")

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.TrimSpace(string(text))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeGithubPush || t == JobTypeProductionDeploy ||
		t == JobTypeRegression || t == JobTypeManifestGeneration
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusInQueue || s == JobStatusInProgress ||
		s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusTimedOut
}

// Terminal returns true for statuses that end a job's lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusTimedOut
}

// Payload carries the build parameters for a job. It is stored as JSONB and is
// fully populated by the producer at enqueue time; the handler adds the computed
// prefixes and the next-gen flag during the build stage.
type Payload struct {
	RepoOwner string `json:"repoOwner"`
	RepoName  string `json:"repoName"`
	Branch    string `json:"branch"`
	IsFork    bool   `json:"isFork"`
	Private   bool   `json:"private"`
	NewHead   string `json:"newHead,omitempty"`
	URLSlug   string `json:"urlSlug,omitempty"`
	Aliased   bool   `json:"aliased"`
	PrimAlias bool   `json:"primaryAlias"`
	Stable    bool   `json:"stable"`
	IsNextGen bool   `json:"isNextGen"`
	// PathPrefix, MutPrefix and ManifestPrefix are computed by the handler for
	// next-gen builds and consumed by the publish tooling.
	PathPrefix     string `json:"pathPrefix,omitempty"`
	MutPrefix      string `json:"mutPrefix,omitempty"`
	ManifestPrefix string `json:"manifestPrefix,omitempty"`
	Patch          string `json:"patch,omitempty"`
	JobTitle       string `json:"jobTitle,omitempty"`
	JobUserName    string `json:"jobUserName,omitempty"`
}

// RepoPath returns the owner/name slug of the payload's repository.
func (p *Payload) RepoPath() string {
	return p.RepoOwner + "/" + p.RepoName
}

// IsSecondaryAlias reports whether the payload targets a non-primary alias of a
// branch. Secondary aliases never drive follow-up manifest jobs.
func (p *Payload) IsSecondaryAlias() bool {
	return p.Aliased && !p.PrimAlias
}

// JobError is the structured failure record stored on a failed job.
type JobError struct {
	Time   time.Time `json:"time"`
	Reason string    `json:"reason"`
}

// Job represents one build-and-publish unit of work.
type Job struct {
	ID             string          `json:"id"                        db:"id"`
	Type           JobType         `json:"type"                      db:"type"`
	Status         JobStatus       `json:"status"                    db:"status"`
	Priority       int             `json:"priority"                  db:"priority"`
	Payload        Payload         `json:"payload"                   db:"payload"`
	BuildCommands  []string        `json:"build_commands,omitempty"  db:"build_commands"`
	DeployCommands []string        `json:"deploy_commands,omitempty" db:"deploy_commands"`
	Error          *JobError       `json:"error,omitempty"           db:"error"`
	Result         json.RawMessage `json:"result,omitempty"          db:"result"`
	Logs           []string        `json:"logs,omitempty"            db:"logs"`
	ComMessage     []string        `json:"com_message,omitempty"     db:"com_message"`
	TaskID         *string         `json:"task_id,omitempty"         db:"task_id"`
	CreatedAt      time.Time       `json:"created_at"                db:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"      db:"started_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"        db:"ended_at"`
	UpdatedAt      time.Time       `json:"updated_at"                db:"updated_at"`
}

// CreateJobRequest represents a request to enqueue a new job.
type CreateJobRequest struct {
	Type        JobType    `json:"type"`
	Payload     Payload    `json:"payload"`
	Priority    int        `json:"priority,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if r.Payload.RepoOwner == "" {
		return errors.New("payload repoOwner is required")
	}
	if r.Payload.RepoName == "" {
		return errors.New("payload repoName is required")
	}
	if r.Payload.Branch == "" {
		return errors.New("payload branch is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	return nil
}

// JobStats represents counts of jobs per lifecycle status.
type JobStats struct {
	InQueue    int `json:"inQueue"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	TimedOut   int `json:"timedOut"`
}

// BuildResult is the opaque success payload recorded on a completed job.
type BuildResult struct {
	Artifacts []string `json:"artifacts"`
}

package data

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/docbuild/docworker/internal/errors"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotInProgress is returned when a terminal transition finds no
	// matching inProgress row, which means another actor already moved the job.
	ErrJobNotInProgress = errors.New("job is not in progress")
)

const defaultOpTimeout = 10 * time.Second

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	// OpTimeout bounds every store operation; zero means the default.
	OpTimeout    time.Duration
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for job management.
type JobRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}

	return &JobRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

// withOpTimeout runs op under the repository's per-call deadline. A deadline
// overrun surfaces as a store error with the operation name attached; the
// caller never hangs on a wedged store.
func (r *JobRepo) withOpTimeout(ctx context.Context, name string, op func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()

	err := op(opCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "store operation timed out", "operation", name, "timeout", r.cfg.OpTimeout)
		}
		return apperrors.Wrapf(err, apperrors.ErrCodeStore, "%s timed out after %s", name, r.cfg.OpTimeout)
	}
	return err
}

const jobColumns = `
  id,
  type,
  status,
  priority,
  payload,
  build_commands,
  deploy_commands,
  error,
  result,
  logs,
  com_message,
  task_id,
  created_at,
  started_at,
  ended_at,
  updated_at
`

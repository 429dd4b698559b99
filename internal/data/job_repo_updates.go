package data

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/docbuild/docworker/internal/core"
	"github.com/docbuild/docworker/internal/data/pgxutil"
	"github.com/docbuild/docworker/internal/domain/model"
)

// MarkCompleted records a successful terminal transition. The status guard in
// the WHERE clause means a job another actor already moved (reaper, reset) is
// reported as ErrJobNotInProgress instead of being overwritten.
func (r *JobRepo) MarkCompleted(ctx context.Context, id string, result *model.BuildResult) error {
	resultRaw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	return r.withOpTimeout(ctx, "mark job completed", func(ctx context.Context) error {
		now := r.timeProvider.Now().UTC()
		res, execErr := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    ended_at = $2,
		    updated_at = $2,
		    result = $3,
		    error = NULL
		WHERE id = $1 AND status = 'inProgress'
	`, id, now, resultRaw)
		if execErr != nil {
			return fmt.Errorf("complete job: %w", execErr)
		}
		return r.requireOneRow(res, id)
	})
}

// MarkFailed records a failed terminal transition with a structured error.
// started_at is cleared so the invariant "started_at set iff the job left the
// queue and is still accounted for" holds for re-enqueued retries of the same
// payload.
func (r *JobRepo) MarkFailed(ctx context.Context, id, reason string) error {
	return r.markTerminalFailure(ctx, id, reason, model.JobStatusFailed)
}

// MarkTimedOut is the reaper's terminal transition for stuck jobs.
func (r *JobRepo) MarkTimedOut(ctx context.Context, id, reason string) error {
	return r.markTerminalFailure(ctx, id, reason, model.JobStatusTimedOut)
}

func (r *JobRepo) markTerminalFailure(ctx context.Context, id, reason string, status model.JobStatus) error {
	now := r.timeProvider.Now().UTC()
	errRaw, err := json.Marshal(model.JobError{Time: now, Reason: reason})
	if err != nil {
		return fmt.Errorf("marshal job error: %w", err)
	}

	return r.withOpTimeout(ctx, "mark job failed", func(ctx context.Context) error {
		res, execErr := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2,
		    started_at = NULL,
		    ended_at = $3,
		    updated_at = $3,
		    error = $4
		WHERE id = $1 AND status = 'inProgress'
	`, id, status, now, errRaw)
		if execErr != nil {
			return fmt.Errorf("fail job: %w", execErr)
		}
		return r.requireOneRow(res, id)
	})
}

// ResetToQueued returns an in-flight job to the queue, clearing its claim and
// error record and appending message to the log trail. Cooperative-shutdown
// path only.
func (r *JobRepo) ResetToQueued(ctx context.Context, id, message string) error {
	return r.withOpTimeout(ctx, "reset job to queued", func(ctx context.Context) error {
		return pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
			now := r.timeProvider.Now().UTC()
			tag, execErr := conn.Exec(ctx, `
			UPDATE jobs
			SET status = 'inQueue',
			    started_at = NULL,
			    error = NULL,
			    updated_at = $2,
			    logs = array_append(logs, $3)
			WHERE id = $1 AND status = 'inProgress'
		`, id, now, message)
			if execErr != nil {
				return fmt.Errorf("reset job: %w", execErr)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("reset job %s: %w", id, ErrJobNotInProgress)
			}
			return nil
		})
	})
}

// AppendLog appends progress lines to the job's internal log trail. Append-only;
// existing lines are never rewritten.
func (r *JobRepo) AppendLog(ctx context.Context, id string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	return r.withOpTimeout(ctx, "append job log", func(ctx context.Context) error {
		return pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
			now := r.timeProvider.Now().UTC()
			tag, execErr := conn.Exec(ctx, `
			UPDATE jobs
			SET logs = array_cat(logs, $2::text[]),
			    updated_at = $3
			WHERE id = $1
		`, id, lines, now)
			if execErr != nil {
				return fmt.Errorf("append log: %w", execErr)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("append log to %s: %w", id, ErrJobNotFound)
			}
			return nil
		})
	})
}

// AppendComMessage appends one externally-observable notification string,
// kept separate from the internal log trail.
func (r *JobRepo) AppendComMessage(ctx context.Context, id, message string) error {
	return r.withOpTimeout(ctx, "append com message", func(ctx context.Context) error {
		return pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
			now := r.timeProvider.Now().UTC()
			tag, execErr := conn.Exec(ctx, `
			UPDATE jobs
			SET com_message = array_append(com_message, $2),
			    updated_at = $3
			WHERE id = $1
		`, id, message, now)
			if execErr != nil {
				return fmt.Errorf("append com message: %w", execErr)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("append com message to %s: %w", id, ErrJobNotFound)
			}
			return nil
		})
	})
}

// UpdateExecution persists the handler-computed command lists and the payload
// fields resolved during the build stage (prefixes, next-gen flag).
func (r *JobRepo) UpdateExecution(ctx context.Context, id string, params core.UpdateExecutionParams) error {
	payloadRaw, err := json.Marshal(params.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	return r.withOpTimeout(ctx, "update job execution", func(ctx context.Context) error {
		return pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
			now := r.timeProvider.Now().UTC()
			tag, execErr := conn.Exec(ctx, `
			UPDATE jobs
			SET build_commands = $2::text[],
			    deploy_commands = $3::text[],
			    payload = $4,
			    updated_at = $5
			WHERE id = $1 AND status = 'inProgress'
		`, id, params.BuildCommands, params.DeployCommands, payloadRaw, now)
			if execErr != nil {
				return fmt.Errorf("update execution: %w", execErr)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("update execution of %s: %w", id, ErrJobNotInProgress)
			}
			return nil
		})
	})
}

// RecordTaskID stores the external compute task handle for later cancellation.
func (r *JobRepo) RecordTaskID(ctx context.Context, id, taskID string) error {
	return r.withOpTimeout(ctx, "record task id", func(ctx context.Context) error {
		res, execErr := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET task_id = $2,
		    updated_at = $3
		WHERE id = $1
	`, id, taskID, r.timeProvider.Now().UTC())
		if execErr != nil {
			return fmt.Errorf("record task id: %w", execErr)
		}
		return r.requireOneRowNotFound(res, id)
	})
}

// Stats returns counts of jobs per lifecycle status.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.withOpTimeout(ctx, "job stats", func(ctx context.Context) error {
		return r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'inQueue')    AS in_queue,
    count(*) FILTER (WHERE status = 'inProgress') AS in_progress,
    count(*) FILTER (WHERE status = 'completed')  AS completed,
    count(*) FILTER (WHERE status = 'failed')     AS failed,
    count(*) FILTER (WHERE status = 'timedOut')   AS timed_out
  FROM jobs
  `).Scan(&s.InQueue, &s.InProgress, &s.Completed, &s.Failed, &s.TimedOut)
	})
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return &s, nil
}

type rowsAffectedResult interface {
	RowsAffected() (int64, error)
}

func (r *JobRepo) requireOneRow(res rowsAffectedResult, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrJobNotInProgress)
	}
	return nil
}

func (r *JobRepo) requireOneRowNotFound(res rowsAffectedResult, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return nil
}

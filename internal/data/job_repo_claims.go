package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/docbuild/docworker/internal/data/pgxutil"
	"github.com/docbuild/docworker/internal/domain/model"
)

// jobChannel is the pg_notify channel that wakes idle workers when a job is enqueued.
const jobChannel = "docworker_job_added"

// SQL used by ClaimNext to atomically claim the best eligible job. The CTE row
// lock with SKIP LOCKED is what guarantees at-most-one concurrent claim; there
// is no external lock manager.
const claimNextSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status = 'inQueue' AND created_at <= $1
    ORDER BY priority DESC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'inProgress',
    started_at = $2,
    updated_at = $2
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + prefixedJobColumns

const claimByIDSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE id = $1 AND status = 'inQueue'
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'inProgress',
    started_at = $2,
    updated_at = $2
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + prefixedJobColumns

const prefixedJobColumns = `
  j.id, j.type, j.status, j.priority, j.payload, j.build_commands,
  j.deploy_commands, j.error, j.result, j.logs, j.com_message, j.task_id,
  j.created_at, j.started_at, j.ended_at, j.updated_at`

// Create enqueues a new job and notifies idle workers.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	createdAt := r.timeProvider.Now().UTC()
	if req.ScheduledAt != nil {
		createdAt = req.ScheduledAt.UTC()
	}

	var job *model.Job
	opErr := r.withOpTimeout(ctx, "create job", func(ctx context.Context) error {
		return pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
			Fn: func(tx pgx.Tx) error {
				rows, qerr := tx.Query(ctx, `
          INSERT INTO jobs(type, status, priority, payload, created_at, updated_at)
          VALUES ($1, 'inQueue', $2, $3, $4, $4)
          RETURNING `+jobColumns, req.Type, req.Priority, payload, createdAt)
				if qerr != nil {
					return fmt.Errorf("insert job: %w", qerr)
				}
				j, cerr := collectJobFromRows(rows)
				rows.Close()
				if cerr != nil {
					return fmt.Errorf("collect job: %w", cerr)
				}
				if _, nerr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, jobChannel, j.ID); nerr != nil {
					return fmt.Errorf("send job notification: %w", nerr)
				}
				job = j
				return nil
			},
		})
	})
	if opErr != nil {
		return nil, opErr
	}
	return job, nil
}

// CreateInTx inserts a job within an existing SQL transaction. Used by producers
// that enqueue a job atomically with their own writes.
func (r *JobRepo) CreateInTx(ctx context.Context, sqlTx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error) {
	if sqlTx == nil {
		return nil, errors.New("transaction is required")
	}
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	createdAt := r.timeProvider.Now().UTC()
	if req.ScheduledAt != nil {
		createdAt = req.ScheduledAt.UTC()
	}

	row := sqlTx.QueryRowContext(ctx, `
      INSERT INTO jobs(type, status, priority, payload, created_at, updated_at)
      VALUES ($1, 'inQueue', $2, $3, $4, $4)
      RETURNING id`, req.Type, req.Priority, payload, createdAt)

	var id string
	if scanErr := row.Scan(&id); scanErr != nil {
		return nil, fmt.Errorf("insert job: %w", scanErr)
	}

	if _, notifyErr := sqlTx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, jobChannel, id); notifyErr != nil {
		return nil, fmt.Errorf("send job notification: %w", notifyErr)
	}

	job := &model.Job{
		ID:        id,
		Type:      req.Type,
		Status:    model.JobStatusInQueue,
		Priority:  req.Priority,
		Payload:   req.Payload,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	return job, nil
}

// ClaimNext atomically claims the highest-priority eligible job, breaking ties
// by creation time. Returns model.ErrNoJobsAvailable when nothing is eligible.
func (r *JobRepo) ClaimNext(ctx context.Context) (*model.Job, error) {
	return r.claim(ctx, "claim next job", func(tx pgx.Tx, ctx context.Context, now time.Time) (pgx.Rows, error) {
		return tx.Query(ctx, claimNextSQL, now, now)
	})
}

// ClaimByID claims a specific queued job with the same atomicity guarantee as
// ClaimNext. Used for manually-triggered or offloaded execution.
func (r *JobRepo) ClaimByID(ctx context.Context, id string) (*model.Job, error) {
	return r.claim(ctx, "claim job by id", func(tx pgx.Tx, ctx context.Context, now time.Time) (pgx.Rows, error) {
		return tx.Query(ctx, claimByIDSQL, id, now)
	})
}

func (r *JobRepo) claim(
	ctx context.Context,
	opName string,
	query func(tx pgx.Tx, ctx context.Context, now time.Time) (pgx.Rows, error),
) (*model.Job, error) {
	var job *model.Job
	err := r.withOpTimeout(ctx, opName, func(ctx context.Context) error {
		return pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
			Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
			Fn: func(tx pgx.Tx) error {
				now := r.timeProvider.Now().UTC()
				rows, qerr := query(tx, ctx, now)
				if qerr != nil {
					return fmt.Errorf("%s: %w", opName, qerr)
				}
				defer rows.Close()

				j, cerr := collectJobFromRows(rows)
				if errors.Is(cerr, pgx.ErrNoRows) {
					return model.ErrNoJobsAvailable
				}
				if cerr != nil {
					return fmt.Errorf("%s: %w", opName, cerr)
				}
				job = j
				return nil
			},
		})
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := r.withOpTimeout(ctx, "get job", func(ctx context.Context) error {
		return pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
			rows, qerr := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
			if qerr != nil {
				return qerr
			}
			defer rows.Close()
			j, cerr := collectJobFromRows(rows)
			if cerr != nil {
				return cerr
			}
			job = j
			return nil
		})
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// WaitForNotification blocks until a job-added notification arrives or the
// context expires. Workers use it to wake early between polls.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	quoted := pgx.Identifier{jobChannel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", jobChannel, execErr)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

func scanJobFromRow(rows pgx.Rows) (*model.Job, error) {
	job := &model.Job{}
	var (
		payloadRaw, errorRaw, resultRaw []byte
		taskID                          *string
		startedAt, endedAt              *time.Time
	)

	if err := rows.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&job.Priority,
		&payloadRaw,
		&job.BuildCommands,
		&job.DeployCommands,
		&errorRaw,
		&resultRaw,
		&job.Logs,
		&job.ComMessage,
		&taskID,
		&job.CreatedAt,
		&startedAt,
		&endedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &job.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	if len(errorRaw) > 0 {
		var jerr model.JobError
		if err := json.Unmarshal(errorRaw, &jerr); err != nil {
			return nil, fmt.Errorf("decode error record: %w", err)
		}
		job.Error = &jerr
	}
	if len(resultRaw) > 0 {
		job.Result = append(json.RawMessage(nil), resultRaw...)
	}
	job.TaskID = taskID
	job.StartedAt = cloneUTC(startedAt)
	job.EndedAt = cloneUTC(endedAt)
	return job, nil
}

func cloneUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

package data

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/docbuild/docworker/internal/data/pgxutil"
)

// Advisory lock keyspace for reaper sweeps. One sweep runs cluster-wide at a
// time; extra reaper replicas skip the pass instead of double-failing jobs.
const (
	reaperLockMajor = 0x10C
	reaperLockSweep = 1
	reaperLockPurge = 2
)

// ReclaimStuck transitions jobs that have been inProgress longer than threshold
// to timedOut, recording a structured error on each. Stuck jobs come from
// worker crashes between claim and terminal transition.
func (r *JobRepo) ReclaimStuck(ctx context.Context, threshold time.Duration, batchSize int) (int64, error) {
	var reclaimed int64
	err := r.withOpTimeout(ctx, "reclaim stuck jobs", func(ctx context.Context) error {
		return pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
			Fn: func(tx pgx.Tx) error {
				locked, lockErr := tryAdvisoryLock(ctx, tx, reaperLockMajor, reaperLockSweep)
				if lockErr != nil {
					return lockErr
				}
				if !locked {
					return nil
				}

				now := r.timeProvider.Now().UTC()
				cutoff := now.Add(-threshold)
				reason := fmt.Sprintf("job timed out after exceeding the in-progress threshold of %s", threshold)

				tag, execErr := tx.Exec(ctx, `
				UPDATE jobs
				SET status = 'timedOut',
				    started_at = NULL,
				    ended_at = $2,
				    updated_at = $2,
				    error = jsonb_build_object('time', to_char($2::timestamptz, 'YYYY-MM-DD"T"HH24:MI:SS"Z"'), 'reason', $3::text)
				WHERE id IN (
				  SELECT id FROM jobs
				  WHERE status = 'inProgress' AND started_at < $1
				  ORDER BY started_at ASC
				  LIMIT $4
				  FOR UPDATE SKIP LOCKED
				)
			`, cutoff, now, reason, batchSize)
				if execErr != nil {
					return fmt.Errorf("reclaim stuck jobs: %w", execErr)
				}
				reclaimed = tag.RowsAffected()
				return nil
			},
		})
	})
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 && r.logger != nil {
		r.logger.InfoContext(ctx, "reclaimed stuck jobs", "count", reclaimed, "threshold", threshold)
	}
	return reclaimed, nil
}

// DeleteOldJobs removes terminal jobs whose run ended before now-maxAge,
// batchSize rows per call.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	var deleted int64
	err := r.withOpTimeout(ctx, "delete old jobs", func(ctx context.Context) error {
		return pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
			Fn: func(tx pgx.Tx) error {
				locked, lockErr := tryAdvisoryLock(ctx, tx, reaperLockMajor, reaperLockPurge)
				if lockErr != nil {
					return lockErr
				}
				if !locked {
					return nil
				}

				cutoff := r.timeProvider.Now().UTC().Add(-maxAge)
				tag, execErr := tx.Exec(ctx, `
				DELETE FROM jobs
				WHERE id IN (
				  SELECT id FROM jobs
				  WHERE status IN ('completed', 'failed', 'timedOut')
				    AND updated_at < $1
				  ORDER BY updated_at ASC
				  LIMIT $2
				  FOR UPDATE SKIP LOCKED
				)
			`, cutoff, batchSize)
				if execErr != nil {
					return fmt.Errorf("delete old jobs: %w", execErr)
				}
				deleted = tag.RowsAffected()
				return nil
			},
		})
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 && r.logger != nil {
		r.logger.InfoContext(ctx, "deleted old jobs", "count", deleted, "max_age", maxAge)
	}
	return deleted, nil
}

func tryAdvisoryLock(ctx context.Context, tx pgx.Tx, major, minor int32) (bool, error) {
	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1, $2)`, major, minor).Scan(&locked); err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return locked, nil
}

package service

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/docbuild/docworker/config"
	"github.com/docbuild/docworker/internal/core"
)

// Reaper periodically fails jobs stuck in progress and purges old terminal
// jobs. It runs out of process from claim loops; the store's advisory locks
// keep concurrent reaper replicas from sweeping twice.
type Reaper struct {
	repo   core.ReaperRepository
	cfg    config.ReaperConfig
	logger *slog.Logger
}

// NewReaper creates a Reaper.
func NewReaper(repo core.ReaperRepository, cfg config.ReaperConfig, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{repo: repo, cfg: cfg, logger: logger.With("component", "reaper")}
}

// Run sweeps on the configured interval until the context is canceled. Startup
// is jittered so restarted fleets don't sweep in lockstep.
func (r *Reaper) Run(ctx context.Context) error {
	jitter := time.Duration(rand.Int63n(int64(r.cfg.Interval) / 10))
	r.logger.InfoContext(ctx, "reaper started",
		"interval", r.cfg.Interval, "stuck_threshold", r.cfg.StuckThreshold, "jitter", jitter)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one reclamation and purge pass. Errors are logged, never fatal;
// the next tick tries again.
func (r *Reaper) Sweep(ctx context.Context) {
	reclaimed, err := r.repo.ReclaimStuck(ctx, r.cfg.StuckThreshold, r.cfg.BatchSize)
	if err != nil {
		r.logger.ErrorContext(ctx, "stuck-job reclamation failed", "err", err)
	} else if reclaimed > 0 {
		r.logger.InfoContext(ctx, "stuck jobs reclaimed", "count", reclaimed)
	}

	deleted, err := r.repo.DeleteOldJobs(ctx, r.cfg.CompletedMaxAge, r.cfg.BatchSize)
	if err != nil {
		r.logger.ErrorContext(ctx, "old-job purge failed", "err", err)
	} else if deleted > 0 {
		r.logger.InfoContext(ctx, "old jobs purged", "count", deleted)
	}
}

// Package status holds Notifier implementations for the status queue consumer.
package status

import (
	"context"
	"log/slog"

	"github.com/docbuild/docworker/internal/domain/model"
)

// LogNotifier writes terminal-status notifications to the structured log. It
// is the default when no external notification channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

// Notify logs the job's terminal status with its latest external message.
func (n *LogNotifier) Notify(ctx context.Context, msg model.StatusMessage, job *model.Job) error {
	attrs := []any{
		"job_id", msg.JobID,
		"status", msg.Status,
		"repo", job.Payload.RepoPath(),
		"branch", job.Payload.Branch,
	}
	if len(job.ComMessage) > 0 {
		attrs = append(attrs, "message", job.ComMessage[len(job.ComMessage)-1])
	}
	if job.Error != nil {
		attrs = append(attrs, "reason", job.Error.Reason)
	}
	n.logger.InfoContext(ctx, "job status update", attrs...)
	return nil
}

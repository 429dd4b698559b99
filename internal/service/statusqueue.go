package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docbuild/docworker/config"
	"github.com/docbuild/docworker/internal/core"
	"github.com/docbuild/docworker/internal/domain/model"
)

// Notifier delivers a terminal-status notification for a job. Implementations
// post to chat, comment on pull requests, or just log.
type Notifier interface {
	Notify(ctx context.Context, msg model.StatusMessage, job *model.Job) error
}

// StatusQueue is the Redis-backed cross-process status channel: a ready list
// for immediate delivery, a delayed sorted set for retries, and a dead-letter
// list for messages that exhausted their retry budget.
type StatusQueue struct {
	rdb    *redis.Client
	cfg    config.StatusQueueConfig
	logger *slog.Logger
}

// NewStatusQueue creates a StatusQueue on the given Redis client.
func NewStatusQueue(rdb *redis.Client, cfg config.StatusQueueConfig, logger *slog.Logger) *StatusQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusQueue{rdb: rdb, cfg: cfg, logger: logger.With("component", "status-queue")}
}

func (q *StatusQueue) readyKey() string   { return q.cfg.KeyPrefix + ":ready" }
func (q *StatusQueue) delayedKey() string { return q.cfg.KeyPrefix + ":delayed" }
func (q *StatusQueue) deadKey() string    { return q.cfg.KeyPrefix + ":dead" }

// Publish pushes a status message onto the ready list.
func (q *StatusQueue) Publish(ctx context.Context, msg model.StatusMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal status message: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.readyKey(), raw).Err(); err != nil {
		return fmt.Errorf("push status message: %w", err)
	}
	return nil
}

// Backoff returns the re-enqueue delay for a message on its given try count.
func (q *StatusQueue) Backoff(tries int) time.Duration {
	return q.cfg.BaseDelay * time.Duration(tries)
}

// Retry re-enqueues a failed message with its try counter advanced, or moves
// it to the dead-letter list once the retry budget is spent.
func (q *StatusQueue) Retry(ctx context.Context, msg model.StatusMessage) error {
	next := msg.NextTry()
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal status message: %w", err)
	}

	if next.Tries > q.cfg.MaxRetries {
		if pushErr := q.rdb.RPush(ctx, q.deadKey(), raw).Err(); pushErr != nil {
			return fmt.Errorf("dead-letter status message: %w", pushErr)
		}
		q.logger.WarnContext(ctx, "status message dead-lettered",
			"job_id", next.JobID, "tries", next.Tries)
		return nil
	}

	due := time.Now().Add(q.Backoff(next.Tries))
	if zErr := q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: raw,
	}).Err(); zErr != nil {
		return fmt.Errorf("delay status message: %w", zErr)
	}
	return nil
}

// PromoteDue moves delayed messages whose due time has passed back onto the
// ready list. Returns the number promoted.
func (q *StatusQueue) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf", Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed messages: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	pipe := q.rdb.TxPipeline()
	for _, m := range members {
		pipe.ZRem(ctx, q.delayedKey(), m)
		pipe.RPush(ctx, q.readyKey(), m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("promote delayed messages: %w", err)
	}
	return len(members), nil
}

// Pop blocks for up to timeout waiting for a ready message. Returns
// redis.Nil-wrapped error absence as (nil, nil).
func (q *StatusQueue) Pop(ctx context.Context, timeout time.Duration) (*model.StatusMessage, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.readyKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop status message: %w", err)
	}
	// BLPOP returns [key, value]
	var msg model.StatusMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("decode status message: %w", err)
	}
	return &msg, nil
}

// StatusConsumer drains the status queue: it notifies per message, cancels the
// external compute task of failed jobs, and retries messages whose processing
// failed.
type StatusConsumer struct {
	queue      *StatusQueue
	jobs       core.JobRepository
	notifier   Notifier
	dispatcher core.TaskDispatcher
	cfg        config.StatusQueueConfig
	logger     *slog.Logger
}

// NewStatusConsumer creates a StatusConsumer. notifier and dispatcher may be
// nil; the corresponding step is skipped.
func NewStatusConsumer(
	queue *StatusQueue,
	jobs core.JobRepository,
	notifier Notifier,
	dispatcher core.TaskDispatcher,
	cfg config.StatusQueueConfig,
	logger *slog.Logger,
) *StatusConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusConsumer{
		queue:      queue,
		jobs:       jobs,
		notifier:   notifier,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("component", "status-consumer"),
	}
}

// Run processes messages until the context is canceled.
func (c *StatusConsumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "status consumer started")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if promoted, err := c.queue.PromoteDue(ctx); err != nil {
			c.logger.ErrorContext(ctx, "failed to promote delayed messages", "err", err)
		} else if promoted > 0 {
			c.logger.DebugContext(ctx, "promoted delayed messages", "count", promoted)
		}

		msg, err := c.queue.Pop(ctx, c.cfg.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.ErrorContext(ctx, "failed to pop status message", "err", err)
			continue
		}
		if msg == nil {
			continue
		}

		if procErr := c.process(ctx, *msg); procErr != nil {
			c.logger.WarnContext(ctx, "status message processing failed",
				"job_id", msg.JobID, "tries", msg.Tries, "err", procErr)
			if retryErr := c.queue.Retry(ctx, *msg); retryErr != nil {
				c.logger.ErrorContext(ctx, "failed to retry status message",
					"job_id", msg.JobID, "err", retryErr)
			}
		}
	}
}

func (c *StatusConsumer) process(ctx context.Context, msg model.StatusMessage) error {
	job, err := c.jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", msg.JobID, err)
	}

	// Failed offloaded jobs leave their compute task running; stop it before
	// anything else so a wedged notifier can't keep it alive.
	if c.dispatcher != nil && msg.TaskID != nil &&
		(msg.Status == model.JobStatusFailed || msg.Status == model.JobStatusTimedOut) {
		if cancelErr := c.dispatcher.Cancel(ctx, *msg.TaskID); cancelErr != nil {
			return fmt.Errorf("cancel compute task %s: %w", *msg.TaskID, cancelErr)
		}
	}

	if c.notifier != nil {
		if notifyErr := c.notifier.Notify(ctx, msg, job); notifyErr != nil {
			return fmt.Errorf("notify: %w", notifyErr)
		}
	}

	c.logger.InfoContext(ctx, "status message processed",
		"job_id", msg.JobID, "status", msg.Status, "tries", msg.Tries)
	return nil
}

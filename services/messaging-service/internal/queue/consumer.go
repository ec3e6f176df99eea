package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
)

// Handler processes one due job. Returning an error wrapped with
// Retryable asks the consumer to re-deliver the job after backoff;
// any other error (or nil) finishes the job.
type Handler func(ctx context.Context, job Job) error

// RetryableError marks a failure as transient so the consumer
// re-queues the job instead of dropping it.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the consumer will retry the job.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Consumer polls the queue for due jobs and runs the handler with a
// fixed concurrency bound. In-flight handlers never block the poll
// loop beyond the semaphore.
type Consumer struct {
	queue       *Queue
	logger      *slog.Logger
	handler     Handler
	sem         *semaphore.Weighted
	pollEvery   time.Duration
	batchSize   int
	maxAttempts int
	backoffBase time.Duration
	stallAfter  time.Duration
}

type ConsumerConfig struct {
	Concurrency int
	PollEvery   time.Duration
	BatchSize   int
	MaxAttempts int
	BackoffBase time.Duration
	// StallAfter is how long a claimed job may sit unfinished before
	// the sweep puts it back in front of the queue.
	StallAfter time.Duration
}

func NewConsumer(q *Queue, logger *slog.Logger, cfg ConsumerConfig, handler Handler) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 1 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 1 * time.Minute
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = 5 * time.Minute
	}
	return &Consumer{
		queue:       q,
		logger:      logger,
		handler:     handler,
		sem:         semaphore.NewWeighted(int64(cfg.Concurrency)),
		pollEvery:   cfg.PollEvery,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		stallAfter:  cfg.StallAfter,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if n, err := c.queue.reclaimStalled(ctx, now, c.stallAfter, c.batchSize); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("stalled job sweep failed", "err", err)
			} else if n > 0 {
				c.logger.Warn("reclaimed stalled jobs", "count", n)
			}
			jobs, err := c.queue.claimDue(ctx, now, c.batchSize)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("queue claim failed", "err", err)
				continue
			}
			for _, job := range jobs {
				if err := c.sem.Acquire(ctx, 1); err != nil {
					return
				}
				go func(job Job) {
					defer c.sem.Release(1)
					c.process(ctx, job)
				}(job)
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, job Job) {
	err := c.handler(ctx, job)
	if err == nil {
		if err := c.queue.complete(ctx, job.Handle); err != nil {
			c.logger.Error("queue complete failed", "err", err, "handle", job.Handle)
		}
		return
	}

	var retryable *RetryableError
	if !errors.As(err, &retryable) {
		c.logger.Error("job failed permanently", "err", err, "kind", job.Kind, "handle", job.Handle)
		if err := c.queue.complete(ctx, job.Handle); err != nil {
			c.logger.Error("queue complete failed", "err", err, "handle", job.Handle)
		}
		return
	}

	job.Attempts++
	if job.Attempts >= c.maxAttempts {
		c.logger.Error("job retries exhausted", "err", err, "kind", job.Kind, "handle", job.Handle, "attempts", job.Attempts)
		if err := c.queue.complete(ctx, job.Handle); err != nil {
			c.logger.Error("queue complete failed", "err", err, "handle", job.Handle)
		}
		return
	}

	delay := c.backoff(job.Attempts)
	c.logger.Warn("job failed, retrying", "err", err, "kind", job.Kind, "handle", job.Handle, "attempts", job.Attempts, "retry_in", delay.String())
	if err := c.queue.requeue(ctx, job, delay); err != nil {
		c.logger.Error("queue requeue failed", "err", err, "handle", job.Handle)
	}
}

// backoff doubles per attempt: base, 2*base, 4*base, ...
func (c *Consumer) backoff(attempts int) time.Duration {
	d := c.backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue is a durable delayed-job queue on Redis: a sorted set holds
// job handles scored by fire time, and a hash per job holds its kind,
// payload and attempt count. Claiming a due job moves it into a
// processing set scored by claim time, so Remove on a claimed handle
// is a no-op, and a handle whose handler died mid-flight can be
// reclaimed once it has sat in processing past the stall window.
type Queue struct {
	rdb    *redis.Client
	prefix string
}

// Job is one claimed queue entry handed to a consumer.
type Job struct {
	Handle   string
	Kind     string
	Payload  []byte
	Attempts int
}

var claimDueScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, handle in ipairs(due) do
  redis.call("ZREM", KEYS[1], handle)
  redis.call("ZADD", KEYS[2], ARGV[1], handle)
end
return due
`)

var removeScript = redis.NewScript(`
local removed = redis.call("ZREM", KEYS[1], ARGV[1])
if removed == 1 then
  redis.call("DEL", KEYS[2])
end
return removed
`)

var reclaimScript = redis.NewScript(`
local stalled = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, handle in ipairs(stalled) do
  redis.call("ZREM", KEYS[1], handle)
  redis.call("ZADD", KEYS[2], ARGV[3], handle)
end
return #stalled
`)

func New(rdb *redis.Client, prefix string) *Queue {
	if prefix == "" {
		prefix = "msgq"
	}
	return &Queue{rdb: rdb, prefix: prefix}
}

func (q *Queue) delayedKey() string {
	return q.prefix + ":delayed"
}

func (q *Queue) processingKey() string {
	return q.prefix + ":processing"
}

func (q *Queue) jobKey(handle string) string {
	return q.prefix + ":job:" + handle
}

// Enqueue registers a job to fire after delay and returns its handle.
// Negative delays are clamped to zero.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload []byte, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	handle := uuid.NewString()
	fireAt := time.Now().Add(delay).UnixMilli()

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(handle),
		"kind", kind,
		"payload", payload,
		"attempts", 0,
	)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(fireAt), Member: handle})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return handle, nil
}

// Remove deletes a not-yet-claimed job. It returns false, without
// error, when the handle has already fired or was already removed.
func (q *Queue) Remove(ctx context.Context, handle string) (bool, error) {
	res, err := removeScript.Run(ctx, q.rdb,
		[]string{q.delayedKey(), q.jobKey(handle)},
		handle,
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// claimDue moves at most limit due jobs into the processing set and
// loads their bodies. A claimed handle whose hash is missing (removed
// out of band) is skipped.
func (q *Queue) claimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	res, err := claimDueScript.Run(ctx, q.rdb,
		[]string{q.delayedKey(), q.processingKey()},
		now.UnixMilli(), limit,
	).StringSlice()
	if err != nil {
		return nil, err
	}

	var jobs []Job
	for _, handle := range res {
		fields, err := q.rdb.HGetAll(ctx, q.jobKey(handle)).Result()
		if err != nil {
			return jobs, err
		}
		if len(fields) == 0 {
			continue
		}
		attempts, _ := strconv.Atoi(fields["attempts"])
		jobs = append(jobs, Job{
			Handle:   handle,
			Kind:     fields["kind"],
			Payload:  []byte(fields["payload"]),
			Attempts: attempts,
		})
	}
	return jobs, nil
}

// requeue schedules a claimed job to fire again after delay and bumps
// its attempt count.
func (q *Queue) requeue(ctx context.Context, job Job, delay time.Duration) error {
	fireAt := time.Now().Add(delay).UnixMilli()
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), job.Handle)
	pipe.HSet(ctx, q.jobKey(job.Handle), "attempts", job.Attempts)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(fireAt), Member: job.Handle})
	_, err := pipe.Exec(ctx)
	return err
}

// complete drops a claimed job's body once handling is finished.
func (q *Queue) complete(ctx context.Context, handle string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), handle)
	pipe.Del(ctx, q.jobKey(handle))
	_, err := pipe.Exec(ctx)
	return err
}

// reclaimStalled moves handles that have sat in the processing set
// longer than stallAfter back into the delayed set to fire
// immediately. The handler for such a job crashed or was shut down
// mid-flight, so redelivery may duplicate a send that completed just
// before the crash; dispatch handlers tolerate that.
func (q *Queue) reclaimStalled(ctx context.Context, now time.Time, stallAfter time.Duration, limit int) (int64, error) {
	cutoff := now.Add(-stallAfter).UnixMilli()
	return reclaimScript.Run(ctx, q.rdb,
		[]string{q.processingKey(), q.delayedKey()},
		cutoff, limit, now.UnixMilli(),
	).Int64()
}

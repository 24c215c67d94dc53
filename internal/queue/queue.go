// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue implements durable job queues on Redis.
//
// Each queue owns the keys below `<prefix>:<name>`:
//
//	job:<id>   hash   data, attemptsMade, maxAttempts, state, timestamps, result, failedReason
//	wait       list   ids ready to run, pushed left and popped right
//	active     list   ids reserved by a worker
//	locks      zset   ids of active jobs, scored by the time their lock expires
//	delayed    zset   ids waiting for a retry, scored by the time they become due
//	completed  zset   finished ids, scored by finish time
//	failed     zset   ids that exhausted their attempts, scored by finish time
//
// A job moves wait → active with a single LMOVE, so two workers can never
// reserve the same job. The reserving worker holds a lock on the job and keeps
// extending it while the handler runs; a job whose lock expires is stalled and
// goes through Fail like any failed attempt. Failed attempts are retried with exponential backoff
// until maxAttempts is reached. Completed jobs are retained by count and age,
// failed jobs by age.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/redis/go-redis/v9"
)

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var (
	// ErrJobNotFound is returned when a job hash does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrLockLost is returned when a worker completes, fails or extends a job
	// whose lock expired and was recovered by another worker.
	ErrLockLost = errors.New("job lock lost")
	// ErrStalled is the failure reason of a job whose worker stopped
	// extending its lock.
	ErrStalled = errors.New("job stalled: worker lock expired")
)

const defaultLockDuration = 30 * time.Second

// Options tunes retries and retention.
type Options struct {
	Prefix             string
	Attempts           int           // Total attempts, including the first.
	Backoff            time.Duration // Delay before the first retry, doubled on every retry.
	KeepCompleted      int64         // Completed jobs retained, newest first.
	CompletedRetention time.Duration // Maximum age of retained completed jobs.
	FailedRetention    time.Duration // Maximum age of retained failed jobs.
	LockDuration       time.Duration // Lifetime of a worker lock between two extensions.
}

// DefaultOptions mirrors the built-in queue configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(cloud.NewConfig().Queue)
}

// OptionsFromConfig converts the `[queue]` section.
func OptionsFromConfig(c cloud.Queue) Options {
	return Options{
		Prefix:             c.Prefix,
		Attempts:           c.Attempts,
		Backoff:            time.Duration(c.BackoffSeconds) * time.Second,
		KeepCompleted:      int64(c.CompletedRetentionCount),
		CompletedRetention: time.Duration(c.CompletedRetentionSeconds) * time.Second,
		FailedRetention:    time.Duration(c.FailedRetentionSeconds) * time.Second,
		LockDuration:       time.Duration(c.LockSeconds) * time.Second,
	}
}

// Job is one unit of work.
type Job struct {
	ID           string
	Queue        string
	Data         []byte
	State        State
	AttemptsMade int
	MaxAttempts  int
	CreatedAt    time.Time
	ProcessedAt  time.Time
	FinishedAt   time.Time
	FailedReason string
	Result       []byte
}

// Queue is a named queue.
type Queue struct {
	client redis.Cmdable
	name   string
	opts   Options
	now    func() time.Time
}

// New returns the queue name on client.
func New(client redis.Cmdable, name string, opts Options) *Queue {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = defaultLockDuration
	}
	return &Queue{client: client, name: name, opts: opts, now: time.Now}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// LockDuration returns how long a reserved job stays locked without an Extend.
func (q *Queue) LockDuration() time.Duration {
	return q.opts.LockDuration
}

func (q *Queue) key(parts ...string) string {
	k := q.name
	if q.opts.Prefix != "" {
		k = q.opts.Prefix + ":" + k
	}
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *Queue) jobKey(id string) string {
	return q.key("job", id)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Enqueue stores data as a new waiting job and returns its id. There is no
// deduplication: every call creates a job.
func (q *Queue) Enqueue(ctx context.Context, data []byte) (string, error) {
	id := uuid.NewString()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(id),
			"data", data,
			"state", string(StateWaiting),
			"attemptsMade", 0,
			"maxAttempts", q.opts.Attempts,
			"createdAt", millis(q.now()))
		pipe.LPush(ctx, q.key("wait"), id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue on %s: %w", q.name, err)
	}
	return id, nil
}

// promoteDelayed moves the retries that are due back to the wait list.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(millis(q.now()), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range due {
		// Only the caller that removes the id from the zset pushes it.
		removed, err := q.client.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if _, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, q.jobKey(id), "state", string(StateWaiting))
			pipe.LPush(ctx, q.key("wait"), id)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Reserve moves the oldest waiting job to active and returns it. It returns
// nil without error when the queue is empty.
func (q *Queue) Reserve(ctx context.Context) (*Job, error) {
	if err := q.promoteDelayed(ctx); err != nil {
		return nil, fmt.Errorf("failed to promote delayed jobs on %s: %w", q.name, err)
	}
	id, err := q.client.LMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve on %s: %w", q.name, err)
	}
	if _, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, q.jobKey(id), "attemptsMade", 1)
		pipe.HSet(ctx, q.jobKey(id), "state", string(StateActive), "processedAt", millis(q.now()))
		pipe.ZAdd(ctx, q.key("locks"), q.lockEntry(id))
		return nil
	}); err != nil {
		return nil, err
	}
	return q.Get(ctx, id)
}

func (q *Queue) lockEntry(id string) redis.Z {
	return redis.Z{Score: float64(millis(q.now().Add(q.opts.LockDuration))), Member: id}
}

// Extend renews the lock of an active job.
func (q *Queue) Extend(ctx context.Context, job *Job) error {
	if _, err := q.client.ZScore(ctx, q.key("locks"), job.ID).Result(); err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrLockLost, job.ID)
		}
		return fmt.Errorf("failed to extend lock of job %s: %w", job.ID, err)
	}
	if err := q.client.ZAddXX(ctx, q.key("locks"), q.lockEntry(job.ID)).Err(); err != nil {
		return fmt.Errorf("failed to extend lock of job %s: %w", job.ID, err)
	}
	return nil
}

// release drops the lock of job. Only the holder of the lock may finish the job.
func (q *Queue) release(ctx context.Context, job *Job) error {
	removed, err := q.client.ZRem(ctx, q.key("locks"), job.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock of job %s: %w", job.ID, err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, job.ID)
	}
	return nil
}

// RecoverStalled fails every active job whose lock has expired, so it is
// retried with backoff or moved to failed once its attempts are used up.
// The recovered jobs are returned in their new state.
func (q *Queue) RecoverStalled(ctx context.Context) ([]*Job, error) {
	expired, err := q.client.ZRangeByScore(ctx, q.key("locks"), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(millis(q.now()), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled jobs on %s: %w", q.name, err)
	}
	recovered := make([]*Job, 0, len(expired))
	for _, id := range expired {
		// Only the caller that removes the lock recovers the job.
		removed, err := q.client.ZRem(ctx, q.key("locks"), id).Result()
		if err != nil {
			return recovered, err
		}
		if removed == 0 {
			continue
		}
		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			q.client.LRem(ctx, q.key("active"), 0, id)
			continue
		}
		if err != nil {
			return recovered, err
		}
		if _, err := q.fail(ctx, job, ErrStalled); err != nil {
			return recovered, err
		}
		recovered = append(recovered, job)
	}
	return recovered, nil
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job := &Job{
		ID:           id,
		Queue:        q.name,
		Data:         []byte(fields["data"]),
		State:        State(fields["state"]),
		FailedReason: fields["failedReason"],
	}
	if r, ok := fields["result"]; ok {
		job.Result = []byte(r)
	}
	job.AttemptsMade, _ = strconv.Atoi(fields["attemptsMade"])
	job.MaxAttempts, _ = strconv.Atoi(fields["maxAttempts"])
	job.CreatedAt = parseMillis(fields["createdAt"])
	job.ProcessedAt = parseMillis(fields["processedAt"])
	job.FinishedAt = parseMillis(fields["finishedAt"])
	return job, nil
}

func parseMillis(in string) time.Time {
	if in == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(in, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Complete marks an active job completed and applies the retention policy.
// It returns ErrLockLost when the job was recovered as stalled in the meantime.
func (q *Queue) Complete(ctx context.Context, job *Job, result []byte) error {
	if err := q.release(ctx, job); err != nil {
		return err
	}
	now := q.now()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 0, job.ID)
		values := []interface{}{"state", string(StateCompleted), "finishedAt", millis(now)}
		if result != nil {
			values = append(values, "result", result)
		}
		pipe.HSet(ctx, q.jobKey(job.ID), values...)
		pipe.ZAdd(ctx, q.key("completed"), redis.Z{Score: float64(millis(now)), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}
	job.State = StateCompleted
	job.FinishedAt = now
	return q.retain(ctx)
}

// RetryDelay is the backoff before the next attempt once attemptsMade
// attempts have failed: Backoff * 2^(attemptsMade-1).
func (q *Queue) RetryDelay(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	return q.opts.Backoff * time.Duration(1<<uint(attemptsMade-1))
}

// Fail records a failed attempt. The job is scheduled for a retry while
// attempts remain and moved to failed otherwise. The return value reports
// whether a retry was scheduled. Like Complete, it requires the job lock.
func (q *Queue) Fail(ctx context.Context, job *Job, reason error) (bool, error) {
	if err := q.release(ctx, job); err != nil {
		return false, err
	}
	return q.fail(ctx, job, reason)
}

func (q *Queue) fail(ctx context.Context, job *Job, reason error) (bool, error) {
	now := q.now()
	message := "unknown error"
	if reason != nil {
		message = reason.Error()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = q.opts.Attempts
	}
	retry := job.AttemptsMade < maxAttempts

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 0, job.ID)
		if retry {
			due := now.Add(q.RetryDelay(job.AttemptsMade))
			pipe.HSet(ctx, q.jobKey(job.ID), "state", string(StateDelayed), "failedReason", message)
			pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(millis(due)), Member: job.ID})
			return nil
		}
		pipe.HSet(ctx, q.jobKey(job.ID), "state", string(StateFailed), "failedReason", message, "finishedAt", millis(now))
		pipe.ZAdd(ctx, q.key("failed"), redis.Z{Score: float64(millis(now)), Member: job.ID})
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record failure of job %s: %w", job.ID, err)
	}
	job.FailedReason = message
	if retry {
		job.State = StateDelayed
		return true, nil
	}
	job.State = StateFailed
	job.FinishedAt = now
	return false, q.retain(ctx)
}

// retain trims completed jobs by count and age and failed jobs by age.
func (q *Queue) retain(ctx context.Context) error {
	now := q.now()
	if q.opts.KeepCompleted > 0 {
		extra, err := q.client.ZRevRange(ctx, q.key("completed"), q.opts.KeepCompleted, -1).Result()
		if err != nil {
			return err
		}
		if err := q.remove(ctx, StateCompleted, extra); err != nil {
			return err
		}
	}
	if q.opts.CompletedRetention > 0 {
		if _, err := q.cleanState(ctx, StateCompleted, now.Add(-q.opts.CompletedRetention)); err != nil {
			return err
		}
	}
	if q.opts.FailedRetention > 0 {
		if _, err := q.cleanState(ctx, StateFailed, now.Add(-q.opts.FailedRetention)); err != nil {
			return err
		}
	}
	return nil
}

// remove deletes ids from the zset of state together with their job hashes.
func (q *Queue) remove(ctx context.Context, state State, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]interface{}, 0, len(ids))
		for _, id := range ids {
			members = append(members, id)
			pipe.Del(ctx, q.jobKey(id))
		}
		pipe.ZRem(ctx, q.key(string(state)), members...)
		return nil
	})
	return err
}

func (q *Queue) cleanState(ctx context.Context, state State, before time.Time) (int64, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.key(string(state)), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(millis(before), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if err := q.remove(ctx, state, ids); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// Clean removes the completed and failed jobs that finished more than grace
// ago. With no states given both are swept. It returns the number of jobs
// removed.
func (q *Queue) Clean(ctx context.Context, grace time.Duration, states ...State) (int64, error) {
	if len(states) == 0 {
		states = []State{StateCompleted, StateFailed}
	}
	before := q.now().Add(-grace)
	var total int64
	for _, s := range states {
		if s != StateCompleted && s != StateFailed {
			return total, fmt.Errorf("cannot clean jobs in state %q", s)
		}
		n, err := q.cleanState(ctx, s, before)
		if err != nil {
			return total, fmt.Errorf("failed to clean %s jobs on %s: %w", s, q.name, err)
		}
		total += n
	}
	return total, nil
}

// Stats counts the jobs in every state.
func (q *Queue) Stats(ctx context.Context) (model.QueueStats, error) {
	stats := model.QueueStats{Queue: q.name}
	var waiting, active, delayed, completed, failed *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, q.key("wait"))
		active = pipe.LLen(ctx, q.key("active"))
		delayed = pipe.ZCard(ctx, q.key("delayed"))
		completed = pipe.ZCard(ctx, q.key("completed"))
		failed = pipe.ZCard(ctx, q.key("failed"))
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to read stats of %s: %w", q.name, err)
	}
	stats.Waiting = waiting.Val()
	stats.Active = active.Val()
	stats.Delayed = delayed.Val()
	stats.Completed = completed.Val()
	stats.Failed = failed.Val()
	return stats, nil
}

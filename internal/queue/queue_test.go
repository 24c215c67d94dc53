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

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T, opts Options) (*Queue, *clock, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	q := New(client, "audio-cleaner", opts)
	q.now = c.Now
	return q, c, client
}

func TestOptionsFromDefaults(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 3, opts.Attempts)
	assert.Equal(t, 5*time.Second, opts.Backoff)
	assert.Equal(t, int64(100), opts.KeepCompleted)
	assert.Equal(t, time.Hour, opts.CompletedRetention)
	assert.Equal(t, 24*time.Hour, opts.FailedRetention)
	assert.Equal(t, 30*time.Second, opts.LockDuration)
}

func TestEnqueueReserveCompleteIsFIFO(t *testing.T) {
	ctx := context.Background()
	q, _, client := newTestQueue(t, DefaultOptions())

	first, err := q.Enqueue(ctx, []byte(`{"n":1}`))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, []byte(`{"n":2}`))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first, job.ID)
	assert.Equal(t, StateActive, job.State)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, `{"n":1}`, string(job.Data))

	require.NoError(t, q.Complete(ctx, job, []byte(`{"ok":true}`)))
	stored, err := q.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stored.State)
	assert.Equal(t, `{"ok":true}`, string(stored.Result))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, int64(1), stats.Completed)

	keys, err := client.Keys(ctx, "dub:audio-cleaner:*").Result()
	require.NoError(t, err)
	assert.Contains(t, keys, "dub:audio-cleaner:wait")
}

func TestReserveOnEmptyQueue(t *testing.T) {
	q, _, _ := newTestQueue(t, DefaultOptions())
	job, err := q.Reserve(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestConcurrentReserveHandsOutEachJobOnce(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, DefaultOptions())
	for i := 0; i < 20; i++ {
		_, err := q.Enqueue(ctx, []byte("x"))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Reserve(ctx)
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestFailRetriesWithExponentialBackoffThenFails(t *testing.T) {
	ctx := context.Background()
	q, clk, _ := newTestQueue(t, DefaultOptions())
	id, err := q.Enqueue(ctx, []byte("x"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, q.RetryDelay(1))
	assert.Equal(t, 10*time.Second, q.RetryDelay(2))

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	retrying, err := q.Fail(ctx, job, errors.New("cleaner down"))
	require.NoError(t, err)
	assert.True(t, retrying)

	// Not due yet.
	clk.Advance(4 * time.Second)
	job, err = q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	clk.Advance(time.Second)
	job, err = q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 2, job.AttemptsMade)
	assert.Equal(t, "cleaner down", job.FailedReason)

	retrying, err = q.Fail(ctx, job, errors.New("cleaner down"))
	require.NoError(t, err)
	assert.True(t, retrying)

	clk.Advance(10 * time.Second)
	job, err = q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 3, job.AttemptsMade)

	retrying, err = q.Fail(ctx, job, errors.New("timeout"))
	require.NoError(t, err)
	assert.False(t, retrying)

	stored, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, stored.State)
	assert.Equal(t, "timeout", stored.FailedReason)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Delayed)
	assert.Equal(t, int64(0), stats.Active)
}

func TestCompletedRetentionByCount(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.KeepCompleted = 2
	q, clk, _ := newTestQueue(t, opts)

	ids := make([]string, 0)
	for i := 0; i < 4; i++ {
		id, err := q.Enqueue(ctx, []byte("x"))
		require.NoError(t, err)
		ids = append(ids, id)
		job, err := q.Reserve(ctx)
		require.NoError(t, err)
		clk.Advance(time.Second)
		require.NoError(t, q.Complete(ctx, job, nil))
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Completed)

	_, err = q.Get(ctx, ids[0])
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = q.Get(ctx, ids[3])
	assert.NoError(t, err)
}

func TestCompletedRetentionByAge(t *testing.T) {
	ctx := context.Background()
	q, clk, _ := newTestQueue(t, DefaultOptions())

	old, err := q.Enqueue(ctx, []byte("old"))
	require.NoError(t, err)
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job, nil))

	clk.Advance(2 * time.Hour)
	_, err = q.Enqueue(ctx, []byte("new"))
	require.NoError(t, err)
	job, err = q.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job, nil))

	_, err = q.Get(ctx, old)
	assert.ErrorIs(t, err, ErrJobNotFound)
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestCleanHonorsGraceAndStates(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Attempts = 1
	opts.CompletedRetention = 0
	opts.FailedRetention = 0
	q, clk, _ := newTestQueue(t, opts)

	_, err := q.Enqueue(ctx, []byte("a"))
	require.NoError(t, err)
	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job, nil))

	_, err = q.Enqueue(ctx, []byte("b"))
	require.NoError(t, err)
	job, err = q.Reserve(ctx)
	require.NoError(t, err)
	_, err = q.Fail(ctx, job, errors.New("boom"))
	require.NoError(t, err)

	n, err := q.Clean(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	clk.Advance(2 * time.Minute)
	n, err = q.Clean(ctx, time.Minute, StateFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = Sweep(ctx, time.Minute, q)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = q.Clean(ctx, time.Minute, StateActive)
	assert.Error(t, err)
}

func TestAbandonedJobIsRecoveredAndRetried(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.LockDuration = 10 * time.Second
	q, clk, _ := newTestQueue(t, opts)

	id, err := q.Enqueue(ctx, []byte("x"))
	require.NoError(t, err)
	abandoned, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.Equal(t, id, abandoned.ID)

	clk.Advance(5 * time.Second)
	recovered, err := q.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Empty(t, recovered)

	clk.Advance(6 * time.Second)
	recovered, err = q.RecoverStalled(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, id, recovered[0].ID)
	assert.Equal(t, StateDelayed, recovered[0].State)
	assert.Equal(t, ErrStalled.Error(), recovered[0].FailedReason)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, int64(1), stats.Delayed)

	// The worker that lost the job can no longer finish it.
	assert.ErrorIs(t, q.Complete(ctx, abandoned, nil), ErrLockLost)
	_, err = q.Fail(ctx, abandoned, errors.New("late"))
	assert.ErrorIs(t, err, ErrLockLost)

	clk.Advance(q.RetryDelay(1))
	retried, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, id, retried.ID)
	assert.Equal(t, 2, retried.AttemptsMade)
	assert.Equal(t, StateActive, retried.State)
	require.NoError(t, q.Complete(ctx, retried, nil))
}

func TestStalledJobOnLastAttemptFails(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Attempts = 1
	opts.LockDuration = time.Second
	q, clk, _ := newTestQueue(t, opts)

	id, err := q.Enqueue(ctx, []byte("x"))
	require.NoError(t, err)
	_, err = q.Reserve(ctx)
	require.NoError(t, err)

	clk.Advance(2 * time.Second)
	recovered, err := q.RecoverStalled(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, ErrStalled.Error(), job.FailedReason)
}

func TestExtendKeepsJobLocked(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.LockDuration = 10 * time.Second
	q, clk, _ := newTestQueue(t, opts)

	_, err := q.Enqueue(ctx, []byte("x"))
	require.NoError(t, err)
	job, err := q.Reserve(ctx)
	require.NoError(t, err)

	clk.Advance(8 * time.Second)
	require.NoError(t, q.Extend(ctx, job))
	clk.Advance(8 * time.Second)
	recovered, err := q.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Empty(t, recovered)

	clk.Advance(3 * time.Second)
	recovered, err = q.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Len(t, recovered, 1)
	assert.ErrorIs(t, q.Extend(ctx, job), ErrLockLost)
}

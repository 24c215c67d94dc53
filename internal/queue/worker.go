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
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Handler processes one job. The returned bytes are stored as the job result.
type Handler func(ctx context.Context, job *Job) ([]byte, error)

// StalledHandler is told about a job recovered from a worker that stopped
// renewing its lock. The job is already failed on the queue.
type StalledHandler func(ctx context.Context, job *Job, cause error)

// Worker pulls jobs from one queue and runs them one at a time.
type Worker struct {
	queue        *Queue
	handler      Handler
	onStalled    StalledHandler
	pollInterval time.Duration
}

// NewWorker returns a worker polling q every pollInterval while it is empty.
func NewWorker(q *Queue, handler Handler, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{queue: q, handler: handler, pollInterval: pollInterval}
}

// OnStalled registers fn to run for every stalled job the worker recovers.
func (w *Worker) OnStalled(fn StalledHandler) *Worker {
	w.onStalled = fn
	return w
}

// Run processes jobs until ctx is canceled. A job in flight when ctx is
// canceled runs to completion before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker started", "queue", w.queue.Name())
	defer slog.Info("worker stopped", "queue", w.queue.Name())

	for {
		if ctx.Err() != nil {
			return nil
		}
		processed, err := w.ProcessOne(ctx)
		if err != nil {
			slog.Error("worker iteration failed", "queue", w.queue.Name(), "error", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

// ProcessOne recovers stalled jobs, then reserves and runs a single job. It
// reports whether a job was found. Handler failures are recorded on the job,
// not returned.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	w.recoverStalled(ctx)

	job, err := w.queue.Reserve(ctx)
	if err != nil || job == nil {
		return false, err
	}

	// The job finishes even when shutdown starts mid-way.
	jobCtx := context.WithoutCancel(ctx)
	logger := slog.With("queue", w.queue.Name(), "job_id", job.ID, "attempt", job.AttemptsMade)
	logger.InfoContext(jobCtx, "processing job")
	started := time.Now()

	stop := w.heartbeat(jobCtx, job)
	result, herr := w.run(jobCtx, job)
	stop()
	if herr == nil {
		logger.InfoContext(jobCtx, "job completed", "duration", time.Since(started))
		return true, w.queue.Complete(jobCtx, job, result)
	}

	retrying, ferr := w.queue.Fail(jobCtx, job, herr)
	logger.WarnContext(jobCtx, "job failed", "error", herr, "retrying", retrying, "duration", time.Since(started))
	return true, ferr
}

func (w *Worker) recoverStalled(ctx context.Context) {
	jobs, err := w.queue.RecoverStalled(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "stalled job recovery failed", "queue", w.queue.Name(), "error", err)
	}
	for _, job := range jobs {
		slog.WarnContext(ctx, "recovered stalled job", "queue", w.queue.Name(), "job_id", job.ID, "attempt", job.AttemptsMade, "state", job.State)
		if w.onStalled != nil {
			w.onStalled(context.WithoutCancel(ctx), job, ErrStalled)
		}
	}
}

// heartbeat extends the lock of job until the returned func is called.
func (w *Worker) heartbeat(ctx context.Context, job *Job) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(w.queue.LockDuration()/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.Extend(ctx, job); err != nil {
					slog.WarnContext(ctx, "failed to extend job lock", "queue", w.queue.Name(), "job_id", job.ID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) run(ctx context.Context, job *Job) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "job handler panicked", "queue", w.queue.Name(), "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

// Sweep cleans every queue once, logging failures and carrying on.
func Sweep(ctx context.Context, grace time.Duration, queues ...*Queue) (int64, error) {
	var (
		total int64
		errs  []error
	)
	for _, q := range queues {
		n, err := q.Clean(ctx, grace)
		total += n
		if err != nil {
			slog.WarnContext(ctx, "queue clean failed", "queue", q.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		slog.InfoContext(ctx, "queue cleaned", "queue", q.Name(), "removed", n)
	}
	return total, errors.Join(errs...)
}

// RunSweeper runs Sweep every interval until ctx is canceled.
func RunSweeper(ctx context.Context, interval, grace time.Duration, queues ...*Queue) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = Sweep(ctx, grace, queues...)
		}
	}
}

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

// Package workflow defines the high-level business logic orchestrations,
// combining commands into pipelines. This file implements the workflow run by
// the queue workers for every queued pipeline step.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/commands"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/queue"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
)

// StepWorkflow executes the jobs of one queued step. It is structured as a
// Chain of Responsibility:
//
//	load-job -> ensure-claimed -> invoke-processor -> persist-result -> audit
//
// When the chain fails after the claim, the step is moved to the error state
// with the failure message and the job is failed on the queue, which retries
// it with backoff until its attempts are used up.
type StepWorkflow struct {
	cor.BaseCommand
	def        model.StepDefinition
	projects   store.ProjectStore
	processors services.Processors
	recorder   *commands.StepEventRecorder
	chain      cor.Chain // The underlying chain of commands to be executed.
}

// Execute runs the chain on a prepared context.
func (w *StepWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

func (w *StepWorkflow) initializeChain() {
	out := cor.NewBaseChain(w.GetName())
	out.AddCommand(commands.NewStepJobReader("load-job", w.def.Name))
	out.AddCommand(commands.NewStepClaimer("ensure-claimed", w.projects, w.def))
	out.AddCommand(commands.NewProcessorInvoker("invoke-processor", w.processors, w.def.Queue))
	out.AddCommand(commands.NewStepResultPersister("persist-result", w.projects, w.def))
	out.AddCommand(w.recorder)
	w.chain = out
}

// Step returns the definition of the executed step.
func (w *StepWorkflow) Step() model.StepDefinition {
	return w.def
}

// Handle is the queue.Handler of the step's queue.
//
// Inputs:
//   - ctx: The job context. It is not canceled by a worker shutdown.
//   - job: The reserved queue job; its data is an encoded model.StepJob.
//
// Outputs:
//   - []byte: The JSON encoded step result, kept on the completed job.
//   - error: The chain failure. A stale job (duplicate delivery, step reset)
//     is not an error: it completes on the queue as skipped.
func (w *StepWorkflow) Handle(ctx context.Context, job *queue.Job) ([]byte, error) {
	chCtx := cor.NewBaseContext()
	defer chCtx.Close()
	chCtx.SetContext(ctx)
	chCtx.Add(cor.CtxIn, job.Data)
	chCtx.Add(commands.AttemptParam, job.AttemptsMade)
	chCtx.Add(commands.StartedAtParam, time.Now())

	w.Execute(chCtx)

	err := chCtx.Err()
	if err == nil {
		result, _ := chCtx.Get(commands.StepResultParam).(model.StepResult)
		return encodeResult(result)
	}
	if errors.Is(err, commands.ErrStaleJob) {
		slog.WarnContext(ctx, "skipping stale step job", "queue", w.def.Queue, "job_id", job.ID, "error", err)
		return []byte(`{"skipped":true}`), nil
	}

	w.fail(ctx, chCtx, job, err)
	return nil, err
}

// fail records a failure on the claimed step. A job that never got its claim
// leaves the episode untouched.
func (w *StepWorkflow) fail(ctx context.Context, chCtx cor.Context, job *queue.Job, cause error) {
	stepJob, ok := chCtx.Get(commands.StepJobParam).(*model.StepJob)
	if !ok || chCtx.Get(commands.ClaimedParam) == nil {
		slog.ErrorContext(ctx, "step job failed before claim", "queue", w.def.Queue, "job_id", job.ID, "error", cause)
		return
	}
	var took time.Duration
	if started, ok := chCtx.Get(commands.StartedAtParam).(time.Time); ok {
		took = time.Since(started)
	}
	w.failStep(ctx, stepJob, job.AttemptsMade, took, cause)
}

// HandleStalled is the queue.StalledHandler of the step's queue. The worker
// that held the job is gone, so a step still in processing is moved to the
// error state. A step that was completed before the worker died is kept.
func (w *StepWorkflow) HandleStalled(ctx context.Context, job *queue.Job, cause error) {
	stepJob, err := model.DecodeStepJob(job.Data)
	if err != nil || stepJob.Step != w.def.Name {
		slog.WarnContext(ctx, "ignoring stalled job", "queue", w.def.Queue, "job_id", job.ID, "error", err)
		return
	}
	w.failStep(ctx, stepJob, job.AttemptsMade, 0, cause)
}

func (w *StepWorkflow) failStep(ctx context.Context, stepJob *model.StepJob, attempt int, took time.Duration, cause error) {
	message := cause.Error()
	if message == "" {
		message = fmt.Sprintf("%s failed", w.def.Name)
	}
	_, err := w.projects.FailStep(ctx, store.FailureSpec{
		Ref:          stepJob.Ref(),
		Step:         w.def.Name,
		FromStatuses: []model.StepStatus{model.StepProcessing},
		Message:      message,
		Now:          time.Now().UTC(),
	})
	if errors.Is(err, store.ErrPreconditionFailed) {
		slog.InfoContext(ctx, "step no longer processing, failure not recorded", "episode", stepJob.Ref().String(), "step", w.def.Name, "error", message)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to record step failure", "episode", stepJob.Ref().String(), "step", w.def.Name, "error", err)
	}

	event := model.NewStepEvent(stepJob.Ref(), w.def.Name, model.StepError, attempt, took)
	event.Error = message
	w.recorder.Record(ctx, event)
}

// NewStepWorkflow is the constructor for the StepWorkflow of one queued step.
//
// Inputs:
//   - config: The application's overall configuration.
//   - serviceClients: The initialized service clients.
//   - def: The queued step to execute.
//   - processors: The external processors keyed by queue name.
//
// Returns:
//   - A pointer to a fully initialized StepWorkflow.
func NewStepWorkflow(
	config *cloud.Config,
	serviceClients *cloud.ServiceClients,
	def model.StepDefinition,
	processors services.Processors) *StepWorkflow {

	out := &StepWorkflow{
		BaseCommand: *cor.NewBaseCommand(def.Queue + "-workflow"),
		def:         def,
		projects:    serviceClients.Store,
		processors:  processors,
		recorder: commands.NewStepEventRecorder("audit", serviceClients.BigQueryClient,
			config.BigQueryDataSource.DatasetName, config.BigQueryDataSource.StepEventsTable),
	}
	out.initializeChain()
	return out
}

func encodeResult(result model.StepResult) ([]byte, error) {
	if result == nil {
		result = model.StepResult{}
	}
	return json.Marshal(result)
}

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

// This file defines the audit command of the step workflow. Every step
// execution, successful or not, produces one model.StepEvent row.
//
// Logic Flow:
//  1. The job, the attempt number and the start time are read from the context.
//  2. A StepEvent is stamped with the outcome.
//  3. When a BigQuery client is configured the event is streamed into the
//     step events table with an Inserter. The event id is the insert id, so a
//     retried insert is de-duplicated.
//  4. Without BigQuery the event is written to the structured log.
//
// The step outcome is already persisted when this command runs, so an insert
// failure is logged and counted but never fails the workflow.
package commands

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
)

// StepEventRecorder writes step events to BigQuery or to the log.
type StepEventRecorder struct {
	cor.BaseCommand
	client  *bigquery.Client // May be nil.
	dataset string
	table   string
}

// NewStepEventRecorder is the constructor for the StepEventRecorder command.
//
// Inputs:
//   - name: A string name for this command instance.
//   - client: An initialized *bigquery.Client, or nil to log events instead.
//   - dataset: The name of the BigQuery dataset.
//   - table: The name of the step events table.
//
// Outputs:
//   - *StepEventRecorder: A pointer to the newly instantiated command.
func NewStepEventRecorder(name string, client *bigquery.Client, dataset string, table string) *StepEventRecorder {
	out := &StepEventRecorder{BaseCommand: *cor.NewBaseCommand(name), client: client, dataset: dataset, table: table}
	out.InputParamName = StepJobParam
	return out
}

// Execute records the success of the step.
func (c *StepEventRecorder) Execute(chCtx cor.Context) {
	job := chCtx.Get(c.GetInputParam()).(*model.StepJob)
	attempt, _ := chCtx.Get(AttemptParam).(int)
	var took time.Duration
	if started, ok := chCtx.Get(StartedAtParam).(time.Time); ok {
		took = time.Since(started)
	}
	c.Record(chCtx.GetContext(), model.NewStepEvent(job.Ref(), job.Step, model.StepCompleted, attempt, took))
	c.Succeed(chCtx)
}

// Record writes a single event. Failures are logged.
func (c *StepEventRecorder) Record(ctx context.Context, event *model.StepEvent) {
	if c.client == nil {
		slog.InfoContext(ctx, "step event",
			"event_id", event.EventID,
			"project_id", event.ProjectID,
			"episode_id", event.EpisodeID,
			"step", event.Step,
			"status", event.Status,
			"attempt", event.Attempt,
			"duration_ms", event.DurationMs,
			"error", event.Error)
		return
	}

	i := c.client.Dataset(c.dataset).Table(c.table).Inserter()
	if err := i.Put(ctx, event); err != nil {
		slog.WarnContext(ctx, "failed to write step event", "event_id", event.EventID, "step", event.Step, "error", err)
		c.GetErrorCounter().Add(ctx, 1)
	}
}

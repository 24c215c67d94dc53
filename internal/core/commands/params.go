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

// Package commands provides the concrete implementations of the Chain of
// Responsibility (COR) pattern's Command interface used by the step and
// video-ingest workflows.
package commands

import "errors"

// Context keys shared by the step workflow commands.
const (
	StepJobParam    = "__step_job__"    // *model.StepJob decoded from the queue payload.
	AttemptParam    = "__attempt__"     // int, 1 for the first delivery of a job.
	ClaimedParam    = "__claimed__"     // *model.Episode returned by the claim.
	StepResultParam = "__step_result__" // model.StepResult returned by the processor.
	CompletedParam  = "__completed__"   // *model.Episode returned by the completing update.
	StartedAtParam  = "__started_at__"  // time.Time the job started.
)

// ErrStaleJob is recorded when a job no longer matches the step state, e.g.
// a duplicate delivery for a step that already completed.
var ErrStaleJob = errors.New("stale step job")

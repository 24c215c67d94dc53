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

package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
)

// StepResultPersister completes the step with the processor result. The
// payload keys are stored inline on the step, the episode moves to the next
// stage and the pipeline pointer advances, all in one update.
type StepResultPersister struct {
	cor.BaseCommand
	projects store.ProjectStore
	def      model.StepDefinition
}

// NewStepResultPersister is the constructor for the StepResultPersister command.
func NewStepResultPersister(name string, projects store.ProjectStore, def model.StepDefinition) *StepResultPersister {
	out := &StepResultPersister{BaseCommand: *cor.NewBaseCommand(name), projects: projects, def: def}
	out.InputParamName = StepResultParam
	return out
}

// IsExecutable requires both the job and the processor result.
func (c *StepResultPersister) IsExecutable(context cor.Context) bool {
	return c.BaseCommand.IsExecutable(context) && context.Get(StepJobParam) != nil
}

// Execute writes the completed step.
func (c *StepResultPersister) Execute(context cor.Context) {
	job := context.Get(StepJobParam).(*model.StepJob)
	result := context.Get(c.GetInputParam()).(model.StepResult)

	// The pointer never moves back, so the episode returns to the stage the
	// resulting pointer names. A re-run of an earlier step or an auxiliary
	// step leaves the stage of the furthest step reached.
	status := c.def.NextStage()
	if claimed, ok := context.Get(ClaimedParam).(*model.Episode); ok {
		status = model.StageAt(max(claimed.Step, c.def.NextPointer()))
	}

	episode, err := c.projects.CompleteStep(context.GetContext(), store.CompletionSpec{
		Ref:           job.Ref(),
		Step:          c.def.Name,
		FromStatuses:  []model.StepStatus{model.StepProcessing},
		Result:        result,
		EpisodeStatus: status,
		Pointer:       c.def.NextPointer(),
		Now:           time.Now().UTC(),
	})
	if err != nil {
		c.Fail(context, fmt.Errorf("failed to persist %s result: %w", c.def.Name, err))
		return
	}

	slog.InfoContext(context.GetContext(), "step completed", "episode", job.Ref().String(), "step", c.def.Name, "status", episode.Status, "pointer", episode.Step)
	c.Succeed(context)
	context.Add(CompletedParam, episode)
	context.Add(c.GetOutputParam(), episode)
}

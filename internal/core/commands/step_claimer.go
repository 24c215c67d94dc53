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
	"errors"
	"fmt"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
)

// StepClaimer makes sure the step of the job is in the processing state before
// the processor is called. The trigger already claimed it; on a queue retry
// the step is in the error state and is claimed again.
type StepClaimer struct {
	cor.BaseCommand
	projects store.ProjectStore
	def      model.StepDefinition
}

// NewStepClaimer is the constructor for the StepClaimer command.
func NewStepClaimer(name string, projects store.ProjectStore, def model.StepDefinition) *StepClaimer {
	out := &StepClaimer{BaseCommand: *cor.NewBaseCommand(name), projects: projects, def: def}
	out.InputParamName = StepJobParam
	return out
}

// Execute claims the step with a resume claim. A job whose step is pending
// or already completed is stale.
func (c *StepClaimer) Execute(context cor.Context) {
	job := context.Get(c.GetInputParam()).(*model.StepJob)

	episode, err := c.projects.ClaimStep(context.GetContext(), store.ClaimSpec{
		Ref:           job.Ref(),
		Step:          c.def.Name,
		Requires:      c.def.Requires,
		Mode:          store.ClaimResume,
		EpisodeStatus: c.def.ActiveStatus,
		Now:           time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) || errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("%w: %s of %s: %v", ErrStaleJob, c.def.Name, job.Ref(), err)
		}
		c.Fail(context, err)
		return
	}

	c.Succeed(context)
	context.Add(ClaimedParam, episode)
	context.Add(c.GetOutputParam(), job)
}

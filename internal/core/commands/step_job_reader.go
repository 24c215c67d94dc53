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

// This file defines the first command of the step workflow. It turns the raw
// queue payload into a model.StepJob and checks that the job belongs to the
// step the workflow executes.
package commands

import (
	"fmt"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
)

// StepJobReader decodes the queue payload found under the input parameter.
type StepJobReader struct {
	cor.BaseCommand
	step model.StepName
}

// NewStepJobReader is the constructor for the StepJobReader command.
//
// Inputs:
//   - name: A string name for this command instance.
//   - step: The step this workflow executes; jobs for any other step fail.
//
// Outputs:
//   - *StepJobReader: A pointer to the newly instantiated command.
func NewStepJobReader(name string, step model.StepName) *StepJobReader {
	return &StepJobReader{BaseCommand: *cor.NewBaseCommand(name), step: step}
}

// Execute parses the payload and publishes the job under StepJobParam and the
// output parameter.
func (c *StepJobReader) Execute(context cor.Context) {
	var data []byte
	switch in := context.Get(c.GetInputParam()).(type) {
	case []byte:
		data = in
	case string:
		data = []byte(in)
	default:
		c.Fail(context, fmt.Errorf("unexpected payload type %T", in))
		return
	}

	job, err := model.DecodeStepJob(data)
	if err != nil {
		c.Fail(context, err)
		return
	}
	if job.Step != c.step {
		c.Fail(context, fmt.Errorf("%w: job for %s delivered to the %s workflow", ErrStaleJob, job.Step, c.step))
		return
	}

	c.Succeed(context)
	context.Add(StepJobParam, job)
	context.Add(c.GetOutputParam(), job)
}

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
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
)

// ProcessorInvoker sends the job to the external processor of its queue.
type ProcessorInvoker struct {
	cor.BaseCommand
	processors services.Processors
	queueName  string
}

// NewProcessorInvoker is the constructor for the ProcessorInvoker command.
func NewProcessorInvoker(name string, processors services.Processors, queueName string) *ProcessorInvoker {
	return &ProcessorInvoker{BaseCommand: *cor.NewBaseCommand(name), processors: processors, queueName: queueName}
}

// IsExecutable requires a claimed step.
func (c *ProcessorInvoker) IsExecutable(context cor.Context) bool {
	return c.BaseCommand.IsExecutable(context) && context.Get(ClaimedParam) != nil
}

// Execute calls the processor and stores its result under StepResultParam.
func (c *ProcessorInvoker) Execute(context cor.Context) {
	job := context.Get(c.GetInputParam()).(*model.StepJob)

	result, err := c.processors.RunStep(context.GetContext(), c.queueName, job)
	if err != nil {
		c.Fail(context, err)
		return
	}

	c.Succeed(context)
	context.Add(StepResultParam, result)
	context.Add(c.GetOutputParam(), result)
}

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

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
)

// Processor is an external processing service. *cloud.QuotaAwareProcessor is
// the HTTP implementation.
type Processor interface {
	Invoke(ctx context.Context, request interface{}, response interface{}) error
}

// Processors maps a queue name to the service consuming its jobs.
type Processors map[string]Processor

// NewProcessors exposes the processor clients of the container.
func NewProcessors(clients *cloud.ServiceClients) Processors {
	out := make(Processors, len(clients.Processors))
	for name, p := range clients.Processors {
		out[name] = p
	}
	return out
}

// RunStep sends the job to the processor of its queue and returns the
// sanitized result. Every failure of the processor itself is an ErrUpstream.
func (p Processors) RunStep(ctx context.Context, queueName string, job *model.StepJob) (model.StepResult, error) {
	proc, ok := p[queueName]
	if !ok {
		return nil, fmt.Errorf("no processor configured for queue %s", queueName)
	}
	result := make(model.StepResult)
	if err := proc.Invoke(ctx, job, &result); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	for k := range result {
		if model.IsReservedStepField(k) {
			delete(result, k)
		}
	}
	return result, nil
}

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

package workflow

import (
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/commands"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
)

// VideoIngestWorkflow attaches videos written straight to the bucket to their
// episodes. It is triggered by the Pub/Sub listener of the bucket's
// notification topic.
type VideoIngestWorkflow struct {
	cor.BaseCommand
	projects store.ProjectStore
	storage  cloud.Storage
	chain    cor.Chain // The underlying chain of commands to be executed.
}

// Execute runs the chain. The context carries the notification text under CtxIn.
func (w *VideoIngestWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

func (w *VideoIngestWorkflow) initializeChain() {
	out := cor.NewBaseChain(w.GetName())
	out.AddCommand(commands.NewNotificationReader("notification-reader"))
	out.AddCommand(commands.NewVideoAttacher("attach-video", w.projects, w.storage))
	w.chain = out
}

// NewVideoIngestWorkflow is the constructor for the VideoIngestWorkflow.
func NewVideoIngestWorkflow(config *cloud.Config, projects store.ProjectStore) *VideoIngestWorkflow {
	out := &VideoIngestWorkflow{
		BaseCommand: *cor.NewBaseCommand("video-ingest-workflow"),
		projects:    projects,
		storage:     config.Storage,
	}
	out.initializeChain()
	return out
}

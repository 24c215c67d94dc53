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

// Package main is the API server of the dubbing pipeline. This file sets up
// the Pub/Sub listeners that react to objects written straight to the media
// bucket.
package main

import (
	"context"
	"log/slog"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/workflow"
)

// SetupListeners attaches the video ingest workflow to every configured
// subscription and starts receiving.
//
// Inputs:
//   - ctx: The application's root context; the listeners stop with it.
//   - config: The application's configuration.
//   - cloudClients: The initialized clients holding the listeners.
func SetupListeners(ctx context.Context, config *cloud.Config, cloudClients *cloud.ServiceClients) {
	if len(cloudClients.PubSubListeners) == 0 {
		slog.Info("no topic subscriptions configured, direct bucket uploads are not ingested")
		return
	}
	videoIngest := workflow.NewVideoIngestWorkflow(config, cloudClients.Store)
	for name, listener := range cloudClients.PubSubListeners {
		listener.SetCommand(videoIngest)
		listener.Listen(ctx)
		slog.Info("listener started", "name", name)
	}
}

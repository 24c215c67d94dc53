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

package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/api"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/auth"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/queue"
	"github.com/redis/go-redis/v9"
)

// StateManager holds the shared components of the server process.
type StateManager struct {
	config   *cloud.Config
	cloud    *cloud.ServiceClients
	queues   []*queue.Queue
	handlers *api.Handlers
}

// SetupOS points the configuration loader at ./configs with the local
// runtime unless the environment says otherwise.
func SetupOS() error {
	if _, ok := os.LookupEnv(cloud.EnvConfigFilePrefix); !ok {
		if err := os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if _, ok := os.LookupEnv(cloud.EnvConfigRuntime); !ok {
		return os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return nil
}

// GetConfig loads and validates the configuration.
func GetConfig() (*cloud.Config, error) {
	if err := SetupOS(); err != nil {
		return nil, err
	}
	config := cloud.NewConfig()
	if err := cloud.LoadConfig(config); err != nil {
		return nil, err
	}
	return config, config.Validate()
}

// stepQueues opens the queue of every queued step. All of them are counted
// and cleaned, but a step is only accepted for enqueueing when a worker can
// consume its queue, meaning a processor is configured for it.
func stepQueues(client redis.Cmdable, config *cloud.Config) ([]*queue.Queue, map[string]services.Enqueuer, []services.QueueStatter) {
	opts := queue.OptionsFromConfig(config.Queue)
	queues := make([]*queue.Queue, 0)
	enqueuers := make(map[string]services.Enqueuer)
	statters := make([]services.QueueStatter, 0)
	for _, def := range model.QueuedSteps() {
		q := queue.New(client, def.Queue, opts)
		queues = append(queues, q)
		statters = append(statters, q)
		if _, ok := config.Processors[def.Queue]; !ok {
			slog.Warn("no processor configured, step cannot be triggered", "queue", def.Queue, "step", def.Name)
			continue
		}
		enqueuers[def.Queue] = q
	}
	return queues, enqueuers, statters
}

// InitState opens every client and builds the services.
//
// Inputs:
//   - ctx: The root context of the process. Listeners and background work
//     started by requests stop when it is canceled.
//   - config: The loaded configuration.
//
// Outputs:
//   - *StateManager: The initialized state.
//   - error: The first initialization failure.
func InitState(ctx context.Context, config *cloud.Config) (*StateManager, error) {
	cloudClients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return nil, err
	}

	queues, enqueuers, statters := stepQueues(cloudClients.RedisClient, config)

	cleaner := func(ctx context.Context, grace time.Duration) (int64, error) {
		return queue.Sweep(ctx, grace, queues...)
	}
	handlers := api.NewHandlers(ctx, config, cloudClients,
		auth.NewManager(config.Auth),
		services.NewPipelineService(cloudClients.Store, enqueuers),
		&services.StatsService{Projects: cloudClients.Store, Queues: statters},
		cleaner)

	SetupListeners(ctx, config, cloudClients)

	return &StateManager{
		config:   config,
		cloud:    cloudClients,
		queues:   queues,
		handlers: handlers,
	}, nil
}

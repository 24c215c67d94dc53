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

// Package main is the queue worker of the dubbing pipeline. It runs one
// worker per queued step (audio extraction, scene extraction, audio cleaning
// and final merge), each driving the step workflow against the external
// processor configured for its queue.
//
// Logic Flow:
//  1. Configuration, logging, telemetry and the service clients are set up
//     exactly as in the API server.
//  2. A queue.Worker is started for every queued step that has a processor.
//  3. A sweeper trims old finished jobs from every queue.
//  4. On SIGINT/SIGTERM the workers stop reserving jobs; jobs in flight run to
//     completion before the process exits.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/workflow"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/queue"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/telemetry"
)

const sweepInterval = 10 * time.Minute

func getConfig() (*cloud.Config, error) {
	if _, ok := os.LookupEnv(cloud.EnvConfigFilePrefix); !ok {
		if err := os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return nil, err
		}
	}
	if _, ok := os.LookupEnv(cloud.EnvConfigRuntime); !ok {
		if err := os.Setenv(cloud.EnvConfigRuntime, "local"); err != nil {
			return nil, err
		}
	}
	config := cloud.NewConfig()
	if err := cloud.LoadConfig(config); err != nil {
		return nil, err
	}
	return config, config.Validate()
}

func main() {
	config, err := getConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	closeLog, err := telemetry.SetupLogging(config.Telemetry)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = closeLog() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		slog.Error("failed to setup OpenTelemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	// Clients outlive ctx: jobs in flight still need them after a signal.
	cloudClients, err := cloud.NewCloudServiceClients(context.Background(), config)
	if err != nil {
		slog.Error("failed to initialize service clients", "error", err)
		os.Exit(1)
	}
	defer cloudClients.Close()

	processors := services.NewProcessors(cloudClients)
	opts := queue.OptionsFromConfig(config.Queue)
	poll := time.Duration(config.Queue.PollIntervalMillis) * time.Millisecond

	var wg sync.WaitGroup
	queues := make([]*queue.Queue, 0)
	for _, def := range model.QueuedSteps() {
		if _, ok := processors[def.Queue]; !ok {
			slog.Warn("no processor configured, queue is not consumed", "queue", def.Queue, "step", def.Name)
			continue
		}
		q := queue.New(cloudClients.RedisClient, def.Queue, opts)
		queues = append(queues, q)
		stepWorkflow := workflow.NewStepWorkflow(config, cloudClients, def, processors)
		w := queue.NewWorker(q, stepWorkflow.Handle, poll).OnStalled(stepWorkflow.HandleStalled)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Run(ctx)
		}()
	}
	if len(queues) == 0 {
		slog.Error("no queue has a processor, nothing to do")
		os.Exit(1)
	}

	grace := time.Duration(config.Queue.CleanGraceSeconds) * time.Second
	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.RunSweeper(ctx, sweepInterval, grace, queues...)
	}()

	slog.Info("workers started", "queues", len(queues))
	<-ctx.Done()
	slog.Info("waiting for jobs in flight")
	wg.Wait()
	slog.Info("worker exiting")
}

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
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/queue"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
	"github.com/redis/go-redis/v9"
)

// commandContext lazily opens the connections a command needs. Only the
// clients a command touches are created.
type commandContext struct {
	configDir string
	runtime   string

	configOnce sync.Once
	config     *cloud.Config
	configErr  error

	store  store.Store
	redis  redis.UniversalClient
	closer []func(context.Context)
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*cloud.Config, error) {
	c.configOnce.Do(func() {
		if c.config != nil {
			return
		}
		if dir := strings.TrimSpace(c.configDir); dir != "" {
			_ = os.Setenv(cloud.EnvConfigFilePrefix, dir)
		} else if _, ok := os.LookupEnv(cloud.EnvConfigFilePrefix); !ok {
			_ = os.Setenv(cloud.EnvConfigFilePrefix, "configs")
		}
		if rt := strings.TrimSpace(c.runtime); rt != "" {
			_ = os.Setenv(cloud.EnvConfigRuntime, rt)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			c.configErr = err
			return
		}
		c.config = config
	})
	return c.config, c.configErr
}

func (c *commandContext) documentStore(ctx context.Context) (store.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	config, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	s, err := cloud.NewDocumentStore(ctx, config.DocumentStore)
	if err != nil {
		return nil, err
	}
	c.store = s
	c.closer = append(c.closer, func(ctx context.Context) { _ = s.Close(ctx) })
	return s, nil
}

func (c *commandContext) redisClient(ctx context.Context) (redis.UniversalClient, error) {
	if c.redis != nil {
		return c.redis, nil
	}
	config, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	opts, err := redis.ParseURL(config.Queue.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	c.redis = client
	c.closer = append(c.closer, func(context.Context) { _ = client.Close() })
	return client, nil
}

// stepQueues returns one handle per queued step, in pipeline order.
func (c *commandContext) stepQueues(ctx context.Context) ([]*queue.Queue, error) {
	config, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client, err := c.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	opts := queue.OptionsFromConfig(config.Queue)
	var queues []*queue.Queue
	for _, def := range model.QueuedSteps() {
		queues = append(queues, queue.New(client, def.Queue, opts))
	}
	return queues, nil
}

func (c *commandContext) close(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for i := len(c.closer) - 1; i >= 0; i-- {
		c.closer[i](ctx)
	}
	c.closer = nil
}

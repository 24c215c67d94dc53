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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestStepQueuesOnlyEnqueueConsumedQueues(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	config := cloud.NewConfig()
	config.Processors["audio-cleaner"] = cloud.Processor{URL: "http://cleaner.test"}

	queues, enqueuers, statters := stepQueues(client, config)
	assert.Len(t, queues, len(model.QueuedSteps()))
	assert.Len(t, statters, len(model.QueuedSteps()))
	assert.Len(t, enqueuers, 1)
	assert.Contains(t, enqueuers, "audio-cleaner")
	assert.NotContains(t, enqueuers, "scene-extractor")
}

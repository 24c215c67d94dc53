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

package services_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
)

// memObjects is an in-memory object store.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *memObjects) Upload(_ context.Context, key, contentType string, r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = buf.Bytes()
	m.types[key] = contentType
	return nil
}

func (m *memObjects) SignedURL(_ context.Context, key string) (string, error) {
	return "https://signed.example.test/" + key + "?X-Goog-Signature=0f", nil
}

func (m *memObjects) PublicURL(key string) string {
	return "https://storage.example.test/" + key
}

// fakeQueue records enqueued payloads.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []*model.StepJob
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, data []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	job, err := model.DecodeStepJob(data)
	if err != nil {
		return "", err
	}
	q.jobs = append(q.jobs, job)
	return fmt.Sprintf("job-%d", len(q.jobs)), nil
}

// fakeProcessor answers every call with result or err.
type fakeProcessor struct {
	result map[string]interface{}
	err    error
	calls  int
}

func (p *fakeProcessor) Invoke(_ context.Context, _ interface{}, response interface{}) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	out := response.(*model.StepResult)
	for k, v := range p.result {
		(*out)[k] = v
	}
	return nil
}

type fakeStats struct {
	stats model.QueueStats
}

func (f fakeStats) Stats(context.Context) (model.QueueStats, error) { return f.stats, nil }

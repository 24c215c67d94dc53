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

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigLayersFilesAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.toml"), []byte(`
[application]
name = "dubbing"
google_project_id = "base-project"

[queue]
attempts = 4

[processors.audio-cleaner]
url = "http://cleaner/clean"
timeout_in_seconds = 120
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.unit.toml"), []byte(`
[application]
google_project_id = "unit-project"

[processors.scene-extractor]
url = "http://scenes/extract"
`), 0o600))

	t.Setenv(EnvConfigFilePrefix, dir)
	t.Setenv(EnvConfigRuntime, "unit")
	t.Setenv(EnvRedisURL, "redis://redis:6379/2")
	t.Setenv(EnvPort, "9090")

	config := NewConfig()
	require.NoError(t, LoadConfig(config))

	assert.Equal(t, "dubbing", config.Application.Name)
	assert.Equal(t, "unit-project", config.Application.GoogleProjectId)
	assert.Equal(t, 4, config.Queue.Attempts)
	assert.Equal(t, 5, config.Queue.BackoffSeconds)
	assert.Equal(t, "redis://redis:6379/2", config.Queue.RedisURL)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Len(t, config.Processors, 2)
	assert.Equal(t, 2*time.Minute, config.Processors["audio-cleaner"].Timeout())
}

func TestApplyEnvironmentIgnoresInvalidPort(t *testing.T) {
	config := NewConfig()
	env := map[string]string{EnvPort: "not-a-port", EnvSessionSecret: "0123456789abcdef", EnvStoreBackend: "memory"}
	ApplyEnvironment(config, func(k string) (string, bool) { v, ok := env[k]; return v, ok })

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "memory", config.DocumentStore.Backend)
	assert.NoError(t, config.Validate())
}

func TestValidate(t *testing.T) {
	config := NewConfig()
	config.DocumentStore.Backend = "sqlite"
	config.Processors["video-merger"] = Processor{}
	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
	assert.Contains(t, err.Error(), "session_secret")
	assert.Contains(t, err.Error(), "video-merger")
}

func TestProcessorTimeoutIsClamped(t *testing.T) {
	assert.Equal(t, MinProcessorTimeout, Processor{}.Timeout())
	assert.Equal(t, MinProcessorTimeout, Processor{TimeoutInSeconds: 5}.Timeout())
	assert.Equal(t, MaxProcessorTimeout, Processor{TimeoutInSeconds: 10 * 3600}.Timeout())
}

func TestEpisodeVideoKeyRoundTrip(t *testing.T) {
	key := EpisodeVideoKey("projects", "p1", "e1", "video.mp4")
	assert.Equal(t, "projects/p1/episodes/e1/video.mp4", key)

	pid, eid, err := ParseEpisodeVideoKey("projects/", key)
	require.NoError(t, err)
	assert.Equal(t, "p1", pid)
	assert.Equal(t, "e1", eid)

	_, _, err = ParseEpisodeVideoKey("projects", "voice-over/db/coll/a.wav")
	assert.Error(t, err)
	_, _, err = ParseEpisodeVideoKey("projects", "projects/p1/scenes/e1/a.mp4")
	assert.Error(t, err)
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "https://storage.googleapis.com/b/k/a.wav", PublicURL("", "b", "k/a.wav"))
	assert.Equal(t, "https://cdn.example.com/k/a.wav", PublicURL("https://cdn.example.com/", "b", "k/a.wav"))
}

func newTestProcessor(url string) *QuotaAwareProcessor {
	p := NewQuotaAwareProcessor("scene-extractor", Processor{URL: url, RateLimit: 100, Burst: 10})
	p.RetryDelay = time.Millisecond
	return p
}

func TestProcessorInvokeDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body := map[string]string{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"sceneData": map[string]int{"scenes": 3}, "echo": body["name"]})
	}))
	defer srv.Close()

	out := map[string]interface{}{}
	require.NoError(t, newTestProcessor(srv.URL).Invoke(context.Background(), map[string]string{"name": "ep1"}, &out))
	assert.Equal(t, "ep1", out["echo"])
	assert.NotNil(t, out["sceneData"])
}

func TestProcessorInvokeRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	out := map[string]interface{}{}
	require.NoError(t, newTestProcessor(srv.URL).Invoke(context.Background(), struct{}{}, &out))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, true, out["ok"])
}

func TestProcessorInvokeDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad video path", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestProcessor(srv.URL).Invoke(context.Background(), struct{}{}, nil)
	var pe *ProcessorError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Contains(t, pe.Body, "bad video path")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestProcessorInvokeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := newTestProcessor(srv.URL)
	p.Timeout = 50 * time.Millisecond
	err := p.Invoke(context.Background(), struct{}{}, nil)
	assert.ErrorIs(t, err, ErrProcessorTimeout)
}

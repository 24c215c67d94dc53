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

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/api"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/auth"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
	test "github.com/jaycherian/gcp-go-dubbing-pipeline/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memObjects) Upload(_ context.Context, key, _ string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memObjects) SignedURL(_ context.Context, key string) (string, error) {
	return "https://signed.example.test/" + key, nil
}

func (m *memObjects) PublicURL(key string) string {
	return "https://storage.example.test/" + key
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs [][]byte
}

func (q *fakeQueue) Enqueue(_ context.Context, data []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, data)
	return fmt.Sprintf("job-%d", len(q.jobs)), nil
}

func (q *fakeQueue) Stats(context.Context) (model.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return model.QueueStats{Queue: "scene-extractor", Waiting: int64(len(q.jobs))}, nil
}

type harness struct {
	f        *test.Fixture
	router   *gin.Engine
	handlers *api.Handlers
	sessions *auth.Manager
	queue    *fakeQueue
	objects  *memObjects
	cleaned  chan time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := test.NewFixture(t)
	config := test.GetConfig()
	sessions := auth.NewManager(config.Auth)
	objects := &memObjects{objects: make(map[string][]byte)}
	q := &fakeQueue{}
	queues := make(map[string]services.Enqueuer)
	for _, def := range model.QueuedSteps() {
		queues[def.Queue] = q
	}
	cleaned := make(chan time.Duration, 1)

	h := &api.Handlers{
		Users:     services.NewUserService(f.Store, sessions),
		Projects:  services.NewProjectService(f.Store),
		Pipeline:  services.NewPipelineService(f.Store, queues),
		Dialogues: services.NewDialogueService(f.Store, objects, config.Storage.VoiceOverPrefix),
		Voices:    services.NewVoiceService(f.Store),
		Videos:    services.NewVideoService(f.Store, objects, config.Storage.VideoPrefix),
		Stats:     &services.StatsService{Projects: f.Store, Queues: []services.QueueStatter{q}},
		Queues: &services.MaintenanceService{
			Clean: func(_ context.Context, grace time.Duration) (int64, error) {
				cleaned <- grace
				return 3, nil
			},
			Lifetime: context.Background(),
			Grace:    time.Hour,
		},
		CookieName:     config.Auth.CookieName,
		MaxUploadBytes: 1 << 20,
	}
	return &harness{
		f:        f,
		router:   api.NewRouter("dubbing-test", nil, h),
		handlers: h,
		sessions: sessions,
		queue:    q,
		objects:  objects,
		cleaned:  cleaned,
	}
}

func (h *harness) token(t *testing.T, session *auth.Session) string {
	t.Helper()
	token, _, err := h.sessions.Issue(&model.User{Username: session.Username, Role: session.Role})
	require.NoError(t, err)
	return token
}

// do sends a JSON request, authenticated as session when it is not nil.
func (h *harness) do(t *testing.T, method, path string, body interface{}, session *auth.Session) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(t, session))
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// upload sends a multipart form with a "file" part.
func (h *harness) upload(t *testing.T, path string, fields map[string]string, file []byte, session *auth.Session) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("file", "upload.bin")
	require.NoError(t, err)
	_, err = part.Write(file)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if session != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(t, session))
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) episodePath(suffix string) string {
	return "/api/projects/" + h.f.ProjectID() + "/episodes/" + h.f.EpisodeID() + suffix
}

func (h *harness) dialoguesPath(role, suffix string) string {
	return "/api/" + role + "/dialogues" + suffix + "?databaseName=" + h.f.Project.DatabaseName + "&collectionName=" + h.f.Episode.CollectionName
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := make(map[string]interface{})
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

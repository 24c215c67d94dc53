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

// Package test provides utility functions and fixtures for the test suite: a
// test configuration that needs no cloud services, a seeded in-memory
// document store, sessions for every role and sample media headers.
package test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/auth"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store/memstore"
)

// AdminUsername is the administrator of every fixture.
const AdminUsername = "root"

// HandleErr fails the test when err is not nil.
func HandleErr(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// GetConfig returns the built-in defaults adjusted for tests: the in-memory
// document store, a fixed session secret and no telemetry export.
func GetConfig() *cloud.Config {
	config := cloud.NewConfig()
	config.DocumentStore.Backend = "memory"
	config.Auth.SessionSecret = "test-session-secret-0123456789"
	config.Storage.Bucket = "dubbing-test"
	config.Storage.PublicBaseURL = "https://storage.example.test"
	config.Queue.Prefix = "test"
	config.Queue.BackoffSeconds = 1
	config.Telemetry.Enabled = false
	return config
}

// Fixture is a seeded store holding the example project with one episode.
type Fixture struct {
	Store   *memstore.Store
	Project *model.Project
	Episode *model.Episode
	Ref     model.EpisodeRef
}

// NewFixture seeds a memstore with the example project and its dialogues.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	p := model.GetExampleProject()
	HandleErr(s.CreateProject(ctx, p), t)
	e := p.Episodes[0]
	_, err := s.InsertDialogues(ctx, p.DatabaseName, e.CollectionName, model.GetExampleDialogues())
	HandleErr(err, t)
	return &Fixture{Store: s, Project: p, Episode: e, Ref: model.EpisodeRef{ProjectID: p.ID, EpisodeID: e.ID}}
}

// ProjectID returns the fixture project id as sent by clients.
func (f *Fixture) ProjectID() string { return f.Project.ID.Hex() }

// EpisodeID returns the fixture episode id as sent by clients.
func (f *Fixture) EpisodeID() string { return f.Episode.ID.Hex() }

// Session returns the session of the fixture user holding role. Admin is
// not assigned to the project and acts through its role alone.
func (f *Fixture) Session(role model.Role) *auth.Session {
	if role == model.RoleAdmin {
		return &auth.Session{Username: AdminUsername, Role: model.RoleAdmin}
	}
	for _, a := range f.Project.AssignedTo {
		if a.Role == role {
			return &auth.Session{Username: a.Username, Role: role}
		}
	}
	return &auth.Session{Username: "stranger-" + string(role), Role: role}
}

// Stranger returns a session with role that is not assigned to the project.
func (f *Fixture) Stranger(role model.Role) *auth.Session {
	return &auth.Session{Username: "stranger", Role: role}
}

// CompleteSteps marks steps completed as their executors would.
func (f *Fixture) CompleteSteps(t *testing.T, steps ...model.StepName) {
	t.Helper()
	for _, name := range steps {
		def, ok := model.LookupStep(name)
		if !ok {
			t.Fatalf("unknown step %s", name)
		}
		_, err := f.Store.CompleteStep(context.Background(), store.CompletionSpec{
			Ref:           f.Ref,
			Step:          name,
			EpisodeStatus: def.NextStage(),
			Pointer:       def.NextPointer(),
			Now:           time.Now().UTC(),
		})
		HandleErr(err, t)
	}
}

// Reload returns the stored fixture episode.
func (f *Fixture) Reload(t *testing.T) *model.Episode {
	t.Helper()
	p, err := f.Store.GetProject(context.Background(), f.Ref.ProjectID)
	HandleErr(err, t)
	return p.Episode(f.Ref.EpisodeID)
}

// MP4Header returns the leading bytes of an ISO base media (mp4) file.
func MP4Header() []byte {
	out := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}
	return append(out, make([]byte, 512)...)
}

// WAVHeader returns the leading bytes of a RIFF/WAVE file.
func WAVHeader() []byte {
	out := []byte{'R', 'I', 'F', 'F', 0x24, 0x08, 0x00, 0x00, 'W', 'A', 'V', 'E', 'f', 'm', 't', ' ', 0x10, 0x00, 0x00, 0x00}
	return append(out, make([]byte, 512)...)
}

// GCSNotification returns a Cloud Storage OBJECT_FINALIZE notification body
// for the object name in bucket.
func GCSNotification(bucket, name string) string {
	return fmt.Sprintf(`{
  "kind": "storage#object",
  "id": "%[1]s/%[2]s/1728615848664286",
  "selfLink": "https://www.googleapis.com/storage/v1/b/%[1]s/o/%[2]s",
  "name": "%[2]s",
  "bucket": "%[1]s",
  "generation": "1728615848664286",
  "metageneration": "1",
  "contentType": "video/mp4",
  "timeCreated": "2024-10-11T03:04:08.672Z",
  "updated": "2024-10-11T03:04:08.672Z",
  "storageClass": "STANDARD",
  "size": "259348037",
  "md5Hash": "67c1rAU+1RYZzK5zp8iBkA==",
  "metadata": { "touch": "18" },
  "crc32c": "IYeSTw==",
  "etag": "CN658+yrhYkDEAE="
}`, bucket, name)
}

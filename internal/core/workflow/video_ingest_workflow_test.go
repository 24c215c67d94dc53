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

package workflow_test

import (
	"context"
	"testing"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/workflow"
	test "github.com/jaycherian/gcp-go-dubbing-pipeline/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func ingest(t *testing.T, wf *workflow.VideoIngestWorkflow, message string) cor.Context {
	t.Helper()
	chCtx := cor.NewBaseContext()
	chCtx.SetContext(context.Background())
	chCtx.Add(cor.CtxIn, message)
	wf.Execute(chCtx)
	return chCtx
}

func TestVideoIngestAttachesEpisodeVideo(t *testing.T) {
	f := test.NewFixture(t)
	config := test.GetConfig()
	wf := workflow.NewVideoIngestWorkflow(config, f.Store)

	key := cloud.EpisodeVideoKey(config.Storage.VideoPrefix, f.ProjectID(), f.EpisodeID(), "serenity.mp4")
	chCtx := ingest(t, wf, test.GCSNotification(config.Storage.Bucket, key))
	assert.False(t, chCtx.HasErrors(), chCtx.Err())

	e := f.Reload(t)
	assert.Equal(t, key, e.VideoKey)
	assert.Equal(t, "https://storage.example.test/"+key, e.VideoPath)
	assert.Equal(t, model.StepCompleted, e.StepStatus(model.StepVideoUpload))
	assert.Equal(t, model.EpisodeUploaded, e.Status)
	assert.Equal(t, 2, e.Step)
}

func TestVideoIngestIgnoresUnrelatedObjects(t *testing.T) {
	f := test.NewFixture(t)
	config := test.GetConfig()
	wf := workflow.NewVideoIngestWorkflow(config, f.Store)
	videoKey := cloud.EpisodeVideoKey(config.Storage.VideoPrefix, f.ProjectID(), f.EpisodeID(), "serenity.mp4")

	cases := map[string]string{
		"foreign bucket":  test.GCSNotification("another-bucket", videoKey),
		"voice over":      test.GCSNotification(config.Storage.Bucket, cloud.VoiceOverKey(config.Storage.VoiceOverPrefix, "firefly_dub", "serenity_ep01", "take.wav")),
		"unknown project": test.GCSNotification(config.Storage.Bucket, cloud.EpisodeVideoKey(config.Storage.VideoPrefix, "64b7f0c2a1b2c3d4e5f60718", f.EpisodeID(), "x.mp4")),
		"bad object id":   test.GCSNotification(config.Storage.Bucket, cloud.EpisodeVideoKey(config.Storage.VideoPrefix, "nope", f.EpisodeID(), "x.mp4")),
	}
	for name, message := range cases {
		t.Run(name, func(t *testing.T) {
			chCtx := ingest(t, wf, message)
			assert.False(t, chCtx.HasErrors(), chCtx.Err())
		})
	}
	e := f.Reload(t)
	assert.Empty(t, e.VideoKey)
	assert.Equal(t, model.StepPending, e.StepStatus(model.StepVideoUpload))
}

func TestVideoIngestRejectsMalformedNotification(t *testing.T) {
	f := test.NewFixture(t)
	wf := workflow.NewVideoIngestWorkflow(test.GetConfig(), f.Store)

	chCtx := ingest(t, wf, "{not json")
	assert.True(t, chCtx.HasErrors())
}

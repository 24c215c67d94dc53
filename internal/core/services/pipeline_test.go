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
	"context"
	"errors"
	"testing"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
	test "github.com/jaycherian/gcp-go-dubbing-pipeline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeline(f *test.Fixture) (*services.PipelineService, map[string]*fakeQueue) {
	fakes := make(map[string]*fakeQueue)
	queues := make(map[string]services.Enqueuer)
	for _, def := range model.QueuedSteps() {
		q := &fakeQueue{}
		fakes[def.Queue] = q
		queues[def.Queue] = q
	}
	return services.NewPipelineService(f.Store, queues), fakes
}

func TestTriggerRequiresPredecessor(t *testing.T) {
	f := test.NewFixture(t)
	svc, queues := newPipeline(f)

	_, err := svc.Trigger(context.Background(), f.Session(model.RoleAdmin), f.ProjectID(), f.EpisodeID(), "step2", nil)
	assert.ErrorIs(t, err, services.ErrPrecondition)

	e := f.Reload(t)
	assert.Equal(t, model.StepPending, e.StepStatus(model.StepSceneExtraction))
	assert.Equal(t, model.EpisodeCreated, e.Status)
	assert.Empty(t, queues["scene-extractor"].jobs)
}

func TestTriggerQueuesJob(t *testing.T) {
	f := test.NewFixture(t)
	svc, queues := newPipeline(f)
	f.CompleteSteps(t, model.StepVideoUpload)

	res, err := svc.Trigger(context.Background(), f.Session(model.RoleAdmin), f.ProjectID(), f.EpisodeID(), "2", map[string]interface{}{"threshold": 0.4})
	require.NoError(t, err)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, model.StepSceneExtraction, res.Step)

	e := f.Reload(t)
	assert.Equal(t, model.StepProcessing, e.StepStatus(model.StepSceneExtraction))
	assert.Equal(t, model.EpisodeProcessing, e.Status)

	require.Len(t, queues["scene-extractor"].jobs, 1)
	job := queues["scene-extractor"].jobs[0]
	assert.Equal(t, f.Ref, job.Ref())
	assert.Equal(t, f.Episode.Name, job.Name)
	assert.Equal(t, 0.4, job.Params["threshold"])
}

func TestTriggerAudioCleaningMarksCleaning(t *testing.T) {
	f := test.NewFixture(t)
	svc, queues := newPipeline(f)
	f.CompleteSteps(t, model.StepVideoUpload, model.StepSceneExtraction)

	_, err := svc.Trigger(context.Background(), f.Session(model.RoleAdmin), f.ProjectID(), f.EpisodeID(), "step3", nil)
	require.NoError(t, err)
	assert.Equal(t, model.EpisodeCleaning, f.Reload(t).Status)
	assert.Len(t, queues["audio-cleaner"].jobs, 1)
}

func TestTriggerRejectsDoubleSubmit(t *testing.T) {
	f := test.NewFixture(t)
	svc, queues := newPipeline(f)
	f.CompleteSteps(t, model.StepVideoUpload)
	admin := f.Session(model.RoleAdmin)

	_, err := svc.Trigger(context.Background(), admin, f.ProjectID(), f.EpisodeID(), "step2", nil)
	require.NoError(t, err)
	_, err = svc.Trigger(context.Background(), admin, f.ProjectID(), f.EpisodeID(), "step2", nil)
	assert.ErrorIs(t, err, services.ErrConflict)
	assert.Len(t, queues["scene-extractor"].jobs, 1)
}

func TestTriggerAccess(t *testing.T) {
	f := test.NewFixture(t)
	svc, _ := newPipeline(f)
	f.CompleteSteps(t, model.StepVideoUpload)

	_, err := svc.Trigger(context.Background(), nil, f.ProjectID(), f.EpisodeID(), "step2", nil)
	assert.ErrorIs(t, err, services.ErrUnauthenticated)

	_, err = svc.Trigger(context.Background(), f.Session(model.RoleDirector), f.ProjectID(), f.EpisodeID(), "step2", nil)
	assert.ErrorIs(t, err, services.ErrForbidden)
	assert.Equal(t, model.StepPending, f.Reload(t).StepStatus(model.StepSceneExtraction))
}

func TestTriggerValidation(t *testing.T) {
	f := test.NewFixture(t)
	svc, _ := newPipeline(f)
	admin := f.Session(model.RoleAdmin)

	_, err := svc.Trigger(context.Background(), admin, f.ProjectID(), f.EpisodeID(), "step4", nil)
	assert.ErrorIs(t, err, services.ErrValidation)
	_, err = svc.Trigger(context.Background(), admin, f.ProjectID(), f.EpisodeID(), "step42", nil)
	assert.ErrorIs(t, err, services.ErrValidation)
	_, err = svc.Trigger(context.Background(), admin, "nope", f.EpisodeID(), "step2", nil)
	assert.ErrorIs(t, err, services.ErrValidation)
	_, err = svc.Trigger(context.Background(), admin, f.ProjectID(), model.NewEpisode("x", "y").ID.Hex(), "step2", nil)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestTriggerEnqueueFailureReleasesClaim(t *testing.T) {
	f := test.NewFixture(t)
	svc, queues := newPipeline(f)
	f.CompleteSteps(t, model.StepVideoUpload)
	queues["scene-extractor"].err = errors.New("redis: connection refused")

	_, err := svc.Trigger(context.Background(), f.Session(model.RoleAdmin), f.ProjectID(), f.EpisodeID(), "step2", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue failed")

	e := f.Reload(t)
	assert.Equal(t, model.StepError, e.StepStatus(model.StepSceneExtraction))
	assert.Contains(t, e.Steps[model.StepSceneExtraction].Error, "enqueue failed")
	assert.Equal(t, model.EpisodeError, e.Status)

	// The step may be triggered again once the queue is back.
	queues["scene-extractor"].err = nil
	_, err = svc.Trigger(context.Background(), f.Session(model.RoleAdmin), f.ProjectID(), f.EpisodeID(), "step2", nil)
	assert.NoError(t, err)
}

func TestCompleteManualStep(t *testing.T) {
	f := test.NewFixture(t)
	svc, _ := newPipeline(f)
	ctx := context.Background()

	_, err := svc.CompleteManualStep(ctx, f.Session(model.RoleTranscriber), f.ProjectID(), f.EpisodeID(), "step4", nil)
	assert.ErrorIs(t, err, services.ErrPrecondition)

	f.CompleteSteps(t, model.StepVideoUpload, model.StepSceneExtraction, model.StepAudioCleaning)

	_, err = svc.CompleteManualStep(ctx, f.Session(model.RoleTranslator), f.ProjectID(), f.EpisodeID(), "step4", nil)
	assert.ErrorIs(t, err, services.ErrForbidden)
	_, err = svc.CompleteManualStep(ctx, f.Stranger(model.RoleTranscriber), f.ProjectID(), f.EpisodeID(), "step4", nil)
	assert.ErrorIs(t, err, services.ErrForbidden)

	e, err := svc.CompleteManualStep(ctx, f.Session(model.RoleTranscriber), f.ProjectID(), f.EpisodeID(), "step4", &model.StepCompleteRequest{Notes: " done "})
	require.NoError(t, err)
	assert.Equal(t, model.StepCompleted, e.StepStatus(model.StepTranscription))
	assert.Equal(t, 5, e.Step)
	assert.Equal(t, model.EpisodeStatus("translation"), e.Status)
	assert.Equal(t, "tina", e.Steps[model.StepTranscription].Data["completedBy"])
	assert.Equal(t, "done", e.Steps[model.StepTranscription].Data["notes"])

	_, err = svc.CompleteManualStep(ctx, f.Session(model.RoleTranscriber), f.ProjectID(), f.EpisodeID(), "step4", nil)
	assert.ErrorIs(t, err, services.ErrPrecondition)

	_, err = svc.CompleteManualStep(ctx, f.Session(model.RoleAdmin), f.ProjectID(), f.EpisodeID(), "step2", nil)
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestTriggerWithoutConsumedQueue(t *testing.T) {
	f := test.NewFixture(t)
	svc := services.NewPipelineService(f.Store, map[string]services.Enqueuer{})
	f.CompleteSteps(t, model.StepVideoUpload)

	_, err := svc.Trigger(context.Background(), f.Session(model.RoleDirector), f.ProjectID(), f.EpisodeID(), "step2", nil)
	assert.ErrorIs(t, err, services.ErrForbidden)

	_, err = svc.Trigger(context.Background(), f.Session(model.RoleAdmin), f.ProjectID(), f.EpisodeID(), "step2", nil)
	assert.ErrorIs(t, err, services.ErrPrecondition)
	assert.Equal(t, model.StepPending, f.Reload(t).StepStatus(model.StepSceneExtraction))
}

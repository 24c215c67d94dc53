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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestRunStep(t *testing.T) {
	job := &model.StepJob{ProjectID: primitive.NewObjectID(), EpisodeID: primitive.NewObjectID(), Step: model.StepSceneExtraction, Name: "Serenity"}
	ok := &fakeProcessor{result: map[string]interface{}{"sceneData": []interface{}{"a"}, "status": "hijack"}}
	procs := services.Processors{"scene-extractor": ok}

	result, err := procs.RunStep(context.Background(), "scene-extractor", job)
	require.NoError(t, err)
	assert.Contains(t, result, "sceneData")
	assert.NotContains(t, result, "status")

	_, err = procs.RunStep(context.Background(), "video-merger", job)
	assert.Error(t, err)

	failing := services.Processors{"scene-extractor": &fakeProcessor{err: &cloud.ProcessorError{Processor: "scene-extractor", StatusCode: 500}}}
	_, err = failing.RunStep(context.Background(), "scene-extractor", job)
	assert.ErrorIs(t, err, services.ErrUpstream)
}

func TestRunStepOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var job model.StepJob
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"vocalsKey": "audio/" + job.EpisodeID.Hex() + "/vocals.wav"})
	}))
	defer srv.Close()

	proc := cloud.NewQuotaAwareProcessor("audio-cleaner", cloud.Processor{URL: srv.URL, RateLimit: 100, Burst: 10})
	proc.RetryDelay = time.Millisecond
	procs := services.Processors{"audio-cleaner": proc}

	job := &model.StepJob{ProjectID: primitive.NewObjectID(), EpisodeID: primitive.NewObjectID(), Step: model.StepAudioCleaning}
	result, err := procs.RunStep(context.Background(), "audio-cleaner", job)
	require.NoError(t, err)
	assert.Equal(t, "audio/"+job.EpisodeID.Hex()+"/vocals.wav", result["vocalsKey"])
}

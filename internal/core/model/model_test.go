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

// Package model_test contains unit tests for the constructors and the pipeline
// table of the model package.
package model_test

import (
	"encoding/json"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewEpisode verifies that a new episode starts at step 1 with every
// pipeline step pending.
func TestNewEpisode(t *testing.T) {
	e := model.NewEpisode("Pilot", "pilot_ep01")

	assert.False(t, e.ID.IsZero())
	assert.Equal(t, 1, e.Step)
	assert.Equal(t, model.EpisodeCreated, e.Status)
	assert.WithinDuration(t, time.Now(), e.CreatedAt, time.Second)
	assert.Len(t, e.Steps, len(model.Pipeline))
	for _, d := range model.Pipeline {
		assert.Equal(t, model.StepPending, e.StepStatus(d.Name), d.Name)
	}
}

// TestPipelineOrdering verifies that every predecessor named by the table
// exists and that numbered steps only depend on earlier work.
func TestPipelineOrdering(t *testing.T) {
	for _, d := range model.Pipeline {
		for _, r := range d.Requires {
			req, ok := model.LookupStep(r)
			require.True(t, ok, "unknown predecessor %s of %s", r, d.Name)
			if d.Number > 0 && req.Number > 0 {
				assert.Less(t, req.Number, d.Number, "%s depends on later step %s", d.Name, r)
			}
		}
		if d.Kind == model.StepKindQueued {
			assert.NotEmpty(t, d.Queue, d.Name)
			found, ok := model.StepByQueue(d.Queue)
			assert.True(t, ok)
			assert.Equal(t, d.Name, found.Name)
		}
	}
}

func TestNextStageAndPointer(t *testing.T) {
	step2, _ := model.LookupStep(model.StepSceneExtraction)
	assert.Equal(t, model.EpisodeStatus("audio-cleaning"), step2.NextStage())
	assert.Equal(t, 3, step2.NextPointer())

	step8, _ := model.LookupStep(model.StepFinalMerge)
	assert.Equal(t, model.EpisodeCompleted, step8.NextStage())
	assert.Equal(t, 9, step8.NextPointer())

	aux, _ := model.LookupStep(model.StepAudioExtraction)
	assert.Equal(t, 0, aux.NextPointer())
	assert.Equal(t, model.EpisodeStatus(""), aux.NextStage())
}

func TestStageAt(t *testing.T) {
	assert.Equal(t, model.EpisodeStatus("scene-extraction"), model.StageAt(2))
	assert.Equal(t, model.EpisodeStatus("voice-over"), model.StageAt(7))
	assert.Equal(t, model.EpisodeCompleted, model.StageAt(9))
	assert.Equal(t, model.EpisodeStatus(""), model.StageAt(0))
}

func TestParseStepName(t *testing.T) {
	cases := map[string]model.StepName{
		"2":               model.StepSceneExtraction,
		"step3":           model.StepAudioCleaning,
		"audioExtraction": model.StepAudioExtraction,
	}
	for in, want := range cases {
		got, ok := model.ParseStepName(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := model.ParseStepName("step42")
	assert.False(t, ok)
}

func TestParseRole(t *testing.T) {
	r, ok := model.ParseRole("voice-over")
	assert.True(t, ok)
	assert.Equal(t, model.RoleVoiceOver, r)

	r, ok = model.ParseRole("senior_director")
	assert.True(t, ok)
	assert.Equal(t, model.RoleSeniorDirector, r)

	_, ok = model.ParseRole("producer")
	assert.False(t, ok)
}

// TestStepStateJSON verifies that payload fields sit next to the common step
// fields in the API representation.
func TestStepStateJSON(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	in := model.StepState{
		Status:      model.StepCompleted,
		CompletedAt: &now,
		Data:        map[string]interface{}{"finalVideoPath": "out/final.mp4"},
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var flat map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, "completed", flat["status"])
	assert.Equal(t, "out/final.mp4", flat["finalVideoPath"])
	assert.NotContains(t, flat, "error")

	var out model.StepState
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, model.StepCompleted, out.Status)
	assert.Equal(t, "out/final.mp4", out.Data["finalVideoPath"])
	assert.True(t, now.Equal(*out.CompletedAt))
}

func TestEpisodeReadyAndAssetKeys(t *testing.T) {
	e := model.NewEpisode("Pilot", "pilot_ep01")
	step2, _ := model.LookupStep(model.StepSceneExtraction)
	assert.False(t, e.Ready(step2))

	e.Steps[model.StepVideoUpload].Status = model.StepCompleted
	e.VideoKey = "projects/p/episodes/e/video.mp4"
	assert.True(t, e.Ready(step2))

	e.Steps[model.StepAudioCleaning].Data = map[string]interface{}{
		"vocalsKey":  "clean/vocals.wav",
		"sampleRate": 48000,
	}
	assert.ElementsMatch(t, []string{"projects/p/episodes/e/video.mp4", "clean/vocals.wav"}, e.AssetKeys())
}

func TestDialoguePatchApply(t *testing.T) {
	d := model.GetExampleDialogues()[0]
	id := d.ID
	model.DialoguePatch{
		model.FieldAdapted: "Bueno, aquí estoy.",
		model.FieldStatus:  "approved",
	}.Apply(d)
	assert.Equal(t, id, d.ID)
	assert.Equal(t, "Bueno, aquí estoy.", d.Adapted)
	assert.Equal(t, model.DialogueApproved, d.Status)
}

func TestStepEventSave(t *testing.T) {
	p := model.GetExampleProject()
	ref := model.EpisodeRef{ProjectID: p.ID, EpisodeID: p.Episodes[0].ID}
	ev := model.NewStepEvent(ref, model.StepAudioCleaning, model.StepError, 2, 1500*time.Millisecond)
	ev.Error = "upstream timeout"

	row, insertID, err := ev.Save()
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, insertID)
	assert.Equal(t, "step3", row["step"])
	assert.Equal(t, "error", row["status"])
	assert.Equal(t, int64(1500), row["duration_ms"])
	assert.Equal(t, p.ID.Hex(), row["project_id"])
}

// TestStepDefinitionFieldComments keeps the trailing field comments of the
// step table readable: a comment marker is never left without text.
func TestStepDefinitionFieldComments(t *testing.T) {
	f, err := parser.ParseFile(token.NewFileSet(), "steps.go", nil, parser.ParseComments)
	require.NoError(t, err)

	var fields *ast.FieldList
	ast.Inspect(f, func(n ast.Node) bool {
		if ts, ok := n.(*ast.TypeSpec); ok && ts.Name.Name == "StepDefinition" {
			fields = ts.Type.(*ast.StructType).Fields
			return false
		}
		return true
	})
	require.NotNil(t, fields)
	for _, field := range fields.List {
		if field.Comment != nil {
			assert.NotEmpty(t, strings.TrimSpace(field.Comment.Text()), field.Names[0].Name)
		}
	}
}

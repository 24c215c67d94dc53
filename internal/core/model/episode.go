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

package model

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EpisodeStatus is the coarse, dashboard-facing state of an episode. Besides
// the constants below it may hold the StageName of the next pipeline step.
type EpisodeStatus string

const (
	EpisodeCreated    EpisodeStatus = "created"
	EpisodeUploaded   EpisodeStatus = "uploaded"
	EpisodeProcessing EpisodeStatus = "processing"
	EpisodeCleaning   EpisodeStatus = "cleaning"
	EpisodeError      EpisodeStatus = "error"
	EpisodeCompleted  EpisodeStatus = "completed"
)

// StepStatus is the state of a single step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepError      StepStatus = "error"
)

// Episode is one unit of media moving through the pipeline. It is embedded in
// Project.Episodes.
type Episode struct {
	ID               primitive.ObjectID      `json:"_id" bson:"_id"`
	Name             string                  `json:"name" bson:"name"`
	CollectionName   string                  `json:"collectionName" bson:"collectionName"`
	VideoPath        string                  `json:"videoPath,omitempty" bson:"videoPath,omitempty"`
	VideoKey         string                  `json:"videoKey,omitempty" bson:"videoKey,omitempty"`
	Status           EpisodeStatus           `json:"status" bson:"status"`
	ErrorDetail      string                  `json:"errorDetail,omitempty" bson:"errorDetail,omitempty"`
	Step             int                     `json:"step" bson:"step"`
	Steps            map[StepName]*StepState `json:"steps" bson:"steps"`
	VoiceAssignments map[string]string       `json:"voiceAssignments,omitempty" bson:"voiceAssignments,omitempty"`
	CreatedAt        time.Time               `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time               `json:"updatedAt" bson:"updatedAt"`
}

// NewEpisode returns an episode with every pipeline step pending and the
// pointer on step 1.
func NewEpisode(name, collectionName string) *Episode {
	now := time.Now().UTC()
	steps := make(map[StepName]*StepState, len(Pipeline))
	for _, d := range Pipeline {
		steps[d.Name] = &StepState{Status: StepPending}
	}
	return &Episode{
		ID:             primitive.NewObjectID(),
		Name:           name,
		CollectionName: collectionName,
		Status:         EpisodeCreated,
		Step:           1,
		Steps:          steps,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// StepStatus returns the stored status of a step, pending when absent.
func (e *Episode) StepStatus(name StepName) StepStatus {
	if s, ok := e.Steps[name]; ok && s != nil && s.Status != "" {
		return s.Status
	}
	return StepPending
}

// Ready reports whether every predecessor of the step is completed.
func (e *Episode) Ready(def StepDefinition) bool {
	for _, r := range def.Requires {
		if e.StepStatus(r) != StepCompleted {
			return false
		}
	}
	return true
}

// AssetKeys returns every object storage key referenced by the episode.
func (e *Episode) AssetKeys() []string {
	out := make([]string, 0)
	if e.VideoKey != "" {
		out = append(out, e.VideoKey)
	}
	for _, s := range e.Steps {
		if s == nil {
			continue
		}
		for k, v := range s.Data {
			if str, ok := v.(string); ok && str != "" && isKeyField(k) {
				out = append(out, str)
			}
		}
	}
	return out
}

func isKeyField(name string) bool {
	n := len(name)
	return (n > 3 && name[n-3:] == "Key") || (n > 4 && name[n-4:] == "Path")
}

// StepState is the stored state of one step. Step specific payload fields
// (sceneData, vocalsKey, finalVideoPath, ...) are stored inline next to the
// common fields.
type StepState struct {
	Status      StepStatus             `bson:"status"`
	StartedAt   *time.Time             `bson:"startedAt,omitempty"`
	CompletedAt *time.Time             `bson:"completedAt,omitempty"`
	Error       string                 `bson:"error,omitempty"`
	Attempts    int                    `bson:"attempts,omitempty"`
	Data        map[string]interface{} `bson:",inline"`
}

// reserved step keys that payloads may not overwrite.
var stepStateFields = map[string]bool{"status": true, "startedAt": true, "completedAt": true, "error": true, "attempts": true}

// IsReservedStepField reports whether key collides with a common step field.
func IsReservedStepField(key string) bool {
	return stepStateFields[key]
}

// MarshalJSON flattens the payload next to the common fields, matching the
// stored document layout.
func (s StepState) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(s.Data)+5)
	for k, v := range s.Data {
		out[k] = v
	}
	out["status"] = s.Status
	if s.StartedAt != nil {
		out["startedAt"] = s.StartedAt
	}
	if s.CompletedAt != nil {
		out["completedAt"] = s.CompletedAt
	}
	if s.Error != "" {
		out["error"] = s.Error
	}
	if s.Attempts > 0 {
		out["attempts"] = s.Attempts
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *StepState) UnmarshalJSON(b []byte) error {
	var common struct {
		Status      StepStatus `json:"status"`
		StartedAt   *time.Time `json:"startedAt"`
		CompletedAt *time.Time `json:"completedAt"`
		Error       string     `json:"error"`
		Attempts    int        `json:"attempts"`
	}
	if err := json.Unmarshal(b, &common); err != nil {
		return err
	}
	var all map[string]interface{}
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for k := range stepStateFields {
		delete(all, k)
	}
	s.Status = common.Status
	s.StartedAt = common.StartedAt
	s.CompletedAt = common.CompletedAt
	s.Error = common.Error
	s.Attempts = common.Attempts
	s.Data = nil
	if len(all) > 0 {
		s.Data = all
	}
	return nil
}

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

// This file contains the transient types: queue payloads and request bodies
// that never reach the document store as-is.

package model

import (
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EpisodeRef identifies an embedded episode.
type EpisodeRef struct {
	ProjectID primitive.ObjectID `json:"projectId"`
	EpisodeID primitive.ObjectID `json:"episodeId"`
}

// String renders the reference for logs.
func (r EpisodeRef) String() string {
	return fmt.Sprintf("%s/%s", r.ProjectID.Hex(), r.EpisodeID.Hex())
}

// ParseEpisodeRef validates both identifiers.
func ParseEpisodeRef(projectID, episodeID string) (EpisodeRef, error) {
	pid, err := primitive.ObjectIDFromHex(projectID)
	if err != nil {
		return EpisodeRef{}, fmt.Errorf("invalid project id %q", projectID)
	}
	eid, err := primitive.ObjectIDFromHex(episodeID)
	if err != nil {
		return EpisodeRef{}, fmt.Errorf("invalid episode id %q", episodeID)
	}
	return EpisodeRef{ProjectID: pid, EpisodeID: eid}, nil
}

// StepJob is the queue payload for a queued step. The audio cleaner job is the
// step3 instance: EpisodeID, Name, VideoPath and VideoKey.
type StepJob struct {
	ProjectID primitive.ObjectID     `json:"projectId"`
	EpisodeID primitive.ObjectID     `json:"episodeId"`
	Step      StepName               `json:"step"`
	Name      string                 `json:"name"`
	VideoPath string                 `json:"videoPath,omitempty"`
	VideoKey  string                 `json:"videoKey,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// Ref returns the episode the job belongs to.
func (j *StepJob) Ref() EpisodeRef {
	return EpisodeRef{ProjectID: j.ProjectID, EpisodeID: j.EpisodeID}
}

// Encode serializes the job for the queue.
func (j *StepJob) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeStepJob is the inverse of Encode.
func DecodeStepJob(data []byte) (*StepJob, error) {
	out := &StepJob{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to decode step job: %w", err)
	}
	if out.Step == "" || out.EpisodeID.IsZero() {
		return nil, fmt.Errorf("step job is missing step or episode id")
	}
	return out, nil
}

// StepResult is what a processor returns for a step. Its keys are persisted
// inline on the step state.
type StepResult map[string]interface{}

// StepTriggerRequest is the body of a step trigger endpoint.
type StepTriggerRequest struct {
	Params map[string]interface{} `json:"params"`
}

// StepCompleteRequest is the body of a manual step completion.
type StepCompleteRequest struct {
	Notes string `json:"notes"`
}

// CreateProjectRequest is the admin body for a new project.
type CreateProjectRequest struct {
	Title          string       `json:"title" binding:"required"`
	Description    string       `json:"description"`
	SourceLanguage string       `json:"sourceLanguage" binding:"required"`
	TargetLanguage string       `json:"targetLanguage" binding:"required"`
	DatabaseName   string       `json:"databaseName" binding:"required"`
	AssignedTo     []Assignment `json:"assignedTo"`
}

// UpdateProjectRequest is the admin body for project edits.
type UpdateProjectRequest struct {
	Title       *string        `json:"title"`
	Description *string        `json:"description"`
	Status      *ProjectStatus `json:"status"`
}

// AssignmentsRequest replaces a project's assignment list.
type AssignmentsRequest struct {
	AssignedTo []Assignment `json:"assignedTo"`
}

// CreateEpisodeRequest is the admin body for a new episode.
type CreateEpisodeRequest struct {
	Name           string `json:"name" binding:"required"`
	CollectionName string `json:"collectionName" binding:"required"`
}

// VoiceAssignmentRequest maps character names to voice ids.
type VoiceAssignmentRequest struct {
	Assignments map[string]string `json:"assignments"`
}

// VoiceAssignmentView is the read model of the voice assignment screen.
type VoiceAssignmentView struct {
	Characters  []string          `json:"characters"`
	Assignments map[string]string `json:"assignments"`
	Status      StepStatus        `json:"status"`
}

// CreateUserRequest is the admin body for a new user.
type CreateUserRequest struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	Role        Role   `json:"role" binding:"required"`
	DisplayName string `json:"displayName"`
}

// LoginRequest is the body of the login endpoint.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UploadResult is returned by the upload endpoints.
type UploadResult struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// QueueStats counts the jobs of one queue by state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Delayed   int64  `json:"delayed"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

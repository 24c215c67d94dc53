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

// Package store declares the persistence contracts of the document store:
// the `projects` collection with embedded episodes, the per-episode dialogue
// collections and the `users` collection.
//
// Two implementations exist. `mongostore` is the production store backed by
// MongoDB. `memstore` is an in-process store with identical semantics, used by
// tests and by the `memory` backend for local development.
//
// Every step transition is expressed as a single conditional update
// (ClaimStep, CompleteStep, FailStep) so that the precondition check and the
// write cannot be separated by a concurrent request.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrPreconditionFailed is returned when a conditional update matched the
	// document identity but not the expected state.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrAlreadyProcessing is returned by ClaimStep when the step is already claimed.
	ErrAlreadyProcessing = errors.New("step already processing")
	// ErrDuplicate is returned when a unique key is violated.
	ErrDuplicate = errors.New("duplicate key")
)

// ClaimMode selects which current step states a claim accepts.
type ClaimMode int

const (
	// ClaimFresh accepts pending, error and completed steps. It is used when a
	// step is triggered from the API.
	ClaimFresh ClaimMode = iota
	// ClaimResume accepts processing and error steps. It is used by a worker
	// picking up a job that was claimed at trigger time or is being retried.
	ClaimResume
)

// ClaimSpec describes an atomic transition of a step into `processing`.
type ClaimSpec struct {
	Ref           model.EpisodeRef
	Step          model.StepName
	Requires      []model.StepName
	Mode          ClaimMode
	EpisodeStatus model.EpisodeStatus // Written to the episode status when not empty.
	Now           time.Time
}

// CompletionSpec describes an atomic transition of a step into `completed`.
type CompletionSpec struct {
	Ref           model.EpisodeRef
	Step          model.StepName
	Requires      []model.StepName       // Predecessors that must be completed, for steps completed without a claim.
	FromStatuses  []model.StepStatus     // Accepted current states of the step itself; empty means any.
	Result        map[string]interface{} // Payload stored inline on the step.
	EpisodeStatus model.EpisodeStatus    // Written to the episode status when not empty.
	Pointer       int                    // New minimum for Episode.Step, 0 leaves it untouched.
	Now           time.Time
}

// FailureSpec describes the transition of a step into `error`.
type FailureSpec struct {
	Ref          model.EpisodeRef
	Step         model.StepName
	FromStatuses []model.StepStatus // Accepted current step states; any state when empty.
	Message      string
	Now          time.Time
}

// ProjectFilter narrows ListProjects.
type ProjectFilter struct {
	Username string              // Restrict to projects assigning this user; empty means all.
	Role     model.Role          // With Username, restrict to this role.
	Status   model.ProjectStatus // Empty means any status.
}

// ProjectStore persists projects and their embedded episodes.
type ProjectStore interface {
	CreateProject(ctx context.Context, project *model.Project) error
	GetProject(ctx context.Context, id primitive.ObjectID) (*model.Project, error)
	ListProjects(ctx context.Context, filter ProjectFilter) ([]*model.Project, error)
	// FindProjectByCollection returns the project owning the dialogue collection.
	FindProjectByCollection(ctx context.Context, databaseName, collectionName string) (*model.Project, error)
	UpdateProject(ctx context.Context, id primitive.ObjectID, req *model.UpdateProjectRequest) (*model.Project, error)
	SetAssignments(ctx context.Context, id primitive.ObjectID, assignments []model.Assignment) (*model.Project, error)
	// AddEpisode appends an episode. It returns ErrDuplicate when the
	// collection name is already used by the project.
	AddEpisode(ctx context.Context, projectID primitive.ObjectID, episode *model.Episode) error

	ClaimStep(ctx context.Context, spec ClaimSpec) (*model.Episode, error)
	CompleteStep(ctx context.Context, spec CompletionSpec) (*model.Episode, error)
	FailStep(ctx context.Context, spec FailureSpec) (*model.Episode, error)
	// AttachVideo records the source video and completes the upload step.
	AttachVideo(ctx context.Context, ref model.EpisodeRef, videoPath, videoKey string, now time.Time) (*model.Episode, error)
	// SetVoiceAssignments stores the character to voice map and completes the
	// voice assignment step when its predecessors are completed.
	SetVoiceAssignments(ctx context.Context, ref model.EpisodeRef, assignments map[string]string, requires []model.StepName, now time.Time) (*model.Episode, error)
	CountEpisodesByStatus(ctx context.Context) (map[model.EpisodeStatus]int64, error)
}

// DialogueStore persists the per-episode dialogue collections.
type DialogueStore interface {
	ListDialogues(ctx context.Context, databaseName, collectionName string) ([]*model.Dialogue, error)
	GetDialogue(ctx context.Context, databaseName, collectionName string, id primitive.ObjectID) (*model.Dialogue, error)
	// UpdateDialogue applies the patch and returns the updated document.
	UpdateDialogue(ctx context.Context, databaseName, collectionName string, id primitive.ObjectID, patch model.DialoguePatch) (*model.Dialogue, error)
	// AssignVoice sets the voice id of every dialogue spoken by character.
	AssignVoice(ctx context.Context, databaseName, collectionName, character, voiceID string) (int64, error)
	Characters(ctx context.Context, databaseName, collectionName string) ([]string, error)
	InsertDialogues(ctx context.Context, databaseName, collectionName string, dialogues []*model.Dialogue) (int, error)
}

// UserStore persists the `users` collection.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
}

// Store bundles the three collections behind one lifecycle.
type Store interface {
	ProjectStore
	DialogueStore
	UserStore
	Close(ctx context.Context) error
}

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

// Package model defines the persistent and transient data structures shared by
// the store, service, workflow and API layers. The persistent types carry both
// `bson` tags (document store layout) and `json` tags (API layout); the two are
// kept identical so that a document read from the store can be returned to a
// client without a mapping layer.
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ProjectStatus is the lifecycle state of a whole dubbing project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on-hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

// Valid reports whether the status is one of the known project states.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectOnHold, ProjectCompleted, ProjectArchived:
		return true
	}
	return false
}

// Assignment grants a single user a single role on a project.
type Assignment struct {
	Username string `json:"username" bson:"username"`
	Role     Role   `json:"role" bson:"role"`
}

// Project is the root document of the `projects` collection. Episodes are
// embedded so that a step transition is always a single-document update.
type Project struct {
	ID             primitive.ObjectID `json:"_id" bson:"_id"`
	Title          string             `json:"title" bson:"title"`
	Description    string             `json:"description,omitempty" bson:"description,omitempty"`
	SourceLanguage string             `json:"sourceLanguage" bson:"sourceLanguage"`
	TargetLanguage string             `json:"targetLanguage" bson:"targetLanguage"`
	DatabaseName   string             `json:"databaseName" bson:"databaseName"` // Database holding the per-episode dialogue collections.
	Status         ProjectStatus      `json:"status" bson:"status"`
	AssignedTo     []Assignment       `json:"assignedTo" bson:"assignedTo"`
	Episodes       []*Episode         `json:"episodes" bson:"episodes"`
	CreatedAt      time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// NewProject returns a project with a fresh identity, an empty episode list and
// the `active` status.
func NewProject(title, sourceLanguage, targetLanguage, databaseName string) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:             primitive.NewObjectID(),
		Title:          title,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		DatabaseName:   databaseName,
		Status:         ProjectActive,
		AssignedTo:     make([]Assignment, 0),
		Episodes:       make([]*Episode, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Episode looks up an embedded episode by identity.
func (p *Project) Episode(id primitive.ObjectID) *Episode {
	for _, e := range p.Episodes {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// EpisodeByCollection looks up an embedded episode by its dialogue collection name.
func (p *Project) EpisodeByCollection(collectionName string) *Episode {
	for _, e := range p.Episodes {
		if e.CollectionName == collectionName {
			return e
		}
	}
	return nil
}

// HasAssignment reports whether the user holds the given role on the project.
func (p *Project) HasAssignment(username string, role Role) bool {
	for _, a := range p.AssignedTo {
		if a.Username == username && a.Role == role {
			return true
		}
	}
	return false
}

// Summary strips the embedded episode steps for list views.
func (p *Project) Summary() *ProjectSummary {
	out := &ProjectSummary{
		ID:             p.ID,
		Title:          p.Title,
		SourceLanguage: p.SourceLanguage,
		TargetLanguage: p.TargetLanguage,
		DatabaseName:   p.DatabaseName,
		Status:         p.Status,
		AssignedTo:     p.AssignedTo,
		EpisodeCount:   len(p.Episodes),
		UpdatedAt:      p.UpdatedAt,
	}
	for _, e := range p.Episodes {
		out.Episodes = append(out.Episodes, EpisodeSummary{
			ID:             e.ID,
			Name:           e.Name,
			CollectionName: e.CollectionName,
			Status:         e.Status,
			Step:           e.Step,
		})
	}
	return out
}

// ProjectSummary is the list representation of a project.
type ProjectSummary struct {
	ID             primitive.ObjectID `json:"_id"`
	Title          string             `json:"title"`
	SourceLanguage string             `json:"sourceLanguage"`
	TargetLanguage string             `json:"targetLanguage"`
	DatabaseName   string             `json:"databaseName"`
	Status         ProjectStatus      `json:"status"`
	AssignedTo     []Assignment       `json:"assignedTo"`
	EpisodeCount   int                `json:"episodeCount"`
	Episodes       []EpisodeSummary   `json:"episodes"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// EpisodeSummary is the list representation of an episode.
type EpisodeSummary struct {
	ID             primitive.ObjectID `json:"_id"`
	Name           string             `json:"name"`
	CollectionName string             `json:"collectionName"`
	Status         EpisodeStatus      `json:"status"`
	Step           int                `json:"step"`
}

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
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
)

// StepEvent is one audit row describing the outcome of a step execution. Rows
// are streamed to BigQuery when the audit table is configured.
type StepEvent struct {
	EventID    string     `json:"event_id" bigquery:"event_id"`
	ProjectID  string     `json:"project_id" bigquery:"project_id"`
	EpisodeID  string     `json:"episode_id" bigquery:"episode_id"`
	Step       string     `json:"step" bigquery:"step"`
	Status     StepStatus `json:"status" bigquery:"status"`
	Error      string     `json:"error,omitempty" bigquery:"error"`
	Attempt    int        `json:"attempt" bigquery:"attempt"`
	DurationMs int64      `json:"duration_ms" bigquery:"duration_ms"`
	OccurredAt time.Time  `json:"occurred_at" bigquery:"occurred_at"`
}

// NewStepEvent stamps a fresh event for the episode.
func NewStepEvent(ref EpisodeRef, step StepName, status StepStatus, attempt int, took time.Duration) *StepEvent {
	return &StepEvent{
		EventID:    uuid.NewString(),
		ProjectID:  ref.ProjectID.Hex(),
		EpisodeID:  ref.EpisodeID.Hex(),
		Step:       string(step),
		Status:     status,
		Attempt:    attempt,
		DurationMs: took.Milliseconds(),
		OccurredAt: time.Now().UTC(),
	}
}

// Save implements bigquery.ValueSaver. The event id doubles as the insert id so
// that retried inserts are de-duplicated by the streaming API.
func (e *StepEvent) Save() (map[string]bigquery.Value, string, error) {
	return map[string]bigquery.Value{
		"event_id":    e.EventID,
		"project_id":  e.ProjectID,
		"episode_id":  e.EpisodeID,
		"step":        e.Step,
		"status":      string(e.Status),
		"error":       e.Error,
		"attempt":     e.Attempt,
		"duration_ms": e.DurationMs,
		"occurred_at": e.OccurredAt,
	}, e.EventID, nil
}

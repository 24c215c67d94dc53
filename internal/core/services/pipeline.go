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

// This file holds the API side of the per-episode step pipeline.
//
// Logic Flow:
//   - Trigger claims a queued step with one conditional update (predecessors
//     completed, step not already processing) and hands a StepJob to the
//     step's queue. The worker picks it up later; the caller only gets the
//     job id.
//   - CompleteManualStep lets the owning reviewer role close a manual step.
//     The same predecessor check is part of the completing update.
//
// Nothing here talks to a processor. Every long running step goes through a
// queue, including scene extraction and the final merge.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/auth"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
)

// Enqueuer is the job queue of one step. *queue.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, data []byte) (string, error)
}

// TriggerResult is returned once a step job is queued.
type TriggerResult struct {
	JobID   string
	Step    model.StepName
	Episode *model.Episode
}

// PipelineService starts queued steps and completes manual ones.
type PipelineService struct {
	Store  store.ProjectStore
	Queues map[string]Enqueuer // Keyed by queue name.
	Now    func() time.Time
}

// NewPipelineService returns a PipelineService publishing to queues.
func NewPipelineService(s store.ProjectStore, queues map[string]Enqueuer) *PipelineService {
	return &PipelineService{Store: s, Queues: queues, Now: func() time.Time { return time.Now().UTC() }}
}

func parseStep(in string) (model.StepDefinition, error) {
	name, ok := model.ParseStepName(in)
	if !ok {
		return model.StepDefinition{}, validationf("unknown step %q", in)
	}
	def, _ := model.LookupStep(name)
	return def, nil
}

func requiresText(def model.StepDefinition) string {
	names := make([]string, 0, len(def.Requires))
	for _, r := range def.Requires {
		names = append(names, string(r))
	}
	return strings.Join(names, ", ")
}

// Trigger claims a queued step and enqueues its job. Admin only.
//
// Inputs:
//   - session: The caller.
//   - projectID, episodeID: Hex object ids of the episode.
//   - step: The step name ("step2", "2" or "audioExtraction").
//   - params: Free form parameters forwarded to the processor.
//
// Outputs:
//   - *TriggerResult: The job id and the claimed episode.
//   - error: ErrValidation, ErrNotFound, ErrForbidden, ErrPrecondition when a
//     predecessor is not completed, ErrConflict when the step is already
//     processing, or the enqueue failure.
func (s *PipelineService) Trigger(ctx context.Context, session *auth.Session, projectID, episodeID, step string, params map[string]interface{}) (*TriggerResult, error) {
	if session == nil {
		return nil, ErrUnauthenticated
	}
	def, err := parseStep(step)
	if err != nil {
		return nil, err
	}
	if def.Kind != model.StepKindQueued {
		return nil, validationf("step %s is not executed by a worker", def.Name)
	}
	project, episode, err := loadEpisode(ctx, s.Store, session, projectID, episodeID, model.RoleAdmin)
	if err != nil {
		return nil, err
	}
	q, ok := s.Queues[def.Queue]
	if !ok {
		return nil, fmt.Errorf("%w: no processor is configured for %s (queue %s)", ErrPrecondition, def.Name, def.Queue)
	}
	ref := model.EpisodeRef{ProjectID: project.ID, EpisodeID: episode.ID}

	claimed, err := s.Store.ClaimStep(ctx, store.ClaimSpec{
		Ref:           ref,
		Step:          def.Name,
		Requires:      def.Requires,
		Mode:          store.ClaimFresh,
		EpisodeStatus: def.ActiveStatus,
		Now:           s.Now(),
	})
	if err != nil {
		return nil, translate(err, fmt.Sprintf("%s requires %s to be completed", def.Name, requiresText(def)))
	}

	job := &model.StepJob{
		ProjectID: ref.ProjectID,
		EpisodeID: ref.EpisodeID,
		Step:      def.Name,
		Name:      claimed.Name,
		VideoPath: claimed.VideoPath,
		VideoKey:  claimed.VideoKey,
		Params:    params,
	}
	data, err := job.Encode()
	if err == nil {
		var jobID string
		if jobID, err = q.Enqueue(ctx, data); err == nil {
			slog.InfoContext(ctx, "step queued", "episode", ref.String(), "step", def.Name, "queue", def.Queue, "job_id", jobID)
			return &TriggerResult{JobID: jobID, Step: def.Name, Episode: claimed}, nil
		}
	}

	// The claim is released as an error so the step can be triggered again.
	if _, ferr := s.Store.FailStep(ctx, store.FailureSpec{
		Ref:     ref,
		Step:    def.Name,
		Message: "enqueue failed: " + err.Error(),
		Now:     s.Now(),
	}); ferr != nil {
		slog.ErrorContext(ctx, "failed to release step claim", "episode", ref.String(), "step", def.Name, "error", ferr)
	}
	return nil, fmt.Errorf("enqueue failed: %w", err)
}

// CompleteManualStep closes a manual step on behalf of its owning role.
func (s *PipelineService) CompleteManualStep(ctx context.Context, session *auth.Session, projectID, episodeID, step string, req *model.StepCompleteRequest) (*model.Episode, error) {
	if session == nil {
		return nil, ErrUnauthenticated
	}
	def, err := parseStep(step)
	if err != nil {
		return nil, err
	}
	if def.Kind != model.StepKindManual {
		return nil, validationf("step %s is not completed by a reviewer", def.Name)
	}
	allowed := append([]model.Role{model.RoleAdmin}, def.Owners...)
	project, episode, err := loadEpisode(ctx, s.Store, session, projectID, episodeID, allowed...)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{"completedBy": session.Username}
	if req != nil && strings.TrimSpace(req.Notes) != "" {
		result["notes"] = strings.TrimSpace(req.Notes)
	}
	updated, err := s.Store.CompleteStep(ctx, store.CompletionSpec{
		Ref:           model.EpisodeRef{ProjectID: project.ID, EpisodeID: episode.ID},
		Step:          def.Name,
		Requires:      def.Requires,
		FromStatuses:  []model.StepStatus{model.StepPending, model.StepError},
		Result:        result,
		EpisodeStatus: def.NextStage(),
		Pointer:       def.NextPointer(),
		Now:           s.Now(),
	})
	if err != nil {
		return nil, translate(err, fmt.Sprintf("%s requires %s to be completed and may not be completed twice", def.Name, requiresText(def)))
	}
	slog.InfoContext(ctx, "manual step completed", "project", project.ID.Hex(), "episode", episode.ID.Hex(), "step", def.Name, "by", session.Username)
	return updated, nil
}

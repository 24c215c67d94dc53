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

package services

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/auth"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
)

var (
	voiceReaders = []model.Role{model.RoleAdmin, model.RoleDirector, model.RoleSeniorDirector, model.RoleVoiceOver}
	voiceWriters = []model.Role{model.RoleAdmin, model.RoleDirector}
)

// VoiceService reads and saves the character to voice map of an episode.
type VoiceService struct {
	Projects  store.ProjectStore
	Dialogues store.DialogueStore
	Now       func() time.Time
}

// NewVoiceService returns a VoiceService over the given store.
func NewVoiceService(s store.Store) *VoiceService {
	return &VoiceService{Projects: s, Dialogues: s, Now: func() time.Time { return time.Now().UTC() }}
}

// Get returns the characters speaking in the episode and their voices.
func (s *VoiceService) Get(ctx context.Context, session *auth.Session, projectID, episodeID string) (*model.VoiceAssignmentView, error) {
	project, episode, err := loadEpisode(ctx, s.Projects, session, projectID, episodeID, voiceReaders...)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, project, episode)
}

func (s *VoiceService) view(ctx context.Context, project *model.Project, episode *model.Episode) (*model.VoiceAssignmentView, error) {
	characters, err := s.Dialogues.Characters(ctx, project.DatabaseName, episode.CollectionName)
	if err != nil {
		return nil, translate(err, "characters")
	}
	sort.Strings(characters)
	assignments := episode.VoiceAssignments
	if assignments == nil {
		assignments = make(map[string]string)
	}
	return &model.VoiceAssignmentView{
		Characters:  characters,
		Assignments: assignments,
		Status:      episode.StepStatus(model.StepVoiceAssignment),
	}, nil
}

// Set stores the voice map, writes the voice id on every dialogue of each
// character and completes the voice assignment step.
func (s *VoiceService) Set(ctx context.Context, session *auth.Session, projectID, episodeID string, req *model.VoiceAssignmentRequest) (*model.VoiceAssignmentView, error) {
	project, episode, err := loadEpisode(ctx, s.Projects, session, projectID, episodeID, voiceWriters...)
	if err != nil {
		return nil, err
	}
	if req == nil || len(req.Assignments) == 0 {
		return nil, validationf("assignments are required")
	}
	characters, err := s.Dialogues.Characters(ctx, project.DatabaseName, episode.CollectionName)
	if err != nil {
		return nil, translate(err, "characters")
	}
	known := make(map[string]bool, len(characters))
	for _, c := range characters {
		known[c] = true
	}
	assignments := make(map[string]string, len(req.Assignments))
	for character, voice := range req.Assignments {
		voice = strings.TrimSpace(voice)
		if !known[character] {
			return nil, validationf("unknown character %q", character)
		}
		if voice == "" {
			return nil, validationf("voice for %q is empty", character)
		}
		assignments[character] = voice
	}

	def, _ := model.LookupStep(model.StepVoiceAssignment)
	ref := model.EpisodeRef{ProjectID: project.ID, EpisodeID: episode.ID}
	updated, err := s.Projects.SetVoiceAssignments(ctx, ref, assignments, def.Requires, s.Now())
	if err != nil {
		return nil, translate(err, "voices can be assigned once translation is completed")
	}
	for character, voice := range assignments {
		n, err := s.Dialogues.AssignVoice(ctx, project.DatabaseName, episode.CollectionName, character, voice)
		if err != nil {
			return nil, translate(err, "dialogue voices")
		}
		slog.DebugContext(ctx, "voice assigned", "collection", episode.CollectionName, "character", character, "voice", voice, "dialogues", n)
	}
	return s.view(ctx, project, updated)
}

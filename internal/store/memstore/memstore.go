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

// Package memstore is an in-process implementation of store.Store. A single
// mutex serializes every operation, which gives each conditional update the
// same all-or-nothing behavior a single-document update has in MongoDB.
// Documents are copied on the way in and on the way out so callers never share
// memory with the store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type collectionKey struct {
	database   string
	collection string
}

// Store is the in-memory document store.
type Store struct {
	mu        sync.Mutex
	projects  map[primitive.ObjectID]*model.Project
	dialogues map[collectionKey]map[primitive.ObjectID]*model.Dialogue
	users     map[string]*model.User
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		projects:  make(map[primitive.ObjectID]*model.Project),
		dialogues: make(map[collectionKey]map[primitive.ObjectID]*model.Dialogue),
		users:     make(map[string]*model.User),
	}
}

// Close is a no-op.
func (s *Store) Close(_ context.Context) error {
	return nil
}

// ---- projects ----

func (s *Store) CreateProject(_ context.Context, project *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; ok {
		return store.ErrDuplicate
	}
	s.projects[project.ID] = cloneProject(project)
	return nil
}

func (s *Store) GetProject(_ context.Context, id primitive.ObjectID) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneProject(p), nil
}

func (s *Store) ListProjects(_ context.Context, filter store.ProjectFilter) ([]*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Project, 0)
	for _, p := range s.projects {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Username != "" && !assigned(p, filter.Username, filter.Role) {
			continue
		}
		out = append(out, cloneProject(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func assigned(p *model.Project, username string, role model.Role) bool {
	for _, a := range p.AssignedTo {
		if a.Username == username && (role == "" || a.Role == role) {
			return true
		}
	}
	return false
}

func (s *Store) FindProjectByCollection(_ context.Context, databaseName, collectionName string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.DatabaseName == databaseName && p.EpisodeByCollection(collectionName) != nil {
			return cloneProject(p), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateProject(_ context.Context, id primitive.ObjectID, req *model.UpdateProjectRequest) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if req.Title != nil {
		p.Title = *req.Title
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Status != nil {
		p.Status = *req.Status
	}
	p.UpdatedAt = time.Now().UTC()
	return cloneProject(p), nil
}

func (s *Store) SetAssignments(_ context.Context, id primitive.ObjectID, assignments []model.Assignment) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p.AssignedTo = append(make([]model.Assignment, 0, len(assignments)), assignments...)
	p.UpdatedAt = time.Now().UTC()
	return cloneProject(p), nil
}

func (s *Store) AddEpisode(_ context.Context, projectID primitive.ObjectID, episode *model.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return store.ErrNotFound
	}
	if p.EpisodeByCollection(episode.CollectionName) != nil {
		return store.ErrDuplicate
	}
	p.Episodes = append(p.Episodes, cloneEpisode(episode))
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CountEpisodesByStatus(_ context.Context) (map[model.EpisodeStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.EpisodeStatus]int64)
	for _, p := range s.projects {
		for _, e := range p.Episodes {
			out[e.Status]++
		}
	}
	return out, nil
}

// episode resolves a live (not copied) episode pointer. Callers hold the lock.
func (s *Store) episode(ref model.EpisodeRef) (*model.Project, *model.Episode, error) {
	p, ok := s.projects[ref.ProjectID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	e := p.Episode(ref.EpisodeID)
	if e == nil {
		return nil, nil, store.ErrNotFound
	}
	return p, e, nil
}

func stepState(e *model.Episode, name model.StepName) *model.StepState {
	if e.Steps == nil {
		e.Steps = make(map[model.StepName]*model.StepState)
	}
	st, ok := e.Steps[name]
	if !ok || st == nil {
		st = &model.StepState{Status: model.StepPending}
		e.Steps[name] = st
	}
	return st
}

func (s *Store) ClaimStep(_ context.Context, spec store.ClaimSpec) (*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, e, err := s.episode(spec.Ref)
	if err != nil {
		return nil, err
	}
	for _, r := range spec.Requires {
		if e.StepStatus(r) != model.StepCompleted {
			return nil, store.ErrPreconditionFailed
		}
	}
	current := e.StepStatus(spec.Step)
	switch spec.Mode {
	case store.ClaimFresh:
		if current == model.StepProcessing {
			return nil, store.ErrAlreadyProcessing
		}
	case store.ClaimResume:
		if current != model.StepProcessing && current != model.StepError {
			return nil, store.ErrPreconditionFailed
		}
	}

	st := stepState(e, spec.Step)
	now := spec.Now
	st.Status = model.StepProcessing
	st.StartedAt = &now
	st.Error = ""
	if spec.Mode == store.ClaimResume {
		st.Attempts++
	} else {
		st.Attempts = 0
	}
	if spec.EpisodeStatus != "" {
		e.Status = spec.EpisodeStatus
	}
	e.ErrorDetail = ""
	e.UpdatedAt = now
	p.UpdatedAt = now
	return cloneEpisode(e), nil
}

func (s *Store) CompleteStep(_ context.Context, spec store.CompletionSpec) (*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, e, err := s.episode(spec.Ref)
	if err != nil {
		return nil, err
	}
	for _, r := range spec.Requires {
		if e.StepStatus(r) != model.StepCompleted {
			return nil, store.ErrPreconditionFailed
		}
	}
	if len(spec.FromStatuses) > 0 && !containsStatus(spec.FromStatuses, e.StepStatus(spec.Step)) {
		return nil, store.ErrPreconditionFailed
	}

	st := stepState(e, spec.Step)
	now := spec.Now
	st.Status = model.StepCompleted
	st.CompletedAt = &now
	st.Error = ""
	if len(spec.Result) > 0 {
		if st.Data == nil {
			st.Data = make(map[string]interface{}, len(spec.Result))
		}
		for k, v := range spec.Result {
			st.Data[k] = v
		}
	}
	if spec.EpisodeStatus != "" {
		e.Status = spec.EpisodeStatus
	}
	if spec.Pointer > e.Step {
		e.Step = spec.Pointer
	}
	e.ErrorDetail = ""
	e.UpdatedAt = now
	p.UpdatedAt = now
	return cloneEpisode(e), nil
}

func containsStatus(in []model.StepStatus, s model.StepStatus) bool {
	for _, v := range in {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Store) FailStep(_ context.Context, spec store.FailureSpec) (*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, e, err := s.episode(spec.Ref)
	if err != nil {
		return nil, err
	}
	if len(spec.FromStatuses) > 0 && !containsStatus(spec.FromStatuses, e.StepStatus(spec.Step)) {
		return nil, store.ErrPreconditionFailed
	}
	st := stepState(e, spec.Step)
	st.Status = model.StepError
	st.Error = spec.Message
	e.Status = model.EpisodeError
	e.ErrorDetail = spec.Message
	e.UpdatedAt = spec.Now
	p.UpdatedAt = spec.Now
	return cloneEpisode(e), nil
}

func (s *Store) AttachVideo(_ context.Context, ref model.EpisodeRef, videoPath, videoKey string, now time.Time) (*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, e, err := s.episode(ref)
	if err != nil {
		return nil, err
	}
	e.VideoPath = videoPath
	e.VideoKey = videoKey
	st := stepState(e, model.StepVideoUpload)
	st.Status = model.StepCompleted
	st.CompletedAt = &now
	st.Error = ""
	e.Status = model.EpisodeUploaded
	if e.Step < 2 {
		e.Step = 2
	}
	e.ErrorDetail = ""
	e.UpdatedAt = now
	p.UpdatedAt = now
	return cloneEpisode(e), nil
}

func (s *Store) SetVoiceAssignments(_ context.Context, ref model.EpisodeRef, assignments map[string]string, requires []model.StepName, now time.Time) (*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, e, err := s.episode(ref)
	if err != nil {
		return nil, err
	}
	for _, r := range requires {
		if e.StepStatus(r) != model.StepCompleted {
			return nil, store.ErrPreconditionFailed
		}
	}
	e.VoiceAssignments = make(map[string]string, len(assignments))
	for k, v := range assignments {
		e.VoiceAssignments[k] = v
	}
	st := stepState(e, model.StepVoiceAssignment)
	st.Status = model.StepCompleted
	st.CompletedAt = &now
	st.Error = ""
	e.UpdatedAt = now
	p.UpdatedAt = now
	return cloneEpisode(e), nil
}

// ---- users ----

func (s *Store) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Username]; ok {
		return store.ErrDuplicate
	}
	u := *user
	s.users[user.Username] = &u
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *u
	return &out, nil
}

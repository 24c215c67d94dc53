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
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/auth"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	databaseNamePattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{1,63}$`)
	collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,119}$`)
)

// authorize applies the access policy and classifies a denial.
func authorize(session *auth.Session, project *model.Project, allowed ...model.Role) error {
	if session == nil {
		return ErrUnauthenticated
	}
	if !auth.CanAct(session, project, allowed...) {
		return fmt.Errorf("%w: role %s may not act on this project", ErrForbidden, session.Role)
	}
	return nil
}

// requireRole is authorize for operations not scoped to a project.
func requireRole(session *auth.Session, allowed ...model.Role) error {
	if session == nil {
		return ErrUnauthenticated
	}
	if !auth.HasRole(session, allowed...) {
		return fmt.Errorf("%w: role %s is not allowed", ErrForbidden, session.Role)
	}
	return nil
}

func parseObjectID(kind, in string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(in)
	if err != nil {
		return primitive.NilObjectID, validationf("invalid %s id %q", kind, in)
	}
	return id, nil
}

// loadEpisode fetches the project owning the episode and checks access.
func loadEpisode(ctx context.Context, projects store.ProjectStore, session *auth.Session, projectID, episodeID string, allowed ...model.Role) (*model.Project, *model.Episode, error) {
	if session == nil {
		return nil, nil, ErrUnauthenticated
	}
	ref, err := model.ParseEpisodeRef(projectID, episodeID)
	if err != nil {
		return nil, nil, validationf("%v", err)
	}
	project, err := projects.GetProject(ctx, ref.ProjectID)
	if err != nil {
		return nil, nil, translate(err, "project")
	}
	if err := authorize(session, project, allowed...); err != nil {
		return nil, nil, err
	}
	episode := project.Episode(ref.EpisodeID)
	if episode == nil {
		return nil, nil, fmt.Errorf("%w: episode %s", ErrNotFound, episodeID)
	}
	return project, episode, nil
}

// ProjectService manages projects, their assignments and their episodes.
type ProjectService struct {
	Store store.ProjectStore
	Now   func() time.Time
}

// NewProjectService returns a ProjectService over the given store.
func NewProjectService(s store.ProjectStore) *ProjectService {
	return &ProjectService{Store: s, Now: func() time.Time { return time.Now().UTC() }}
}

// List returns every project for an admin and the assigned projects for
// everyone else.
func (s *ProjectService) List(ctx context.Context, session *auth.Session) ([]*model.ProjectSummary, error) {
	if session == nil {
		return nil, ErrUnauthenticated
	}
	filter := store.ProjectFilter{}
	if !session.IsAdmin() {
		filter.Username = session.Username
		filter.Role = session.Role
	}
	projects, err := s.Store.ListProjects(ctx, filter)
	if err != nil {
		return nil, translate(err, "projects")
	}
	out := make([]*model.ProjectSummary, 0, len(projects))
	for _, p := range projects {
		out = append(out, p.Summary())
	}
	return out, nil
}

// Get returns a project the session may act on.
func (s *ProjectService) Get(ctx context.Context, session *auth.Session, projectID string) (*model.Project, error) {
	if session == nil {
		return nil, ErrUnauthenticated
	}
	id, err := parseObjectID("project", projectID)
	if err != nil {
		return nil, err
	}
	project, err := s.Store.GetProject(ctx, id)
	if err != nil {
		return nil, translate(err, "project")
	}
	if err := authorize(session, project, model.Roles...); err != nil {
		return nil, err
	}
	return project, nil
}

// GetEpisode returns one episode of a project the session may act on.
func (s *ProjectService) GetEpisode(ctx context.Context, session *auth.Session, projectID, episodeID string) (*model.Episode, error) {
	_, episode, err := loadEpisode(ctx, s.Store, session, projectID, episodeID, model.Roles...)
	return episode, err
}

func validateAssignments(in []model.Assignment) ([]model.Assignment, error) {
	out := make([]model.Assignment, 0, len(in))
	seen := make(map[model.Assignment]bool, len(in))
	for _, a := range in {
		a.Username = strings.TrimSpace(a.Username)
		if a.Username == "" {
			return nil, validationf("assignment without username")
		}
		if !a.Role.Valid() || a.Role == model.RoleAdmin {
			return nil, validationf("invalid assignment role %q", a.Role)
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out, nil
}

// Create stores a new project. Admin only.
func (s *ProjectService) Create(ctx context.Context, session *auth.Session, req *model.CreateProjectRequest) (*model.Project, error) {
	if err := requireRole(session, model.RoleAdmin); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, validationf("title is required")
	}
	if req.SourceLanguage == "" || req.TargetLanguage == "" {
		return nil, validationf("source and target languages are required")
	}
	if !databaseNamePattern.MatchString(req.DatabaseName) {
		return nil, validationf("invalid database name %q", req.DatabaseName)
	}
	assignments, err := validateAssignments(req.AssignedTo)
	if err != nil {
		return nil, err
	}

	project := model.NewProject(strings.TrimSpace(req.Title), req.SourceLanguage, req.TargetLanguage, req.DatabaseName)
	project.Description = req.Description
	project.AssignedTo = assignments
	project.CreatedAt = s.Now()
	project.UpdatedAt = project.CreatedAt
	if err := s.Store.CreateProject(ctx, project); err != nil {
		return nil, translate(err, "project")
	}
	return project, nil
}

// Update edits the title, description or status. Admin only.
func (s *ProjectService) Update(ctx context.Context, session *auth.Session, projectID string, req *model.UpdateProjectRequest) (*model.Project, error) {
	if err := requireRole(session, model.RoleAdmin); err != nil {
		return nil, err
	}
	id, err := parseObjectID("project", projectID)
	if err != nil {
		return nil, err
	}
	if req.Title == nil && req.Description == nil && req.Status == nil {
		return nil, validationf("nothing to update")
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return nil, validationf("title may not be empty")
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, validationf("invalid project status %q", *req.Status)
	}
	project, err := s.Store.UpdateProject(ctx, id, req)
	return project, translate(err, "project")
}

// SetAssignments replaces the assignment list. Admin only.
func (s *ProjectService) SetAssignments(ctx context.Context, session *auth.Session, projectID string, req *model.AssignmentsRequest) (*model.Project, error) {
	if err := requireRole(session, model.RoleAdmin); err != nil {
		return nil, err
	}
	id, err := parseObjectID("project", projectID)
	if err != nil {
		return nil, err
	}
	assignments, err := validateAssignments(req.AssignedTo)
	if err != nil {
		return nil, err
	}
	project, err := s.Store.SetAssignments(ctx, id, assignments)
	return project, translate(err, "project")
}

// AddEpisode creates an episode with every step pending. Admin only.
func (s *ProjectService) AddEpisode(ctx context.Context, session *auth.Session, projectID string, req *model.CreateEpisodeRequest) (*model.Episode, error) {
	if err := requireRole(session, model.RoleAdmin); err != nil {
		return nil, err
	}
	id, err := parseObjectID("project", projectID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validationf("episode name is required")
	}
	if !collectionNamePattern.MatchString(req.CollectionName) || strings.HasPrefix(req.CollectionName, "system.") {
		return nil, validationf("invalid collection name %q", req.CollectionName)
	}
	episode := model.NewEpisode(name, req.CollectionName)
	episode.CreatedAt = s.Now()
	episode.UpdatedAt = episode.CreatedAt
	if err := s.Store.AddEpisode(ctx, id, episode); err != nil {
		return nil, translate(err, fmt.Sprintf("episode collection %s", req.CollectionName))
	}
	return episode, nil
}

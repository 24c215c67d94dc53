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

package services_test

import (
	"context"
	"testing"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
	test "github.com/jaycherian/gcp-go-dubbing-pipeline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	zassert "github.com/zeebo/assert"
)

func TestProjectListIsFilteredByAssignment(t *testing.T) {
	f := test.NewFixture(t)
	svc := services.NewProjectService(f.Store)
	ctx := context.Background()
	admin := f.Session(model.RoleAdmin)

	_, err := svc.Create(ctx, admin, &model.CreateProjectRequest{
		Title: "Other Show", SourceLanguage: "en", TargetLanguage: "fr", DatabaseName: "other_show",
		AssignedTo: []model.Assignment{{Username: "dana", Role: model.RoleTranslator}},
	})
	require.NoError(t, err)

	all, err := svc.List(ctx, admin)
	require.NoError(t, err)
	zassert.Equal(t, len(all), 2)

	mine, err := svc.List(ctx, f.Session(model.RoleDirector))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.Project.ID, mine[0].ID)
	assert.Equal(t, 1, mine[0].EpisodeCount)

	none, err := svc.List(ctx, f.Stranger(model.RoleDirector))
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.List(ctx, nil)
	assert.ErrorIs(t, err, services.ErrUnauthenticated)
}

func TestProjectGet(t *testing.T) {
	f := test.NewFixture(t)
	svc := services.NewProjectService(f.Store)
	ctx := context.Background()

	p, err := svc.Get(ctx, f.Session(model.RoleTranslator), f.ProjectID())
	require.NoError(t, err)
	assert.Equal(t, f.Project.Title, p.Title)

	_, err = svc.Get(ctx, f.Stranger(model.RoleTranslator), f.ProjectID())
	assert.ErrorIs(t, err, services.ErrForbidden)

	_, err = svc.Get(ctx, f.Session(model.RoleAdmin), "not-hex")
	assert.ErrorIs(t, err, services.ErrValidation)

	e, err := svc.GetEpisode(ctx, f.Session(model.RoleVoiceOver), f.ProjectID(), f.EpisodeID())
	require.NoError(t, err)
	assert.Equal(t, f.Episode.CollectionName, e.CollectionName)
	assert.Equal(t, 1, e.Step)
}

func TestProjectAdministration(t *testing.T) {
	f := test.NewFixture(t)
	svc := services.NewProjectService(f.Store)
	ctx := context.Background()
	admin := f.Session(model.RoleAdmin)

	_, err := svc.Create(ctx, f.Session(model.RoleDirector), &model.CreateProjectRequest{Title: "x"})
	assert.ErrorIs(t, err, services.ErrForbidden)
	_, err = svc.Create(ctx, admin, &model.CreateProjectRequest{Title: "x", SourceLanguage: "en", TargetLanguage: "es", DatabaseName: "bad name"})
	assert.ErrorIs(t, err, services.ErrValidation)
	_, err = svc.Create(ctx, admin, &model.CreateProjectRequest{
		Title: "x", SourceLanguage: "en", TargetLanguage: "es", DatabaseName: "x_db",
		AssignedTo: []model.Assignment{{Username: "root", Role: model.RoleAdmin}},
	})
	assert.ErrorIs(t, err, services.ErrValidation)

	status := model.ProjectOnHold
	p, err := svc.Update(ctx, admin, f.ProjectID(), &model.UpdateProjectRequest{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, model.ProjectOnHold, p.Status)

	bad := model.ProjectStatus("paused")
	_, err = svc.Update(ctx, admin, f.ProjectID(), &model.UpdateProjectRequest{Status: &bad})
	assert.ErrorIs(t, err, services.ErrValidation)

	p, err = svc.SetAssignments(ctx, admin, f.ProjectID(), &model.AssignmentsRequest{AssignedTo: []model.Assignment{
		{Username: "dana", Role: model.RoleDirector},
		{Username: "dana", Role: model.RoleDirector},
	}})
	require.NoError(t, err)
	assert.Len(t, p.AssignedTo, 1)

	e, err := svc.AddEpisode(ctx, admin, f.ProjectID(), &model.CreateEpisodeRequest{Name: "Train Job", CollectionName: "serenity_ep02"})
	require.NoError(t, err)
	assert.Equal(t, model.StepPending, e.StepStatus(model.StepVideoUpload))

	_, err = svc.AddEpisode(ctx, admin, f.ProjectID(), &model.CreateEpisodeRequest{Name: "Again", CollectionName: "serenity_ep02"})
	assert.ErrorIs(t, err, services.ErrConflict)
	_, err = svc.AddEpisode(ctx, admin, f.ProjectID(), &model.CreateEpisodeRequest{Name: "Sys", CollectionName: "system.users"})
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestStats(t *testing.T) {
	f := test.NewFixture(t)
	svc := &services.StatsService{Projects: f.Store, Queues: []services.QueueStatter{
		fakeStats{stats: model.QueueStats{Queue: "audio-cleaner", Waiting: 2}},
	}}

	_, err := svc.Get(context.Background(), f.Session(model.RoleDirector))
	assert.ErrorIs(t, err, services.ErrForbidden)

	out, err := svc.Get(context.Background(), f.Session(model.RoleAdmin))
	require.NoError(t, err)
	require.Len(t, out.Queues, 1)
	assert.Equal(t, int64(2), out.Queues[0].Waiting)
	assert.Equal(t, int64(1), out.Episodes[model.EpisodeCreated])
}

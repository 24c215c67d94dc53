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
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
	test "github.com/jaycherian/gcp-go-dubbing-pipeline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scopeFor(f *test.Fixture, role string) services.DialogueScope {
	return services.DialogueScope{Role: role, DatabaseName: f.Project.DatabaseName, CollectionName: f.Episode.CollectionName}
}

func TestDialogueListIsScopedToAssignments(t *testing.T) {
	f := test.NewFixture(t)
	svc := services.NewDialogueService(f.Store, newMemObjects(), "voice-over")
	ctx := context.Background()

	out, err := svc.List(ctx, f.Session(model.RoleDirector), scopeFor(f, "director"))
	require.NoError(t, err)
	assert.Len(t, out, 4)
	assert.Equal(t, 1, out[0].Index)

	out, err = svc.List(ctx, f.Session(model.RoleAdmin), scopeFor(f, "senior-director"))
	require.NoError(t, err)
	assert.Len(t, out, 4)

	// An unassigned director learns nothing about the collection.
	_, err = svc.List(ctx, f.Stranger(model.RoleDirector), scopeFor(f, "director"))
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = svc.List(ctx, f.Session(model.RoleDirector), scopeFor(f, "translator"))
	assert.ErrorIs(t, err, services.ErrForbidden)

	missing := scopeFor(f, "director")
	missing.CollectionName = "other_ep"
	_, err = svc.List(ctx, f.Session(model.RoleDirector), missing)
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = svc.List(ctx, nil, scopeFor(f, "director"))
	assert.ErrorIs(t, err, services.ErrUnauthenticated)

	_, err = svc.List(ctx, f.Session(model.RoleDirector), services.DialogueScope{Role: "director"})
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestDialogueUpdateRoundTrip(t *testing.T) {
	f := test.NewFixture(t)
	svc := services.NewDialogueService(f.Store, newMemObjects(), "voice-over")
	ctx := context.Background()
	translator := f.Session(model.RoleTranslator)

	list, err := svc.List(ctx, translator, scopeFor(f, "translator"))
	require.NoError(t, err)
	target := list[1]

	updated, err := svc.Update(ctx, translator, scopeFor(f, "translator"), target.ID.Hex(), map[string]interface{}{
		"_id":        target.ID.Hex(),
		"translated": " Señor, tenemos una situación. ",
	})
	require.NoError(t, err)
	assert.Equal(t, target.ID, updated.ID)
	assert.Equal(t, "Señor, tenemos una situación.", updated.Translated)
	assert.Equal(t, "tom", updated.UpdatedBy)
	assert.Equal(t, target.Original, updated.Original)

	got, err := svc.Get(ctx, translator, scopeFor(f, "translator"), target.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, updated.Translated, got.Translated)
}

func TestDialogueUpdateWhitelist(t *testing.T) {
	f := test.NewFixture(t)
	svc := services.NewDialogueService(f.Store, newMemObjects(), "voice-over")
	ctx := context.Background()
	list, err := svc.List(ctx, f.Session(model.RoleAdmin), scopeFor(f, "admin"))
	require.NoError(t, err)
	id := list[0].ID.Hex()

	cases := []struct {
		name    string
		role    model.Role
		view    string
		changes map[string]interface{}
		ok      bool
	}{
		{"translator edits translation", model.RoleTranslator, "translator", map[string]interface{}{"translated": "Bien"}, true},
		{"translator edits adaptation", model.RoleTranslator, "translator", map[string]interface{}{"adapted": "Bien"}, false},
		{"transcriber fixes timing", model.RoleTranscriber, "transcriber", map[string]interface{}{"timeStart": "00:00:01.000", "character": "MAL"}, true},
		{"director approves", model.RoleDirector, "director", map[string]interface{}{"status": "approved", "adapted": "Bueno"}, true},
		{"director requests rerecord", model.RoleDirector, "director", map[string]interface{}{"status": "needs-rerecord"}, false},
		{"senior director requests rerecord", model.RoleSeniorDirector, "senior-director", map[string]interface{}{"status": "needs-rerecord"}, true},
		{"senior director edits translation", model.RoleSeniorDirector, "senior_director", map[string]interface{}{"translated": "x"}, false},
		{"voice over edits text", model.RoleVoiceOver, "voice-over", map[string]interface{}{"original": "x"}, false},
		{"admin edits everything", model.RoleAdmin, "director", map[string]interface{}{"original": "x", "adapted": "y", "status": "needs-rerecord"}, true},
		{"unknown status", model.RoleAdmin, "admin", map[string]interface{}{"status": "done"}, false},
		{"non string value", model.RoleTranslator, "translator", map[string]interface{}{"translated": 4}, false},
		{"empty patch", model.RoleTranslator, "translator", map[string]interface{}{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Update(ctx, f.Session(tc.role), scopeFor(f, tc.view), id, tc.changes)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, services.ErrValidation)
		})
	}
}

func TestUploadVoiceOver(t *testing.T) {
	f := test.NewFixture(t)
	objects := newMemObjects()
	svc := services.NewDialogueService(f.Store, objects, "voice-over")
	ctx := context.Background()
	vo := f.Session(model.RoleVoiceOver)

	list, err := svc.List(ctx, vo, scopeFor(f, "voice-over"))
	require.NoError(t, err)
	target := list[2]

	res, d, err := svc.UploadVoiceOver(ctx, vo, &services.VoiceOverUpload{
		DatabaseName:   f.Project.DatabaseName,
		CollectionName: f.Episode.CollectionName,
		DialogueID:     target.ID.Hex(),
		File:           bytes.NewReader(test.WAVHeader()),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Key, "voice-over/firefly_dub/serenity_ep01/"+target.ID.Hex()+"-"))
	assert.True(t, strings.HasSuffix(res.Key, ".wav"))
	assert.Equal(t, objects.PublicURL(res.Key), res.URL)
	assert.Equal(t, test.WAVHeader(), objects.objects[res.Key])
	assert.Equal(t, res.Key, d.RecordedAudioKey)
	assert.Equal(t, res.URL, d.RecordedAudioURL)
	assert.Equal(t, model.DialoguePending, d.Status)

	_, _, err = svc.UploadVoiceOver(ctx, vo, &services.VoiceOverUpload{
		DatabaseName:   f.Project.DatabaseName,
		CollectionName: f.Episode.CollectionName,
		DialogueID:     target.ID.Hex(),
		File:           bytes.NewReader(test.MP4Header()),
	})
	assert.ErrorIs(t, err, services.ErrValidation)

	_, _, err = svc.UploadVoiceOver(ctx, f.Session(model.RoleDirector), &services.VoiceOverUpload{
		DatabaseName:   f.Project.DatabaseName,
		CollectionName: f.Episode.CollectionName,
		DialogueID:     target.ID.Hex(),
		File:           bytes.NewReader(test.WAVHeader()),
	})
	assert.ErrorIs(t, err, services.ErrForbidden)
}

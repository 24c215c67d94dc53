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

// This file provides factory functions for hardcoded example instances of the
// data models. They seed local development stores (`dubctl dialogues import
// --example`) and give tests a realistic starting document.

package model

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GetExampleProject creates a project with a single freshly created episode
// and one assignment per reviewer role.
//
// Outputs:
//   - *Project: a project in the `active` state.
func GetExampleProject() *Project {
	p := NewProject("Firefly Dub", "en", "es", "firefly_dub")
	p.Description = "Spanish dub of the pilot episode."
	p.AssignedTo = []Assignment{
		{Username: "tina", Role: RoleTranscriber},
		{Username: "tom", Role: RoleTranslator},
		{Username: "dana", Role: RoleDirector},
		{Username: "sam", Role: RoleSeniorDirector},
		{Username: "vic", Role: RoleVoiceOver},
	}
	p.Episodes = append(p.Episodes, NewEpisode("Serenity", "serenity_ep01"))
	return p
}

// GetExampleDialogues creates a short scene of dialogue lines spoken by two
// characters, all in the `pending` review state.
//
// Outputs:
//   - []*Dialogue: lines ordered by Index.
func GetExampleDialogues() []*Dialogue {
	lines := []struct {
		character string
		text      string
	}{
		{"MAL", "Well, here I am."},
		{"ZOE", "Sir, we have a situation."},
		{"MAL", "I aim to misbehave."},
		{"ZOE", "Understood, sir."},
	}
	out := make([]*Dialogue, 0, len(lines))
	for i, l := range lines {
		out = append(out, &Dialogue{
			ID:        primitive.NewObjectID(),
			Index:     i + 1,
			TimeStart: fmt.Sprintf("00:00:%02d.000", i*4),
			TimeEnd:   fmt.Sprintf("00:00:%02d.500", i*4+3),
			Character: l.character,
			Original:  l.text,
			Status:    DialoguePending,
			UpdatedAt: time.Now().UTC(),
		})
	}
	return out
}

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

package memstore

import (
	"context"
	"sort"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func (s *Store) ListDialogues(_ context.Context, databaseName, collectionName string) ([]*model.Dialogue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.dialogues[collectionKey{databaseName, collectionName}]
	out := make([]*model.Dialogue, 0, len(coll))
	for _, d := range coll {
		c := *d
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *Store) GetDialogue(_ context.Context, databaseName, collectionName string, id primitive.ObjectID) (*model.Dialogue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogues[collectionKey{databaseName, collectionName}][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *d
	return &out, nil
}

func (s *Store) UpdateDialogue(_ context.Context, databaseName, collectionName string, id primitive.ObjectID, patch model.DialoguePatch) (*model.Dialogue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogues[collectionKey{databaseName, collectionName}][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	patch.Apply(d)
	out := *d
	return &out, nil
}

func (s *Store) AssignVoice(_ context.Context, databaseName, collectionName, character, voiceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, d := range s.dialogues[collectionKey{databaseName, collectionName}] {
		if d.Character == character {
			d.VoiceID = voiceID
			n++
		}
	}
	return n, nil
}

func (s *Store) Characters(_ context.Context, databaseName, collectionName string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, d := range s.dialogues[collectionKey{databaseName, collectionName}] {
		if d.Character == "" || seen[d.Character] {
			continue
		}
		seen[d.Character] = true
		out = append(out, d.Character)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) InsertDialogues(_ context.Context, databaseName, collectionName string, dialogues []*model.Dialogue) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := collectionKey{databaseName, collectionName}
	coll, ok := s.dialogues[key]
	if !ok {
		coll = make(map[primitive.ObjectID]*model.Dialogue)
		s.dialogues[key] = coll
	}
	for _, d := range dialogues {
		if _, dup := coll[d.ID]; dup {
			return 0, store.ErrDuplicate
		}
	}
	for _, d := range dialogues {
		c := *d
		if c.ID.IsZero() {
			c.ID = primitive.NewObjectID()
		}
		coll[c.ID] = &c
	}
	return len(dialogues), nil
}

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

package mongostore

import (
	"context"
	"sort"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) dialogues(databaseName, collectionName string) *mongo.Collection {
	return s.client.Database(databaseName).Collection(collectionName)
}

func (s *Store) ListDialogues(ctx context.Context, databaseName, collectionName string) ([]*model.Dialogue, error) {
	cursor, err := s.dialogues(databaseName, collectionName).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "index", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := make([]*model.Dialogue, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetDialogue(ctx context.Context, databaseName, collectionName string, id primitive.ObjectID) (*model.Dialogue, error) {
	out := &model.Dialogue{}
	if err := s.dialogues(databaseName, collectionName).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(out); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) UpdateDialogue(ctx context.Context, databaseName, collectionName string, id primitive.ObjectID, patch model.DialoguePatch) (*model.Dialogue, error) {
	out := &model.Dialogue{}
	err := s.dialogues(databaseName, collectionName).FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}},
		dialoguePatchUpdate(patch),
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(out)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) AssignVoice(ctx context.Context, databaseName, collectionName, character, voiceID string) (int64, error) {
	res, err := s.dialogues(databaseName, collectionName).UpdateMany(ctx,
		bson.D{{Key: "character", Value: character}},
		bson.D{{Key: "$set", Value: bson.D{{Key: model.FieldVoiceID, Value: voiceID}}}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) Characters(ctx context.Context, databaseName, collectionName string) ([]string, error) {
	values, err := s.dialogues(databaseName, collectionName).Distinct(ctx, "character", bson.D{})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if str, ok := v.(string); ok && str != "" {
			out = append(out, str)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) InsertDialogues(ctx context.Context, databaseName, collectionName string, dialogues []*model.Dialogue) (int, error) {
	if len(dialogues) == 0 {
		return 0, nil
	}
	docs := make([]interface{}, 0, len(dialogues))
	for _, d := range dialogues {
		if d.ID.IsZero() {
			d.ID = primitive.NewObjectID()
		}
		docs = append(docs, d)
	}
	res, err := s.dialogues(databaseName, collectionName).InsertMany(ctx, docs)
	if err != nil {
		return 0, translate(err)
	}
	return len(res.InsertedIDs), nil
}

// ---- users ----

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	_, err := s.users.InsertOne(ctx, user)
	return translate(err)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	out := &model.User{}
	if err := s.users.FindOne(ctx, bson.D{{Key: "username", Value: username}}).Decode(out); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

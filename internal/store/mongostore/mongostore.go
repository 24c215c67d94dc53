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

// Package mongostore implements store.Store on MongoDB.
//
// Layout:
//   - `<database>.projects`: one document per project, episodes embedded.
//   - `<database>.users`: credentials and roles.
//   - `<project.databaseName>.<episode.collectionName>`: dialogue documents.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ProjectsCollection = "projects"
	UsersCollection    = "users"
)

// Store is the MongoDB backed document store.
type Store struct {
	client   *mongo.Client
	projects *mongo.Collection
	users    *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// New wraps an already connected client. The projects and users collections
// live in `database`.
func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:   client,
		projects: db.Collection(ProjectsCollection),
		users:    db.Collection(UsersCollection),
	}
}

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes the queries rely on. It is safe to run on
// every start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}
	_, err = s.projects.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "assignedTo.username", Value: 1}}},
		{Keys: bson.D{{Key: "databaseName", Value: 1}, {Key: "episodes.collectionName", Value: 1}}},
		{Keys: bson.D{{Key: "episodes._id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create projects indexes: %w", err)
	}
	return nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return store.ErrDuplicate
	}
	return err
}

// ---- projects ----

func (s *Store) CreateProject(ctx context.Context, project *model.Project) error {
	_, err := s.projects.InsertOne(ctx, project)
	return translate(err)
}

func (s *Store) GetProject(ctx context.Context, id primitive.ObjectID) (*model.Project, error) {
	out := &model.Project{}
	if err := s.projects.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(out); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) ListProjects(ctx context.Context, filter store.ProjectFilter) ([]*model.Project, error) {
	cursor, err := s.projects.Find(ctx, projectFilter(filter), options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	out := make([]*model.Project, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) FindProjectByCollection(ctx context.Context, databaseName, collectionName string) (*model.Project, error) {
	out := &model.Project{}
	err := s.projects.FindOne(ctx, bson.D{
		{Key: "databaseName", Value: databaseName},
		{Key: "episodes.collectionName", Value: collectionName},
	}).Decode(out)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) UpdateProject(ctx context.Context, id primitive.ObjectID, req *model.UpdateProjectRequest) (*model.Project, error) {
	set := bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}
	if req.Title != nil {
		set = append(set, bson.E{Key: "title", Value: *req.Title})
	}
	if req.Description != nil {
		set = append(set, bson.E{Key: "description", Value: *req.Description})
	}
	if req.Status != nil {
		set = append(set, bson.E{Key: "status", Value: string(*req.Status)})
	}
	return s.findOneAndUpdateProject(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$set", Value: set}})
}

func (s *Store) SetAssignments(ctx context.Context, id primitive.ObjectID, assignments []model.Assignment) (*model.Project, error) {
	if assignments == nil {
		assignments = make([]model.Assignment, 0)
	}
	return s.findOneAndUpdateProject(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$set", Value: bson.D{
		{Key: "assignedTo", Value: assignments},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}}})
}

func (s *Store) findOneAndUpdateProject(ctx context.Context, filter, update bson.D) (*model.Project, error) {
	out := &model.Project{}
	err := s.projects.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(out)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) AddEpisode(ctx context.Context, projectID primitive.ObjectID, episode *model.Episode) error {
	res, err := s.projects.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: projectID},
			{Key: "episodes.collectionName", Value: bson.D{{Key: "$ne", Value: episode.CollectionName}}},
		},
		bson.D{
			{Key: "$push", Value: bson.D{{Key: "episodes", Value: episode}}},
			{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}},
		})
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetProject(ctx, projectID); err != nil {
			return err
		}
		return store.ErrDuplicate
	}
	return nil
}

func (s *Store) CountEpisodesByStatus(ctx context.Context) (map[model.EpisodeStatus]int64, error) {
	cursor, err := s.projects.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$unwind", Value: "$episodes"}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$episodes.status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make(map[model.EpisodeStatus]int64, len(rows))
	for _, r := range rows {
		out[model.EpisodeStatus(r.Status)] = r.Count
	}
	return out, nil
}

// ---- step transitions ----

// transition runs a conditional update and returns the updated episode. When
// nothing matched it reads the document once to tell a missing episode from a
// failed precondition; the read never feeds back into a write.
func (s *Store) transition(ctx context.Context, ref model.EpisodeRef, filter, update bson.D, onMiss func(*model.Episode) error) (*model.Episode, error) {
	out := &model.Project{}
	err := s.projects.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(out)
	if err == nil {
		if e := out.Episode(ref.EpisodeID); e != nil {
			return e, nil
		}
		return nil, store.ErrNotFound
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	current, gerr := s.GetProject(ctx, ref.ProjectID)
	if gerr != nil {
		return nil, gerr
	}
	e := current.Episode(ref.EpisodeID)
	if e == nil {
		return nil, store.ErrNotFound
	}
	if onMiss != nil {
		return nil, onMiss(e)
	}
	return nil, store.ErrPreconditionFailed
}

func (s *Store) ClaimStep(ctx context.Context, spec store.ClaimSpec) (*model.Episode, error) {
	e, err := s.transition(ctx, spec.Ref, claimFilter(spec), claimUpdate(spec), func(e *model.Episode) error {
		if spec.Mode == store.ClaimFresh && e.StepStatus(spec.Step) == model.StepProcessing {
			return store.ErrAlreadyProcessing
		}
		return store.ErrPreconditionFailed
	})
	if err == nil {
		slog.DebugContext(ctx, "claimed step", "episode", spec.Ref.String(), "step", spec.Step)
	}
	return e, err
}

func (s *Store) CompleteStep(ctx context.Context, spec store.CompletionSpec) (*model.Episode, error) {
	return s.transition(ctx, spec.Ref, completionFilter(spec), completionUpdate(spec), nil)
}

func (s *Store) FailStep(ctx context.Context, spec store.FailureSpec) (*model.Episode, error) {
	return s.transition(ctx, spec.Ref, failureFilter(spec), failureUpdate(spec), nil)
}

func (s *Store) AttachVideo(ctx context.Context, ref model.EpisodeRef, videoPath, videoKey string, now time.Time) (*model.Episode, error) {
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: episodePath + "videoPath", Value: videoPath},
			{Key: episodePath + "videoKey", Value: videoKey},
			{Key: episodePath + stepField(model.StepVideoUpload, "status"), Value: string(model.StepCompleted)},
			{Key: episodePath + stepField(model.StepVideoUpload, "completedAt"), Value: now},
			{Key: episodePath + "status", Value: string(model.EpisodeUploaded)},
			{Key: episodePath + "updatedAt", Value: now},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$unset", Value: bson.D{{Key: episodePath + "errorDetail", Value: ""}}},
		{Key: "$max", Value: bson.D{{Key: episodePath + "step", Value: 2}}},
	}
	return s.transition(ctx, ref, projectAndEpisode(ref, nil, nil), update, nil)
}

func (s *Store) SetVoiceAssignments(ctx context.Context, ref model.EpisodeRef, assignments map[string]string, requires []model.StepName, now time.Time) (*model.Episode, error) {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: episodePath + "voiceAssignments", Value: assignments},
		{Key: episodePath + stepField(model.StepVoiceAssignment, "status"), Value: string(model.StepCompleted)},
		{Key: episodePath + stepField(model.StepVoiceAssignment, "completedAt"), Value: now},
		{Key: episodePath + "updatedAt", Value: now},
		{Key: "updatedAt", Value: now},
	}}}
	return s.transition(ctx, ref, projectAndEpisode(ref, requires, nil), update, nil)
}

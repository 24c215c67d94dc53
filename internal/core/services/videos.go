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
	"io"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/auth"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
)

// VideoService handles the source video of episodes and the URLs of every
// asset an episode references.
type VideoService struct {
	Projects    store.ProjectStore
	Objects     ObjectStore
	VideoPrefix string
	Now         func() time.Time
}

// NewVideoService returns a VideoService.
func NewVideoService(projects store.ProjectStore, objects ObjectStore, videoPrefix string) *VideoService {
	return &VideoService{
		Projects:    projects,
		Objects:     objects,
		VideoPrefix: videoPrefix,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// Upload stores the source video of an episode and completes step1. Admin only.
func (s *VideoService) Upload(ctx context.Context, session *auth.Session, projectID, episodeID string, r io.Reader) (*model.UploadResult, *model.Episode, error) {
	project, episode, err := loadEpisode(ctx, s.Projects, session, projectID, episodeID, model.RoleAdmin)
	if err != nil {
		return nil, nil, err
	}
	if r == nil {
		return nil, nil, validationf("video file is required")
	}
	file, err := Sniff(r, KindVideo)
	if err != nil {
		return nil, nil, err
	}
	key := cloud.EpisodeVideoKey(s.VideoPrefix, project.ID.Hex(), episode.ID.Hex(), uniqueName("", file.Extension))
	if err := s.Objects.Upload(ctx, key, file.ContentType, file.Reader); err != nil {
		return nil, nil, err
	}
	result := &model.UploadResult{URL: s.Objects.PublicURL(key), Key: key}

	updated, err := s.Projects.AttachVideo(ctx, model.EpisodeRef{ProjectID: project.ID, EpisodeID: episode.ID}, result.URL, key, s.Now())
	if err != nil {
		return nil, nil, translate(err, "episode")
	}
	slog.InfoContext(ctx, "episode video uploaded", "project", project.ID.Hex(), "episode", episode.ID.Hex(), "key", key)
	return result, updated, nil
}

// AssetURL signs a GET URL for an object the episode references.
func (s *VideoService) AssetURL(ctx context.Context, session *auth.Session, projectID, episodeID, key string) (string, error) {
	_, episode, err := loadEpisode(ctx, s.Projects, session, projectID, episodeID, model.Roles...)
	if err != nil {
		return "", err
	}
	key, err = cleanKey(key)
	if err != nil {
		return "", err
	}
	for _, k := range episode.AssetKeys() {
		if k == key {
			return s.Objects.SignedURL(ctx, key)
		}
	}
	return "", fmt.Errorf("%w: asset %s", ErrNotFound, key)
}

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

// This file defines the commands of the video-ingest workflow, which runs for
// every object written to the media bucket.
//
// Logic Flow:
//  1. NotificationReader parses the Cloud Storage notification received from
//     Pub/Sub into a cloud.GCSObject.
//  2. VideoAttacher maps the object name
//     `<videoPrefix>/<projectId>/episodes/<episodeId>/<file>` back to the
//     episode and records it as the episode's source video, completing step1.
//
// Objects outside the video prefix, non-video objects and objects for unknown
// episodes are acknowledged without changes; only store failures are
// recorded as errors so that the message is redelivered.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
)

// NotificationReader parses a Cloud Storage notification and extracts the
// object it is about.
type NotificationReader struct {
	cor.BaseCommand
}

// NewNotificationReader is the constructor for the NotificationReader command.
func NewNotificationReader(name string) *NotificationReader {
	return &NotificationReader{BaseCommand: *cor.NewBaseCommand(name)}
}

// Execute parses the JSON message text found under the input parameter.
func (c *NotificationReader) Execute(context cor.Context) {
	in, ok := context.Get(c.GetInputParam()).(string)
	if !ok {
		c.Fail(context, fmt.Errorf("unexpected notification type %T", context.Get(c.GetInputParam())))
		return
	}

	var out cloud.GCSPubSubNotification
	if err := json.Unmarshal([]byte(in), &out); err != nil {
		c.Fail(context, fmt.Errorf("failed to unmarshal GCS notification: %w", err))
		return
	}

	msg := &cloud.GCSObject{Bucket: out.Bucket, Name: out.Name, MIMEType: out.ContentType}
	msg.Size, _ = strconv.ParseInt(out.Size, 10, 64)

	c.Succeed(context)
	context.Add(cloud.GetGCSObjectName(), msg)
	context.Add(c.GetOutputParam(), msg)
}

// VideoAttacher records an uploaded object as the source video of its episode.
type VideoAttacher struct {
	cor.BaseCommand
	projects    store.ProjectStore
	bucket      string
	videoPrefix string
	publicURL   func(key string) string
}

// NewVideoAttacher is the constructor for the VideoAttacher command.
//
// Inputs:
//   - name: A string name for this command instance.
//   - projects: The project store holding the episodes.
//   - storage: The storage configuration (bucket, video prefix, public URL base).
func NewVideoAttacher(name string, projects store.ProjectStore, storage cloud.Storage) *VideoAttacher {
	return &VideoAttacher{
		BaseCommand: *cor.NewBaseCommand(name),
		projects:    projects,
		bucket:      storage.Bucket,
		videoPrefix: storage.VideoPrefix,
		publicURL: func(key string) string {
			return cloud.PublicURL(storage.PublicBaseURL, storage.Bucket, key)
		},
	}
}

// Execute attaches the object to its episode when it is an episode video.
func (c *VideoAttacher) Execute(context cor.Context) {
	obj := context.Get(c.GetInputParam()).(*cloud.GCSObject)
	ctx := context.GetContext()
	skip := func(reason string) {
		slog.DebugContext(ctx, "ignoring object", "bucket", obj.Bucket, "object", obj.Name, "reason", reason)
		c.Succeed(context)
	}

	if c.bucket != "" && obj.Bucket != c.bucket {
		skip("foreign bucket")
		return
	}
	if obj.MIMEType != "" && !strings.HasPrefix(obj.MIMEType, "video/") {
		skip("not a video")
		return
	}
	projectID, episodeID, err := cloud.ParseEpisodeVideoKey(c.videoPrefix, obj.Name)
	if err != nil {
		skip(err.Error())
		return
	}
	ref, err := model.ParseEpisodeRef(projectID, episodeID)
	if err != nil {
		skip(err.Error())
		return
	}

	project, err := c.projects.GetProject(ctx, ref.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		skip("unknown project")
		return
	}
	if err != nil {
		c.Fail(context, err)
		return
	}
	episode := project.Episode(ref.EpisodeID)
	if episode == nil {
		skip("unknown episode")
		return
	}
	if episode.VideoKey == obj.Name {
		// The API upload already attached this object.
		skip("already attached")
		return
	}

	updated, err := c.projects.AttachVideo(ctx, ref, c.publicURL(obj.Name), obj.Name, time.Now().UTC())
	if err != nil {
		c.Fail(context, fmt.Errorf("failed to attach %s: %w", obj.Name, err))
		return
	}
	slog.InfoContext(ctx, "episode video attached", "episode", ref.String(), "object", obj.Name)
	c.Succeed(context)
	context.Add(c.GetOutputParam(), updated)
}

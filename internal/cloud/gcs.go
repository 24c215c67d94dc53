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

// This file defines the Cloud Storage models: the JSON payload of a bucket
// notification, the lightweight object reference passed along a chain and the
// object naming scheme of episode assets.

package cloud

import (
	"fmt"
	"path"
	"strings"
)

// GetGCSObjectName returns the chain context key under which the `GCSObject`
// being processed is stored.
func GetGCSObjectName() string {
	return "__GCS__OBJ__"
}

// GCSPubSubNotification is the JSON payload of a bucket notification. Only the
// fields the ingest chain reads are mapped.
type GCSPubSubNotification struct {
	Kind        string            `json:"kind"` // "storage#object".
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Bucket      string            `json:"bucket"`
	Generation  string            `json:"generation"`
	ContentType string            `json:"contentType"`
	Size        string            `json:"size"`
	TimeCreated string            `json:"timeCreated"`
	MetaData    map[string]string `json:"metadata"`
}

// GCSObject is the part of a notification the ingest chain needs.
type GCSObject struct {
	Bucket   string
	Name     string
	MIMEType string
	Size     int64
}

// EventTypeAttribute is the Pub/Sub attribute carrying the storage event type.
const EventTypeAttribute = "eventType"

// ObjectFinalize is the event type of a newly written object.
const ObjectFinalize = "OBJECT_FINALIZE"

// EpisodeVideoKey returns the object name of an uploaded episode video:
// `<prefix>/<projectId>/episodes/<episodeId>/<file>`.
func EpisodeVideoKey(prefix, projectID, episodeID, file string) string {
	return path.Join(prefix, projectID, "episodes", episodeID, file)
}

// VoiceOverKey returns the object name of a voice-over take:
// `<prefix>/<databaseName>/<collectionName>/<file>`.
func VoiceOverKey(prefix, databaseName, collectionName, file string) string {
	return path.Join(prefix, databaseName, collectionName, file)
}

// ParseEpisodeVideoKey is the inverse of EpisodeVideoKey. It fails for any
// object outside the video prefix.
func ParseEpisodeVideoKey(prefix, name string) (projectID string, episodeID string, err error) {
	rest := strings.TrimPrefix(name, strings.TrimSuffix(prefix, "/")+"/")
	if rest == name {
		return "", "", fmt.Errorf("object %q is outside prefix %q", name, prefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[1] != "episodes" || parts[0] == "" || parts[2] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("object %q is not an episode video", name)
	}
	return parts[0], parts[2], nil
}

// PublicURL joins the public base URL (or the default GCS host) and the key.
func PublicURL(baseURL, bucket, key string) string {
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + bucket
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + key
}

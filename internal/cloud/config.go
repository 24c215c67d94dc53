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

// Package cloud provides the configuration model and the service client
// container shared by every process of the dubbing pipeline.
//
// The `Config` struct mirrors the layout of the `.env.toml` files. Each
// section is a nested struct decoded by `LoadConfig`, and the connection
// secrets can be overridden from the process environment (see utils.go).
package cloud

import "time"

// Application holds general application settings.
type Application struct {
	Name                      string `toml:"name"`                         // The name of the application, used as the telemetry service name.
	GoogleProjectId           string `toml:"google_project_id"`            // The Google Cloud project ID.
	GoogleLocation            string `toml:"location"`                     // The Google Cloud location.
	SignerServiceAccountEmail string `toml:"signer_service_account_email"` // The service account email used for signing GCS URLs.
}

// Server holds the HTTP server settings.
type Server struct {
	Port                   int      `toml:"port"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
	CORSOrigins            []string `toml:"cors_origins"` // Empty allows every origin.
	MaxUploadMB            int64    `toml:"max_upload_mb"`
}

// DocumentStore selects and configures the document store backend.
type DocumentStore struct {
	Backend               string `toml:"backend"` // "mongo" or "memory".
	URI                   string `toml:"uri"`
	Database              string `toml:"database"` // Database holding the projects and users collections.
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
}

// Storage configures object storage.
type Storage struct {
	Bucket           string `toml:"bucket"`             // The bucket holding videos, voice-over takes and derived assets.
	Endpoint         string `toml:"endpoint"`           // Optional emulator endpoint; disables authentication when set.
	PublicBaseURL    string `toml:"public_base_url"`    // Base of the public object URLs returned to clients.
	SignedURLMinutes int    `toml:"signed_url_minutes"` // Lifetime of signed GET URLs.
	VideoPrefix      string `toml:"video_prefix"`       // Object prefix of episode source videos.
	VoiceOverPrefix  string `toml:"voice_over_prefix"`  // Object prefix of voice-over recordings.
}

// Queue configures the Redis backed job queues.
type Queue struct {
	RedisURL                  string `toml:"redis_url"`
	Prefix                    string `toml:"prefix"`
	Attempts                  int    `toml:"attempts"`                    // Total attempts per job, including the first.
	BackoffSeconds            int    `toml:"backoff_seconds"`             // Base delay of the exponential retry backoff.
	CompletedRetentionCount   int    `toml:"completed_retention_count"`   // Completed jobs kept for observability.
	CompletedRetentionSeconds int    `toml:"completed_retention_seconds"` // Maximum age of kept completed jobs.
	FailedRetentionSeconds    int    `toml:"failed_retention_seconds"`    // Maximum age of kept failed jobs.
	PollIntervalMillis        int    `toml:"poll_interval_millis"`
	CleanGraceSeconds         int    `toml:"clean_grace_seconds"` // Window used by the periodic clean sweep.
	LockSeconds               int    `toml:"lock_seconds"`        // A job whose worker stops renewing its lock for this long is stalled.
}

// Auth configures session tokens.
type Auth struct {
	SessionSecret     string `toml:"session_secret"`
	SessionTTLMinutes int    `toml:"session_ttl_minutes"`
	Issuer            string `toml:"issuer"`
	CookieName        string `toml:"cookie_name"`
}

// Telemetry configures logging and OpenTelemetry export.
type Telemetry struct {
	Enabled  bool   `toml:"enabled"` // Export traces and metrics to Google Cloud.
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"` // Optional file receiving a copy of the log stream.
}

// BigQueryDataSource configures the step event audit table.
type BigQueryDataSource struct {
	DatasetName     string `toml:"dataset"`           // The name of the BigQuery dataset.
	StepEventsTable string `toml:"step_events_table"` // The table receiving one row per step execution.
}

// Enabled reports whether step events should be streamed to BigQuery.
func (b BigQueryDataSource) Enabled() bool {
	return b.DatasetName != "" && b.StepEventsTable != ""
}

// TopicSubscription configures a Pub/Sub subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`               // The name of the Pub/Sub subscription.
	DeadLetterTopic  string `toml:"dead_letter_topic"`  // The name of the dead-letter topic for the subscription.
	TimeoutInSeconds int    `toml:"timeout_in_seconds"` // The timeout for the subscription in seconds.
}

// Processor configures one external processing service.
type Processor struct {
	URL              string  `toml:"url"`
	TimeoutInSeconds int     `toml:"timeout_in_seconds"`
	RateLimit        float64 `toml:"rate_limit"` // Requests per second.
	Burst            int     `toml:"burst"`
}

// Timeout returns the configured call timeout clamped to [30s, 60m].
func (p Processor) Timeout() time.Duration {
	d := time.Duration(p.TimeoutInSeconds) * time.Second
	if d < MinProcessorTimeout {
		return MinProcessorTimeout
	}
	if d > MaxProcessorTimeout {
		return MaxProcessorTimeout
	}
	return d
}

const (
	MinProcessorTimeout = 30 * time.Second
	MaxProcessorTimeout = 60 * time.Minute
)

// Config is the root of the configuration tree.
type Config struct {
	Application        Application                  `toml:"application"`
	Server             Server                       `toml:"server"`
	DocumentStore      DocumentStore                `toml:"document_store"`
	Storage            Storage                      `toml:"storage"`
	Queue              Queue                        `toml:"queue"`
	Auth               Auth                         `toml:"auth"`
	Telemetry          Telemetry                    `toml:"telemetry"`
	BigQueryDataSource BigQueryDataSource           `toml:"big_query_data_source"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"` // Pub/Sub subscriptions keyed by a logical name (e.g., "VideoUploads").
	Processors         map[string]Processor         `toml:"processors"`          // External processors keyed by queue name (e.g., "audio-cleaner").
}

// NewConfig returns a configuration holding the built-in defaults. Values
// decoded from the TOML files and the environment replace them.
func NewConfig() *Config {
	c := &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		Processors:         make(map[string]Processor),
	}
	c.Application.Name = "dubbing-pipeline"
	c.Server.Port = 8080
	c.Server.ShutdownTimeoutSeconds = 5
	c.Server.MaxUploadMB = 512
	c.DocumentStore.Backend = "mongo"
	c.DocumentStore.URI = "mongodb://localhost:27017"
	c.DocumentStore.Database = "dubbing"
	c.DocumentStore.ConnectTimeoutSeconds = 10
	c.Storage.SignedURLMinutes = 15
	c.Storage.VideoPrefix = "projects"
	c.Storage.VoiceOverPrefix = "voice-over"
	c.Queue.RedisURL = "redis://localhost:6379/0"
	c.Queue.Prefix = "dub"
	c.Queue.Attempts = 3
	c.Queue.BackoffSeconds = 5
	c.Queue.CompletedRetentionCount = 100
	c.Queue.CompletedRetentionSeconds = 3600
	c.Queue.FailedRetentionSeconds = 24 * 3600
	c.Queue.PollIntervalMillis = 1000
	c.Queue.CleanGraceSeconds = 24 * 3600
	c.Queue.LockSeconds = 30
	c.Auth.SessionTTLMinutes = 12 * 60
	c.Auth.Issuer = "dubbing-pipeline"
	c.Auth.CookieName = "dub_session"
	c.Telemetry.LogLevel = "info"
	return c
}

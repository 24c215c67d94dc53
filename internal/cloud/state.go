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

// This file is responsible for initializing and holding every client the
// pipeline needs to talk to its backing services. It acts as a dependency
// injection container: `NewCloudServiceClients` is called once at process
// start and the resulting `ServiceClients` is handed to the services, the
// workers and the API handlers. Nothing else opens a connection.
//
// Logic Flow:
//  1. The document store is opened (MongoDB, or the in-memory store).
//  2. The Redis client backing the job queues is created and pinged.
//  3. The Cloud Storage client is created, pointed at an emulator when
//     `storage.endpoint` is set.
//  4. Optional clients are created only when configured: IAM credentials for
//     URL signing, BigQuery for the step audit table and Pub/Sub for the
//     upload notification listeners.
//  5. One rate-limited processor client is built per `[processors.<queue>]`.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store/memstore"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store/mongostore"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
)

// ServiceClients is the central container for the connections shared by the
// whole process.
type ServiceClients struct {
	Store           store.Store                       // Projects, dialogues and users.
	RedisClient     *redis.Client                     // Backing store of the job queues.
	StorageClient   *storage.Client                   // Client for Google Cloud Storage (GCS).
	IAMClient       *credentials.IamCredentialsClient // Signs GCS URLs when a signer service account is configured; may be nil.
	BigQueryClient  *bigquery.Client                  // Step event audit sink; may be nil.
	PubsubClient    *pubsub.Client                    // Upload notifications; may be nil.
	PubSubListeners map[string]*PubSubListener        // Active Pub/Sub listeners, keyed by a logical name from the config.
	Processors      map[string]*QuotaAwareProcessor   // External processors keyed by queue name.
}

// Close releases every client. Nil clients are skipped so a partially
// initialized container can be closed after a startup failure.
func (c *ServiceClients) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c.Store != nil {
		_ = c.Store.Close(ctx)
	}
	if c.RedisClient != nil {
		_ = c.RedisClient.Close()
	}
	if c.StorageClient != nil {
		_ = c.StorageClient.Close()
	}
	if c.IAMClient != nil {
		_ = c.IAMClient.Close()
	}
	if c.BigQueryClient != nil {
		_ = c.BigQueryClient.Close()
	}
	if c.PubsubClient != nil {
		_ = c.PubsubClient.Close()
	}
}

// NewCloudServiceClients initializes every client required by the
// configuration.
//
// Inputs:
//   - ctx: The root context.Context of the process.
//   - config: The loaded application configuration.
//
// Outputs:
//   - *ServiceClients: The initialized container.
//   - error: The first client that failed to initialize. Clients created
//     before the failure are closed.
func NewCloudServiceClients(ctx context.Context, config *Config) (_ *ServiceClients, err error) {
	clients := &ServiceClients{
		PubSubListeners: make(map[string]*PubSubListener),
		Processors:      make(map[string]*QuotaAwareProcessor),
	}
	defer func() {
		if err != nil {
			clients.Close()
		}
	}()

	if clients.Store, err = NewDocumentStore(ctx, config.DocumentStore); err != nil {
		return nil, err
	}

	redisOptions, err := redis.ParseURL(config.Queue.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	clients.RedisClient = redis.NewClient(redisOptions)
	if err = clients.RedisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	if clients.StorageClient, err = storage.NewClient(ctx, StorageOptions(config.Storage)...); err != nil {
		return nil, err
	}

	if config.Application.SignerServiceAccountEmail != "" {
		if clients.IAMClient, err = credentials.NewIamCredentialsClient(ctx); err != nil {
			return nil, err
		}
	}

	if config.BigQueryDataSource.Enabled() {
		if clients.BigQueryClient, err = bigquery.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
			return nil, err
		}
	}

	if len(config.TopicSubscriptions) > 0 {
		if config.Application.GoogleProjectId == "" {
			return nil, errors.New("topic subscriptions require application.google_project_id")
		}
		if clients.PubsubClient, err = pubsub.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
			return nil, err
		}
		// The command is attached later, once the workflows are built.
		for subKey, values := range config.TopicSubscriptions {
			listener, lerr := NewPubSubListener(clients.PubsubClient, values.Name, nil)
			if lerr != nil {
				return nil, lerr
			}
			clients.PubSubListeners[subKey] = listener
		}
	}

	for queueName, values := range config.Processors {
		clients.Processors[queueName] = NewQuotaAwareProcessor(queueName, values)
	}

	slog.Info("service clients initialized",
		"document_store", config.DocumentStore.Backend,
		"iam", clients.IAMClient != nil,
		"bigquery", clients.BigQueryClient != nil,
		"listeners", len(clients.PubSubListeners),
		"processors", len(clients.Processors))
	return clients, nil
}

// NewDocumentStore opens the configured document store backend.
func NewDocumentStore(ctx context.Context, config DocumentStore) (store.Store, error) {
	switch config.Backend {
	case "memory":
		slog.Warn("using the in-memory document store, data is lost on exit")
		return memstore.New(), nil
	case "mongo", "":
		timeout := time.Duration(config.ConnectTimeoutSeconds) * time.Second
		client, err := mongostore.Connect(ctx, config.URI, timeout)
		if err != nil {
			return nil, err
		}
		s := mongostore.New(client, config.Database)
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown document store backend %q", config.Backend)
	}
}

// StorageOptions returns the client options for the configured storage
// endpoint. An emulator endpoint is used without authentication.
func StorageOptions(config Storage) []option.ClientOption {
	if config.Endpoint == "" {
		return nil
	}
	return []option.ClientOption{option.WithEndpoint(config.Endpoint), option.WithoutAuthentication()}
}

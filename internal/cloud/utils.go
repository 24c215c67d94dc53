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

// This file implements the hierarchical configuration loader.
//
// Logic Flow:
//  1. `.env` (if present) is loaded into the process environment with godotenv.
//     Variables that are already set are never overwritten.
//  2. `<GCP_CONFIG_PREFIX>/.env.toml` is decoded over the defaults.
//  3. `<GCP_CONFIG_PREFIX>/.env.<GCP_RUNTIME>.toml` is decoded over the result.
//  4. Connection secrets are read from well-known environment variables.

package cloud

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	ConfigFileBaseName  = ".env"              // The base name for configuration files (e.g., ".env.toml").
	ConfigFileExtension = ".toml"             // The file extension for configuration files.
	ConfigSeparator     = "."                 // The separator used in config file names (e.g., ".env.local.toml").
	EnvConfigFilePrefix = "GCP_CONFIG_PREFIX" // The environment variable for specifying the config directory.
	EnvConfigRuntime    = "GCP_RUNTIME"       // The environment variable for specifying the runtime context (e.g., "local", "test", "prod").
	DotEnvFile          = ".env"              // Optional KEY=VALUE file loaded before the TOML files.
)

// Environment variables that override the TOML values.
const (
	EnvMongoURI        = "MONGODB_URI"
	EnvMongoDatabase   = "MONGODB_DATABASE"
	EnvStoreBackend    = "DOCUMENT_STORE"
	EnvRedisURL        = "REDIS_URL"
	EnvStorageBucket   = "STORAGE_BUCKET"
	EnvStorageEndpoint = "STORAGE_ENDPOINT"
	EnvGoogleProject   = "GOOGLE_CLOUD_PROJECT"
	EnvSessionSecret   = "SESSION_SECRET"
	EnvPort            = "PORT"
)

// fileExists checks whether a file or directory exists at the given path.
func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// LoadConfig populates baseConfig from the `.env` file, the base TOML file,
// the runtime TOML file and finally the environment.
//
// Inputs:
//   - baseConfig: a *Config already holding defaults (see NewConfig).
//
// Outputs:
//   - error: a decode failure of either TOML file.
func LoadConfig(baseConfig *Config) error {
	if fileExists(DotEnvFile) {
		if err := godotenv.Load(DotEnvFile); err != nil {
			slog.Warn("failed to load .env file", "error", err)
		}
	}

	configurationFilePrefix := os.Getenv(EnvConfigFilePrefix)
	if len(configurationFilePrefix) > 0 && !strings.HasSuffix(configurationFilePrefix, string(os.PathSeparator)) {
		configurationFilePrefix = configurationFilePrefix + string(os.PathSeparator)
	}

	runtimeEnvironment := os.Getenv(EnvConfigRuntime)
	if runtimeEnvironment == "" {
		runtimeEnvironment = "test"
	}

	baseConfigFileName := configurationFilePrefix + ConfigFileBaseName + ConfigFileExtension
	envConfigFileName := configurationFilePrefix + ConfigFileBaseName + ConfigSeparator + runtimeEnvironment + ConfigFileExtension

	if fileExists(baseConfigFileName) {
		if _, err := toml.DecodeFile(baseConfigFileName, baseConfig); err != nil {
			return fmt.Errorf("failed to decode base configuration file %s: %w", baseConfigFileName, err)
		}
	}
	if fileExists(envConfigFileName) {
		if _, err := toml.DecodeFile(envConfigFileName, baseConfig); err != nil {
			return fmt.Errorf("failed to decode environment configuration file %s: %w", envConfigFileName, err)
		}
	}
	slog.Info("configuration loaded",
		"base_file", baseConfigFileName,
		"runtime_file", envConfigFileName,
		"runtime", runtimeEnvironment)

	ApplyEnvironment(baseConfig, os.LookupEnv)
	return nil
}

// ApplyEnvironment copies the connection settings found in the environment
// onto the configuration. The lookup function is injectable for tests.
func ApplyEnvironment(c *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvMongoURI, &c.DocumentStore.URI)
	set(EnvMongoDatabase, &c.DocumentStore.Database)
	set(EnvStoreBackend, &c.DocumentStore.Backend)
	set(EnvRedisURL, &c.Queue.RedisURL)
	set(EnvStorageBucket, &c.Storage.Bucket)
	set(EnvStorageEndpoint, &c.Storage.Endpoint)
	set(EnvGoogleProject, &c.Application.GoogleProjectId)
	set(EnvSessionSecret, &c.Auth.SessionSecret)
	if v, ok := lookup(EnvPort); ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		} else {
			slog.Warn("ignoring invalid port", "value", v)
		}
	}
}

// Validate checks the settings every process needs.
func (c *Config) Validate() error {
	var errs []error
	switch c.DocumentStore.Backend {
	case "mongo":
		if c.DocumentStore.URI == "" || c.DocumentStore.Database == "" {
			errs = append(errs, errors.New("document_store.uri and document_store.database are required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown document store backend %q", c.DocumentStore.Backend))
	}
	if c.Queue.RedisURL == "" {
		errs = append(errs, errors.New("queue.redis_url is required"))
	}
	if len(c.Auth.SessionSecret) < 16 {
		errs = append(errs, errors.New("auth.session_secret must be at least 16 characters"))
	}
	for name, p := range c.Processors {
		if p.URL == "" {
			errs = append(errs, fmt.Errorf("processors.%s.url is required", name))
		}
	}
	return errors.Join(errs...)
}

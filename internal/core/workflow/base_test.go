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

// Package workflow_test runs the workflows end to end against miniredis, an
// in-memory document store and HTTP processors served by httptest.
package workflow_test

import (
	"os"
	"testing"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/telemetry"
	test "github.com/jaycherian/gcp-go-dubbing-pipeline/internal/testutil"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const tName = "dubbing-pipeline/tests/workflow"

var (
	tracer = otel.Tracer(tName)
	logger = otelslog.NewLogger(tName)
)

func TestMain(m *testing.M) {
	config := test.GetConfig()
	config.Telemetry.LogLevel = "warn"
	closeLog, err := telemetry.SetupLogging(config.Telemetry)
	if err != nil {
		panic(err)
	}
	code := m.Run()
	_ = closeLog()
	os.Exit(code)
}

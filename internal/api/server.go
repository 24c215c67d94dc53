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

// Package api contains the HTTP routes of the dubbing pipeline. Handlers are
// thin: they bind the request, call one service method with the session of
// the caller and map the returned error class to a status code. Every access
// decision is made by the services.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/auth"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Handlers holds the services behind the routes.
type Handlers struct {
	Users     *services.UserService
	Projects  *services.ProjectService
	Pipeline  *services.PipelineService
	Dialogues *services.DialogueService
	Voices    *services.VoiceService
	Videos    *services.VideoService
	Stats     *services.StatsService
	Queues    *services.MaintenanceService

	CookieName     string
	MaxUploadBytes int64
}

// NewHandlers builds the services from the initialized clients.
//
// Inputs:
//   - lifetime: The root context of the server process.
//   - config: The loaded configuration.
//   - clients: The initialized service clients.
//   - sessions: Issues and verifies session tokens.
//   - pipeline: The pipeline service publishing to the step queues.
//   - stats: The dashboard counters.
//   - cleaner: Cleans every queue; it runs on lifetime, not on the request.
func NewHandlers(
	lifetime context.Context,
	config *cloud.Config,
	clients *cloud.ServiceClients,
	sessions *auth.Manager,
	pipeline *services.PipelineService,
	stats *services.StatsService,
	cleaner services.Cleaner) *Handlers {

	media := services.NewMediaService(clients, config)
	return &Handlers{
		Users:          services.NewUserService(clients.Store, sessions),
		Projects:       services.NewProjectService(clients.Store),
		Pipeline:       pipeline,
		Dialogues:      services.NewDialogueService(clients.Store, media, config.Storage.VoiceOverPrefix),
		Voices:         services.NewVoiceService(clients.Store),
		Videos:         services.NewVideoService(clients.Store, media, config.Storage.VideoPrefix),
		Stats:          stats,
		CookieName:     config.Auth.CookieName,
		MaxUploadBytes: config.Server.MaxUploadMB << 20,
		Queues: &services.MaintenanceService{
			Clean:    cleaner,
			Lifetime: lifetime,
			Grace:    time.Duration(config.Queue.CleanGraceSeconds) * time.Second,
		},
	}
}

// corsConfig allows the configured origins, or every origin when none is set.
func corsConfig(origins []string) cors.Config {
	out := cors.DefaultConfig()
	out.AllowHeaders = append(out.AllowHeaders, "Authorization")
	if len(origins) == 0 {
		out.AllowAllOrigins = true
		return out
	}
	out.AllowOrigins = origins
	out.AllowCredentials = true
	return out
}

// NewRouter registers every route on a new gin engine.
func NewRouter(serviceName string, corsOrigins []string, h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(cors.New(corsConfig(corsOrigins)))
	r.MaxMultipartMemory = 32 << 20

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api")
	apiGroup.Use(sessionMiddleware(h.Users, h.CookieName))
	{
		AuthRouter(apiGroup, h)
		ProjectRouter(apiGroup, h)
		DialogueRouter(apiGroup, h)
		AdminRouter(apiGroup, h)
		Dashboard(apiGroup, h)
	}
	return r
}

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

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
)

// AdminRouter sets up the project administration and user management routes.
// The services reject every role but admin.
func AdminRouter(r *gin.RouterGroup, h *Handlers) {
	admin := r.Group("/admin")
	{
		admin.POST("/projects", func(c *gin.Context) {
			var req model.CreateProjectRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			out, err := h.Projects.Create(c.Request.Context(), sessionOf(c), &req)
			if err != nil {
				writeError(c, err)
				return
			}
			succeed(c, http.StatusCreated, "project created", gin.H{"project": out})
		})

		admin.PATCH("/projects/:id", func(c *gin.Context) {
			var req model.UpdateProjectRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			out, err := h.Projects.Update(c.Request.Context(), sessionOf(c), c.Param("id"), &req)
			if err != nil {
				writeError(c, err)
				return
			}
			succeed(c, http.StatusOK, "project updated", gin.H{"project": out})
		})

		admin.PUT("/projects/:id/assignments", func(c *gin.Context) {
			var req model.AssignmentsRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			out, err := h.Projects.SetAssignments(c.Request.Context(), sessionOf(c), c.Param("id"), &req)
			if err != nil {
				writeError(c, err)
				return
			}
			succeed(c, http.StatusOK, "assignments saved", gin.H{"project": out})
		})

		admin.POST("/projects/:id/episodes", func(c *gin.Context) {
			var req model.CreateEpisodeRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			out, err := h.Projects.AddEpisode(c.Request.Context(), sessionOf(c), c.Param("id"), &req)
			if err != nil {
				writeError(c, err)
				return
			}
			succeed(c, http.StatusCreated, "episode created", gin.H{"episode": out})
		})

		admin.POST("/projects/:id/episodes/:episodeId/video", func(c *gin.Context) {
			file, closeFile, ok := formFile(c, h.MaxUploadBytes, "file")
			if !ok {
				return
			}
			defer closeFile()
			result, episode, err := h.Videos.Upload(c.Request.Context(), sessionOf(c), c.Param("id"), c.Param("episodeId"), file)
			if err != nil {
				writeError(c, err)
				return
			}
			succeed(c, http.StatusOK, "video uploaded", gin.H{"url": result.URL, "key": result.Key, "episode": episode})
		})

		admin.POST("/users", func(c *gin.Context) {
			var req model.CreateUserRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			out, err := h.Users.Create(c.Request.Context(), sessionOf(c), &req, false)
			if err != nil {
				writeError(c, err)
				return
			}
			succeed(c, http.StatusCreated, "user created", gin.H{"user": out})
		})
	}
}

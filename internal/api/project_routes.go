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

// ProjectRouter sets up the project, episode, voice and step routes used by
// every role.
func ProjectRouter(r *gin.RouterGroup, h *Handlers) {
	projects := r.Group("/projects")
	{
		projects.GET("", func(c *gin.Context) {
			out, err := h.Projects.List(c.Request.Context(), sessionOf(c))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"projects": out})
		})

		projects.GET("/:id", func(c *gin.Context) {
			out, err := h.Projects.Get(c.Request.Context(), sessionOf(c), c.Param("id"))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		episode := projects.Group("/:id/episodes/:episodeId")
		{
			episode.GET("", func(c *gin.Context) {
				out, err := h.Projects.GetEpisode(c.Request.Context(), sessionOf(c), c.Param("id"), c.Param("episodeId"))
				if err != nil {
					writeError(c, err)
					return
				}
				c.JSON(http.StatusOK, out)
			})

			// Signed URL of an object the episode references, e.g. ?key=<finalVideoKey>.
			episode.GET("/media", func(c *gin.Context) {
				url, err := h.Videos.AssetURL(c.Request.Context(), sessionOf(c), c.Param("id"), c.Param("episodeId"), c.Query("key"))
				if err != nil {
					writeError(c, err)
					return
				}
				c.JSON(http.StatusOK, gin.H{"url": url})
			})

			episode.GET("/voices", func(c *gin.Context) {
				out, err := h.Voices.Get(c.Request.Context(), sessionOf(c), c.Param("id"), c.Param("episodeId"))
				if err != nil {
					writeError(c, err)
					return
				}
				c.JSON(http.StatusOK, out)
			})

			episode.PUT("/voices", func(c *gin.Context) {
				var req model.VoiceAssignmentRequest
				if err := c.ShouldBindJSON(&req); err != nil {
					badRequest(c, err)
					return
				}
				out, err := h.Voices.Set(c.Request.Context(), sessionOf(c), c.Param("id"), c.Param("episodeId"), &req)
				if err != nil {
					writeError(c, err)
					return
				}
				succeed(c, http.StatusOK, "voice assignments saved", gin.H{"voices": out})
			})

			episode.POST("/steps/:step", func(c *gin.Context) {
				var req model.StepTriggerRequest
				if c.Request.ContentLength != 0 {
					if err := c.ShouldBindJSON(&req); err != nil {
						badRequest(c, err)
						return
					}
				}
				res, err := h.Pipeline.Trigger(c.Request.Context(), sessionOf(c), c.Param("id"), c.Param("episodeId"), c.Param("step"), req.Params)
				if err != nil {
					writeError(c, err)
					return
				}
				succeed(c, http.StatusAccepted, "step queued", gin.H{"jobId": res.JobID, "step": res.Step, "episode": res.Episode})
			})

			episode.POST("/steps/:step/complete", func(c *gin.Context) {
				var req model.StepCompleteRequest
				if c.Request.ContentLength != 0 {
					if err := c.ShouldBindJSON(&req); err != nil {
						badRequest(c, err)
						return
					}
				}
				out, err := h.Pipeline.CompleteManualStep(c.Request.Context(), sessionOf(c), c.Param("id"), c.Param("episodeId"), c.Param("step"), &req)
				if err != nil {
					writeError(c, err)
					return
				}
				succeed(c, http.StatusOK, "step completed", gin.H{"episode": out})
			})
		}
	}
}

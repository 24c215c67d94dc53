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
	"time"

	"github.com/gin-gonic/gin"
)

// cleanRequest is the optional body of a queue clean.
type cleanRequest struct {
	GraceSeconds int64 `json:"graceSeconds"`
}

// Dashboard sets up the admin statistics and queue maintenance routes.
//
// Routes:
//   - GET /stats: job counts of every queue and episode counts by status.
//   - POST /admin/queue/clean: removes old completed and failed jobs. The
//     clean runs in the background and the call returns 202 at once.
func Dashboard(r *gin.RouterGroup, h *Handlers) {
	stats := r.Group("/stats")
	{
		stats.GET("", func(c *gin.Context) {
			out, err := h.Stats.Get(c.Request.Context(), sessionOf(c))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})
	}

	r.POST("/admin/queue/clean", func(c *gin.Context) {
		var req cleanRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
		}
		if err := h.Queues.StartClean(sessionOf(c), time.Duration(req.GraceSeconds)*time.Second); err != nil {
			writeError(c, err)
			return
		}
		succeed(c, http.StatusAccepted, "queue clean started", nil)
	})
}

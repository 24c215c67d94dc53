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
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
)

// AuthRouter sets up login, logout and the session probe.
func AuthRouter(r *gin.RouterGroup, h *Handlers) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", func(c *gin.Context) {
			var req model.LoginRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			res, err := h.Users.Login(c.Request.Context(), &req)
			if err != nil {
				writeError(c, err)
				return
			}
			if h.CookieName != "" {
				c.SetSameSite(http.SameSiteLaxMode)
				c.SetCookie(h.CookieName, res.Token, int(time.Until(res.ExpiresAt).Seconds()), "/", "", c.Request.TLS != nil, true)
			}
			succeed(c, http.StatusOK, "logged in", gin.H{"token": res.Token, "expiresAt": res.ExpiresAt, "session": res.Session})
		})

		authGroup.POST("/logout", func(c *gin.Context) {
			if h.CookieName != "" {
				c.SetCookie(h.CookieName, "", -1, "/", "", c.Request.TLS != nil, true)
			}
			succeed(c, http.StatusOK, "logged out", nil)
		})

		authGroup.GET("/session", func(c *gin.Context) {
			session := sessionOf(c)
			if session == nil {
				writeError(c, services.ErrUnauthenticated)
				return
			}
			c.JSON(http.StatusOK, gin.H{"session": session})
		})
	}
}

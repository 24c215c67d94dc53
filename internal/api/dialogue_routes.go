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
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
)

func dialogueScope(c *gin.Context) services.DialogueScope {
	return services.DialogueScope{
		Role:           c.Param("role"),
		DatabaseName:   c.Query("databaseName"),
		CollectionName: c.Query("collectionName"),
	}
}

// DialogueRouter sets up the per-role dialogue views and the voice-over
// upload. The role segment names the view (transcriber, translator,
// director, senior-director, voice-over or admin).
func DialogueRouter(r *gin.RouterGroup, h *Handlers) {
	dialogues := r.Group("/:role/dialogues")
	{
		dialogues.GET("", func(c *gin.Context) {
			out, err := h.Dialogues.List(c.Request.Context(), sessionOf(c), dialogueScope(c))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"dialogues": out})
		})

		dialogues.GET("/:dialogueId", func(c *gin.Context) {
			out, err := h.Dialogues.Get(c.Request.Context(), sessionOf(c), dialogueScope(c), c.Param("dialogueId"))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		dialogues.PATCH("/:dialogueId", func(c *gin.Context) {
			var changes map[string]interface{}
			if err := c.ShouldBindJSON(&changes); err != nil {
				badRequest(c, err)
				return
			}
			out, err := h.Dialogues.Update(c.Request.Context(), sessionOf(c), dialogueScope(c), c.Param("dialogueId"), changes)
			if err != nil {
				writeError(c, err)
				return
			}
			succeed(c, http.StatusOK, "dialogue updated", gin.H{"dialogue": out})
		})
	}

	r.POST("/voice-over/upload", func(c *gin.Context) {
		file, closeFile, ok := formFile(c, h.MaxUploadBytes, "audio", "file")
		if !ok {
			return
		}
		defer closeFile()
		result, dialogue, err := h.Dialogues.UploadVoiceOver(c.Request.Context(), sessionOf(c), &services.VoiceOverUpload{
			DatabaseName:   c.PostForm("databaseName"),
			CollectionName: c.PostForm("collectionName"),
			DialogueID:     c.PostForm("dialogueId"),
			File:           file,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		succeed(c, http.StatusOK, "voice over uploaded", gin.H{"url": result.URL, "key": result.Key, "dialogue": dialogue})
	})
}

// formFile opens the first of the named parts of a multipart upload no
// larger than limit. On failure the response is written and ok is false.
func formFile(c *gin.Context, limit int64, fields ...string) (file io.Reader, closeFile func(), ok bool) {
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	var (
		header *multipart.FileHeader
		err    error
	)
	for _, field := range fields {
		if header, err = c.FormFile(field); err == nil {
			break
		}
	}
	if header == nil {
		badRequest(c, fmt.Errorf("%s is required: %w", fields[0], err))
		return nil, nil, false
	}
	f, err := header.Open()
	if err != nil {
		badRequest(c, err)
		return nil, nil, false
	}
	return f, func() { _ = f.Close() }, true
}

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

package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/auth"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
)

// QueueStatter reports job counts. *queue.Queue implements it.
type QueueStatter interface {
	Stats(ctx context.Context) (model.QueueStats, error)
}

// Stats is the admin dashboard summary.
type Stats struct {
	Queues   []model.QueueStats            `json:"queues"`
	Episodes map[model.EpisodeStatus]int64 `json:"episodes"`
}

// StatsService gathers the dashboard counters.
type StatsService struct {
	Projects store.ProjectStore
	Queues   []QueueStatter
}

// Get returns queue and episode counters. Admin only.
func (s *StatsService) Get(ctx context.Context, session *auth.Session) (*Stats, error) {
	if err := requireRole(session, model.RoleAdmin); err != nil {
		return nil, err
	}
	out := &Stats{Queues: make([]model.QueueStats, 0, len(s.Queues))}
	for _, q := range s.Queues {
		st, err := q.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read queue stats: %w", err)
		}
		out.Queues = append(out.Queues, st)
	}
	episodes, err := s.Projects.CountEpisodesByStatus(ctx)
	if err != nil {
		return nil, translate(err, "episode counts")
	}
	out.Episodes = episodes
	return out, nil
}

// Cleaner removes finished jobs older than grace from every queue.
type Cleaner func(ctx context.Context, grace time.Duration) (int64, error)

// MaintenanceService runs admin housekeeping in the background.
type MaintenanceService struct {
	Clean    Cleaner
	Lifetime context.Context // Outlives the request that starts the work.
	Grace    time.Duration   // Used when the caller gives none.
	wg       sync.WaitGroup
}

// StartClean launches a clean of every queue and returns at once. Admin only.
func (s *MaintenanceService) StartClean(session *auth.Session, grace time.Duration) error {
	if err := requireRole(session, model.RoleAdmin); err != nil {
		return err
	}
	if grace < 0 {
		return validationf("grace must not be negative")
	}
	if grace == 0 {
		grace = s.Grace
	}
	ctx := s.Lifetime
	if ctx == nil {
		ctx = context.Background()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		removed, err := s.Clean(ctx, grace)
		if err != nil {
			slog.ErrorContext(ctx, "queue clean failed", "requested_by", session.Username, "removed", removed, "error", err)
			return
		}
		slog.InfoContext(ctx, "queue clean finished", "requested_by", session.Username, "removed", removed, "grace", grace)
	}()
	return nil
}

// Wait blocks until every started clean has returned.
func (s *MaintenanceService) Wait() {
	s.wg.Wait()
}

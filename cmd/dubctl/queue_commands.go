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

package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/queue"
	"github.com/spf13/cobra"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the step queues",
	}
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueCleanCommand(ctx))
	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			queues, err := ctx.stepQueues(cmd.Context())
			if err != nil {
				return err
			}
			headers := []string{"Queue", "Waiting", "Active", "Delayed", "Completed", "Failed"}
			rows := make([][]string, 0, len(queues))
			for _, q := range queues {
				s, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows = append(rows, []string{s.Queue, count(s.Waiting), count(s.Active), count(s.Delayed), count(s.Completed), count(s.Failed)})
			}
			aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}
}

func count(n int64) string {
	return strconv.FormatInt(n, 10)
}

func newQueueCleanCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove completed and failed jobs older than the grace period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if grace < 0 {
				return errors.New("grace must not be negative")
			}
			config, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if grace == 0 {
				grace = time.Duration(config.Queue.CleanGraceSeconds) * time.Second
			}
			queues, err := ctx.stepQueues(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := queue.Sweep(cmd.Context(), grace, queues...)
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d jobs older than %s\n", removed, grace)
			return err
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 0, "Minimum age of removed jobs (defaults to queue.clean_grace_seconds)")
	return cmd
}

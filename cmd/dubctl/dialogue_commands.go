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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newDialoguesCommand(ctx *commandContext) *cobra.Command {
	dialoguesCmd := &cobra.Command{
		Use:   "dialogues",
		Short: "Manage episode dialogue collections",
	}
	dialoguesCmd.AddCommand(newDialoguesImportCommand(ctx))
	return dialoguesCmd
}

func newDialoguesImportCommand(ctx *commandContext) *cobra.Command {
	var (
		database   string
		collection string
		file       string
		example    bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Insert dialogue lines into an episode collection",
		Long:  "Insert dialogue lines read from a JSON array file, or the built-in sample scene with --example.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" && example {
				return errors.New("--file and --example are mutually exclusive")
			}
			if file == "" && !example {
				return errors.New("one of --file or --example is required")
			}
			var dialogues []*model.Dialogue
			if example {
				dialogues = model.GetExampleDialogues()
			} else {
				loaded, err := readDialogues(file)
				if err != nil {
					return err
				}
				dialogues = loaded
			}
			s, err := ctx.documentStore(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := s.FindProjectByCollection(cmd.Context(), database, collection); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: no episode uses %s/%s: %v\n", database, collection, err)
			}
			n, err := s.InsertDialogues(cmd.Context(), database, collection, dialogues)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d dialogues into %s/%s\n", n, database, collection)
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "Project database name")
	cmd.Flags().StringVar(&collection, "collection", "", "Episode collection name")
	cmd.Flags().StringVar(&file, "file", "", "JSON file holding an array of dialogues")
	cmd.Flags().BoolVar(&example, "example", false, "Import the built-in sample scene")
	_ = cmd.MarkFlagRequired("database")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

// readDialogues decodes a dialogue array and fills the fields a transcript
// export usually leaves out.
func readDialogues(path string) ([]*model.Dialogue, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var dialogues []*model.Dialogue
	if err := json.Unmarshal(raw, &dialogues); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if len(dialogues) == 0 {
		return nil, fmt.Errorf("%s holds no dialogues", path)
	}
	now := time.Now().UTC()
	for i, d := range dialogues {
		if d == nil {
			return nil, fmt.Errorf("%s: entry %d is null", path, i)
		}
		if d.ID.IsZero() {
			d.ID = primitive.NewObjectID()
		}
		if d.Index == 0 {
			d.Index = i + 1
		}
		if d.Status == "" {
			d.Status = model.DialoguePending
		}
		if d.UpdatedAt.IsZero() {
			d.UpdatedAt = now
		}
	}
	return dialogues, nil
}

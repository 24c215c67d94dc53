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

// This file builds the filter and update documents for the episode step
// transitions. Each transition matches the project by `_id` and the embedded
// episode through `$elemMatch`, so the precondition and the write are evaluated
// by the server as a single-document operation. Updates address the matched
// episode with the positional `$` operator.

package mongostore

import (
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const episodePath = "episodes.$."

func stepField(step model.StepName, field string) string {
	return "steps." + string(step) + "." + field
}

// episodeMatch builds the `$elemMatch` document for one episode with extra
// conditions on its fields.
func episodeMatch(episodeID primitive.ObjectID, requires []model.StepName, extra bson.D) bson.D {
	elem := bson.D{{Key: "_id", Value: episodeID}}
	for _, r := range requires {
		elem = append(elem, bson.E{Key: stepField(r, "status"), Value: string(model.StepCompleted)})
	}
	elem = append(elem, extra...)
	return bson.D{
		{Key: "episodes", Value: bson.D{{Key: "$elemMatch", Value: elem}}},
	}
}

func projectAndEpisode(ref model.EpisodeRef, requires []model.StepName, extra bson.D) bson.D {
	return append(bson.D{{Key: "_id", Value: ref.ProjectID}}, episodeMatch(ref.EpisodeID, requires, extra)...)
}

// claimFilter matches the episode only when every predecessor is completed and
// the step itself is in a claimable state.
func claimFilter(spec store.ClaimSpec) bson.D {
	var cond bson.E
	switch spec.Mode {
	case store.ClaimResume:
		cond = bson.E{Key: stepField(spec.Step, "status"), Value: bson.D{
			{Key: "$in", Value: bson.A{string(model.StepProcessing), string(model.StepError)}},
		}}
	default:
		cond = bson.E{Key: stepField(spec.Step, "status"), Value: bson.D{
			{Key: "$ne", Value: string(model.StepProcessing)},
		}}
	}
	return projectAndEpisode(spec.Ref, spec.Requires, bson.D{cond})
}

func claimUpdate(spec store.ClaimSpec) bson.D {
	set := bson.D{
		{Key: episodePath + stepField(spec.Step, "status"), Value: string(model.StepProcessing)},
		{Key: episodePath + stepField(spec.Step, "startedAt"), Value: spec.Now},
		{Key: episodePath + "updatedAt", Value: spec.Now},
		{Key: "updatedAt", Value: spec.Now},
	}
	if spec.EpisodeStatus != "" {
		set = append(set, bson.E{Key: episodePath + "status", Value: string(spec.EpisodeStatus)})
	}
	update := bson.D{
		{Key: "$unset", Value: bson.D{
			{Key: episodePath + stepField(spec.Step, "error"), Value: ""},
			{Key: episodePath + "errorDetail", Value: ""},
		}},
	}
	if spec.Mode == store.ClaimResume {
		update = append(update, bson.E{Key: "$inc", Value: bson.D{{Key: episodePath + stepField(spec.Step, "attempts"), Value: 1}}})
	} else {
		set = append(set, bson.E{Key: episodePath + stepField(spec.Step, "attempts"), Value: 0})
	}
	return append(bson.D{{Key: "$set", Value: set}}, update...)
}

func completionFilter(spec store.CompletionSpec) bson.D {
	return projectAndEpisode(spec.Ref, spec.Requires, stepStatusIn(spec.Step, spec.FromStatuses))
}

// stepStatusIn restricts the current status of step, or matches anything
// when statuses is empty.
func stepStatusIn(step model.StepName, statuses []model.StepStatus) bson.D {
	if len(statuses) == 0 {
		return nil
	}
	in := bson.A{}
	for _, s := range statuses {
		in = append(in, string(s))
	}
	return bson.D{{Key: stepField(step, "status"), Value: bson.D{{Key: "$in", Value: in}}}}
}

func failureFilter(spec store.FailureSpec) bson.D {
	return projectAndEpisode(spec.Ref, nil, stepStatusIn(spec.Step, spec.FromStatuses))
}

func completionUpdate(spec store.CompletionSpec) bson.D {
	set := bson.D{
		{Key: episodePath + stepField(spec.Step, "status"), Value: string(model.StepCompleted)},
		{Key: episodePath + stepField(spec.Step, "completedAt"), Value: spec.Now},
		{Key: episodePath + "updatedAt", Value: spec.Now},
		{Key: "updatedAt", Value: spec.Now},
	}
	for k, v := range spec.Result {
		if model.IsReservedStepField(k) {
			continue
		}
		set = append(set, bson.E{Key: episodePath + stepField(spec.Step, k), Value: v})
	}
	if spec.EpisodeStatus != "" {
		set = append(set, bson.E{Key: episodePath + "status", Value: string(spec.EpisodeStatus)})
	}
	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$unset", Value: bson.D{
			{Key: episodePath + stepField(spec.Step, "error"), Value: ""},
			{Key: episodePath + "errorDetail", Value: ""},
		}},
	}
	if spec.Pointer > 0 {
		update = append(update, bson.E{Key: "$max", Value: bson.D{{Key: episodePath + "step", Value: spec.Pointer}}})
	}
	return update
}

func failureUpdate(spec store.FailureSpec) bson.D {
	return bson.D{{Key: "$set", Value: bson.D{
		{Key: episodePath + stepField(spec.Step, "status"), Value: string(model.StepError)},
		{Key: episodePath + stepField(spec.Step, "error"), Value: spec.Message},
		{Key: episodePath + "status", Value: string(model.EpisodeError)},
		{Key: episodePath + "errorDetail", Value: spec.Message},
		{Key: episodePath + "updatedAt", Value: spec.Now},
		{Key: "updatedAt", Value: spec.Now},
	}}}
}

// projectFilter translates a ProjectFilter into a query document.
func projectFilter(f store.ProjectFilter) bson.D {
	out := bson.D{}
	if f.Status != "" {
		out = append(out, bson.E{Key: "status", Value: string(f.Status)})
	}
	if f.Username != "" {
		elem := bson.D{{Key: "username", Value: f.Username}}
		if f.Role != "" {
			elem = append(elem, bson.E{Key: "role", Value: string(f.Role)})
		}
		out = append(out, bson.E{Key: "assignedTo", Value: bson.D{{Key: "$elemMatch", Value: elem}}})
	}
	return out
}

// dialoguePatchUpdate converts a patch into a `$set` document.
func dialoguePatchUpdate(patch model.DialoguePatch) bson.D {
	set := bson.D{}
	for k, v := range patch {
		if s, ok := v.(model.DialogueStatus); ok {
			v = string(s)
		}
		set = append(set, bson.E{Key: k, Value: v})
	}
	return bson.D{{Key: "$set", Value: set}}
}

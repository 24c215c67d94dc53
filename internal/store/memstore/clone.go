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

package memstore

import "github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"

func cloneProject(in *model.Project) *model.Project {
	out := *in
	out.AssignedTo = append(make([]model.Assignment, 0, len(in.AssignedTo)), in.AssignedTo...)
	out.Episodes = make([]*model.Episode, 0, len(in.Episodes))
	for _, e := range in.Episodes {
		out.Episodes = append(out.Episodes, cloneEpisode(e))
	}
	return &out
}

// cloneEpisode copies the step map and each step payload one level deep.
// Payload values are treated as immutable once stored.
func cloneEpisode(in *model.Episode) *model.Episode {
	out := *in
	out.Steps = make(map[model.StepName]*model.StepState, len(in.Steps))
	for k, v := range in.Steps {
		if v == nil {
			continue
		}
		st := *v
		if v.Data != nil {
			st.Data = make(map[string]interface{}, len(v.Data))
			for dk, dv := range v.Data {
				st.Data[dk] = dv
			}
		}
		out.Steps[k] = &st
	}
	if in.VoiceAssignments != nil {
		out.VoiceAssignments = make(map[string]string, len(in.VoiceAssignments))
		for k, v := range in.VoiceAssignments {
			out.VoiceAssignments[k] = v
		}
	}
	return &out
}

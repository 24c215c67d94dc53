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

// This file defines the per-episode processing pipeline: the ordered set of
// named steps, what kind of executor drives each one and which steps must be
// completed before it may start.
//
// The status stored under `steps.<name>.status` is the single authority on
// pipeline position. The numeric `step` pointer on the episode is derived from
// it and is only advanced by the update that completes a numbered step.

package model

import (
	"strconv"
	"strings"
)

// StepName is the key of a step inside Episode.Steps.
type StepName string

const (
	StepVideoUpload     StepName = "step1"
	StepSceneExtraction StepName = "step2"
	StepAudioCleaning   StepName = "step3"
	StepTranscription   StepName = "step4"
	StepTranslation     StepName = "step5"
	StepDirectorReview  StepName = "step6"
	StepVoiceOver       StepName = "step7"
	StepFinalMerge      StepName = "step8"
	StepAudioExtraction StepName = "audioExtraction"
	StepVoiceAssignment StepName = "voiceAssignment"
)

// StepKind describes what drives a step to completion.
type StepKind string

const (
	// StepKindUpload steps complete when a media file is attached to the episode.
	StepKindUpload StepKind = "upload"
	// StepKindQueued steps are executed by a worker calling an external processor.
	StepKindQueued StepKind = "queued"
	// StepKindManual steps are completed by a reviewer role.
	StepKindManual StepKind = "manual"
	// StepKindAssignment steps complete when the voice map is saved.
	StepKindAssignment StepKind = "assignment"
)

// StepDefinition is the static description of one pipeline step.
type StepDefinition struct {
	Name         StepName
	Number       int      // 1..8 for numbered steps, 0 for auxiliary steps.
	StageName    string   // Written to Episode.Status when the previous step completes.
	Kind         StepKind // What drives the step to completion.
	Queue        string   // Queue name for queued steps.
	Requires     []StepName
	Owners       []Role // Roles allowed to complete a manual step, admin excluded.
	ActiveStatus EpisodeStatus
}

// Pipeline is the canonical, ordered step table.
var Pipeline = []StepDefinition{
	{Name: StepVideoUpload, Number: 1, StageName: "video-upload", Kind: StepKindUpload},
	{Name: StepAudioExtraction, StageName: "audio-extraction", Kind: StepKindQueued, Queue: "audio-extractor",
		Requires: []StepName{StepVideoUpload}, ActiveStatus: EpisodeProcessing},
	{Name: StepSceneExtraction, Number: 2, StageName: "scene-extraction", Kind: StepKindQueued, Queue: "scene-extractor",
		Requires: []StepName{StepVideoUpload}, ActiveStatus: EpisodeProcessing},
	{Name: StepAudioCleaning, Number: 3, StageName: "audio-cleaning", Kind: StepKindQueued, Queue: "audio-cleaner",
		Requires: []StepName{StepSceneExtraction}, ActiveStatus: EpisodeCleaning},
	{Name: StepTranscription, Number: 4, StageName: "transcription", Kind: StepKindManual,
		Requires: []StepName{StepAudioCleaning}, Owners: []Role{RoleTranscriber}},
	{Name: StepTranslation, Number: 5, StageName: "translation", Kind: StepKindManual,
		Requires: []StepName{StepTranscription}, Owners: []Role{RoleTranslator}},
	{Name: StepDirectorReview, Number: 6, StageName: "director-review", Kind: StepKindManual,
		Requires: []StepName{StepTranslation}, Owners: []Role{RoleDirector, RoleSeniorDirector}},
	{Name: StepVoiceAssignment, StageName: "voice-assignment", Kind: StepKindAssignment,
		Requires: []StepName{StepTranslation}, Owners: []Role{RoleDirector}},
	{Name: StepVoiceOver, Number: 7, StageName: "voice-over", Kind: StepKindManual,
		Requires: []StepName{StepDirectorReview, StepVoiceAssignment}, Owners: []Role{RoleVoiceOver}},
	{Name: StepFinalMerge, Number: 8, StageName: "final-merge", Kind: StepKindQueued, Queue: "video-merger",
		Requires: []StepName{StepVoiceOver}, ActiveStatus: EpisodeProcessing},
}

// LastStepNumber is the highest numbered step.
const LastStepNumber = 8

// LookupStep returns the definition of a step by name.
func LookupStep(name StepName) (StepDefinition, bool) {
	for _, d := range Pipeline {
		if d.Name == name {
			return d, true
		}
	}
	return StepDefinition{}, false
}

// StepByQueue returns the queued step consuming the given queue.
func StepByQueue(queue string) (StepDefinition, bool) {
	for _, d := range Pipeline {
		if d.Kind == StepKindQueued && d.Queue == queue {
			return d, true
		}
	}
	return StepDefinition{}, false
}

// QueuedSteps lists every step executed by a worker.
func QueuedSteps() []StepDefinition {
	out := make([]StepDefinition, 0)
	for _, d := range Pipeline {
		if d.Kind == StepKindQueued {
			out = append(out, d)
		}
	}
	return out
}

// ParseStepName accepts `step2`, `2` or an auxiliary step name.
func ParseStepName(in string) (StepName, bool) {
	in = strings.TrimSpace(in)
	if n, err := strconv.Atoi(in); err == nil {
		in = "step" + strconv.Itoa(n)
	}
	if _, ok := LookupStep(StepName(in)); ok {
		return StepName(in), true
	}
	return "", false
}

// IsOwner reports whether role may complete the step. Admin always may.
func (d StepDefinition) IsOwner(role Role) bool {
	if role == RoleAdmin {
		return true
	}
	for _, r := range d.Owners {
		if r == role {
			return true
		}
	}
	return false
}

// NextStage returns the stage name an episode moves to once this step
// completes: the stage of the next numbered step, or `completed` after the last.
func (d StepDefinition) NextStage() EpisodeStatus {
	if d.Number == 0 {
		return ""
	}
	if d.Number >= LastStepNumber {
		return EpisodeCompleted
	}
	next := StepName("step" + strconv.Itoa(d.Number+1))
	if def, ok := LookupStep(next); ok {
		return EpisodeStatus(def.StageName)
	}
	return ""
}

// NextPointer is the value of Episode.Step once this step completes.
// Auxiliary steps return 0, meaning the pointer is left untouched.
func (d StepDefinition) NextPointer() int {
	if d.Number == 0 {
		return 0
	}
	return d.Number + 1
}

// StageAt returns the episode status matching a pipeline pointer: the stage
// of that numbered step, or `completed` past the last one.
func StageAt(pointer int) EpisodeStatus {
	if pointer > LastStepNumber {
		return EpisodeCompleted
	}
	if def, ok := LookupStep(StepName("step" + strconv.Itoa(pointer))); ok {
		return EpisodeStatus(def.StageName)
	}
	return ""
}

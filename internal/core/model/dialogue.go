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

package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DialogueStatus is the review state of a dialogue line.
type DialogueStatus string

const (
	DialoguePending           DialogueStatus = "pending"
	DialogueApproved          DialogueStatus = "approved"
	DialogueRevisionRequested DialogueStatus = "revision-requested"
	DialogueNeedsRerecord     DialogueStatus = "needs-rerecord"
)

// Valid reports whether s is a known review state.
func (s DialogueStatus) Valid() bool {
	switch s {
	case DialoguePending, DialogueApproved, DialogueRevisionRequested, DialogueNeedsRerecord:
		return true
	}
	return false
}

// Dialogue is one timed line of an episode. Each episode stores its dialogues
// in a dedicated collection named by Episode.CollectionName.
type Dialogue struct {
	ID                   primitive.ObjectID `json:"_id" bson:"_id"`
	Index                int                `json:"index" bson:"index"`
	SceneNumber          int                `json:"sceneNumber,omitempty" bson:"sceneNumber,omitempty"`
	TimeStart            string             `json:"timeStart" bson:"timeStart"`
	TimeEnd              string             `json:"timeEnd" bson:"timeEnd"`
	Character            string             `json:"character" bson:"character"`
	CharacterName        string             `json:"characterName,omitempty" bson:"characterName,omitempty"`
	Original             string             `json:"original" bson:"original"`
	Translated           string             `json:"translated,omitempty" bson:"translated,omitempty"`
	Adapted              string             `json:"adapted,omitempty" bson:"adapted,omitempty"`
	Status               DialogueStatus     `json:"status" bson:"status"`
	RevisionNote         string             `json:"revisionNote,omitempty" bson:"revisionNote,omitempty"`
	VoiceID              string             `json:"voiceId,omitempty" bson:"voiceId,omitempty"`
	RecordedAudioURL     string             `json:"recordedAudioUrl,omitempty" bson:"recordedAudioUrl,omitempty"`
	RecordedAudioKey     string             `json:"recordedAudioKey,omitempty" bson:"recordedAudioKey,omitempty"`
	AIConvertedVoiceover string             `json:"ai_converted_voiceover_url,omitempty" bson:"ai_converted_voiceover_url,omitempty"`
	UpdatedBy            string             `json:"updatedBy,omitempty" bson:"updatedBy,omitempty"`
	UpdatedAt            time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// Dialogue document field names, used for role whitelists and store updates.
const (
	FieldTimeStart        = "timeStart"
	FieldTimeEnd          = "timeEnd"
	FieldCharacter        = "character"
	FieldCharacterName    = "characterName"
	FieldOriginal         = "original"
	FieldTranslated       = "translated"
	FieldAdapted          = "adapted"
	FieldStatus           = "status"
	FieldRevisionNote     = "revisionNote"
	FieldVoiceID          = "voiceId"
	FieldRecordedAudioURL = "recordedAudioUrl"
	FieldRecordedAudioKey = "recordedAudioKey"
	FieldUpdatedBy        = "updatedBy"
	FieldUpdatedAt        = "updatedAt"
)

// DialoguePatch is a sparse set of field updates keyed by document field name.
type DialoguePatch map[string]interface{}

// Apply copies the patch onto d. Unknown keys are ignored; callers validate
// keys before reaching the store.
func (p DialoguePatch) Apply(d *Dialogue) {
	for k, v := range p {
		switch k {
		case FieldTimeStart:
			d.TimeStart, _ = v.(string)
		case FieldTimeEnd:
			d.TimeEnd, _ = v.(string)
		case FieldCharacter:
			d.Character, _ = v.(string)
		case FieldCharacterName:
			d.CharacterName, _ = v.(string)
		case FieldOriginal:
			d.Original, _ = v.(string)
		case FieldTranslated:
			d.Translated, _ = v.(string)
		case FieldAdapted:
			d.Adapted, _ = v.(string)
		case FieldStatus:
			switch s := v.(type) {
			case DialogueStatus:
				d.Status = s
			case string:
				d.Status = DialogueStatus(s)
			}
		case FieldRevisionNote:
			d.RevisionNote, _ = v.(string)
		case FieldVoiceID:
			d.VoiceID, _ = v.(string)
		case FieldRecordedAudioURL:
			d.RecordedAudioURL, _ = v.(string)
		case FieldRecordedAudioKey:
			d.RecordedAudioKey, _ = v.(string)
		case FieldUpdatedBy:
			d.UpdatedBy, _ = v.(string)
		case FieldUpdatedAt:
			if t, ok := v.(time.Time); ok {
				d.UpdatedAt = t
			}
		}
	}
}

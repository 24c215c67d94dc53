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
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/auth"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
)

// reviewRule lists what one role may write on a dialogue.
type reviewRule struct {
	Fields   []string
	Statuses []model.DialogueStatus
}

var reviewRules = map[model.Role]reviewRule{
	model.RoleTranscriber: {
		Fields:   []string{model.FieldOriginal, model.FieldCharacter, model.FieldCharacterName, model.FieldTimeStart, model.FieldTimeEnd},
		Statuses: []model.DialogueStatus{model.DialoguePending},
	},
	model.RoleTranslator: {
		Fields:   []string{model.FieldTranslated},
		Statuses: []model.DialogueStatus{model.DialoguePending},
	},
	model.RoleDirector: {
		Fields:   []string{model.FieldAdapted, model.FieldTranslated, model.FieldRevisionNote},
		Statuses: []model.DialogueStatus{model.DialogueApproved, model.DialogueRevisionRequested},
	},
	model.RoleSeniorDirector: {
		Fields:   []string{model.FieldAdapted, model.FieldRevisionNote},
		Statuses: []model.DialogueStatus{model.DialogueApproved, model.DialogueRevisionRequested, model.DialogueNeedsRerecord},
	},
	model.RoleVoiceOver: {
		Statuses: []model.DialogueStatus{model.DialoguePending},
	},
}

// ruleFor returns the rule of role. Admin gets the union of every rule.
func ruleFor(role model.Role) reviewRule {
	if role != model.RoleAdmin {
		return reviewRules[role]
	}
	fields := make(map[string]bool)
	for _, r := range reviewRules {
		for _, f := range r.Fields {
			fields[f] = true
		}
	}
	out := reviewRule{Statuses: []model.DialogueStatus{model.DialoguePending, model.DialogueApproved, model.DialogueRevisionRequested, model.DialogueNeedsRerecord}}
	for f := range fields {
		out.Fields = append(out.Fields, f)
	}
	sort.Strings(out.Fields)
	return out
}

func (r reviewRule) allowsField(field string) bool {
	for _, f := range r.Fields {
		if f == field {
			return true
		}
	}
	return false
}

func (r reviewRule) allowsStatus(status model.DialogueStatus) bool {
	for _, s := range r.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// DialogueScope addresses one dialogue collection as seen by a role view.
type DialogueScope struct {
	Role           string // Role segment of the URL, e.g. "director" or "voice-over".
	DatabaseName   string
	CollectionName string
}

// DialogueService serves the per-role dialogue views.
type DialogueService struct {
	Projects        store.ProjectStore
	Dialogues       store.DialogueStore
	Objects         ObjectStore
	VoiceOverPrefix string
	Now             func() time.Time
}

// NewDialogueService returns a DialogueService. objects may be nil when
// voice-over uploads are not served.
func NewDialogueService(s store.Store, objects ObjectStore, voiceOverPrefix string) *DialogueService {
	return &DialogueService{
		Projects:        s,
		Dialogues:       s,
		Objects:         objects,
		VoiceOverPrefix: voiceOverPrefix,
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

// resolve checks the scope for session. A collection the session may not act
// on is reported as not found so that no other project's data is revealed.
func (s *DialogueService) resolve(ctx context.Context, session *auth.Session, scope DialogueScope) (model.Role, error) {
	if session == nil {
		return "", ErrUnauthenticated
	}
	role, ok := model.ParseRole(scope.Role)
	if !ok {
		return "", fmt.Errorf("%w: unknown role view %q", ErrNotFound, scope.Role)
	}
	if session.Role != role && !session.IsAdmin() {
		return "", fmt.Errorf("%w: role %s may not use the %s view", ErrForbidden, session.Role, role)
	}
	if scope.DatabaseName == "" || scope.CollectionName == "" {
		return "", validationf("databaseName and collectionName are required")
	}
	project, err := s.Projects.FindProjectByCollection(ctx, scope.DatabaseName, scope.CollectionName)
	if err != nil {
		return "", translate(err, "dialogue collection")
	}
	if !auth.CanAct(session, project, role, model.RoleAdmin) {
		return "", fmt.Errorf("%w: dialogue collection", ErrNotFound)
	}
	return role, nil
}

// List returns the dialogues of the collection ordered by index.
func (s *DialogueService) List(ctx context.Context, session *auth.Session, scope DialogueScope) ([]*model.Dialogue, error) {
	if _, err := s.resolve(ctx, session, scope); err != nil {
		return nil, err
	}
	out, err := s.Dialogues.ListDialogues(ctx, scope.DatabaseName, scope.CollectionName)
	return out, translate(err, "dialogues")
}

// Get returns one dialogue.
func (s *DialogueService) Get(ctx context.Context, session *auth.Session, scope DialogueScope, dialogueID string) (*model.Dialogue, error) {
	if _, err := s.resolve(ctx, session, scope); err != nil {
		return nil, err
	}
	id, err := parseObjectID("dialogue", dialogueID)
	if err != nil {
		return nil, err
	}
	out, err := s.Dialogues.GetDialogue(ctx, scope.DatabaseName, scope.CollectionName, id)
	return out, translate(err, "dialogue")
}

// Update saves the fields the acting role is allowed to change and returns
// the updated dialogue. Admin may write through any role view; the rule
// applied is always the one of the session role.
func (s *DialogueService) Update(ctx context.Context, session *auth.Session, scope DialogueScope, dialogueID string, changes map[string]interface{}) (*model.Dialogue, error) {
	if _, err := s.resolve(ctx, session, scope); err != nil {
		return nil, err
	}
	id, err := parseObjectID("dialogue", dialogueID)
	if err != nil {
		return nil, err
	}
	patch, err := buildPatch(ruleFor(session.Role), changes)
	if err != nil {
		return nil, err
	}
	patch[model.FieldUpdatedBy] = session.Username
	patch[model.FieldUpdatedAt] = s.Now()

	out, err := s.Dialogues.UpdateDialogue(ctx, scope.DatabaseName, scope.CollectionName, id, patch)
	return out, translate(err, "dialogue")
}

func buildPatch(rule reviewRule, changes map[string]interface{}) (model.DialoguePatch, error) {
	if len(changes) == 0 {
		return nil, validationf("nothing to update")
	}
	patch := make(model.DialoguePatch, len(changes)+2)
	for field, value := range changes {
		if field == "_id" {
			continue
		}
		str, ok := value.(string)
		if !ok {
			return nil, validationf("field %s must be a string", field)
		}
		if field == model.FieldStatus {
			status := model.DialogueStatus(str)
			if !status.Valid() || !rule.allowsStatus(status) {
				return nil, validationf("status %q may not be set by this role", str)
			}
			patch[field] = status
			continue
		}
		if !rule.allowsField(field) {
			return nil, validationf("field %s may not be edited by this role", field)
		}
		patch[field] = strings.TrimSpace(str)
	}
	if len(patch) == 0 {
		return nil, validationf("nothing to update")
	}
	return patch, nil
}

// VoiceOverUpload is a recorded take for one dialogue.
type VoiceOverUpload struct {
	DatabaseName   string
	CollectionName string
	DialogueID     string
	File           io.Reader
}

// UploadVoiceOver stores a recorded take and points the dialogue at it. The
// dialogue returns to pending so the director hears the new take.
func (s *DialogueService) UploadVoiceOver(ctx context.Context, session *auth.Session, req *VoiceOverUpload) (*model.UploadResult, *model.Dialogue, error) {
	if s.Objects == nil {
		return nil, nil, fmt.Errorf("object storage is not configured")
	}
	scope := DialogueScope{Role: string(model.RoleVoiceOver), DatabaseName: req.DatabaseName, CollectionName: req.CollectionName}
	if _, err := s.resolve(ctx, session, scope); err != nil {
		return nil, nil, err
	}
	id, err := parseObjectID("dialogue", req.DialogueID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.Dialogues.GetDialogue(ctx, req.DatabaseName, req.CollectionName, id); err != nil {
		return nil, nil, translate(err, "dialogue")
	}
	if req.File == nil {
		return nil, nil, validationf("audio file is required")
	}
	file, err := Sniff(req.File, KindAudio)
	if err != nil {
		return nil, nil, err
	}

	key := cloud.VoiceOverKey(s.VoiceOverPrefix, req.DatabaseName, req.CollectionName, uniqueName(id.Hex(), file.Extension))
	if err := s.Objects.Upload(ctx, key, file.ContentType, file.Reader); err != nil {
		return nil, nil, err
	}
	result := &model.UploadResult{URL: s.Objects.PublicURL(key), Key: key}

	updated, err := s.Dialogues.UpdateDialogue(ctx, req.DatabaseName, req.CollectionName, id, model.DialoguePatch{
		model.FieldRecordedAudioURL: result.URL,
		model.FieldRecordedAudioKey: result.Key,
		model.FieldStatus:           model.DialoguePending,
		model.FieldUpdatedBy:        session.Username,
		model.FieldUpdatedAt:        s.Now(),
	})
	if err != nil {
		return nil, nil, translate(err, "dialogue")
	}
	return result, updated, nil
}

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

// Role determines which views and actions a session may access.
type Role string

const (
	RoleTranscriber    Role = "transcriber"
	RoleTranslator     Role = "translator"
	RoleDirector       Role = "director"
	RoleSeniorDirector Role = "senior_director"
	RoleVoiceOver      Role = "voice_over"
	RoleAdmin          Role = "admin"
)

// Roles lists every known role in pipeline order.
var Roles = []Role{RoleTranscriber, RoleTranslator, RoleDirector, RoleSeniorDirector, RoleVoiceOver, RoleAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole accepts both the canonical form and the dashed URL form
// (e.g. "voice-over", "senior-director").
func ParseRole(in string) (Role, bool) {
	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		if in[i] == '-' {
			out = append(out, '_')
			continue
		}
		out = append(out, in[i])
	}
	r := Role(out)
	return r, r.Valid()
}

// User is a document of the `users` collection.
type User struct {
	ID           primitive.ObjectID `json:"_id" bson:"_id"`
	Username     string             `json:"username" bson:"username"`
	PasswordHash string             `json:"-" bson:"passwordHash"`
	Role         Role               `json:"role" bson:"role"`
	DisplayName  string             `json:"displayName,omitempty" bson:"displayName,omitempty"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
}

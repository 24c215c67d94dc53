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

// Package auth holds the single access policy of the pipeline together with
// the session tokens and password hashes it relies on.
package auth

import (
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
)

// Session is the authenticated caller of a request.
type Session struct {
	Username    string     `json:"username"`
	Role        model.Role `json:"role"`
	DisplayName string     `json:"displayName,omitempty"`
}

// IsAdmin reports whether the session belongs to an administrator.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == model.RoleAdmin
}

func allows(allowed []model.Role, role model.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// HasRole reports whether the session role is one of allowed. It is the
// check for operations that are not scoped to a project.
func HasRole(session *Session, allowed ...model.Role) bool {
	return session != nil && allows(allowed, session.Role)
}

// CanAct is the access policy. It holds when the session role is in allowed
// and either the session is an admin or the project lists the session user
// under that same role in assignedTo.
func CanAct(session *Session, project *model.Project, allowed ...model.Role) bool {
	if !HasRole(session, allowed...) {
		return false
	}
	if session.IsAdmin() {
		return true
	}
	return project != nil && project.HasAssignment(session.Username, session.Role)
}

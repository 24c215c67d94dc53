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
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/auth"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,63}$`)

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Session   *auth.Session `json:"session"`
}

// UserService creates users and turns credentials into sessions.
type UserService struct {
	Users    store.UserStore
	Sessions *auth.Manager
	Now      func() time.Time
}

// NewUserService returns a UserService.
func NewUserService(users store.UserStore, sessions *auth.Manager) *UserService {
	return &UserService{Users: users, Sessions: sessions, Now: func() time.Time { return time.Now().UTC() }}
}

// Create stores a new user. A nil session is accepted only when trusted is
// set, which is how the admin CLI bootstraps the first administrator.
func (s *UserService) Create(ctx context.Context, session *auth.Session, req *model.CreateUserRequest, trusted bool) (*model.User, error) {
	if !trusted {
		if err := requireRole(session, model.RoleAdmin); err != nil {
			return nil, err
		}
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if !usernamePattern.MatchString(username) {
		return nil, validationf("invalid username %q", req.Username)
	}
	if !req.Role.Valid() {
		return nil, validationf("invalid role %q", req.Role)
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, validationf("%v", err)
	}
	user := &model.User{
		ID:           primitive.NewObjectID(),
		Username:     username,
		PasswordHash: hash,
		Role:         req.Role,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		CreatedAt:    s.Now(),
	}
	if err := s.Users.CreateUser(ctx, user); err != nil {
		return nil, translate(err, fmt.Sprintf("user %s", username))
	}
	return user, nil
}

// Login checks the credentials and issues a session token.
func (s *UserService) Login(ctx context.Context, req *model.LoginRequest) (*LoginResult, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	user, err := s.Users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, auth.ErrBadCredentials)
		}
		return nil, err
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	token, expires, err := s.Sessions.Issue(user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Token:     token,
		ExpiresAt: expires,
		Session:   &auth.Session{Username: user.Username, Role: user.Role, DisplayName: user.DisplayName},
	}, nil
}

// Authenticate turns a session token into a session.
func (s *UserService) Authenticate(token string) (*auth.Session, error) {
	session, err := s.Sessions.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return session, nil
}

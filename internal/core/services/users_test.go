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

package services_test

import (
	"context"
	"testing"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/auth"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/store/memstore"
	test "github.com/jaycherian/gcp-go-dubbing-pipeline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := services.NewUserService(memstore.New(), auth.NewManager(test.GetConfig().Auth))
	admin := &auth.Session{Username: test.AdminUsername, Role: model.RoleAdmin}
	req := &model.CreateUserRequest{Username: " Dana ", Password: "correct horse", Role: model.RoleDirector, DisplayName: "Dana"}

	_, err := svc.Create(ctx, &auth.Session{Username: "tom", Role: model.RoleTranslator}, req, false)
	assert.ErrorIs(t, err, services.ErrForbidden)
	_, err = svc.Create(ctx, nil, req, false)
	assert.ErrorIs(t, err, services.ErrUnauthenticated)

	u, err := svc.Create(ctx, admin, req, false)
	require.NoError(t, err)
	assert.Equal(t, "dana", u.Username)
	assert.NotEqual(t, req.Password, u.PasswordHash)

	_, err = svc.Create(ctx, admin, req, false)
	assert.ErrorIs(t, err, services.ErrConflict)
	_, err = svc.Create(ctx, admin, &model.CreateUserRequest{Username: "short", Password: "123", Role: model.RoleDirector}, false)
	assert.ErrorIs(t, err, services.ErrValidation)
	_, err = svc.Create(ctx, nil, &model.CreateUserRequest{Username: "boss", Password: "bootstrap-pass", Role: model.RoleAdmin}, true)
	assert.NoError(t, err)

	res, err := svc.Login(ctx, &model.LoginRequest{Username: "DANA", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, model.RoleDirector, res.Session.Role)

	session, err := svc.Authenticate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "dana", session.Username)
	assert.Equal(t, model.RoleDirector, session.Role)

	_, err = svc.Login(ctx, &model.LoginRequest{Username: "dana", Password: "wrong password"})
	assert.ErrorIs(t, err, services.ErrUnauthenticated)
	_, err = svc.Login(ctx, &model.LoginRequest{Username: "nobody", Password: "whatever1"})
	assert.ErrorIs(t, err, services.ErrUnauthenticated)
	_, err = svc.Authenticate(res.Token + "x")
	assert.ErrorIs(t, err, services.ErrUnauthenticated)
}

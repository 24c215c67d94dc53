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

package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/services"
	"github.com/zeebo/assert"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad step", services.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: step3 first", services.ErrPrecondition), http.StatusBadRequest},
		{services.ErrUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("%w: role director", services.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("%w: dialogue collection", services.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: step already processing", services.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: processor returned 500", services.ErrUpstream), http.StatusBadGateway},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, statusOf(c.err), c.want)
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, bearerToken("Bearer abc.def"), "abc.def")
	assert.Equal(t, bearerToken("bearer  abc "), "abc")
	assert.Equal(t, bearerToken("Basic dXNlcg=="), "")
	assert.Equal(t, bearerToken(""), "")
}

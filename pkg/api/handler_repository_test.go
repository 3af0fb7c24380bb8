package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/reviewd/pkg/models"
	"github.com/codeready-toolchain/reviewd/pkg/services"
)

const testRepoURL = "https://dev.azure.com/acme/Platform/_git/webapp"

func TestRegisterRepository(t *testing.T) {
	f := newAPIFixture()
	body := []byte(fmt.Sprintf(`{"url": %q}`, testRepoURL))

	rec := f.performAdmin(http.MethodPost, "/api/v1/repositories", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var repo models.Repository
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repo))
	assert.Equal(t, "repo-1", repo.ID)
	assert.Equal(t, testRepoURL, repo.URL)
}

func TestRegisterRepositoryRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{name: "not json", body: []byte("nope")},
		{name: "missing url field", body: []byte(`{"repo": "x"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture()
			rec := f.performAdmin(http.MethodPost, "/api/v1/repositories", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Empty(t, f.repos.repos)
		})
	}
}

func TestRegisterRepositoryMapsServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
	}{
		{
			name:       "invalid url shape",
			err:        services.NewValidationError("url", "must look like https://dev.azure.com/{org}/{project}/_git/{repo}"),
			expectCode: http.StatusBadRequest,
		},
		{
			name:       "already registered",
			err:        fmt.Errorf("%w: %s", services.ErrAlreadyExists, testRepoURL),
			expectCode: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture()
			f.repos.registerErr = tt.err
			body := []byte(fmt.Sprintf(`{"url": %q}`, testRepoURL))

			rec := f.performAdmin(http.MethodPost, "/api/v1/repositories", body)

			assert.Equal(t, tt.expectCode, rec.Code, rec.Body.String())
		})
	}
}

func TestListRepositories(t *testing.T) {
	f := newAPIFixture()
	f.repos.repos["repo-1"] = &models.Repository{ID: "repo-1", Name: "webapp"}
	f.repos.repos["repo-2"] = &models.Repository{ID: "repo-2", Name: "billing"}

	rec := f.performAdmin(http.MethodGet, "/api/v1/repositories", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var repos []*models.Repository
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repos))
	assert.Len(t, repos, 2)
}

func TestListRepositoriesEmptyIsAnArray(t *testing.T) {
	f := newAPIFixture()

	rec := f.performAdmin(http.MethodGet, "/api/v1/repositories", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetRepository(t *testing.T) {
	f := newAPIFixture()
	f.repos.repos["repo-1"] = &models.Repository{ID: "repo-1", Name: "webapp"}

	rec := f.performAdmin(http.MethodGet, "/api/v1/repositories/repo-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.performAdmin(http.MethodGet, "/api/v1/repositories/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnregisterRepository(t *testing.T) {
	f := newAPIFixture()
	f.repos.repos["repo-1"] = &models.Repository{ID: "repo-1", Name: "webapp"}

	rec := f.performAdmin(http.MethodDelete, "/api/v1/repositories/repo-1", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"repo-1"}, f.repos.unregistered)

	rec = f.performAdmin(http.MethodDelete, "/api/v1/repositories/repo-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "second delete finds nothing")
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	f := newAPIFixture()

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/repositories"},
		{http.MethodGet, "/api/v1/repositories"},
		{http.MethodDelete, "/api/v1/repositories/repo-1"},
		{http.MethodGet, "/api/v1/agents"},
		{http.MethodGet, "/api/v1/agents/agent-1"},
		{http.MethodGet, "/api/v1/executions"},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			rec := f.perform(p.method, p.path, nil, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			rec = f.perform(p.method, p.path, nil, map[string]string{
				"Authorization": "Bearer wrong-key",
			})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

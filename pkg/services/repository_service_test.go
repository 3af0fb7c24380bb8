package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/reviewd/pkg/platform"
	"github.com/codeready-toolchain/reviewd/test/util"
)

type registeredHook struct {
	Project   string
	Repo      string
	URL       string
	EventType string
	ID        string
}

type fakeHooks struct {
	mu           sync.Mutex
	registered   []registeredHook
	unregistered []string
	failOn       string
	unregErr     error
	nextID       int
}

func (h *fakeHooks) RegisterHook(_ context.Context, projectID, repoID, webhookURL, eventType string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failOn == eventType {
		return "", errors.New("HTTP 401: subscription rejected")
	}
	h.nextID++
	id := fmt.Sprintf("hook-%d", h.nextID)
	h.registered = append(h.registered, registeredHook{
		Project: projectID, Repo: repoID, URL: webhookURL, EventType: eventType, ID: id,
	})
	return id, nil
}

func (h *fakeHooks) UnregisterHook(_ context.Context, hookID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregistered = append(h.unregistered, hookID)
	return h.unregErr
}

func setupRepositoryService(t *testing.T) (*RepositoryService, *fakeHooks) {
	db := util.SetupTestDatabase(t)
	hooks := &fakeHooks{}
	svc := NewRepositoryService(db, hooks, "https://reviewd.example.com/", serviceTestLogger())
	return svc, hooks
}

func TestRepositoryRegister(t *testing.T) {
	svc, hooks := setupRepositoryService(t)
	ctx := context.Background()

	repo, err := svc.Register(ctx, "https://dev.azure.com/acme/Platform/_git/webapp")
	require.NoError(t, err)
	assert.Equal(t, "acme", repo.Organization)
	assert.Equal(t, "Platform", repo.Project)
	assert.Equal(t, "webapp", repo.Name)
	assert.Equal(t, "https://dev.azure.com/acme/Platform/_git/webapp", repo.URL)
	require.NotNil(t, repo.HookID)
	assert.Equal(t, "hook-1", *repo.HookID)

	require.Len(t, hooks.registered, 2)
	eventTypes := []string{hooks.registered[0].EventType, hooks.registered[1].EventType}
	assert.ElementsMatch(t, []string{platform.EventTypePRCreated, platform.EventTypePRUpdated}, eventTypes)
	for _, h := range hooks.registered {
		assert.Equal(t, "Platform", h.Project)
		assert.Equal(t, "webapp", h.Repo)
		assert.Equal(t, "https://reviewd.example.com/webhooks/azure-devops/pr", h.URL)
	}

	loaded, err := svc.Get(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.URL, loaded.URL)
	require.NotNil(t, loaded.HookID)
	assert.Equal(t, "hook-1", *loaded.HookID)
}

func TestRepositoryRegisterNormalizesURL(t *testing.T) {
	svc, _ := setupRepositoryService(t)

	repo, err := svc.Register(context.Background(), "  https://dev.azure.com/acme/My%20Project/_git/webapp/  ")
	require.NoError(t, err)
	assert.Equal(t, "My Project", repo.Project)
	assert.Equal(t, "https://dev.azure.com/acme/My%20Project/_git/webapp", repo.URL)
}

func TestRepositoryRegisterDuplicate(t *testing.T) {
	svc, _ := setupRepositoryService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "https://dev.azure.com/acme/Platform/_git/webapp")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "https://dev.azure.com/acme/Platform/_git/webapp")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRepositoryRegisterInvalidURL(t *testing.T) {
	svc, hooks := setupRepositoryService(t)

	for _, rawURL := range []string{
		"",
		"https://github.com/acme/webapp",
		"https://dev.azure.com/acme/webapp",
		"https://dev.azure.com/acme/Platform/_git/webapp/extra",
		"http://dev.azure.com/acme/Platform/_git/webapp",
	} {
		_, err := svc.Register(context.Background(), rawURL)
		require.Error(t, err, rawURL)
		assert.True(t, IsValidationError(err), rawURL)
	}
	assert.Empty(t, hooks.registered)
}

func TestRepositoryRegisterHookFailureRollsBack(t *testing.T) {
	svc, hooks := setupRepositoryService(t)
	hooks.failOn = platform.EventTypePRUpdated
	ctx := context.Background()

	_, err := svc.Register(ctx, "https://dev.azure.com/acme/Platform/_git/webapp")
	require.Error(t, err)

	// The created-event subscription went through before the failure; the
	// rollback must remove it along with the repository row.
	assert.Equal(t, []string{"hook-1"}, hooks.unregistered)
	repos, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, repos)

	// A later attempt starts clean.
	hooks.failOn = ""
	_, err = svc.Register(ctx, "https://dev.azure.com/acme/Platform/_git/webapp")
	require.NoError(t, err)
}

func TestRepositoryRegisterWithoutPublicURL(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewRepositoryService(db, &fakeHooks{}, "", serviceTestLogger())

	_, err := svc.Register(context.Background(), "https://dev.azure.com/acme/Platform/_git/webapp")
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestRepositoryUnregister(t *testing.T) {
	svc, hooks := setupRepositoryService(t)
	ctx := context.Background()

	repo, err := svc.Register(ctx, "https://dev.azure.com/acme/Platform/_git/webapp")
	require.NoError(t, err)

	require.NoError(t, svc.Unregister(ctx, repo.ID))
	assert.ElementsMatch(t, []string{"hook-1", "hook-2"}, hooks.unregistered)

	_, err = svc.Get(ctx, repo.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryUnregisterMissing(t *testing.T) {
	svc, _ := setupRepositoryService(t)

	err := svc.Unregister(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryUnregisterHookFailureIsBestEffort(t *testing.T) {
	svc, hooks := setupRepositoryService(t)
	hooks.unregErr = errors.New("HTTP 500: internal error")
	ctx := context.Background()

	repo, err := svc.Register(ctx, "https://dev.azure.com/acme/Platform/_git/webapp")
	require.NoError(t, err)

	require.NoError(t, svc.Unregister(ctx, repo.ID),
		"a dangling subscription only produces droppable events")
	_, err = svc.Get(ctx, repo.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryGetByLocation(t *testing.T) {
	svc, _ := setupRepositoryService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "https://dev.azure.com/acme/Platform/_git/webapp")
	require.NoError(t, err)

	repo, err := svc.GetByLocation(ctx, "acme", "Platform", "webapp")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, repo.ID)

	_, err = svc.GetByLocation(ctx, "acme", "Platform", "other")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryList(t *testing.T) {
	svc, _ := setupRepositoryService(t)
	ctx := context.Background()

	repos, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, repos)

	_, err = svc.Register(ctx, "https://dev.azure.com/acme/Platform/_git/webapp")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "https://dev.azure.com/acme/Platform/_git/api")
	require.NoError(t, err)

	repos, err = svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	names := []string{repos[0].Name, repos[1].Name}
	assert.ElementsMatch(t, []string{"webapp", "api"}, names)
}

// Compile-time check that the production client satisfies the registrar.
var _ HookRegistrar = (*platform.Client)(nil)

// Compile-time check that the service satisfies the ingest directory.
var _ RepositoryDirectory = (*RepositoryService)(nil)

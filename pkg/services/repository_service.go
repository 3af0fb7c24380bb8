package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeready-toolchain/reviewd/pkg/database"
	"github.com/codeready-toolchain/reviewd/pkg/models"
	"github.com/codeready-toolchain/reviewd/pkg/platform"
)

// repoURLPattern matches https://dev.azure.com/{org}/{project}/_git/{repo}.
var repoURLPattern = regexp.MustCompile(`^https://dev\.azure\.com/([^/?#]+)/([^/?#]+)/_git/([^/?#]+)$`)

// HookRegistrar manages platform webhook subscriptions. Implemented by
// platform.Client.
type HookRegistrar interface {
	RegisterHook(ctx context.Context, projectID, repoID, webhookURL, eventType string) (string, error)
	UnregisterHook(ctx context.Context, hookID string) error
}

// RepositoryService owns repository registration: the repositories table
// and the platform service hooks that point PR events at this instance.
type RepositoryService struct {
	db         *database.Client
	hooks      HookRegistrar
	webhookURL string
	logger     *slog.Logger
}

// NewRepositoryService creates a RepositoryService. publicBaseURL may be
// empty; registration then fails until it is configured.
func NewRepositoryService(db *database.Client, hooks HookRegistrar, publicBaseURL string, logger *slog.Logger) *RepositoryService {
	if db == nil {
		panic("NewRepositoryService: db must not be nil")
	}
	if hooks == nil {
		panic("NewRepositoryService: hooks must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	webhookURL := ""
	if publicBaseURL != "" {
		webhookURL = strings.TrimRight(publicBaseURL, "/") + "/webhooks/azure-devops/pr"
	}
	return &RepositoryService{
		db:         db,
		hooks:      hooks,
		webhookURL: webhookURL,
		logger:     logger.With("component", "repositories"),
	}
}

// hookEventTypes are the PR lifecycle events each registration subscribes to.
var hookEventTypes = []string{platform.EventTypePRCreated, platform.EventTypePRUpdated}

// Register stores a repository and subscribes the platform's PR events to
// this instance's webhook endpoint. Everything is rolled back when any
// subscription fails.
func (s *RepositoryService) Register(ctx context.Context, rawURL string) (*models.Repository, error) {
	org, project, name, canonical, err := parseRepoURL(rawURL)
	if err != nil {
		return nil, err
	}
	if s.webhookURL == "" {
		return nil, NewValidationError("public_base_url",
			"public base URL must be configured before registering repositories")
	}

	now := time.Now().UTC()
	repo := &models.Repository{
		ID:           uuid.NewString(),
		Organization: org,
		Project:      project,
		Name:         name,
		URL:          canonical,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	const insertRepo = `
		INSERT INTO repositories (id, organization, project, name, url, created_at, updated_at)
		VALUES (:id, :organization, :project, :name, :url, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, insertRepo, repo); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, repo.URL)
		}
		return nil, fmt.Errorf("failed to store repository: %w", err)
	}

	hookIDs := make([]string, 0, len(hookEventTypes))
	for _, eventType := range hookEventTypes {
		hookID, err := s.hooks.RegisterHook(ctx, project, name, s.webhookURL, eventType)
		if err != nil {
			s.rollbackRegistration(ctx, repo.ID, hookIDs)
			return nil, fmt.Errorf("failed to register service hook for %s: %w", eventType, err)
		}
		hookIDs = append(hookIDs, hookID)

		hook := &models.ServiceHook{
			ID:           uuid.NewString(),
			RepositoryID: repo.ID,
			ExternalID:   hookID,
			URL:          s.webhookURL,
			CreatedAt:    time.Now().UTC(),
		}
		const insertHook = `
			INSERT INTO service_hooks (id, repository_id, external_id, url, created_at)
			VALUES (:id, :repository_id, :external_id, :url, :created_at)`
		if _, err := s.db.NamedExecContext(ctx, insertHook, hook); err != nil {
			s.rollbackRegistration(ctx, repo.ID, hookIDs)
			return nil, fmt.Errorf("failed to store service hook: %w", err)
		}
	}

	// The first subscription id doubles as the repository's hook marker.
	const markHook = `UPDATE repositories SET hook_id = $1, updated_at = $2 WHERE id = $3`
	if _, err := s.db.ExecContext(ctx, markHook, hookIDs[0], time.Now().UTC(), repo.ID); err != nil {
		s.rollbackRegistration(ctx, repo.ID, hookIDs)
		return nil, fmt.Errorf("failed to store hook id: %w", err)
	}
	repo.HookID = &hookIDs[0]

	s.logger.InfoContext(ctx, "repository registered",
		"repository_id", repo.ID, "url", repo.URL, "hooks", len(hookIDs))
	return repo, nil
}

// rollbackRegistration undoes a partial Register: subscriptions first, then
// the row (service_hooks rows cascade).
func (s *RepositoryService) rollbackRegistration(ctx context.Context, repoID string, hookIDs []string) {
	for _, hookID := range hookIDs {
		if err := s.hooks.UnregisterHook(ctx, hookID); err != nil {
			s.logger.WarnContext(ctx, "failed to roll back service hook",
				"hook_id", hookID, "error", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = $1`, repoID); err != nil {
		s.logger.WarnContext(ctx, "failed to roll back repository row",
			"repository_id", repoID, "error", err)
	}
}

// Get returns one repository by id, or ErrNotFound.
func (s *RepositoryService) Get(ctx context.Context, id string) (*models.Repository, error) {
	var repo models.Repository
	err := s.db.GetContext(ctx, &repo, `SELECT * FROM repositories WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: repository %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load repository: %w", err)
	}
	return &repo, nil
}

// GetByLocation returns the repository registered under the given
// coordinates, or ErrNotFound. Used by the ingestor to drop events for
// unmonitored repositories.
func (s *RepositoryService) GetByLocation(ctx context.Context, organization, project, name string) (*models.Repository, error) {
	var repo models.Repository
	err := s.db.GetContext(ctx, &repo,
		`SELECT * FROM repositories WHERE organization = $1 AND project = $2 AND name = $3`,
		organization, project, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNotFound, organization, project, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load repository: %w", err)
	}
	return &repo, nil
}

// List returns all registered repositories, newest first.
func (s *RepositoryService) List(ctx context.Context) ([]*models.Repository, error) {
	repos := []*models.Repository{}
	err := s.db.SelectContext(ctx, &repos, `SELECT * FROM repositories ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}

// Unregister removes a repository. Its subscriptions are unregistered
// best-effort: a hook that cannot be removed is logged and the deletion
// proceeds, since a dangling subscription only produces events the ingestor
// will drop as unregistered.
func (s *RepositoryService) Unregister(ctx context.Context, id string) error {
	repo, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	hooks := []*models.ServiceHook{}
	err = s.db.SelectContext(ctx, &hooks,
		`SELECT * FROM service_hooks WHERE repository_id = $1`, repo.ID)
	if err != nil {
		return fmt.Errorf("failed to list service hooks: %w", err)
	}

	for _, hook := range hooks {
		if err := s.hooks.UnregisterHook(ctx, hook.ExternalID); err != nil {
			s.logger.WarnContext(ctx, "failed to unregister service hook",
				"repository_id", repo.ID, "hook_id", hook.ExternalID, "error", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = $1`, repo.ID); err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}

	s.logger.InfoContext(ctx, "repository unregistered",
		"repository_id", repo.ID, "url", repo.URL)
	return nil
}

// parseRepoURL validates a repository URL and splits it into coordinates.
// The coordinates are percent-decoded; the canonical URL keeps the original
// encoding minus surrounding whitespace and a trailing slash.
func parseRepoURL(rawURL string) (org, project, name, canonical string, err error) {
	canonical = strings.TrimRight(strings.TrimSpace(rawURL), "/")
	m := repoURLPattern.FindStringSubmatch(canonical)
	if m == nil {
		return "", "", "", "", NewValidationError("url",
			"must look like https://dev.azure.com/{organization}/{project}/_git/{repository}")
	}

	parts := make([]string, 3)
	for i, raw := range m[1:] {
		part, err := url.PathUnescape(raw)
		if err != nil {
			return "", "", "", "", NewValidationError("url", "invalid percent-encoding in path")
		}
		parts[i] = part
	}
	return parts[0], parts[1], parts[2], canonical, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/reviewd/pkg/models"
	"github.com/codeready-toolchain/reviewd/pkg/resilience"
)

type adoCommitRef struct {
	CommitID string `json:"commitId"`
}

type adoIdentity struct {
	DisplayName string `json:"displayName"`
}

type adoPullRequest struct {
	PullRequestID         int          `json:"pullRequestId"`
	Status                string       `json:"status"`
	Title                 string       `json:"title"`
	Description           string       `json:"description"`
	SourceRefName         string       `json:"sourceRefName"`
	TargetRefName         string       `json:"targetRefName"`
	CreatedBy             adoIdentity  `json:"createdBy"`
	LastMergeSourceCommit adoCommitRef `json:"lastMergeSourceCommit"`
	LastMergeTargetCommit adoCommitRef `json:"lastMergeTargetCommit"`
}

type adoIteration struct {
	ID              int          `json:"id"`
	SourceRefCommit adoCommitRef `json:"sourceRefCommit"`
	TargetRefCommit adoCommitRef `json:"targetRefCommit"`
}

type adoChangeEntry struct {
	ChangeType string `json:"changeType"`
	Item       struct {
		Path     string `json:"path"`
		IsFolder bool   `json:"isFolder"`
	} `json:"item"`
}

// GetPR retrieves pull request metadata: branches, author, title, and the
// latest merge source/target commits. Branch names are returned without
// the refs/heads/ prefix.
func (c *Client) GetPR(ctx context.Context, repoID, prID string) (*models.PRMetadata, error) {
	var pr adoPullRequest
	p := fmt.Sprintf("/_apis/git/repositories/%s/pullRequests/%s", repoID, prID)
	if err := c.call(ctx, "get_pr", http.MethodGet, p, nil, nil, &pr); err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "retrieved PR metadata",
		"pr_id", prID, "repository_id", repoID, "title", pr.Title)

	return &models.PRMetadata{
		PRID:           strconv.Itoa(pr.PullRequestID),
		RepositoryID:   repoID,
		SourceBranch:   strings.TrimPrefix(pr.SourceRefName, "refs/heads/"),
		TargetBranch:   strings.TrimPrefix(pr.TargetRefName, "refs/heads/"),
		Author:         pr.CreatedBy.DisplayName,
		Title:          pr.Title,
		Description:    pr.Description,
		SourceCommitID: pr.LastMergeSourceCommit.CommitID,
		TargetCommitID: pr.LastMergeTargetCommit.CommitID,
	}, nil
}

// ListIterations returns the PR's iterations in ascending id order with the
// source commit each one points at.
func (c *Client) ListIterations(ctx context.Context, repoID, prID string) ([]models.Iteration, error) {
	var env listEnvelope[adoIteration]
	p := fmt.Sprintf("/_apis/git/repositories/%s/pullRequests/%s/iterations", repoID, prID)
	if err := c.call(ctx, "list_iterations", http.MethodGet, p, nil, nil, &env); err != nil {
		return nil, err
	}

	iterations := make([]models.Iteration, 0, len(env.Value))
	for _, it := range env.Value {
		iterations = append(iterations, models.Iteration{
			ID:           it.ID,
			SourceCommit: it.SourceRefCommit.CommitID,
			TargetCommit: it.TargetRefCommit.CommitID,
		})
	}
	sort.Slice(iterations, func(i, j int) bool { return iterations[i].ID < iterations[j].ID })
	return iterations, nil
}

// GetIterationChanges returns the per-file change summary of one iteration.
// Folder entries are dropped.
func (c *Client) GetIterationChanges(ctx context.Context, repoID, prID string, iterationID int) ([]models.IterationChange, error) {
	var env struct {
		ChangeEntries []adoChangeEntry `json:"changeEntries"`
	}
	p := fmt.Sprintf("/_apis/git/repositories/%s/pullRequests/%s/iterations/%d/changes", repoID, prID, iterationID)
	if err := c.call(ctx, "get_iteration_changes", http.MethodGet, p, nil, nil, &env); err != nil {
		return nil, err
	}

	changes := make([]models.IterationChange, 0, len(env.ChangeEntries))
	for _, e := range env.ChangeEntries {
		if e.Item.IsFolder {
			continue
		}
		changes = append(changes, models.IterationChange{
			Path:       e.Item.Path,
			ChangeType: models.ParseChangeType(e.ChangeType),
		})
	}
	return changes, nil
}

// GetFile returns the file's content at a commit. Binary paths are refused
// locally with ErrBinaryFile; a path unknown at the commit surfaces as
// ErrNotFound.
func (c *Client) GetFile(ctx context.Context, repoID, filePath, commit string) (string, error) {
	if IsBinaryPath(filePath) {
		return "", fmt.Errorf("%w: %s", ErrBinaryFile, filePath)
	}

	query := url.Values{}
	query.Set("path", filePath)
	query.Set("versionDescriptor.version", commit)
	query.Set("versionDescriptor.versionType", "commit")
	query.Set("includeContent", "true")

	p := fmt.Sprintf("/_apis/git/repositories/%s/items", repoID)

	var content []byte
	err := c.retryer.Do(ctx, "get_file", func(ctx context.Context) error {
		data, err := c.fetchRaw(ctx, p, query)
		if err != nil {
			return err
		}
		content = data
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (c *Client) fetchRaw(ctx context.Context, p string, query url.Values) ([]byte, error) {
	var data []byte
	err := resilience.Execute(c.breaker, func() error {
		var err error
		data, err = c.doRaw(ctx, p, query)
		return err
	})
	return data, err
}

// binaryExtensions lists file types the pipeline never reviews.
var binaryExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}, ".ico": {}, ".svg": {},
	".pdf": {}, ".zip": {}, ".tar": {}, ".gz": {}, ".rar": {}, ".7z": {},
	".exe": {}, ".dll": {}, ".so": {}, ".dylib": {},
	".class": {}, ".jar": {}, ".war": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
}

// IsBinaryPath reports whether the path's extension marks a binary file
func IsBinaryPath(filePath string) bool {
	_, ok := binaryExtensions[strings.ToLower(path.Ext(filePath))]
	return ok
}

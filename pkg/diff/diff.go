// Package diff computes the change delta between two iterations of a pull
// request: the file regions that are new in the current iteration relative
// to the last reviewed one, expressed against current content with a
// surrounding context band.
package diff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/codeready-toolchain/reviewd/pkg/models"
	"github.com/codeready-toolchain/reviewd/pkg/platform"
	"github.com/codeready-toolchain/reviewd/pkg/resilience"
)

// ErrPriorIterationUnknown reports that the platform does not know the
// iteration recorded in the watermark. Non-retryable; callers fall back to
// a full review.
var ErrPriorIterationUnknown = errors.New("prior iteration unknown")

// Platform is the slice of the platform client the differ consumes.
type Platform interface {
	ListIterations(ctx context.Context, repoID, prID string) ([]models.Iteration, error)
	GetIterationChanges(ctx context.Context, repoID, prID string, iterationID int) ([]models.IterationChange, error)
	GetFile(ctx context.Context, repoID, filePath, commit string) (string, error)
}

// Differ builds change deltas from per-iteration file lists and contents.
type Differ struct {
	platform     Platform
	contextLines int
	logger       *slog.Logger
}

// New returns a Differ that widens every range by contextLines on each side.
func New(p Platform, contextLines int, logger *slog.Logger) *Differ {
	if contextLines < 0 {
		contextLines = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Differ{
		platform:     p,
		contextLines: contextLines,
		logger:       logger.With("component", "differ"),
	}
}

// Diff classifies the files of current ∪ prior and returns the regions new
// in the current iteration. Files present only in the prior iteration
// (deletions) are ignored; files whose content is unchanged are ignored;
// files new to the current iteration carry one full-file range.
func (d *Differ) Diff(ctx context.Context, pr *models.PRMetadata, priorIter, currentIter int) (*models.ChangeDelta, error) {
	iterations, err := d.platform.ListIterations(ctx, pr.RepositoryID, pr.PRID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations for pr %s: %w", pr.PRID, err)
	}

	prior, ok := findIteration(iterations, priorIter)
	if !ok {
		return nil, fmt.Errorf("%w: iteration %d of pr %s", ErrPriorIterationUnknown, priorIter, pr.PRID)
	}
	current, ok := findIteration(iterations, currentIter)
	if !ok {
		return nil, resilience.MarkPermanent(
			fmt.Errorf("current iteration %d not found for pr %s", currentIter, pr.PRID))
	}

	priorFiles, err := d.reviewableFiles(ctx, pr, prior.ID)
	if err != nil {
		return nil, err
	}
	currentFiles, err := d.reviewableFiles(ctx, pr, current.ID)
	if err != nil {
		return nil, err
	}

	delta := &models.ChangeDelta{
		PriorIteration:   prior.ID,
		CurrentIteration: current.ID,
	}

	for _, path := range sortedPaths(currentFiles) {
		_, inPrior := priorFiles[path]

		currentContent, skip, err := d.fileAt(ctx, pr.RepositoryID, path, current.SourceCommit)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}

		if !inPrior {
			delta.Files = append(delta.Files, fullSlice(path, models.SliceAdded, currentContent))
			continue
		}

		priorContent, skip, err := d.fileAt(ctx, pr.RepositoryID, path, prior.SourceCommit)
		if err != nil {
			return nil, err
		}
		if skip {
			// Content unknown at the prior iteration; review the whole file.
			delta.Files = append(delta.Files, fullSlice(path, models.SliceAdded, currentContent))
			continue
		}

		if xxhash.Sum64String(priorContent) == xxhash.Sum64String(currentContent) {
			continue
		}

		currentLines := splitLines(currentContent)
		ranges := newLineRanges(splitLines(priorContent), currentLines)
		ranges = widen(ranges, d.contextLines, len(currentLines))
		if len(ranges) == 0 {
			continue
		}
		delta.Files = append(delta.Files, models.FileSlice{
			Path:          path,
			Kind:          models.SliceModified,
			LineRanges:    ranges,
			TargetContent: currentContent,
		})
	}

	d.logger.InfoContext(ctx, "computed change delta",
		"pr_id", pr.PRID,
		"prior_iteration", prior.ID,
		"current_iteration", current.ID,
		"files_in_delta", len(delta.Files))
	return delta, nil
}

// Full returns a delta covering every reviewable file of the current
// iteration with full-file ranges. currentIter 0 or an unknown id resolves
// to the latest iteration.
func (d *Differ) Full(ctx context.Context, pr *models.PRMetadata, currentIter int) (*models.ChangeDelta, error) {
	iterations, err := d.platform.ListIterations(ctx, pr.RepositoryID, pr.PRID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations for pr %s: %w", pr.PRID, err)
	}
	if len(iterations) == 0 {
		return nil, resilience.MarkPermanent(fmt.Errorf("pr %s has no iterations", pr.PRID))
	}

	current, ok := findIteration(iterations, currentIter)
	if !ok {
		current = iterations[len(iterations)-1]
	}

	files, err := d.reviewableFiles(ctx, pr, current.ID)
	if err != nil {
		return nil, err
	}

	delta := &models.ChangeDelta{
		CurrentIteration: current.ID,
		FullReview:       true,
	}
	for _, path := range sortedPaths(files) {
		content, skip, err := d.fileAt(ctx, pr.RepositoryID, path, current.SourceCommit)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		kind := models.SliceModified
		if files[path] == models.ChangeAdd {
			kind = models.SliceAdded
		}
		delta.Files = append(delta.Files, fullSlice(path, kind, content))
	}

	d.logger.InfoContext(ctx, "built full review delta",
		"pr_id", pr.PRID,
		"current_iteration", current.ID,
		"files_in_delta", len(delta.Files))
	return delta, nil
}

// reviewableFiles returns path → change type for one iteration, with
// deletions dropped.
func (d *Differ) reviewableFiles(ctx context.Context, pr *models.PRMetadata, iterationID int) (map[string]models.ChangeType, error) {
	changes, err := d.platform.GetIterationChanges(ctx, pr.RepositoryID, pr.PRID, iterationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get changes of iteration %d: %w", iterationID, err)
	}
	files := make(map[string]models.ChangeType, len(changes))
	for _, ch := range changes {
		if ch.ChangeType == models.ChangeDelete {
			continue
		}
		files[ch.Path] = ch.ChangeType
	}
	return files, nil
}

// fileAt fetches content at a commit. Binary and vanished files are
// skipped with a log instead of aborting the delta; transient and
// credential failures bubble up.
func (d *Differ) fileAt(ctx context.Context, repoID, path, commit string) (content string, skip bool, err error) {
	content, err = d.platform.GetFile(ctx, repoID, path, commit)
	switch {
	case err == nil:
		return content, false, nil
	case errors.Is(err, platform.ErrBinaryFile):
		d.logger.DebugContext(ctx, "skipping binary file", "path", path)
		return "", true, nil
	case errors.Is(err, platform.ErrNotFound):
		d.logger.WarnContext(ctx, "file missing at commit, skipping",
			"path", path, "commit", commit)
		return "", true, nil
	default:
		return "", false, fmt.Errorf("failed to fetch %s at %s: %w", path, commit, err)
	}
}

func fullSlice(path string, kind models.SliceKind, content string) models.FileSlice {
	return models.FileSlice{
		Path:          path,
		Kind:          kind,
		LineRanges:    []models.LineRange{{Start: 1, End: len(splitLines(content))}},
		TargetContent: content,
	}
}

func findIteration(iterations []models.Iteration, id int) (models.Iteration, bool) {
	for _, it := range iterations {
		if it.ID == id {
			return it, true
		}
	}
	return models.Iteration{}, false
}

func sortedPaths(files map[string]models.ChangeType) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Package ledger reconciles analyzer findings with the comment threads
// already on a pull request. Before publish it suppresses findings an
// active thread already covers; after analysis it classifies prior
// service-posted threads as fixed or still open against the new code.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeready-toolchain/reviewd/pkg/analyzer"
	"github.com/codeready-toolchain/reviewd/pkg/models"
)

// verifyRegionLines is how far around a prior finding's anchor the
// fix-verification context extends, in lines each direction.
const verifyRegionLines = 10

// resolvedReply is appended to a thread when its finding is confirmed fixed.
const resolvedReply = "This appears to be addressed by the latest changes. Marking the thread as fixed."

// Platform is the slice of the platform client the ledger needs.
type Platform interface {
	ListThreads(ctx context.Context, repoID, prID string) ([]models.Thread, error)
	UpdateThreadStatus(ctx context.Context, repoID, prID string, threadID int, status models.ThreadStatus) error
	ReplyToThread(ctx context.Context, repoID, prID string, threadID int, body string) error
}

// Verifier judges whether current code addresses a prior finding.
type Verifier interface {
	VerifyFix(ctx context.Context, finding models.LineFinding, currentContext string) (analyzer.Verdict, error)
}

// Ledger reconciles findings against existing PR threads.
type Ledger struct {
	platform Platform
	verifier Verifier
	logger   *slog.Logger
}

// New creates a ledger over the given platform and verifier.
func New(platform Platform, verifier Verifier, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		platform: platform,
		verifier: verifier,
		logger:   logger.With("component", "ledger"),
	}
}

// FilterNew drops findings already represented by an active service thread
// at the same (path, line, category), and within the batch keeps only the
// first finding per fingerprint. The count reports suppressed duplicates.
func (l *Ledger) FilterNew(ctx context.Context, repoID, prID string, findings []models.LineFinding) ([]models.LineFinding, int, error) {
	if len(findings) == 0 {
		return nil, 0, nil
	}
	threads, err := l.platform.ListThreads(ctx, repoID, prID)
	if err != nil {
		return nil, 0, fmt.Errorf("list threads: %w", err)
	}

	type anchor struct {
		path     string
		line     int
		category models.Category
	}
	existing := make(map[anchor]struct{})
	for i := range threads {
		t := &threads[i]
		if t.Status != models.ThreadActive {
			continue
		}
		prior, ok := serviceFinding(t)
		if !ok {
			continue
		}
		existing[anchor{prior.Path, prior.Line, prior.Category}] = struct{}{}
	}

	var (
		toPost  []models.LineFinding
		skipped int
		seen    = make(map[string]struct{}, len(findings))
	)
	for _, f := range findings {
		if f.Fingerprint == "" {
			f.ComputeFingerprint()
		}
		if _, dup := seen[f.Fingerprint]; dup {
			skipped++
			continue
		}
		seen[f.Fingerprint] = struct{}{}
		if _, dup := existing[anchor{f.Path, f.Line, f.Category}]; dup {
			skipped++
			continue
		}
		toPost = append(toPost, f)
	}

	if skipped > 0 {
		l.logger.InfoContext(ctx, "suppressed duplicate findings",
			"pr_id", prID, "skipped", skipped, "to_post", len(toPost))
	}
	return toPost, skipped, nil
}

// Failure is a per-thread partial error during classification. The run
// records failures and carries on with the remaining threads.
type Failure struct {
	Op     string
	Target string
	Err    error
}

// Classification is the outcome of reconciling prior service threads
// against the current iteration.
type Classification struct {
	// Resolved threads were marked fixed this run.
	Resolved []models.Thread
	// Open threads remain active: the finding still appears, the verifier
	// declined to affirm a fix, or the file was untouched this iteration.
	Open []models.Thread
	// Failures are the per-thread errors hit along the way.
	Failures []Failure
}

// ClassifyPrior walks the active service threads on the PR. A thread whose
// file is in the delta and whose fingerprint is absent from current gets a
// fix-verification call; only an affirmative verdict marks it fixed, with
// a short reply. Everything else stays untouched.
func (l *Ledger) ClassifyPrior(ctx context.Context, repoID, prID string, current []models.LineFinding, delta *models.ChangeDelta) (*Classification, error) {
	threads, err := l.platform.ListThreads(ctx, repoID, prID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	known := make(map[string]struct{}, len(current))
	for _, f := range current {
		known[f.Fingerprint] = struct{}{}
	}

	result := &Classification{}
	for i := range threads {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		t := threads[i]
		if t.Status != models.ThreadActive {
			continue
		}
		prior, ok := serviceFinding(&t)
		if !ok {
			continue
		}

		slice := delta.Slice(prior.Path)
		if slice == nil {
			// File untouched this iteration; nothing new to judge against.
			result.Open = append(result.Open, t)
			continue
		}
		if _, still := known[prior.Fingerprint]; still {
			result.Open = append(result.Open, t)
			continue
		}

		region := regionAround(slice.TargetContent, prior.Line, verifyRegionLines)
		verdict, err := l.verifier.VerifyFix(ctx, prior, region)
		if err != nil {
			result.Failures = append(result.Failures, Failure{Op: "verify_fix", Target: anchorTarget(prior), Err: err})
			result.Open = append(result.Open, t)
			continue
		}
		if verdict != analyzer.VerdictResolved {
			result.Open = append(result.Open, t)
			continue
		}

		if err := l.platform.UpdateThreadStatus(ctx, repoID, prID, t.ID, models.ThreadFixed); err != nil {
			result.Failures = append(result.Failures, Failure{Op: "update_thread_status", Target: anchorTarget(prior), Err: err})
			result.Open = append(result.Open, t)
			continue
		}
		if err := l.platform.ReplyToThread(ctx, repoID, prID, t.ID, resolvedReply); err != nil {
			// Status already updated; the reply is best-effort.
			result.Failures = append(result.Failures, Failure{Op: "reply_to_thread", Target: anchorTarget(prior), Err: err})
		}
		result.Resolved = append(result.Resolved, t)
	}

	l.logger.InfoContext(ctx, "classified prior findings",
		"pr_id", prID,
		"resolved", len(result.Resolved),
		"open", len(result.Open),
		"failures", len(result.Failures))
	return result, nil
}

// serviceFinding reconstructs the finding a service-authored inline thread
// was posted for. ok is false for human threads, deleted threads, and
// PR-level threads.
func serviceFinding(t *models.Thread) (models.LineFinding, bool) {
	if t.IsDeleted || !t.IsInline() {
		return models.LineFinding{}, false
	}
	body := t.FirstComment()
	category, fingerprint, ok := parseMarker(body)
	if !ok {
		return models.LineFinding{}, false
	}
	return models.LineFinding{
		Path:        t.Path,
		Line:        t.Line,
		Category:    category,
		Message:     findingMessage(body),
		Fingerprint: fingerprint,
	}, true
}

func anchorTarget(f models.LineFinding) string {
	return fmt.Sprintf("%s:%d", f.Path, f.Line)
}

// regionAround extracts the lines within radius of the anchor, clamped to
// the content bounds. Anchors beyond the end of the shrunk file clamp to
// the last line.
func regionAround(content string, line, radius int) string {
	lines := strings.Split(content, "\n")
	n := len(lines)
	if line < 1 {
		line = 1
	}
	if line > n {
		line = n
	}
	start := line - radius
	if start < 1 {
		start = 1
	}
	end := line + radius
	if end > n {
		end = n
	}
	return strings.Join(lines[start-1:end], "\n")
}

package agent

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/reviewd/pkg/diff"
	"github.com/codeready-toolchain/reviewd/pkg/ledger"
	"github.com/codeready-toolchain/reviewd/pkg/models"
	"github.com/codeready-toolchain/reviewd/pkg/platform"
	"github.com/codeready-toolchain/reviewd/pkg/rules"
	"github.com/codeready-toolchain/reviewd/pkg/store"
)

// diffAttempts is how many times the incremental diff is tried before the
// run falls back to a full review.
const diffAttempts = 2

// noIssuesSummary is posted PR-level when line comments went out but the
// architecture pass had nothing to say.
const noIssuesSummary = "No architectural issues detected."

// abortError returns a non-nil error when err must abort the whole run
// rather than degrade it: cancellation, the run deadline, or the platform
// revoking our credentials. Everything else is recoverable per-item.
func (a *Agent) abortError(err error) error {
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, platform.ErrUnauthorized) {
		return err
	}
	return nil
}

// initPhase validates the event before any I/O happens.
func (a *Agent) initPhase(_ context.Context, run *runState) models.AgentPhase {
	ev := &a.event
	if !ev.EventKind.IsValid() || ev.PRID == "" || ev.RepositoryID == "" {
		run.fail("validate_event", fmt.Errorf(
			"malformed event: kind=%q pr=%q repo=%q", ev.EventKind, ev.PRID, ev.RepositoryID))
		return models.PhaseError
	}
	return models.PhaseFetchMeta
}

// fetchMeta loads the PR and its iteration history and pins which
// iteration this run reviews: the first for a created event, the newest
// for an update. Anything failing here leaves nothing to review.
func (a *Agent) fetchMeta(ctx context.Context, run *runState) models.AgentPhase {
	pr, err := a.platform.GetPR(ctx, a.event.RepositoryID, a.event.PRID)
	a.metrics.RecordAPICall("platform", err)
	if err != nil {
		run.fail("get_pr", fmt.Errorf("fetch PR metadata: %w", err))
		return models.PhaseError
	}

	iterations, err := a.platform.ListIterations(ctx, a.event.RepositoryID, a.event.PRID)
	a.metrics.RecordAPICall("platform", err)
	if err != nil {
		run.fail("list_iterations", fmt.Errorf("list iterations: %w", err))
		return models.PhaseError
	}
	if len(iterations) == 0 {
		run.fail("list_iterations", fmt.Errorf("PR %s has no iterations", a.event.PRID))
		return models.PhaseError
	}

	pr.CurrentIteration = iterations[len(iterations)-1].ID
	run.state.PRMetadata = pr

	if a.event.EventKind == models.EventKindCreated {
		// A freshly opened PR has exactly one push worth reviewing; even if
		// more arrived while the event sat queued, those produce their own
		// update events.
		run.state.IterationID = iterations[0].ID
		return models.PhaseFullList
	}
	run.state.IterationID = pr.CurrentIteration
	return models.PhaseLoadWatermark
}

// loadWatermark fetches the last successfully reviewed iteration. A PR
// with no watermark has never completed a review and gets a full one.
func (a *Agent) loadWatermark(ctx context.Context, run *runState) models.AgentPhase {
	watermark, err := a.store.GetWatermark(ctx, a.event.RepositoryID, a.event.PRID)
	if errors.Is(err, store.ErrWatermarkNotFound) {
		a.logger.InfoContext(ctx, "no watermark for PR, running full review",
			"iteration", run.state.IterationID)
		return models.PhaseFullList
	}
	if err != nil {
		run.fail("get_watermark", fmt.Errorf("load watermark: %w", err))
		return models.PhaseError
	}
	run.state.LastReviewedIteration = watermark
	if watermark >= run.state.IterationID {
		// Stale or replayed event: everything up to here is already
		// reviewed and the watermark must not move backwards.
		a.logger.InfoContext(ctx, "iteration already reviewed, nothing to do",
			"watermark", watermark, "iteration", run.state.IterationID)
		run.state.ChangeDelta = &models.ChangeDelta{
			PriorIteration:   watermark,
			CurrentIteration: run.state.IterationID,
		}
		run.state.IterationID = watermark
		return models.PhaseDone
	}
	return models.PhaseDiff
}

// diffPhase computes the incremental delta between the watermark and the
// current iteration. The platform no longer knowing the prior iteration
// means the diff base is gone; a second consecutive failure is treated
// the same way. Both degrade to a full review instead of blocking the PR.
func (a *Agent) diffPhase(ctx context.Context, run *runState) models.AgentPhase {
	var lastErr error
	for attempt := 1; attempt <= diffAttempts; attempt++ {
		delta, err := a.differ.Diff(ctx, run.state.PRMetadata, run.state.LastReviewedIteration, run.state.IterationID)
		if err == nil {
			return a.acceptDelta(ctx, run, delta)
		}
		if errors.Is(err, diff.ErrPriorIterationUnknown) {
			a.logger.WarnContext(ctx, "DIFF_FALLBACK",
				"reason", "prior_iteration_unknown",
				"prior", run.state.LastReviewedIteration,
				"current", run.state.IterationID)
			return models.PhaseFullList
		}
		if fatal := a.abortError(err); fatal != nil {
			run.fail("diff", fatal)
			return models.PhaseError
		}
		a.logger.WarnContext(ctx, "diff attempt failed",
			"attempt", attempt, "error", err)
		lastErr = err
	}
	run.state.AddError("diff", "", lastErr.Error())
	a.logger.WarnContext(ctx, "DIFF_FALLBACK",
		"reason", "diff_failed",
		"prior", run.state.LastReviewedIteration,
		"current", run.state.IterationID,
		"error", lastErr)
	return models.PhaseFullList
}

// fullList builds the full-review delta: every reviewable file at the
// current iteration, all lines in scope.
func (a *Agent) fullList(ctx context.Context, run *runState) models.AgentPhase {
	delta, err := a.differ.Full(ctx, run.state.PRMetadata, run.state.IterationID)
	if err != nil {
		run.fail("full_list", fmt.Errorf("full file list: %w", err))
		return models.PhaseError
	}
	return a.acceptDelta(ctx, run, delta)
}

// acceptDelta records the delta and short-circuits runs with nothing to
// review. An empty delta is a successful review of zero files, so the
// run still completes and the watermark still advances.
func (a *Agent) acceptDelta(ctx context.Context, run *runState, delta *models.ChangeDelta) models.AgentPhase {
	run.state.ChangeDelta = delta
	if delta.IsEmpty() {
		a.logger.InfoContext(ctx, "empty delta, nothing to review",
			"prior", delta.PriorIteration, "current", delta.CurrentIteration)
		return models.PhaseDone
	}
	a.logger.InfoContext(ctx, "delta computed",
		"files", len(delta.Files), "full_review", delta.FullReview)
	return models.PhaseParse
}

// parse builds the structural outline of every reviewable file in the
// delta. Files with no registered language, no content, or binary content
// are skipped and counted; a parse failure on one file is recorded and
// never aborts the phase.
func (a *Agent) parse(ctx context.Context, run *runState) models.AgentPhase {
	delta := run.state.ChangeDelta
	outlines := make(map[string]*models.FileOutline)
	skipped := 0

	for i := range delta.Files {
		slice := &delta.Files[i]
		set, ok := a.rules.ForFile(slice.Path)
		if !ok {
			a.logger.DebugContext(ctx, "no rule set for file, skipping", "path", slice.Path)
			skipped++
			continue
		}
		if slice.TargetContent == "" {
			skipped++
			continue
		}
		outline, err := rules.ParseOutline(slice.Path, set.Language, slice.TargetContent)
		if err != nil {
			if errors.Is(err, rules.ErrBinaryContent) {
				a.logger.DebugContext(ctx, "binary content, skipping", "path", slice.Path)
			} else {
				run.state.AddError("parse_file", slice.Path, err.Error())
			}
			skipped++
			continue
		}
		outlines[slice.Path] = outline
	}

	run.state.ParsedFiles = outlines
	a.metrics.AddFilesSkipped(skipped)
	a.logger.InfoContext(ctx, "parsed delta files",
		"parsed", len(outlines), "skipped", skipped)
	return models.PhaseLineAnalysis
}

// lineAnalysis fans the parsed files out to the analyzer, bounded by the
// worker limit. Results keep delta order regardless of which file finished
// first. Findings outside the delta cannot be anchored to a reviewable
// line and are dropped.
func (a *Agent) lineAnalysis(ctx context.Context, run *runState) models.AgentPhase {
	delta := run.state.ChangeDelta

	var order []string
	for i := range delta.Files {
		if _, ok := run.state.ParsedFiles[delta.Files[i].Path]; ok {
			order = append(order, delta.Files[i].Path)
		}
	}
	if len(order) == 0 {
		return models.PhaseArchAnalysis
	}

	results := make([]fileAnalysis, len(order))
	var g errgroup.Group
	g.SetLimit(a.workers)
	for i, path := range order {
		g.Go(func() error {
			results[i] = a.analyzeFile(ctx, run.state, path)
			return nil
		})
	}
	_ = g.Wait()

	var findings []models.LineFinding
	analyzed := 0
	offDelta := 0
	for _, res := range results {
		for _, e := range res.errs {
			run.state.AddError("analyze_chunks", e.target, e.message)
		}
		if res.analyzed {
			analyzed++
		}
		for _, f := range res.findings {
			if !delta.ContainsLine(f.Path, f.Line) {
				offDelta++
				continue
			}
			findings = append(findings, f)
		}
	}

	run.state.Findings = findings
	a.metrics.AddFilesAnalyzed(analyzed)
	if offDelta > 0 {
		a.logger.WarnContext(ctx, "dropped findings outside the delta", "count", offDelta)
	}
	a.logger.InfoContext(ctx, "line analysis complete",
		"files", analyzed, "findings", len(findings))
	return models.PhaseArchAnalysis
}

// archAnalysis submits the whole delta for the cross-file pass. Its
// failure costs the summary comment, not the run.
func (a *Agent) archAnalysis(ctx context.Context, run *runState) models.AgentPhase {
	files := a.buildArchFiles(run.state)
	if len(files) == 0 {
		return a.afterAnalysis(run)
	}

	summary, err := a.analyzer.AnalyzeArchitecture(ctx, files)
	a.metrics.RecordAPICall("analyzer", err)
	if err != nil {
		if fatal := a.abortError(err); fatal != nil {
			run.fail("analyze_architecture", fatal)
			return models.PhaseError
		}
		run.state.AddError("analyze_architecture", "", err.Error())
	} else {
		run.state.Summary = summary
	}
	return a.afterAnalysis(run)
}

// afterAnalysis routes to the resolution check only on update runs that
// reviewed an incremental delta. Created events have no prior comments,
// and full-review fallbacks have no per-line delta to verify fixes in.
func (a *Agent) afterAnalysis(run *runState) models.AgentPhase {
	if a.event.EventKind == models.EventKindUpdated && !run.state.ChangeDelta.FullReview {
		return models.PhaseResolutionCheck
	}
	return models.PhasePublish
}

// resolutionCheck reconciles our earlier threads against the new
// iteration, marking the ones whose findings no longer hold. Failures on
// individual threads are partial; the phase itself only aborts when the
// whole thread listing is unavailable for a critical reason.
func (a *Agent) resolutionCheck(ctx context.Context, run *runState) models.AgentPhase {
	cls, err := a.ledger.ClassifyPrior(ctx, a.event.RepositoryID, a.event.PRID, run.state.Findings, run.state.ChangeDelta)
	if err != nil {
		if fatal := a.abortError(err); fatal != nil {
			run.fail("classify_prior", fatal)
			return models.PhaseError
		}
		run.state.AddError("classify_prior", "", err.Error())
		return models.PhasePublish
	}

	for _, f := range cls.Failures {
		run.state.AddError(f.Op, f.Target, f.Err.Error())
	}
	a.metrics.AddResolutionsMarked(len(cls.Resolved))
	return models.PhasePublish
}

// publish posts the deduplicated findings as inline threads and the
// summary as a PR-level thread. Each failed post is recorded and the rest
// still go out.
func (a *Agent) publish(ctx context.Context, run *runState) models.AgentPhase {
	repoID, prID := a.event.RepositoryID, a.event.PRID

	toPost, duplicates, err := a.ledger.FilterNew(ctx, repoID, prID, run.state.Findings)
	if err != nil {
		if fatal := a.abortError(err); fatal != nil {
			run.fail("filter_new", fatal)
			return models.PhaseError
		}
		// Without the existing threads there is no duplicate protection;
		// posting blind would spam the PR on every redelivery.
		run.state.AddError("filter_new", "", err.Error())
		toPost = nil
	}
	a.metrics.AddDuplicatesSkipped(duplicates)

	posted := 0
	for _, f := range toPost {
		if ctx.Err() != nil {
			break
		}
		draft := &models.ThreadDraft{Path: f.Path, Line: f.Line, Body: ledger.FormatFinding(f)}
		_, err := a.platform.CreateThread(ctx, repoID, prID, draft)
		a.metrics.RecordAPICall("platform", err)
		if err != nil {
			if fatal := a.abortError(err); fatal != nil {
				run.fail("create_thread", fatal)
				return models.PhaseError
			}
			run.state.AddError("create_thread", fmt.Sprintf("%s:%d", f.Path, f.Line), err.Error())
			continue
		}
		posted++
	}
	a.metrics.AddFindingsPosted(posted)

	if body := summaryBody(run.state, posted); body != "" && ctx.Err() == nil {
		_, err := a.platform.CreateThread(ctx, repoID, prID, &models.ThreadDraft{Body: body})
		a.metrics.RecordAPICall("platform", err)
		if err != nil {
			if fatal := a.abortError(err); fatal != nil {
				run.fail("publish_summary", fatal)
				return models.PhaseError
			}
			run.state.AddError("publish_summary", "", err.Error())
		}
	}

	a.logger.InfoContext(ctx, "publish complete",
		"posted", posted, "duplicates_skipped", duplicates)
	return models.PhaseDone
}

// summaryBody picks the PR-level comment: the architectural summary when
// the pass produced one, a stock all-clear when line comments went out
// without one, nothing when the run posted nothing at all.
func summaryBody(state *models.AgentState, posted int) string {
	if state.Summary != nil {
		return ledger.FormatSummary(state.Summary)
	}
	if posted > 0 {
		return noIssuesSummary
	}
	return ""
}

// errorPhase logs the accumulated errors before terminal cleanup. The
// records stay on the state for the execution row.
func (a *Agent) errorPhase(ctx context.Context, run *runState) models.AgentPhase {
	for _, e := range run.state.Errors {
		a.logger.ErrorContext(ctx, "review error",
			"error_phase", string(e.Phase),
			"operation", e.Operation,
			"target", e.Target,
			"message", e.Message)
	}
	if run.fatal != nil {
		a.logger.ErrorContext(ctx, "run aborted", "error", run.fatal)
	}
	return models.PhaseDone
}

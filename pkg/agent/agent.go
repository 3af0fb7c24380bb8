// Package agent implements the review agent: a phase machine that drives
// one pull-request review from queued event to published comments. Each
// phase returns the next phase; the full agent state is checkpointed to
// the store after every transition, so a crashed run is inspectable and
// the PR claim can be recovered.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/reviewd/pkg/analyzer"
	"github.com/codeready-toolchain/reviewd/pkg/ledger"
	"github.com/codeready-toolchain/reviewd/pkg/metrics"
	"github.com/codeready-toolchain/reviewd/pkg/models"
	"github.com/codeready-toolchain/reviewd/pkg/rules"
)

// terminalBudget bounds the cleanup work after the run context is gone:
// final checkpoint, claim release, watermark write.
const terminalBudget = 8 * time.Second

// Platform is the slice of the platform client the agent drives directly.
// The differ and the ledger hold their own slices.
type Platform interface {
	GetPR(ctx context.Context, repoID, prID string) (*models.PRMetadata, error)
	ListIterations(ctx context.Context, repoID, prID string) ([]models.Iteration, error)
	CreateThread(ctx context.Context, repoID, prID string, draft *models.ThreadDraft) (*models.Thread, error)
}

// StateStore persists agent state, watermarks, and the PR claim.
type StateStore interface {
	PutState(ctx context.Context, state *models.AgentState) error
	GetWatermark(ctx context.Context, repoID, prID string) (int, error)
	SetWatermark(ctx context.Context, repoID, prID string, iteration int) error
	ReleasePR(ctx context.Context, prID, agentID string) error
}

// Differ computes the change delta between iterations.
type Differ interface {
	Diff(ctx context.Context, pr *models.PRMetadata, priorIter, currentIter int) (*models.ChangeDelta, error)
	Full(ctx context.Context, pr *models.PRMetadata, currentIter int) (*models.ChangeDelta, error)
}

// Analyzer is the external analysis service.
type Analyzer interface {
	Analyze(ctx context.Context, spec analyzer.RuleSpec, chunks []analyzer.Chunk) ([]models.LineFinding, error)
	AnalyzeArchitecture(ctx context.Context, files []analyzer.ArchitectureFile) (*models.SummaryFinding, error)
}

// Ledger reconciles findings against existing PR threads.
type Ledger interface {
	FilterNew(ctx context.Context, repoID, prID string, findings []models.LineFinding) ([]models.LineFinding, int, error)
	ClassifyPrior(ctx context.Context, repoID, prID string, current []models.LineFinding, delta *models.ChangeDelta) (*ledger.Classification, error)
}

// RuleSource maps changed files to their review configuration.
type RuleSource interface {
	ForFile(path string) (*rules.Set, bool)
}

// Deps carries the collaborators one review run drives.
type Deps struct {
	Platform Platform
	Store    StateStore
	Differ   Differ
	Analyzer Analyzer
	Ledger   Ledger
	Rules    RuleSource
	Metrics  *metrics.Collector
	Logger   *slog.Logger
}

// Options tunes the analysis fan-out.
type Options struct {
	// BatchSize is the number of chunks per analyzer call.
	BatchSize int
	// Workers bounds how many files run line analysis concurrently.
	Workers int
}

const (
	defaultBatchSize = 8
	defaultWorkers   = 4
)

// Result is the terminal outcome of one run. The full state was
// checkpointed throughout; this carries what the caller records.
type Result struct {
	AgentID string
	Status  models.AgentStatus
	Metrics metrics.Summary
}

// Agent executes one review run. Agents are created per event and never
// reused.
type Agent struct {
	id       string
	event    models.PREvent
	deadline time.Time

	platform Platform
	store    StateStore
	differ   Differ
	analyzer Analyzer
	ledger   Ledger
	rules    RuleSource
	metrics  *metrics.Collector
	logger   *slog.Logger

	batchSize int
	workers   int
}

// runState is the mutable state of a run in progress. fatal carries the
// first critical error; partial errors live on state.Errors.
type runState struct {
	state *models.AgentState
	fatal error
}

// fail records a critical error and latches the first one as the run's
// fatal cause. The record lands in errors[] like any partial failure so
// the execution row carries it.
func (r *runState) fail(op string, err error) {
	if r.fatal == nil {
		r.fatal = err
	}
	r.state.AddError(op, "", err.Error())
}

// New creates an agent for one event. The deadline is recorded on the
// state; the caller enforces it through ctx.
func New(id string, event models.PREvent, deadline time.Time, deps Deps, opts Options) *Agent {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NewCollector(id, event.PRID, event.RepositoryID, logger)
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}
	return &Agent{
		id:        id,
		event:     event,
		deadline:  deadline,
		platform:  deps.Platform,
		store:     deps.Store,
		differ:    deps.Differ,
		analyzer:  deps.Analyzer,
		ledger:    deps.Ledger,
		rules:     deps.Rules,
		metrics:   collector,
		logger:    logger.With("component", "agent", "agent_id", id, "pr_id", event.PRID),
		batchSize: opts.BatchSize,
		workers:   opts.Workers,
	}
}

// Run drives the review to a terminal state and always returns a result.
// Check Result.Status for the outcome; infrastructure failures along the
// way surface there as failed, never as a panic or a lost run.
func (a *Agent) Run(ctx context.Context) *Result {
	run := &runState{
		state: &models.AgentState{
			AgentID:      a.id,
			PRID:         a.event.PRID,
			RepositoryID: a.event.RepositoryID,
			Event:        a.event,
			Phase:        models.PhaseInit,
			StartedAt:    time.Now().UTC(),
			Deadline:     a.deadline,
		},
	}
	a.metrics.Start()
	a.logger.InfoContext(ctx, "review run started",
		"repository_id", a.event.RepositoryID, "event_kind", string(a.event.EventKind))

	phase := models.PhaseInit
	for {
		a.metrics.BeginPhase(phase)
		run.state.Phase = phase

		var next models.AgentPhase
		switch phase {
		case models.PhaseInit:
			next = a.initPhase(ctx, run)
		case models.PhaseFetchMeta:
			next = a.fetchMeta(ctx, run)
		case models.PhaseLoadWatermark:
			next = a.loadWatermark(ctx, run)
		case models.PhaseDiff:
			next = a.diffPhase(ctx, run)
		case models.PhaseFullList:
			next = a.fullList(ctx, run)
		case models.PhaseParse:
			next = a.parse(ctx, run)
		case models.PhaseLineAnalysis:
			next = a.lineAnalysis(ctx, run)
		case models.PhaseArchAnalysis:
			next = a.archAnalysis(ctx, run)
		case models.PhaseResolutionCheck:
			next = a.resolutionCheck(ctx, run)
		case models.PhasePublish:
			next = a.publish(ctx, run)
		case models.PhaseError:
			next = a.errorPhase(ctx, run)
		case models.PhaseDone:
			return a.finish(ctx, run)
		default:
			run.fail("dispatch", fmt.Errorf("unknown phase %q", phase))
			next = models.PhaseError
		}

		a.checkpoint(ctx, run)

		// Cancellation is honored between phases; terminal phases still run
		// so cleanup happens under the detached context.
		if next != models.PhaseDone && next != models.PhaseError {
			if err := ctx.Err(); err != nil {
				run.fail("interrupted", err)
				next = models.PhaseError
			} else if run.fatal != nil {
				next = models.PhaseError
			}
		}
		phase = next
	}
}

// checkpoint persists the state after a phase transition. A failed
// checkpoint means the store is unreachable after retries, which is
// critical: the run cannot guarantee recoverability beyond this point.
func (a *Agent) checkpoint(ctx context.Context, run *runState) {
	if err := a.store.PutState(ctx, run.state); err != nil {
		a.logger.ErrorContext(ctx, "failed to checkpoint agent state",
			"phase", string(run.state.Phase), "error", err)
		run.fail("checkpoint", fmt.Errorf("checkpoint failed: %w", err))
	}
}

// finish performs the terminal cleanup for both the done and the error
// path: watermark on success, final checkpoint, claim release, metrics.
func (a *Agent) finish(ctx context.Context, run *runState) *Result {
	// The run context may already be cancelled or past its deadline;
	// cleanup runs detached but bounded.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalBudget)
	defer cancel()

	status := models.StatusCompleted
	switch {
	case run.fatal != nil:
		// Classify on the recorded error, not ctx.Err(), so a concurrent
		// context expiration does not misclassify an unrelated failure.
		if errors.Is(run.fatal, context.DeadlineExceeded) {
			status = models.StatusTimeout
		} else {
			status = models.StatusFailed
		}
	case len(run.state.Errors) > 0:
		status = models.StatusFailed
	}

	if status == models.StatusCompleted {
		if err := a.store.SetWatermark(cleanupCtx, a.event.RepositoryID, a.event.PRID, run.state.IterationID); err != nil {
			run.state.AddError("set_watermark", "", err.Error())
			status = models.StatusFailed
		} else {
			run.state.LastReviewedIteration = run.state.IterationID
		}
	}

	a.metrics.Complete(status, run.state.Errors)
	summary := a.metrics.Summary()

	now := time.Now().UTC()
	run.state.Phase = models.PhaseDone
	run.state.EndedAt = &now
	run.state.PhaseTimings = summary.PhaseTimings

	if err := a.store.PutState(cleanupCtx, run.state); err != nil {
		a.logger.ErrorContext(cleanupCtx, "failed to persist terminal state", "error", err)
	}
	if err := a.store.ReleasePR(cleanupCtx, a.event.PRID, a.id); err != nil {
		a.logger.ErrorContext(cleanupCtx, "failed to release PR claim", "error", err)
	}

	a.logger.InfoContext(cleanupCtx, "review run finished",
		"status", string(status),
		"iteration", run.state.IterationID,
		"findings", len(run.state.Findings),
		"errors", len(run.state.Errors),
		"duration_ms", summary.DurationMS)

	return &Result{AgentID: a.id, Status: status, Metrics: summary}
}

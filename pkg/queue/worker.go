package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/reviewd/pkg/agent"
	"github.com/codeready-toolchain/reviewd/pkg/config"
	"github.com/codeready-toolchain/reviewd/pkg/models"
	"github.com/codeready-toolchain/reviewd/pkg/store"
)

type workerStatus string

const (
	workerStatusIdle    workerStatus = "idle"
	workerStatusWorking workerStatus = "working"
)

// claimPollInterval is how often a superseding worker re-attempts the PR
// claim while waiting for the cancelled holder to release it.
const claimPollInterval = 250 * time.Millisecond

// terminalOpsBudget bounds the post-run bookkeeping: execution row,
// timeout cancel, claim release, queue ack.
const terminalOpsBudget = 10 * time.Second

// Worker polls the queue and runs one review agent at a time.
type Worker struct {
	id       string
	pool     *Pool
	store    Store
	recorder ExecutionRecorder
	executor ReviewExecutor
	cfg      *config.QueueConfig
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu               sync.RWMutex
	status           workerStatus
	currentAgentID   string
	currentPRID      string
	reviewsProcessed int
	lastActivity     time.Time
}

func newWorker(id string, pool *Pool, logger *slog.Logger) *Worker {
	return &Worker{
		id:           id,
		pool:         pool,
		store:        pool.store,
		recorder:     pool.recorder,
		executor:     pool.executor,
		cfg:          pool.cfg,
		logger:       logger.With("worker_id", id),
		stopCh:       make(chan struct{}),
		status:       workerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the current run to finish.
// Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the worker's health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:               w.id,
		Status:           string(w.status),
		CurrentAgentID:   w.currentAgentID,
		CurrentPRID:      w.currentPRID,
		ReviewsProcessed: w.reviewsProcessed,
		LastActivity:     w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	w.logger.Info("worker started")
	for {
		select {
		case <-w.stopCh:
			w.logger.Info("worker shutting down")
			return
		case <-ctx.Done():
			w.logger.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.poll(ctx); err != nil {
				if errors.Is(err, store.ErrNoJobsAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				w.logger.Error("queue poll failed", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) poll(ctx context.Context) error {
	entry, err := w.store.Dequeue(ctx, w.id)
	if err != nil {
		return err
	}
	w.process(ctx, entry)
	return nil
}

// process runs the whole lifecycle for one queued event: claim, deadline,
// execution row, the review itself, then the terminal bookkeeping. The
// entry is acked only after the run is recorded; a crash anywhere before
// that redelivers the entry after its visibility window.
func (w *Worker) process(ctx context.Context, entry *models.QueueEntry) {
	event := entry.Event
	agentID := "agent-" + uuid.NewString()
	log := w.logger.With("agent_id", agentID, "pr_id", event.PRID, "entry_id", entry.ID)

	log.Info("review event dequeued",
		"event_kind", string(event.EventKind),
		"iteration", event.IterationID,
		"attempts", entry.Attempts)

	if !w.takeClaim(ctx, event.PRID, agentID, log) {
		return
	}

	deadline := time.Now().Add(w.cfg.AgentDeadline)
	if err := w.store.ScheduleTimeout(ctx, agentID, deadline); err != nil {
		log.Warn("failed to schedule timeout supervision", "error", err)
	}

	rec := &models.ExecutionRecord{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		PRID:         event.PRID,
		RepositoryID: event.RepositoryID,
		Phase:        models.PhaseInit,
		Status:       models.StatusRunning,
		StartedAt:    time.Now().UTC(),
		Deadline:     deadline.UTC(),
	}
	if err := w.recorder.Begin(ctx, rec); err != nil {
		log.Warn("failed to insert execution row", "error", err)
	}

	w.setStatus(workerStatusWorking, agentID, event.PRID)
	defer w.setStatus(workerStatusIdle, "", "")

	runCtx, cancelRun := context.WithDeadline(ctx, deadline)
	defer cancelRun()
	w.pool.registerAgent(agentID, event.PRID, cancelRun)
	defer w.pool.unregisterAgent(agentID)

	result := w.executor.Execute(runCtx, agentID, event, deadline)
	if result == nil {
		// The agent contract returns a result for every run; synthesize a
		// failed one so the row and the ack still happen.
		result = &agent.Result{AgentID: agentID, Status: models.StatusFailed}
		result.Metrics.ErrorMessage = "executor returned no result"
	}

	// The run context may be cancelled or past its deadline by now; the
	// terminal bookkeeping runs detached but bounded.
	finishCtx, cancelFinish := context.WithTimeout(context.WithoutCancel(ctx), terminalOpsBudget)
	defer cancelFinish()

	w.finishRecord(finishCtx, rec, result, log)
	if err := w.store.CancelTimeout(finishCtx, agentID); err != nil {
		log.Warn("failed to cancel timeout supervision", "error", err)
	}
	// The agent releases its own claim during terminal cleanup; repeating
	// it here covers a nil result. Released claims make this a no-op.
	if err := w.store.ReleasePR(finishCtx, event.PRID, agentID); err != nil {
		log.Warn("failed to release PR claim", "error", err)
	}
	// Ack last. An entry acked before the run is recorded would vanish on
	// a crash; an entry never acked merely redelivers.
	if err := w.store.Ack(finishCtx, entry); err != nil {
		log.Error("failed to ack queue entry", "error", err)
	}

	w.mu.Lock()
	w.reviewsProcessed++
	w.mu.Unlock()

	log.Info("review processed",
		"status", string(result.Status),
		"findings_posted", result.Metrics.FindingsPosted,
		"duration_ms", result.Metrics.DurationMS)
}

// takeClaim acquires the per-PR claim. When another agent holds it, this
// event supersedes that run: the holder is cancelled and given the claim
// wait to release; after that the claim is broken by force.
func (w *Worker) takeClaim(ctx context.Context, prID, agentID string, log *slog.Logger) bool {
	claimed, holder, err := w.store.ClaimPR(ctx, prID, agentID)
	if err != nil {
		log.Error("claim attempt failed", "error", err)
		return false
	}
	if claimed {
		return true
	}

	log.Info("PR already claimed by a running agent, cancelling it", "holder", holder)
	w.pool.CancelAgent(holder)

	waitUntil := time.Now().Add(w.cfg.ClaimWait)
	for time.Now().Before(waitUntil) {
		if !w.sleep(claimPollInterval) {
			return false
		}
		claimed, holder, err = w.store.ClaimPR(ctx, prID, agentID)
		if err != nil {
			log.Error("claim attempt failed", "error", err)
			return false
		}
		if claimed {
			return true
		}
	}

	log.Warn("STALE_AGENT_KILLED",
		"holder", holder,
		"reason", "claim_not_released",
		"waited", w.cfg.ClaimWait.String())
	if err := w.store.ForceReleasePR(ctx, prID); err != nil {
		log.Error("failed to force-release PR claim", "error", err)
		return false
	}
	claimed, _, err = w.store.ClaimPR(ctx, prID, agentID)
	if err != nil || !claimed {
		log.Error("claim retry after force release failed", "error", err)
		return false
	}
	return true
}

// finishRecord writes the terminal execution row from the run result.
func (w *Worker) finishRecord(ctx context.Context, rec *models.ExecutionRecord, result *agent.Result, log *slog.Logger) {
	ended := result.Metrics.EndedAt
	if ended.IsZero() {
		ended = time.Now().UTC()
	}
	duration := result.Metrics.DurationMS

	rec.Status = result.Status
	rec.Phase = models.PhaseDone
	rec.EndedAt = &ended
	rec.DurationMS = &duration
	rec.FilesAnalyzed = result.Metrics.FilesAnalyzed
	rec.FindingsPosted = result.Metrics.FindingsPosted
	rec.DuplicatesSkipped = result.Metrics.DuplicatesSkipped
	rec.ResolutionsMarked = result.Metrics.ResolutionsMarked
	rec.APICalls = result.Metrics.APICalls
	rec.APIErrors = result.Metrics.APIErrors
	rec.PhaseTimings = result.Metrics.PhaseTimings
	if result.Metrics.ErrorMessage != "" {
		msg := result.Metrics.ErrorMessage
		rec.ErrorMessage = &msg
	}

	if err := w.recorder.Finish(ctx, rec); err != nil {
		log.Error("failed to finalize execution row", "error", err)
	}
}

// sleep waits for the duration or until stop; returns false when stopping.
func (w *Worker) sleep(d time.Duration) bool {
	select {
	case <-w.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// pollInterval returns the poll duration with jitter in
// [base - jitter, base + jitter].
func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status workerStatus, agentID, prID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentAgentID = agentID
	w.currentPRID = prID
	w.lastActivity = time.Now()
}

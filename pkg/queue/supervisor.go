package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// supervisorState tracks timeout supervision progress (thread-safe).
type supervisorState struct {
	mu       sync.Mutex
	lastScan time.Time
	killed   int
	dueSince map[string]time.Time
}

// runSupervisor periodically scans for agents past their wall deadline.
// Every instance runs the scan independently; the operations are
// idempotent.
func (p *Pool) runSupervisor(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SupervisorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.superviseOnce(ctx, time.Now()); err != nil {
				p.logger.Error("timeout supervision scan failed", "error", err)
			}
		}
	}
}

// superviseOnce runs one supervision scan. An agent first seen past its
// deadline is cancelled and given the claim wait to finish its own
// terminal cleanup, which drops its timeout entry. One still due after
// the grace window is presumed hung or crashed and is killed.
func (p *Pool) superviseOnce(ctx context.Context, now time.Time) error {
	due, err := p.store.DueTimeouts(ctx, now)
	if err != nil {
		return err
	}

	p.supervisor.mu.Lock()
	if p.supervisor.dueSince == nil {
		p.supervisor.dueSince = make(map[string]time.Time)
	}
	dueSet := make(map[string]struct{}, len(due))
	for _, id := range due {
		dueSet[id] = struct{}{}
	}
	// Agents no longer due finished their own cleanup; forget them.
	for id := range p.supervisor.dueSince {
		if _, ok := dueSet[id]; !ok {
			delete(p.supervisor.dueSince, id)
		}
	}
	p.supervisor.lastScan = now
	p.supervisor.mu.Unlock()

	for _, agentID := range due {
		p.superviseAgent(ctx, agentID, now)
	}
	return nil
}

func (p *Pool) superviseAgent(ctx context.Context, agentID string, now time.Time) {
	p.supervisor.mu.Lock()
	since, seen := p.supervisor.dueSince[agentID]
	if !seen {
		p.supervisor.dueSince[agentID] = now
	}
	p.supervisor.mu.Unlock()

	if !seen {
		if p.CancelAgent(agentID) {
			p.logger.Warn("agent past deadline, cancelled", "agent_id", agentID)
		} else {
			p.logger.Warn("agent past deadline, not running on this instance",
				"agent_id", agentID)
		}
		return
	}

	if now.Sub(since) < p.cfg.ClaimWait {
		return
	}

	p.killStaleAgent(ctx, agentID)
	p.supervisor.mu.Lock()
	delete(p.supervisor.dueSince, agentID)
	p.supervisor.mu.Unlock()
}

// killStaleAgent settles the bookkeeping for a run that outlived its
// deadline and its grace window: terminal row, broken claim, dropped
// timeout entry. The underlying queue entry was never acked and will
// redeliver after its visibility window.
func (p *Pool) killStaleAgent(ctx context.Context, agentID string) {
	log := p.logger.With("agent_id", agentID)

	rec, err := p.recorder.MarkTimedOut(ctx, agentID,
		"killed by supervisor: run exceeded its deadline without terminating")
	if err != nil {
		log.Error("failed to finalize stale agent's execution row", "error", err)
	}

	prID := ""
	if rec != nil {
		prID = rec.PRID
	}
	if prID != "" {
		if err := p.store.ForceReleasePR(ctx, prID); err != nil {
			log.Error("failed to force-release stale agent's claim",
				"pr_id", prID, "error", err)
		}
	}
	if err := p.store.CancelTimeout(ctx, agentID); err != nil {
		log.Error("failed to drop stale agent's timeout entry", "error", err)
	}

	p.supervisor.mu.Lock()
	p.supervisor.killed++
	p.supervisor.mu.Unlock()

	log.Warn("STALE_AGENT_KILLED", "pr_id", prID, "reason", "deadline_exceeded")
}

// RecoverStaleRuns finishes execution rows left running past their
// deadline by a previous crash. Called once at startup before the pool
// starts. The queue redelivers the underlying events after their
// visibility window, so recovery only settles the bookkeeping.
func RecoverStaleRuns(ctx context.Context, st Store, recorder ExecutionRecorder, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	recs, err := recorder.ListExpiredRunning(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("list expired running executions: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}

	logger.Warn("found stale runs from a previous crash", "count", len(recs))
	for _, rec := range recs {
		if _, err := recorder.MarkTimedOut(ctx, rec.AgentID,
			"stale at startup: instance crashed while the run was in progress"); err != nil {
			logger.Error("failed to finalize stale run",
				"agent_id", rec.AgentID, "error", err)
			continue
		}
		if err := st.ForceReleasePR(ctx, rec.PRID); err != nil {
			logger.Error("failed to force-release stale claim",
				"agent_id", rec.AgentID, "pr_id", rec.PRID, "error", err)
		}
		if err := st.CancelTimeout(ctx, rec.AgentID); err != nil {
			logger.Error("failed to drop stale timeout entry",
				"agent_id", rec.AgentID, "error", err)
		}
		logger.Info("stale run recovered", "agent_id", rec.AgentID, "pr_id", rec.PRID)
	}
	return nil
}

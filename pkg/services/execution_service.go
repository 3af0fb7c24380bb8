package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/reviewd/pkg/database"
	"github.com/codeready-toolchain/reviewd/pkg/models"
)

// ExecutionService persists agent execution rows and serves the monitoring
// reads behind the admin API. It is the queue's ExecutionRecorder.
type ExecutionService struct {
	db     *database.Client
	logger *slog.Logger
}

// NewExecutionService creates an ExecutionService.
func NewExecutionService(db *database.Client, logger *slog.Logger) *ExecutionService {
	if db == nil {
		panic("NewExecutionService: db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionService{
		db:     db,
		logger: logger.With("component", "executions"),
	}
}

// Begin inserts the row at agent spawn with status running.
func (s *ExecutionService) Begin(ctx context.Context, rec *models.ExecutionRecord) error {
	const q = `
		INSERT INTO agent_executions (
			id, agent_id, pr_id, repository_id, phase, status,
			started_at, deadline, phase_timings
		) VALUES (
			:id, :agent_id, :pr_id, :repository_id, :phase, :status,
			:started_at, :deadline, :phase_timings
		)`
	if _, err := s.db.NamedExecContext(ctx, q, rec); err != nil {
		return fmt.Errorf("failed to insert execution row: %w", err)
	}
	return nil
}

// Finish writes the terminal fields. It upserts on the run id so a failed
// Begin does not lose the terminal record.
func (s *ExecutionService) Finish(ctx context.Context, rec *models.ExecutionRecord) error {
	const q = `
		INSERT INTO agent_executions (
			id, agent_id, pr_id, repository_id, phase, status,
			started_at, deadline, ended_at, duration_ms,
			files_analyzed, findings_posted, duplicates_skipped,
			resolutions_marked, api_calls, api_errors,
			error_message, phase_timings
		) VALUES (
			:id, :agent_id, :pr_id, :repository_id, :phase, :status,
			:started_at, :deadline, :ended_at, :duration_ms,
			:files_analyzed, :findings_posted, :duplicates_skipped,
			:resolutions_marked, :api_calls, :api_errors,
			:error_message, :phase_timings
		)
		ON CONFLICT (id) DO UPDATE SET
			phase              = EXCLUDED.phase,
			status             = EXCLUDED.status,
			ended_at           = EXCLUDED.ended_at,
			duration_ms        = EXCLUDED.duration_ms,
			files_analyzed     = EXCLUDED.files_analyzed,
			findings_posted    = EXCLUDED.findings_posted,
			duplicates_skipped = EXCLUDED.duplicates_skipped,
			resolutions_marked = EXCLUDED.resolutions_marked,
			api_calls          = EXCLUDED.api_calls,
			api_errors         = EXCLUDED.api_errors,
			error_message      = EXCLUDED.error_message,
			phase_timings      = EXCLUDED.phase_timings`
	if _, err := s.db.NamedExecContext(ctx, q, rec); err != nil {
		return fmt.Errorf("failed to finalize execution row: %w", err)
	}
	return nil
}

// MarkTimedOut force-finishes a still-running row, recording the message.
// Returns the updated row, or nil when no running row exists for the agent,
// which means its run already reached terminal on its own.
func (s *ExecutionService) MarkTimedOut(ctx context.Context, agentID, message string) (*models.ExecutionRecord, error) {
	const q = `
		UPDATE agent_executions
		SET status        = $2,
		    phase         = $3,
		    ended_at      = now(),
		    duration_ms   = (EXTRACT(EPOCH FROM (now() - started_at)) * 1000)::bigint,
		    error_message = $4
		WHERE agent_id = $1 AND status = $5
		RETURNING *`
	var rec models.ExecutionRecord
	err := s.db.GetContext(ctx, &rec, q,
		agentID, models.StatusTimeout, models.PhaseDone, message, models.StatusRunning)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark execution timed out: %w", err)
	}

	s.logger.WarnContext(ctx, "execution force-finished as timeout",
		"agent_id", agentID, "pr_id", rec.PRID)
	return &rec, nil
}

// ListExpiredRunning returns running rows whose deadline has passed. Used
// by boot recovery: such rows can only come from an instance that died
// mid-run, since a live run is force-finished by its own supervisor.
func (s *ExecutionService) ListExpiredRunning(ctx context.Context, now time.Time) ([]*models.ExecutionRecord, error) {
	recs := []*models.ExecutionRecord{}
	const q = `
		SELECT * FROM agent_executions
		WHERE status = $1 AND deadline < $2
		ORDER BY started_at`
	if err := s.db.SelectContext(ctx, &recs, q, models.StatusRunning, now); err != nil {
		return nil, fmt.Errorf("failed to list expired executions: %w", err)
	}
	return recs, nil
}

// ListRunning returns all rows currently in running status, newest first.
func (s *ExecutionService) ListRunning(ctx context.Context) ([]*models.ExecutionRecord, error) {
	recs := []*models.ExecutionRecord{}
	const q = `
		SELECT * FROM agent_executions
		WHERE status = $1
		ORDER BY started_at DESC`
	if err := s.db.SelectContext(ctx, &recs, q, models.StatusRunning); err != nil {
		return nil, fmt.Errorf("failed to list running executions: %w", err)
	}
	return recs, nil
}

// ListRecent returns the most recently started rows regardless of status.
func (s *ExecutionService) ListRecent(ctx context.Context, limit int) ([]*models.ExecutionRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	recs := []*models.ExecutionRecord{}
	const q = `
		SELECT * FROM agent_executions
		ORDER BY started_at DESC
		LIMIT $1`
	if err := s.db.SelectContext(ctx, &recs, q, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent executions: %w", err)
	}
	return recs, nil
}

// GetByAgentID returns one row by its agent id, or ErrNotFound.
func (s *ExecutionService) GetByAgentID(ctx context.Context, agentID string) (*models.ExecutionRecord, error) {
	var rec models.ExecutionRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT * FROM agent_executions WHERE agent_id = $1`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	return &rec, nil
}

// Package queue dispatches queued pull-request events to review agents: a
// pool of workers polls the durable queue, takes the per-PR claim, runs one
// agent per event under a wall deadline, and records the run in the
// executions table. A supervisor kills runs that outlive their deadline.
package queue

import (
	"context"
	"time"

	"github.com/codeready-toolchain/reviewd/pkg/agent"
	"github.com/codeready-toolchain/reviewd/pkg/models"
)

// Store is the queue, claim, and timeout surface the pool drives. It is
// implemented by store.Client.
type Store interface {
	Dequeue(ctx context.Context, workerID string) (*models.QueueEntry, error)
	Ack(ctx context.Context, entry *models.QueueEntry) error
	QueueDepth(ctx context.Context) (pending, inflight int64, err error)

	ClaimPR(ctx context.Context, prID, agentID string) (claimed bool, holder string, err error)
	ReleasePR(ctx context.Context, prID, agentID string) error
	ForceReleasePR(ctx context.Context, prID string) error

	ScheduleTimeout(ctx context.Context, agentID string, at time.Time) error
	CancelTimeout(ctx context.Context, agentID string) error
	DueTimeouts(ctx context.Context, now time.Time) ([]string, error)
}

// ExecutionRecorder persists the per-run execution rows used for
// monitoring and recovery. Implemented by services.ExecutionService.
type ExecutionRecorder interface {
	// Begin inserts the row at spawn with status running.
	Begin(ctx context.Context, rec *models.ExecutionRecord) error

	// Finish writes the terminal fields. It upserts on the run id so a
	// failed Begin does not lose the terminal record.
	Finish(ctx context.Context, rec *models.ExecutionRecord) error

	// MarkTimedOut force-finishes a still-running row. Returns the updated
	// row, or nil when no running row exists for the agent.
	MarkTimedOut(ctx context.Context, agentID, message string) (*models.ExecutionRecord, error)

	// ListExpiredRunning returns running rows whose deadline has passed.
	ListExpiredRunning(ctx context.Context, now time.Time) ([]*models.ExecutionRecord, error)
}

// ReviewExecutor runs one review to a terminal status. The worker owns
// claiming, the deadline, the execution row, and the queue ack; the
// executor owns everything between.
type ReviewExecutor interface {
	Execute(ctx context.Context, agentID string, event models.PREvent, deadline time.Time) *agent.Result
}

// AgentExecutor is the production ReviewExecutor: it builds a fresh agent
// per event on top of shared dependencies.
type AgentExecutor struct {
	Deps agent.Deps
	Opts agent.Options
}

// Execute runs a single review agent to completion.
func (e *AgentExecutor) Execute(ctx context.Context, agentID string, event models.PREvent, deadline time.Time) *agent.Result {
	return agent.New(agentID, event, deadline, e.Deps, e.Opts).Run(ctx)
}

// PoolHealth is the health snapshot for the whole worker pool.
type PoolHealth struct {
	IsHealthy          bool           `json:"is_healthy"`
	StoreReachable     bool           `json:"store_reachable"`
	StoreError         string         `json:"store_error,omitempty"`
	InstanceID         string         `json:"instance_id"`
	ActiveWorkers      int            `json:"active_workers"`
	TotalWorkers       int            `json:"total_workers"`
	ActiveAgents       int            `json:"active_agents"`
	QueuePending       int64          `json:"queue_pending"`
	QueueInflight      int64          `json:"queue_inflight"`
	WorkerStats        []WorkerHealth `json:"worker_stats"`
	LastSupervisorScan time.Time      `json:"last_supervisor_scan"`
	StaleAgentsKilled  int            `json:"stale_agents_killed"`
}

// WorkerHealth is the health snapshot for a single worker.
type WorkerHealth struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"` // "idle" or "working"
	CurrentAgentID   string    `json:"current_agent_id,omitempty"`
	CurrentPRID      string    `json:"current_pr_id,omitempty"`
	ReviewsProcessed int       `json:"reviews_processed"`
	LastActivity     time.Time `json:"last_activity"`
}

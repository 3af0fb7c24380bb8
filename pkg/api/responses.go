package api

import (
	"time"

	"github.com/codeready-toolchain/reviewd/pkg/models"
	"github.com/codeready-toolchain/reviewd/pkg/queue"
)

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	// Code classifies webhook rejections (INGEST_UNAUTHORIZED,
	// INGEST_REJECTED). Empty elsewhere.
	Code string `json:"code,omitempty"`
}

// WebhookResponse is returned by POST /webhooks/azure-devops/pr for every
// delivery the platform must not retry, including drops.
type WebhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	PRID    string `json:"pr_id,omitempty"`
	EntryID string `json:"entry_id,omitempty"`
}

// CancelResponse is returned by POST /api/v1/agents/:id/cancel.
type CancelResponse struct {
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Checks     map[string]HealthCheck `json:"checks"`
	WorkerPool *queue.PoolHealth      `json:"worker_pool,omitempty"`
}

// HealthCheck is the probe result for a single component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// AgentDetailResponse is returned by GET /api/v1/agents/:id. State is
// present only while the run's checkpoint blob is still in the store.
type AgentDetailResponse struct {
	Record *models.ExecutionRecord `json:"record"`
	State  *AgentStateSummary      `json:"state,omitempty"`
}

// AgentStateSummary is a compact view of a checkpointed agent state blob.
// The full blob carries parsed file outlines and finding bodies; the
// admin surface only needs the counters.
type AgentStateSummary struct {
	Phase                 models.AgentPhase `json:"phase"`
	IterationID           int               `json:"iteration_id,omitempty"`
	LastReviewedIteration int               `json:"last_reviewed_iteration,omitempty"`
	FilesChanged          int               `json:"files_changed"`
	Findings              int               `json:"findings"`
	Errors                int               `json:"errors"`
	StartedAt             time.Time         `json:"started_at"`
	Deadline              time.Time         `json:"deadline"`
}

func summarizeState(st *models.AgentState) *AgentStateSummary {
	sum := &AgentStateSummary{
		Phase:                 st.Phase,
		IterationID:           st.IterationID,
		LastReviewedIteration: st.LastReviewedIteration,
		Findings:              len(st.Findings),
		Errors:                len(st.Errors),
		StartedAt:             st.StartedAt,
		Deadline:              st.Deadline,
	}
	if st.ChangeDelta != nil {
		sum.FilesChanged = len(st.ChangeDelta.Files)
	}
	return sum
}

package models

import "time"

// Repository is a registered Azure DevOps repository. Only registered
// repositories accept webhook events; everything else is acked and dropped.
type Repository struct {
	ID           string    `db:"id" json:"id"`
	Organization string    `db:"organization" json:"organization"`
	Project      string    `db:"project" json:"project"`
	Name         string    `db:"name" json:"name"`
	URL          string    `db:"url" json:"url"`
	HookID       *string   `db:"hook_id" json:"hook_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ServiceHook records the platform subscription created for a repository.
// One hook per repository; removed when the repository is unregistered.
type ServiceHook struct {
	ID           string    `db:"id" json:"id"`
	RepositoryID string    `db:"repository_id" json:"repository_id"`
	ExternalID   string    `db:"external_id" json:"external_id"`
	URL          string    `db:"url" json:"url"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CreateRepositoryRequest registers a repository for review by URL
type CreateRepositoryRequest struct {
	URL string `json:"url" binding:"required"`
}

// AgentInfo is the monitoring view of an agent run (admin surface)
type AgentInfo struct {
	AgentID        string      `json:"agent_id"`
	PRID           string      `json:"pr_id"`
	RepositoryID   string      `json:"repository_id"`
	Status         AgentStatus `json:"status"`
	Phase          AgentPhase  `json:"phase"`
	StartedAt      time.Time   `json:"started_at"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
	FindingsSoFar  int         `json:"findings_so_far"`
	Errors         int         `json:"errors"`
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PhaseTimings maps phase name to elapsed milliseconds. Stored as jsonb.
type PhaseTimings map[string]int64

// Value implements driver.Valuer for jsonb storage
func (t PhaseTimings) Value() (driver.Value, error) {
	if t == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner for jsonb retrieval
func (t *PhaseTimings) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return fmt.Errorf("unsupported phase timings type %T", src)
	}
}

// ExecutionRecord is the durable per-run metrics row (agent_executions).
// One row per agent run; the row is created at spawn with status running
// and finalized exactly once at terminal.
type ExecutionRecord struct {
	ID                string       `db:"id" json:"id"`
	AgentID           string       `db:"agent_id" json:"agent_id"`
	PRID              string       `db:"pr_id" json:"pr_id"`
	RepositoryID      string       `db:"repository_id" json:"repository_id"`
	Phase             AgentPhase   `db:"phase" json:"phase"`
	Status            AgentStatus  `db:"status" json:"status"`
	StartedAt         time.Time    `db:"started_at" json:"started_at"`
	Deadline          time.Time    `db:"deadline" json:"deadline"`
	EndedAt           *time.Time   `db:"ended_at" json:"ended_at,omitempty"`
	DurationMS        *int64       `db:"duration_ms" json:"duration_ms,omitempty"`
	FilesAnalyzed     int          `db:"files_analyzed" json:"files_analyzed"`
	FindingsPosted    int          `db:"findings_posted" json:"findings_posted"`
	DuplicatesSkipped int          `db:"duplicates_skipped" json:"duplicates_skipped"`
	ResolutionsMarked int          `db:"resolutions_marked" json:"resolutions_marked"`
	APICalls          int          `db:"api_calls" json:"api_calls"`
	APIErrors         int          `db:"api_errors" json:"api_errors"`
	ErrorMessage      *string      `db:"error_message" json:"error_message,omitempty"`
	PhaseTimings      PhaseTimings `db:"phase_timings" json:"phase_timings,omitempty"`
}

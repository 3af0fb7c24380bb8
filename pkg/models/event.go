package models

import (
	"strconv"
	"time"
)

// EventKind identifies the pull-request lifecycle event that triggered a review
type EventKind string

const (
	// EventKindCreated is emitted when a pull request is opened
	EventKindCreated EventKind = "created"
	// EventKindUpdated is emitted when a pull request receives a new iteration
	EventKindUpdated EventKind = "updated"
)

// IsValid checks if the event kind is valid
func (k EventKind) IsValid() bool {
	return k == EventKindCreated || k == EventKindUpdated
}

// PREvent is the normalized pull-request event produced by the ingestor.
// Exactly one agent run consumes each event.
type PREvent struct {
	EventKind    EventKind `json:"event_kind"`
	PRID         string    `json:"pr_id"`
	RepositoryID string    `json:"repository_id"`
	SourceBranch string    `json:"source_branch"`
	TargetBranch string    `json:"target_branch"`
	SourceCommit string    `json:"source_commit"`
	TargetCommit string    `json:"target_commit"`
	Author       string    `json:"author"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	// IterationID is set only when the webhook payload carries it; most
	// update payloads do not, in which case SourceCommit keys the dedup.
	IterationID int       `json:"iteration_id,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// DedupKey builds the idempotency key for webhook deduplication:
// (pr_id, iteration_id ?? source_commit, event_kind).
func (e *PREvent) DedupKey() string {
	iter := e.SourceCommit
	if e.IterationID > 0 {
		iter = strconv.Itoa(e.IterationID)
	}
	return e.PRID + ":" + iter + ":" + string(e.EventKind)
}

// PRMetadata is the platform's view of a pull request at review time
type PRMetadata struct {
	PRID           string `json:"pr_id"`
	RepositoryID   string `json:"repository_id"`
	SourceBranch   string `json:"source_branch"`
	TargetBranch   string `json:"target_branch"`
	Author         string `json:"author"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	SourceCommitID string `json:"source_commit_id"`
	TargetCommitID string `json:"target_commit_id"`
	// CurrentIteration is the highest iteration id known to the platform
	CurrentIteration int `json:"current_iteration"`
}

// QueueEntry wraps a PREvent for durable queueing. Attempts and VisibleAt
// are maintained by the store on delivery.
type QueueEntry struct {
	ID         string    `json:"id"`
	Event      PREvent   `json:"event"`
	DedupKey   string    `json:"dedup_key"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
	VisibleAt  time.Time `json:"visible_at,omitempty"`
}

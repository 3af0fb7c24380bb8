package store

import "errors"

var (
	// ErrNoJobsAvailable indicates the pending queue is empty
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrDuplicateEvent indicates an entry with the same dedup key is
	// already queued or being processed
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrStoreUnavailable indicates the backend stayed unreachable after
	// the retry budget was exhausted
	ErrStoreUnavailable = errors.New("state store unavailable")

	// ErrStateTooLarge indicates an agent state blob exceeds MaxStateSize
	ErrStateTooLarge = errors.New("agent state exceeds size limit")

	// ErrStateNotFound indicates no state blob exists for the agent
	ErrStateNotFound = errors.New("agent state not found")

	// ErrWatermarkNotFound indicates no iteration watermark exists for the PR
	ErrWatermarkNotFound = errors.New("iteration watermark not found")
)

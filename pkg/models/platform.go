package models

import "strings"

// ChangeType classifies a file-level change inside one PR iteration
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeEdit   ChangeType = "edit"
	ChangeDelete ChangeType = "delete"
)

// ParseChangeType folds the platform's composite change strings (such as
// "edit, rename") onto the three kinds the review pipeline distinguishes.
// Renames count as edits so moved content is re-reviewed.
func ParseChangeType(raw string) ChangeType {
	s := strings.ToLower(raw)
	switch {
	case strings.Contains(s, "add"):
		return ChangeAdd
	case strings.Contains(s, "delete"):
		return ChangeDelete
	default:
		return ChangeEdit
	}
}

// Iteration is one push to a PR's source branch. The platform numbers
// iterations from 1 in push order.
type Iteration struct {
	ID           int    `json:"id"`
	SourceCommit string `json:"source_commit"`
	TargetCommit string `json:"target_commit"`
}

// IterationChange is one file's change summary within an iteration
type IterationChange struct {
	Path       string     `json:"path"`
	ChangeType ChangeType `json:"change_type"`
}

// ThreadStatus is the platform's resolution state of a comment thread
type ThreadStatus string

const (
	ThreadActive  ThreadStatus = "active"
	ThreadFixed   ThreadStatus = "fixed"
	ThreadWontFix ThreadStatus = "wontFix"
	ThreadClosed  ThreadStatus = "closed"
	ThreadPending ThreadStatus = "pending"
)

// ThreadComment is one comment inside a thread
type ThreadComment struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Author  string `json:"author,omitempty"`
}

// Thread is an existing comment thread on a PR: inline when Path is set,
// PR-level otherwise.
type Thread struct {
	ID        int             `json:"id"`
	Status    ThreadStatus    `json:"status"`
	Path      string          `json:"path,omitempty"`
	Line      int             `json:"line,omitempty"`
	Comments  []ThreadComment `json:"comments,omitempty"`
	IsDeleted bool            `json:"is_deleted,omitempty"`
}

// IsInline reports whether the thread is anchored to a file line
func (t *Thread) IsInline() bool {
	return t.Path != ""
}

// FirstComment returns the thread's opening comment body, or "".
func (t *Thread) FirstComment() string {
	if len(t.Comments) == 0 {
		return ""
	}
	return t.Comments[0].Content
}

// ThreadDraft is a comment thread to be created: inline when Path is set
// (Line then required), PR-level otherwise. New threads always open active.
type ThreadDraft struct {
	Path string `json:"path,omitempty"`
	Line int    `json:"line,omitempty"`
	Body string `json:"body"`
}

package platform

import (
	"context"
	"fmt"
	"net/http"

	"github.com/codeready-toolchain/reviewd/pkg/models"
)

type adoPosition struct {
	Line   int `json:"line"`
	Offset int `json:"offset"`
}

type adoThreadContext struct {
	FilePath       string       `json:"filePath"`
	RightFileStart *adoPosition `json:"rightFileStart,omitempty"`
	RightFileEnd   *adoPosition `json:"rightFileEnd,omitempty"`
}

type adoComment struct {
	ID              int          `json:"id,omitempty"`
	ParentCommentID int          `json:"parentCommentId"`
	Content         string       `json:"content"`
	CommentType     string       `json:"commentType"`
	Author          *adoIdentity `json:"author,omitempty"`
}

type adoThread struct {
	ID            int               `json:"id,omitempty"`
	Status        string            `json:"status,omitempty"`
	IsDeleted     bool              `json:"isDeleted,omitempty"`
	Comments      []adoComment      `json:"comments,omitempty"`
	ThreadContext *adoThreadContext `json:"threadContext,omitempty"`
}

func mapThread(t adoThread) models.Thread {
	thread := models.Thread{
		ID:        t.ID,
		Status:    models.ThreadStatus(t.Status),
		IsDeleted: t.IsDeleted,
	}
	if tc := t.ThreadContext; tc != nil {
		thread.Path = tc.FilePath
		if tc.RightFileStart != nil {
			thread.Line = tc.RightFileStart.Line
		}
	}
	for _, cm := range t.Comments {
		comment := models.ThreadComment{ID: cm.ID, Content: cm.Content}
		if cm.Author != nil {
			comment.Author = cm.Author.DisplayName
		}
		thread.Comments = append(thread.Comments, comment)
	}
	return thread
}

// ListThreads returns all comment threads on the PR, deleted ones included;
// callers filter by status and IsDeleted.
func (c *Client) ListThreads(ctx context.Context, repoID, prID string) ([]models.Thread, error) {
	var env listEnvelope[adoThread]
	p := fmt.Sprintf("/_apis/git/repositories/%s/pullRequests/%s/threads", repoID, prID)
	if err := c.call(ctx, "list_threads", http.MethodGet, p, nil, nil, &env); err != nil {
		return nil, err
	}

	threads := make([]models.Thread, 0, len(env.Value))
	for _, t := range env.Value {
		threads = append(threads, mapThread(t))
	}
	return threads, nil
}

// CreateThread opens a new active thread: inline when the draft carries a
// path (anchored to the right-hand side of the diff), PR-level otherwise.
func (c *Client) CreateThread(ctx context.Context, repoID, prID string, draft *models.ThreadDraft) (*models.Thread, error) {
	req := adoThread{
		Status:   string(models.ThreadActive),
		Comments: []adoComment{{ParentCommentID: 0, Content: draft.Body, CommentType: "text"}},
	}
	if draft.Path != "" {
		req.ThreadContext = &adoThreadContext{
			FilePath:       draft.Path,
			RightFileStart: &adoPosition{Line: draft.Line, Offset: 1},
			RightFileEnd:   &adoPosition{Line: draft.Line, Offset: 1},
		}
	}

	var created adoThread
	p := fmt.Sprintf("/_apis/git/repositories/%s/pullRequests/%s/threads", repoID, prID)
	if err := c.call(ctx, "create_thread", http.MethodPost, p, nil, req, &created); err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "created comment thread",
		"pr_id", prID, "thread_id", created.ID, "path", draft.Path, "line", draft.Line)

	thread := mapThread(created)
	return &thread, nil
}

// ReplyToThread appends a comment to an existing thread
func (c *Client) ReplyToThread(ctx context.Context, repoID, prID string, threadID int, body string) error {
	req := adoComment{ParentCommentID: 1, Content: body, CommentType: "text"}
	p := fmt.Sprintf("/_apis/git/repositories/%s/pullRequests/%s/threads/%d/comments", repoID, prID, threadID)
	return c.call(ctx, "reply_to_thread", http.MethodPost, p, nil, req, nil)
}

// UpdateThreadStatus patches a thread's resolution status
func (c *Client) UpdateThreadStatus(ctx context.Context, repoID, prID string, threadID int, status models.ThreadStatus) error {
	req := struct {
		Status string `json:"status"`
	}{Status: string(status)}

	p := fmt.Sprintf("/_apis/git/repositories/%s/pullRequests/%s/threads/%d", repoID, prID, threadID)
	if err := c.call(ctx, "update_thread_status", http.MethodPatch, p, nil, req, nil); err != nil {
		return err
	}

	c.logger.DebugContext(ctx, "updated thread status",
		"pr_id", prID, "thread_id", threadID, "status", status)
	return nil
}

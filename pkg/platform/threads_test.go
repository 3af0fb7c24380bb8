package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/reviewd/pkg/models"
)

func TestListThreads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contoso/_apis/git/repositories/repo-1/pullRequests/42/threads", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"count": 3,
			"value": [
				{
					"id": 10,
					"status": "active",
					"threadContext": {
						"filePath": "/src/app.ts",
						"rightFileStart": {"line": 118, "offset": 1},
						"rightFileEnd": {"line": 118, "offset": 1}
					},
					"comments": [
						{"id": 1, "content": "subscription is never unsubscribed", "author": {"displayName": "reviewd"}}
					]
				},
				{
					"id": 11,
					"status": "fixed",
					"comments": [{"id": 1, "content": "overall summary"}]
				},
				{
					"id": 12,
					"status": "active",
					"isDeleted": true,
					"comments": [{"id": 1, "content": "gone"}]
				}
			]
		}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	threads, err := client.ListThreads(context.Background(), "repo-1", "42")
	require.NoError(t, err)
	require.Len(t, threads, 3)

	inline := threads[0]
	assert.Equal(t, 10, inline.ID)
	assert.Equal(t, models.ThreadActive, inline.Status)
	assert.True(t, inline.IsInline())
	assert.Equal(t, "/src/app.ts", inline.Path)
	assert.Equal(t, 118, inline.Line)
	assert.Equal(t, "subscription is never unsubscribed", inline.FirstComment())
	assert.Equal(t, "reviewd", inline.Comments[0].Author)

	prLevel := threads[1]
	assert.Equal(t, models.ThreadFixed, prLevel.Status)
	assert.False(t, prLevel.IsInline())
	assert.Zero(t, prLevel.Line)

	assert.True(t, threads[2].IsDeleted)
}

func TestCreateThreadInline(t *testing.T) {
	var got adoThread
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/contoso/_apis/git/repositories/repo-1/pullRequests/42/threads", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id": 99, "status": "active", "threadContext": {"filePath": "/src/app.ts", "rightFileStart": {"line": 118, "offset": 1}}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	thread, err := client.CreateThread(context.Background(), "repo-1", "42", &models.ThreadDraft{
		Path: "/src/app.ts",
		Line: 118,
		Body: "subscription is never unsubscribed",
	})
	require.NoError(t, err)

	assert.Equal(t, "active", got.Status)
	require.Len(t, got.Comments, 1)
	assert.Equal(t, 0, got.Comments[0].ParentCommentID)
	assert.Equal(t, "subscription is never unsubscribed", got.Comments[0].Content)
	assert.Equal(t, "text", got.Comments[0].CommentType)
	require.NotNil(t, got.ThreadContext)
	assert.Equal(t, "/src/app.ts", got.ThreadContext.FilePath)
	assert.Equal(t, &adoPosition{Line: 118, Offset: 1}, got.ThreadContext.RightFileStart)
	assert.Equal(t, &adoPosition{Line: 118, Offset: 1}, got.ThreadContext.RightFileEnd)

	assert.Equal(t, 99, thread.ID)
	assert.Equal(t, models.ThreadActive, thread.Status)
	assert.Equal(t, "/src/app.ts", thread.Path)
	assert.Equal(t, 118, thread.Line)
}

func TestCreateThreadPRLevel(t *testing.T) {
	var raw map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"id": 100, "status": "active"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	thread, err := client.CreateThread(context.Background(), "repo-1", "42", &models.ThreadDraft{
		Body: "overall architecture summary",
	})
	require.NoError(t, err)

	// PR-level threads carry no file anchor at all.
	_, hasContext := raw["threadContext"]
	assert.False(t, hasContext)

	assert.Equal(t, 100, thread.ID)
	assert.False(t, thread.IsInline())
}

func TestReplyToThread(t *testing.T) {
	var got adoComment
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/contoso/_apis/git/repositories/repo-1/pullRequests/42/threads/99/comments", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id": 2}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	err := client.ReplyToThread(context.Background(), "repo-1", "42", 99, "Verified as resolved in the latest iteration.")
	require.NoError(t, err)

	assert.Equal(t, 1, got.ParentCommentID)
	assert.Equal(t, "Verified as resolved in the latest iteration.", got.Content)
	assert.Equal(t, "text", got.CommentType)
}

func TestUpdateThreadStatus(t *testing.T) {
	var got struct {
		Status string `json:"status"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/contoso/_apis/git/repositories/repo-1/pullRequests/42/threads/99", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id": 99, "status": "fixed"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	err := client.UpdateThreadStatus(context.Background(), "repo-1", "42", 99, models.ThreadFixed)
	require.NoError(t, err)
	assert.Equal(t, "fixed", got.Status)
}

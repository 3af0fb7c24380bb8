package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/reviewd/pkg/resilience"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()

	retryer := resilience.NewRetryer(3, time.Millisecond, 5*time.Millisecond, 0, nil)
	breaker := resilience.NewBreaker("platform-test", 5, time.Minute, nil)
	return NewClient(Options{
		BaseURL:      server.URL,
		Organization: "contoso",
		Timeout:      5 * time.Second,
	}, "secret-pat", retryer, breaker, nil)
}

func TestClientSendsPATAndAPIVersion(t *testing.T) {
	var gotAuth, gotVersion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.URL.Query().Get("api-version")
		_ = json.NewEncoder(w).Encode(adoPullRequest{PullRequestID: 42})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.GetPR(context.Background(), "repo-1", "42")
	require.NoError(t, err)

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(":secret-pat"))
	assert.Equal(t, want, gotAuth)
	assert.Equal(t, "7.1", gotVersion)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantErr  error
		wantHits int
	}{
		{"401 maps to unauthorized", http.StatusUnauthorized, ErrUnauthorized, 1},
		{"403 maps to unauthorized", http.StatusForbidden, ErrUnauthorized, 1},
		{"404 maps to not found", http.StatusNotFound, ErrNotFound, 1},
		{"400 is permanent", http.StatusBadRequest, nil, 1},
		{"429 is retried", http.StatusTooManyRequests, nil, 3},
		{"503 is retried", http.StatusServiceUnavailable, nil, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits++
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"platform says no"}`))
			}))
			defer server.Close()

			client := newTestClient(t, server)
			_, err := client.GetPR(context.Background(), "repo-1", "42")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Contains(t, err.Error(), strconv.Itoa(tt.status))
			assert.Contains(t, err.Error(), "platform says no")
			assert.Equal(t, tt.wantHits, hits)
		})
	}
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(adoPullRequest{PullRequestID: 42, Title: "Recovered"})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	pr, err := client.GetPR(context.Background(), "repo-1", "42")
	require.NoError(t, err)
	assert.Equal(t, "Recovered", pr.Title)
	assert.Equal(t, 3, hits)
}

func TestBreakerFailsFastWhenOpen(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	retryer := resilience.NewRetryer(5, time.Millisecond, 5*time.Millisecond, 0, nil)
	breaker := resilience.NewBreaker("platform-test", 2, time.Minute, nil)
	client := NewClient(Options{
		BaseURL:      server.URL,
		Organization: "contoso",
		Timeout:      time.Second,
	}, "secret-pat", retryer, breaker, nil)

	// The breaker opens after two consecutive failures; the third attempt
	// is rejected before it reaches the platform.
	_, err := client.GetPR(context.Background(), "repo-1", "42")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, hits)

	_, err = client.GetPR(context.Background(), "repo-1", "42")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, hits)
}

func TestGetFile(t *testing.T) {
	t.Run("returns raw content at commit", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/contoso/_apis/git/repositories/repo-1/items", r.URL.Path)
			assert.Equal(t, "/src/app.ts", r.URL.Query().Get("path"))
			assert.Equal(t, "abc123", r.URL.Query().Get("versionDescriptor.version"))
			assert.Equal(t, "commit", r.URL.Query().Get("versionDescriptor.versionType"))
			assert.Equal(t, "text/plain", r.Header.Get("Accept"))
			_, _ = w.Write([]byte("const x = 1;\n"))
		}))
		defer server.Close()

		client := newTestClient(t, server)
		content, err := client.GetFile(context.Background(), "repo-1", "/src/app.ts", "abc123")
		require.NoError(t, err)
		assert.Equal(t, "const x = 1;\n", content)
	})

	t.Run("refuses binary paths locally", func(t *testing.T) {
		var hits int
		server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
			hits++
		}))
		defer server.Close()

		client := newTestClient(t, server)
		_, err := client.GetFile(context.Background(), "repo-1", "/assets/logo.PNG", "abc123")
		require.ErrorIs(t, err, ErrBinaryFile)
		assert.Zero(t, hits)
	})

	t.Run("missing path maps to not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := newTestClient(t, server)
		_, err := client.GetFile(context.Background(), "repo-1", "/gone.ts", "abc123")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestIsBinaryPath(t *testing.T) {
	assert.True(t, IsBinaryPath("assets/logo.png"))
	assert.True(t, IsBinaryPath("fonts/Inter.WOFF2"))
	assert.True(t, IsBinaryPath("/lib/native.so"))
	assert.False(t, IsBinaryPath("src/main.ts"))
	assert.False(t, IsBinaryPath("Dockerfile"))
	assert.False(t, IsBinaryPath("src/Service.java"))
}

// Package platform implements the Azure DevOps REST client consumed by the
// review pipeline: PR metadata, iterations, per-iteration file changes,
// file content, comment threads, and service-hook subscriptions. Every
// operation runs inside the shared retry kit behind the platform circuit
// breaker; non-2xx responses map onto the error taxonomy (401/403 and 404
// permanent, 408/429/5xx transient).
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codeready-toolchain/reviewd/pkg/resilience"
)

const apiVersion = "7.1"

// Options configures the client's endpoint and per-call budget.
type Options struct {
	// BaseURL is the platform host, https://dev.azure.com for the hosted
	// service. Tests point it at an httptest server.
	BaseURL string

	// Organization is the Azure DevOps organization name.
	Organization string

	// Timeout bounds each HTTP attempt, retries excluded.
	Timeout time.Duration
}

// Client talks to the Azure DevOps REST API (api-version 7.1) with PAT
// basic authentication.
type Client struct {
	httpClient *http.Client
	baseURL    string
	org        string
	pat        string
	retryer    *resilience.Retryer
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a platform client. The PAT may be empty only in tests;
// production configuration rejects a missing PAT before this point.
func NewClient(opts Options, pat string, retryer *resilience.Retryer, breaker *gobreaker.CircuitBreaker, logger *slog.Logger) *Client {
	if retryer == nil {
		panic("retryer is required")
	}
	if breaker == nil {
		panic("circuit breaker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		org:        opts.Organization,
		pat:        pat,
		retryer:    retryer,
		breaker:    breaker,
		logger:     logger.With("component", "platform"),
	}
}

// url renders a full request URL under the organization, pinning the API
// version on every call.
func (c *Client) url(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", apiVersion)
	return c.baseURL + "/" + c.org + path + "?" + query.Encode()
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.pat != "" {
		// PAT basic auth: empty user, PAT as password.
		req.SetBasicAuth("", c.pat)
	}
}

// call executes one JSON operation inside the resilience kit. reqBody and
// out may be nil; out is only written on a 2xx response.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, reqBody, out any) error {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
	}

	return c.retryer.Do(ctx, op, func(ctx context.Context) error {
		return resilience.Execute(c.breaker, func() error {
			return c.doJSON(ctx, method, path, query, payload, out)
		})
	})
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), body)
	if err != nil {
		return resilience.MarkPermanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.MarkTransient(fmt.Errorf("read response: %w", err))
	}
	if err := statusError(resp.StatusCode, data); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resilience.MarkPermanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// doRaw performs a GET returning the raw response body, used for file
// content where the platform answers text/plain.
func (c *Client) doRaw(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path, query), nil)
	if err != nil {
		return nil, resilience.MarkPermanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "text/plain")
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.MarkTransient(fmt.Errorf("read response: %w", err))
	}
	if err := statusError(resp.StatusCode, data); err != nil {
		return nil, err
	}
	return data, nil
}

// statusError maps a response status onto the error taxonomy. The body is
// consulted for the platform's message field to keep errors diagnosable.
func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	snippet := errorSnippet(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return resilience.MarkPermanent(fmt.Errorf("%w: HTTP %d: %s", ErrUnauthorized, status, snippet))
	case status == http.StatusNotFound:
		return resilience.MarkPermanent(fmt.Errorf("%w: HTTP %d: %s", ErrNotFound, status, snippet))
	case resilience.RetryableStatus(status):
		return resilience.MarkTransient(fmt.Errorf("platform returned HTTP %d: %s", status, snippet))
	default:
		return resilience.MarkPermanent(fmt.Errorf("platform returned HTTP %d: %s", status, snippet))
	}
}

// errorSnippet extracts the platform's error message, falling back to a
// truncated raw body.
func errorSnippet(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}

	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max]
	}
	return s
}

// listEnvelope is the platform's collection response wrapper.
type listEnvelope[T any] struct {
	Count int `json:"count"`
	Value []T `json:"value"`
}

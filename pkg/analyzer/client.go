// Package analyzer implements the HTTP client for the external analysis
// service: batched line analysis, whole-delta architecture analysis, and
// conservative fix verification. Calls run inside the retry kit behind the
// analyzer circuit breaker, with a weighted semaphore bounding concurrent
// requests across all agents.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/codeready-toolchain/reviewd/pkg/models"
	"github.com/codeready-toolchain/reviewd/pkg/resilience"
)

// Options configures the analyzer endpoint and budgets.
type Options struct {
	// URL is the analyzer service base URL.
	URL string

	// Timeout bounds each HTTP attempt.
	Timeout time.Duration

	// MaxConcurrent caps in-flight analyzer calls across all agents.
	MaxConcurrent int64
}

// Client talks to the analysis service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	sem        *semaphore.Weighted
	retryer    *resilience.Retryer
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates an analyzer client. apiKey may be empty when the
// service runs unauthenticated (local deployments).
func NewClient(opts Options, apiKey string, retryer *resilience.Retryer, breaker *gobreaker.CircuitBreaker, logger *slog.Logger) *Client {
	if retryer == nil {
		panic("retryer is required")
	}
	if breaker == nil {
		panic("circuit breaker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    strings.TrimSuffix(opts.URL, "/"),
		apiKey:     apiKey,
		sem:        semaphore.NewWeighted(opts.MaxConcurrent),
		retryer:    retryer,
		breaker:    breaker,
		logger:     logger.With("component", "analyzer"),
	}
}

// Analyze submits one batch of code chunks for the given rule set and
// returns line findings. Findings with an invalid anchor, severity, or
// category are dropped; fingerprints are always computed locally.
func (c *Client) Analyze(ctx context.Context, spec RuleSpec, chunks []Chunk) ([]models.LineFinding, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	var resp analyzeResponse
	req := analyzeRequest{RuleSet: spec, Chunks: chunks}
	if err := c.post(ctx, "analyze", "/v1/analyze", req, &resp); err != nil {
		return nil, err
	}

	findings := make([]models.LineFinding, 0, len(resp.Findings))
	for _, f := range resp.Findings {
		if f.Path == "" || f.Line < 1 || !f.Severity.IsValid() || !f.Category.IsValid() {
			c.logger.WarnContext(ctx, "dropping malformed finding",
				"path", f.Path, "line", f.Line, "severity", f.Severity, "category", f.Category)
			continue
		}
		f.ComputeFingerprint()
		findings = append(findings, f)
	}
	return findings, nil
}

// AnalyzeArchitecture submits the whole delta with per-file outlines and
// returns at most one summary, or nil when the service has nothing to say.
func (c *Client) AnalyzeArchitecture(ctx context.Context, files []ArchitectureFile) (*models.SummaryFinding, error) {
	if len(files) == 0 {
		return nil, nil
	}

	var resp architectureResponse
	if err := c.post(ctx, "analyze_architecture", "/v1/architecture", architectureRequest{Files: files}, &resp); err != nil {
		return nil, err
	}
	if resp.Summary == nil || resp.Summary.Message == "" {
		return nil, nil
	}
	return resp.Summary, nil
}

// VerifyFix asks whether the current code addresses a previously reported
// finding. Anything the service cannot affirm comes back as
// VerdictUnknown; transport failures return VerdictUnknown with the error.
func (c *Client) VerifyFix(ctx context.Context, finding models.LineFinding, currentContext string) (Verdict, error) {
	var resp verifyFixResponse
	req := verifyFixRequest{Finding: finding, CurrentContext: currentContext}
	if err := c.post(ctx, "verify_fix", "/v1/verify-fix", req, &resp); err != nil {
		return VerdictUnknown, err
	}
	if !resp.Verdict.IsValid() {
		c.logger.WarnContext(ctx, "analyzer returned unrecognized verdict", "verdict", resp.Verdict)
		return VerdictUnknown, nil
	}
	return resp.Verdict, nil
}

// post executes one analyzer request under the concurrency bound and the
// resilience kit, decoding a 2xx response into out.
func (c *Client) post(ctx context.Context, op, path string, reqBody, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	return c.retryer.Do(ctx, op, func(ctx context.Context) error {
		return resilience.Execute(c.breaker, func() error {
			return c.doPost(ctx, path, payload, out)
		})
	})
}

func (c *Client) doPost(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return resilience.MarkPermanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.MarkTransient(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Errorf("analyzer returned HTTP %d: %s", resp.StatusCode, truncate(data, 200))
		if resilience.RetryableStatus(resp.StatusCode) {
			return resilience.MarkTransient(msg)
		}
		return resilience.MarkPermanent(msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resilience.MarkPermanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func truncate(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = s[:max]
	}
	return s
}

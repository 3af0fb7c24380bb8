// Package metrics collects per-run counters and timings for a review
// agent execution. One collector lives for the duration of one agent run;
// the summary taken at terminal feeds the durable agent_executions row.
package metrics

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/reviewd/pkg/models"
)

// Collector accumulates execution metrics for a single agent run. All
// methods are safe for concurrent use; line analysis fans out per file.
type Collector struct {
	mu sync.Mutex

	agentID      string
	prID         string
	repositoryID string

	startedAt time.Time
	endedAt   time.Time

	phase        models.AgentPhase
	phaseStarted time.Time
	timings      models.PhaseTimings

	filesAnalyzed     int
	filesSkipped      int
	findingsPosted    int
	duplicatesSkipped int
	resolutionsMarked int

	apiCalls  map[string]int
	apiErrors map[string]int

	status       models.AgentStatus
	errorMessage string

	logger *slog.Logger
}

// Summary is the terminal snapshot of one run, shaped for the
// agent_executions update. Meaningful after Complete.
type Summary struct {
	Phase             models.AgentPhase
	Status            models.AgentStatus
	StartedAt         time.Time
	EndedAt           time.Time
	DurationMS        int64
	FilesAnalyzed     int
	FilesSkipped      int
	FindingsPosted    int
	DuplicatesSkipped int
	ResolutionsMarked int
	APICalls          int
	APIErrors         int
	ErrorMessage      string
	PhaseTimings      models.PhaseTimings
}

// NewCollector creates a collector for one agent run.
func NewCollector(agentID, prID, repositoryID string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		agentID:      agentID,
		prID:         prID,
		repositoryID: repositoryID,
		timings:      models.PhaseTimings{},
		apiCalls:     map[string]int{},
		apiErrors:    map[string]int{},
		status:       models.StatusRunning,
		logger: logger.With(
			"component", "metrics",
			"agent_id", agentID,
			"pr_id", prID,
		),
	}
}

// Start marks the beginning of the run and opens the first phase window.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	c.startedAt = now
	c.phaseStarted = now
	c.phase = models.PhaseInit
	c.status = models.StatusRunning
	c.logger.Info("metrics collection started", "repository_id", c.repositoryID)
}

// BeginPhase closes the current phase's timing window and opens one for
// next. Re-entering a phase accumulates onto its earlier total.
func (c *Collector) BeginPhase(next models.AgentPhase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closePhaseLocked(time.Now().UTC())
	c.phase = next
}

func (c *Collector) closePhaseLocked(now time.Time) {
	if c.phase != "" && !c.phaseStarted.IsZero() {
		c.timings[string(c.phase)] += now.Sub(c.phaseStarted).Milliseconds()
	}
	c.phaseStarted = now
}

// AddFilesAnalyzed counts files that went through line analysis.
func (c *Collector) AddFilesAnalyzed(n int) {
	c.mu.Lock()
	c.filesAnalyzed += n
	c.mu.Unlock()
}

// AddFilesSkipped counts files dropped before analysis (binary, no rule
// set, unreadable).
func (c *Collector) AddFilesSkipped(n int) {
	c.mu.Lock()
	c.filesSkipped += n
	c.mu.Unlock()
}

// AddFindingsPosted counts comment threads actually created.
func (c *Collector) AddFindingsPosted(n int) {
	c.mu.Lock()
	c.findingsPosted += n
	c.mu.Unlock()
}

// AddDuplicatesSkipped counts findings suppressed by the comment ledger.
func (c *Collector) AddDuplicatesSkipped(n int) {
	c.mu.Lock()
	c.duplicatesSkipped += n
	c.mu.Unlock()
}

// AddResolutionsMarked counts prior threads transitioned to fixed.
func (c *Collector) AddResolutionsMarked(n int) {
	c.mu.Lock()
	c.resolutionsMarked += n
	c.mu.Unlock()
}

// RecordAPICall counts one call against a named dependency, plus the
// error when the call failed.
func (c *Collector) RecordAPICall(dependency string, err error) {
	c.mu.Lock()
	c.apiCalls[dependency]++
	if err != nil {
		c.apiErrors[dependency]++
	}
	c.mu.Unlock()
}

// DependencyCounts returns per-dependency call and error counts. The
// returned maps are copies.
func (c *Collector) DependencyCounts() (calls, errors map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls = make(map[string]int, len(c.apiCalls))
	for k, v := range c.apiCalls {
		calls[k] = v
	}
	errors = make(map[string]int, len(c.apiErrors))
	for k, v := range c.apiErrors {
		errors[k] = v
	}
	return calls, errors
}

// Complete records the terminal status, closes the run, and logs the
// totals. The first call wins; later calls are ignored.
func (c *Collector) Complete(status models.AgentStatus, errs []models.ErrorRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.endedAt.IsZero() {
		return
	}
	now := time.Now().UTC()
	c.closePhaseLocked(now)
	c.endedAt = now
	c.status = status
	c.errorMessage = joinErrors(errs)

	c.logger.Info("metrics collection completed",
		"repository_id", c.repositoryID,
		"status", string(status),
		"duration_ms", now.Sub(c.startedAt).Milliseconds(),
		"files_analyzed", c.filesAnalyzed,
		"files_skipped", c.filesSkipped,
		"findings_posted", c.findingsPosted,
		"duplicates_skipped", c.duplicatesSkipped,
		"resolutions_marked", c.resolutionsMarked,
		"api_calls", sum(c.apiCalls),
		"api_errors", sum(c.apiErrors),
	)
}

// Summary materializes the collected metrics. The timings map is a copy.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	timings := make(models.PhaseTimings, len(c.timings))
	for k, v := range c.timings {
		timings[k] = v
	}

	var durationMS int64
	if !c.startedAt.IsZero() && !c.endedAt.IsZero() {
		durationMS = c.endedAt.Sub(c.startedAt).Milliseconds()
	}

	return Summary{
		Phase:             c.phase,
		Status:            c.status,
		StartedAt:         c.startedAt,
		EndedAt:           c.endedAt,
		DurationMS:        durationMS,
		FilesAnalyzed:     c.filesAnalyzed,
		FilesSkipped:      c.filesSkipped,
		FindingsPosted:    c.findingsPosted,
		DuplicatesSkipped: c.duplicatesSkipped,
		ResolutionsMarked: c.resolutionsMarked,
		APICalls:          sum(c.apiCalls),
		APIErrors:         sum(c.apiErrors),
		ErrorMessage:      c.errorMessage,
		PhaseTimings:      timings,
	}
}

func joinErrors(errs []models.ErrorRecord) string {
	if len(errs) == 0 {
		return ""
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.String()
	}
	return strings.Join(parts, "; ")
}

func sum(m map[string]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}

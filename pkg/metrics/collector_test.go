package metrics

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/reviewd/pkg/models"
)

func newTestCollector() *Collector {
	return NewCollector("agent-1", "42", "repo-1", slog.Default())
}

func TestCollectorLifecycle(t *testing.T) {
	c := newTestCollector()
	c.Start()

	c.BeginPhase(models.PhaseFetchMeta)
	time.Sleep(10 * time.Millisecond)
	c.BeginPhase(models.PhaseParse)

	c.AddFilesAnalyzed(3)
	c.AddFilesSkipped(1)
	c.AddFindingsPosted(5)
	c.AddDuplicatesSkipped(2)
	c.AddResolutionsMarked(1)
	c.RecordAPICall("azure_devops", nil)
	c.RecordAPICall("azure_devops", nil)
	c.RecordAPICall("analyzer", errors.New("timeout"))

	c.BeginPhase(models.PhaseDone)
	c.Complete(models.StatusCompleted, nil)

	s := c.Summary()
	assert.Equal(t, models.PhaseDone, s.Phase)
	assert.Equal(t, models.StatusCompleted, s.Status)
	assert.Empty(t, s.ErrorMessage)
	assert.Equal(t, 3, s.FilesAnalyzed)
	assert.Equal(t, 1, s.FilesSkipped)
	assert.Equal(t, 5, s.FindingsPosted)
	assert.Equal(t, 2, s.DuplicatesSkipped)
	assert.Equal(t, 1, s.ResolutionsMarked)
	assert.Equal(t, 3, s.APICalls)
	assert.Equal(t, 1, s.APIErrors)

	assert.False(t, s.StartedAt.IsZero())
	assert.False(t, s.EndedAt.IsZero())
	assert.GreaterOrEqual(t, s.DurationMS, int64(10))

	require.Contains(t, s.PhaseTimings, string(models.PhaseFetchMeta))
	assert.GreaterOrEqual(t, s.PhaseTimings[string(models.PhaseFetchMeta)], int64(1))
	assert.Contains(t, s.PhaseTimings, string(models.PhaseInit))
	assert.Contains(t, s.PhaseTimings, string(models.PhaseParse))
}

func TestCollectorCompleteFirstCallWins(t *testing.T) {
	c := newTestCollector()
	c.Start()

	errs := []models.ErrorRecord{
		{Phase: models.PhaseLineAnalysis, Operation: "analyze", Target: "/src/A.java", Message: "model unavailable"},
		{Phase: models.PhasePublish, Operation: "create_thread", Message: "502 bad gateway"},
	}
	c.Complete(models.StatusFailed, errs)
	c.Complete(models.StatusCompleted, nil)

	s := c.Summary()
	assert.Equal(t, models.StatusFailed, s.Status)
	assert.Equal(t,
		"line_analysis analyze /src/A.java: model unavailable; publish create_thread: 502 bad gateway",
		s.ErrorMessage)
}

func TestCollectorConcurrentCounters(t *testing.T) {
	c := newTestCollector()
	c.Start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.AddFindingsPosted(1)
				c.RecordAPICall("analyzer", nil)
			}
		}()
	}
	wg.Wait()

	c.Complete(models.StatusCompleted, nil)
	s := c.Summary()
	assert.Equal(t, 1000, s.FindingsPosted)
	assert.Equal(t, 1000, s.APICalls)
	assert.Zero(t, s.APIErrors)
}

func TestCollectorDependencyCountsAreCopies(t *testing.T) {
	c := newTestCollector()
	c.Start()
	c.RecordAPICall("azure_devops", nil)
	c.RecordAPICall("azure_devops", errors.New("429"))

	calls, apiErrs := c.DependencyCounts()
	assert.Equal(t, 2, calls["azure_devops"])
	assert.Equal(t, 1, apiErrs["azure_devops"])

	calls["azure_devops"] = 99
	apiErrs["azure_devops"] = 99

	calls2, apiErrs2 := c.DependencyCounts()
	assert.Equal(t, 2, calls2["azure_devops"])
	assert.Equal(t, 1, apiErrs2["azure_devops"])
}

func TestCollectorPhaseReentryAccumulates(t *testing.T) {
	c := newTestCollector()
	c.Start()

	c.BeginPhase(models.PhaseDiff)
	time.Sleep(5 * time.Millisecond)
	c.BeginPhase(models.PhaseParse)
	c.BeginPhase(models.PhaseDiff)
	time.Sleep(5 * time.Millisecond)
	c.Complete(models.StatusCompleted, nil)

	s := c.Summary()
	assert.GreaterOrEqual(t, s.PhaseTimings[string(models.PhaseDiff)], int64(2))
}

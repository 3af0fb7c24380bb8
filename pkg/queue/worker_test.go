package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/reviewd/pkg/agent"
	"github.com/codeready-toolchain/reviewd/pkg/config"
	"github.com/codeready-toolchain/reviewd/pkg/models"
	"github.com/codeready-toolchain/reviewd/pkg/store"
)

// opLog records the order of terminal operations across the fakes.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) index(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, o := range l.ops {
		if o == op {
			return i
		}
	}
	return -1
}

// fakeQueueStore implements Store in memory.
type fakeQueueStore struct {
	mu sync.Mutex

	entries []*models.QueueEntry
	acked   []string

	claims        map[string]string
	claimErr      error
	forceReleased []string

	timeouts  map[string]time.Time
	cancelled []string
	dueErr    error

	depthErr error

	log *opLog
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{
		claims:   make(map[string]string),
		timeouts: make(map[string]time.Time),
	}
}

func (s *fakeQueueStore) Dequeue(_ context.Context, _ string) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil, store.ErrNoJobsAvailable
	}
	entry := s.entries[0]
	s.entries = s.entries[1:]
	entry.Attempts++
	return entry, nil
}

func (s *fakeQueueStore) Ack(_ context.Context, entry *models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, entry.ID)
	s.log.add("ack")
	return nil
}

func (s *fakeQueueStore) QueueDepth(_ context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.depthErr != nil {
		return 0, 0, s.depthErr
	}
	return int64(len(s.entries)), 0, nil
}

func (s *fakeQueueStore) ClaimPR(_ context.Context, prID, agentID string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return false, "", s.claimErr
	}
	if holder, ok := s.claims[prID]; ok && holder != agentID {
		return false, holder, nil
	}
	s.claims[prID] = agentID
	return true, "", nil
}

func (s *fakeQueueStore) ReleasePR(_ context.Context, prID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims[prID] == agentID {
		delete(s.claims, prID)
	}
	s.log.add("release")
	return nil
}

func (s *fakeQueueStore) ForceReleasePR(_ context.Context, prID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, prID)
	s.forceReleased = append(s.forceReleased, prID)
	return nil
}

func (s *fakeQueueStore) ScheduleTimeout(_ context.Context, agentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts[agentID] = at
	return nil
}

func (s *fakeQueueStore) CancelTimeout(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timeouts, agentID)
	s.cancelled = append(s.cancelled, agentID)
	s.log.add("cancel_timeout")
	return nil
}

func (s *fakeQueueStore) DueTimeouts(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dueErr != nil {
		return nil, s.dueErr
	}
	var due []string
	for id, at := range s.timeouts {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Strings(due)
	return due, nil
}

func (s *fakeQueueStore) claimHolder(prID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[prID]
}

func (s *fakeQueueStore) releaseClaim(prID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, prID)
}

func (s *fakeQueueStore) ackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

// fakeRecorder implements ExecutionRecorder in memory.
type fakeRecorder struct {
	mu sync.Mutex

	begun    []*models.ExecutionRecord
	finished []*models.ExecutionRecord
	running  map[string]*models.ExecutionRecord
	timedOut []string
	expired  []*models.ExecutionRecord

	beginErr error

	log *opLog
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{running: make(map[string]*models.ExecutionRecord)}
}

func (r *fakeRecorder) Begin(_ context.Context, rec *models.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.beginErr != nil {
		return r.beginErr
	}
	cp := *rec
	r.begun = append(r.begun, &cp)
	r.running[rec.AgentID] = &cp
	return nil
}

func (r *fakeRecorder) Finish(_ context.Context, rec *models.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.finished = append(r.finished, &cp)
	delete(r.running, rec.AgentID)
	r.log.add("finish")
	return nil
}

func (r *fakeRecorder) MarkTimedOut(_ context.Context, agentID, message string) (*models.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.running[agentID]
	if !ok {
		return nil, nil
	}
	rec.Status = models.StatusTimeout
	msg := message
	rec.ErrorMessage = &msg
	delete(r.running, agentID)
	r.timedOut = append(r.timedOut, agentID)
	return rec, nil
}

func (r *fakeRecorder) ListExpiredRunning(_ context.Context, _ time.Time) ([]*models.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.ExecutionRecord(nil), r.expired...), nil
}

func (r *fakeRecorder) finishedRecords() []*models.ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.ExecutionRecord(nil), r.finished...)
}

func (r *fakeRecorder) timedOutAgents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.timedOut...)
}

// fakeExecutor implements ReviewExecutor with a canned result.
type fakeExecutor struct {
	mu        sync.Mutex
	status    models.AgentStatus
	posted    int
	nilResult bool
	block     chan struct{}
	calls     int
}

func (e *fakeExecutor) Execute(ctx context.Context, agentID string, _ models.PREvent, _ time.Time) *agent.Result {
	e.mu.Lock()
	e.calls++
	block := e.block
	e.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
		case <-block:
		}
	}
	if e.nilResult {
		return nil
	}
	res := &agent.Result{AgentID: agentID, Status: e.status}
	res.Metrics.Status = e.status
	res.Metrics.EndedAt = time.Now().UTC()
	res.Metrics.FindingsPosted = e.posted
	res.Metrics.DurationMS = 12
	return res
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func queueTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:             2,
		PollInterval:            5 * time.Millisecond,
		PollIntervalJitter:      0,
		VisibilityTimeout:       30 * time.Second,
		AgentDeadline:           5 * time.Second,
		SupervisorInterval:      time.Hour,
		ClaimWait:               40 * time.Millisecond,
		GracefulShutdownTimeout: 2 * time.Second,
	}
}

func testEntry(prID string) *models.QueueEntry {
	return &models.QueueEntry{
		ID: "entry-" + prID,
		Event: models.PREvent{
			EventKind:    models.EventKindUpdated,
			PRID:         prID,
			RepositoryID: "repo-1",
			SourceBranch: "refs/heads/feature",
			TargetBranch: "refs/heads/main",
			IterationID:  3,
			ReceivedAt:   time.Now().UTC(),
		},
		DedupKey:   prID + ":3:updated",
		EnqueuedAt: time.Now().UTC(),
	}
}

type queueFixture struct {
	store    *fakeQueueStore
	recorder *fakeRecorder
	executor *fakeExecutor
	pool     *Pool
	worker   *Worker
	log      *opLog
}

func newQueueFixture(cfg *config.QueueConfig) *queueFixture {
	if cfg == nil {
		cfg = testQueueConfig()
	}
	log := &opLog{}
	st := newFakeQueueStore()
	st.log = log
	rec := newFakeRecorder()
	rec.log = log
	exec := &fakeExecutor{status: models.StatusCompleted, posted: 2}
	pool := NewPool("inst-1", st, rec, exec, cfg, queueTestLogger())
	return &queueFixture{
		store:    st,
		recorder: rec,
		executor: exec,
		pool:     pool,
		worker:   newWorker("inst-1-worker-0", pool, queueTestLogger()),
		log:      log,
	}
}

func TestWorkerProcessesEntry(t *testing.T) {
	f := newQueueFixture(nil)
	entry := testEntry("pr-7")

	f.worker.process(context.Background(), entry)

	require.Len(t, f.recorder.begun, 1)
	begun := f.recorder.begun[0]
	assert.Equal(t, models.StatusRunning, begun.Status)
	assert.Equal(t, models.PhaseInit, begun.Phase)
	assert.Equal(t, "pr-7", begun.PRID)
	assert.Equal(t, "repo-1", begun.RepositoryID)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), begun.Deadline, time.Second)

	finished := f.recorder.finishedRecords()
	require.Len(t, finished, 1)
	assert.Equal(t, begun.ID, finished[0].ID)
	assert.Equal(t, models.StatusCompleted, finished[0].Status)
	assert.Equal(t, models.PhaseDone, finished[0].Phase)
	assert.Equal(t, 2, finished[0].FindingsPosted)
	require.NotNil(t, finished[0].EndedAt)
	assert.Nil(t, finished[0].ErrorMessage)

	assert.Equal(t, []string{"entry-pr-7"}, f.store.ackedIDs())
	assert.Empty(t, f.store.claims, "claim should be released")
	assert.Empty(t, f.store.timeouts, "timeout entry should be cancelled")
	assert.Equal(t, 1, f.worker.Health().ReviewsProcessed)
	assert.Equal(t, 1, f.executor.callCount())
}

func TestWorkerAcksLast(t *testing.T) {
	f := newQueueFixture(nil)

	f.worker.process(context.Background(), testEntry("pr-1"))

	finish := f.log.index("finish")
	cancel := f.log.index("cancel_timeout")
	release := f.log.index("release")
	ack := f.log.index("ack")
	require.GreaterOrEqual(t, finish, 0)
	assert.Less(t, finish, cancel, "row finalized before timeout cancel")
	assert.Less(t, cancel, release, "timeout cancelled before claim release")
	assert.Less(t, release, ack, "claim released before ack")
}

func TestWorkerSupersedesExistingClaim(t *testing.T) {
	cfg := testQueueConfig()
	cfg.ClaimWait = 400 * time.Millisecond
	f := newQueueFixture(cfg)

	// A prior agent holds the claim. Its cancel handle releases the claim,
	// simulating the superseded run finishing its own cleanup.
	f.store.claims["pr-5"] = "agent-old"
	cancelled := false
	f.pool.registerAgent("agent-old", "pr-5", func() {
		cancelled = true
		f.store.releaseClaim("pr-5")
	})

	f.worker.process(context.Background(), testEntry("pr-5"))

	assert.True(t, cancelled, "holder should be cancelled")
	assert.Empty(t, f.store.forceReleased, "released claim needs no force")
	assert.Equal(t, 1, f.executor.callCount())
	assert.Equal(t, []string{"entry-pr-5"}, f.store.ackedIDs())
}

func TestWorkerForceReleasesUnyieldingClaim(t *testing.T) {
	cfg := testQueueConfig()
	cfg.ClaimWait = 50 * time.Millisecond
	f := newQueueFixture(cfg)

	// The holder is not registered on this instance and never releases.
	f.store.claims["pr-5"] = "agent-ghost"

	f.worker.process(context.Background(), testEntry("pr-5"))

	assert.Equal(t, []string{"pr-5"}, f.store.forceReleased)
	assert.Equal(t, 1, f.executor.callCount())
	assert.Equal(t, []string{"entry-pr-5"}, f.store.ackedIDs())
	assert.Empty(t, f.store.claims, "new claim released after the run")
}

func TestWorkerClaimErrorLeavesEntryUnacked(t *testing.T) {
	f := newQueueFixture(nil)
	f.store.claimErr = errors.New("redis: connection refused")

	f.worker.process(context.Background(), testEntry("pr-2"))

	assert.Empty(t, f.store.ackedIDs(), "unacked entry redelivers later")
	assert.Empty(t, f.recorder.begun)
	assert.Equal(t, 0, f.executor.callCount())
}

func TestWorkerSynthesizesResultWhenExecutorReturnsNone(t *testing.T) {
	f := newQueueFixture(nil)
	f.executor.nilResult = true

	f.worker.process(context.Background(), testEntry("pr-3"))

	finished := f.recorder.finishedRecords()
	require.Len(t, finished, 1)
	assert.Equal(t, models.StatusFailed, finished[0].Status)
	require.NotNil(t, finished[0].ErrorMessage)
	assert.Equal(t, "executor returned no result", *finished[0].ErrorMessage)
	assert.Equal(t, []string{"entry-pr-3"}, f.store.ackedIDs())
	assert.Empty(t, f.store.claims, "worker releases the claim the agent never cleaned up")
}

func TestWorkerBeginFailureStillRecordsTerminalRow(t *testing.T) {
	f := newQueueFixture(nil)
	f.recorder.beginErr = errors.New("pq: connection reset")

	f.worker.process(context.Background(), testEntry("pr-4"))

	// Finish upserts on the run id, so the terminal row survives a failed
	// insert at spawn.
	finished := f.recorder.finishedRecords()
	require.Len(t, finished, 1)
	assert.Equal(t, models.StatusCompleted, finished[0].Status)
	assert.Equal(t, []string{"entry-pr-4"}, f.store.ackedIDs())
}

func TestPollIntervalJitterBounds(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollInterval = 100 * time.Millisecond
	cfg.PollIntervalJitter = 20 * time.Millisecond
	f := newQueueFixture(cfg)

	for i := 0; i < 200; i++ {
		d := f.worker.pollInterval()
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.Less(t, d, 120*time.Millisecond)
	}

	cfg.PollIntervalJitter = 0
	assert.Equal(t, 100*time.Millisecond, f.worker.pollInterval())
}

func TestWorkerHealthSnapshot(t *testing.T) {
	f := newQueueFixture(nil)

	h := f.worker.Health()
	assert.Equal(t, "inst-1-worker-0", h.ID)
	assert.Equal(t, string(workerStatusIdle), h.Status)
	assert.Empty(t, h.CurrentAgentID)
	assert.Zero(t, h.ReviewsProcessed)

	f.worker.setStatus(workerStatusWorking, "agent-1", "pr-1")
	h = f.worker.Health()
	assert.Equal(t, string(workerStatusWorking), h.Status)
	assert.Equal(t, "agent-1", h.CurrentAgentID)
	assert.Equal(t, "pr-1", h.CurrentPRID)
}

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/reviewd/pkg/config"
)

// Pool manages the queue workers and the timeout supervisor for one
// service instance.
type Pool struct {
	instanceID string
	store      Store
	recorder   ExecutionRecorder
	executor   ReviewExecutor
	cfg        *config.QueueConfig
	logger     *slog.Logger

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Active agent registry: agent_id → cancel handle. The supervisor and
	// the supersede protocol cancel through it.
	mu           sync.RWMutex
	activeAgents map[string]*activeAgent
	started      bool

	supervisor supervisorState
}

type activeAgent struct {
	prID   string
	cancel context.CancelFunc
}

// NewPool creates a worker pool. Workers are spawned by Start.
func NewPool(instanceID string, st Store, recorder ExecutionRecorder, executor ReviewExecutor, cfg *config.QueueConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		instanceID:   instanceID,
		store:        st,
		recorder:     recorder,
		executor:     executor,
		cfg:          cfg,
		logger:       logger.With("component", "queue", "instance_id", instanceID),
		workers:      make([]*Worker, 0, cfg.WorkerCount),
		stopCh:       make(chan struct{}),
		activeAgents: make(map[string]*activeAgent),
	}
}

// Start spawns the worker goroutines and the timeout supervisor. Safe to
// call more than once; only the first call does anything.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		p.logger.Warn("worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	p.logger.Info("starting worker pool", "worker_count", p.cfg.WorkerCount)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.instanceID, i)
		worker := newWorker(workerID, p, p.logger)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runSupervisor(ctx)
	}()

	p.logger.Info("worker pool started")
	return nil
}

// Stop shuts the pool down. Workers get the graceful window to finish
// their current runs; whatever is still going after that is cancelled and
// finishes through the agents' own terminal cleanup.
func (p *Pool) Stop() {
	p.logger.Info("stopping worker pool")

	if active := p.activeAgentIDs(); len(active) > 0 {
		p.logger.Info("waiting for active reviews to finish",
			"count", len(active), "agent_ids", active)
	}

	done := make(chan struct{})
	go func() {
		for _, worker := range p.workers {
			worker.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.GracefulShutdownTimeout):
		p.logger.Warn("graceful window elapsed, cancelling active reviews",
			"agent_ids", p.activeAgentIDs())
		p.cancelAll()
		<-done
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	p.logger.Info("worker pool stopped")
}

// registerAgent records a running agent so it can be cancelled by id.
func (p *Pool) registerAgent(agentID, prID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeAgents[agentID] = &activeAgent{prID: prID, cancel: cancel}
}

// unregisterAgent removes the handle when the run ends.
func (p *Pool) unregisterAgent(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeAgents, agentID)
}

// CancelAgent cancels a running agent on this instance. Returns false when
// the agent is not running here.
func (p *Pool) CancelAgent(agentID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if a, ok := p.activeAgents[agentID]; ok {
		a.cancel()
		return true
	}
	return false
}

func (p *Pool) cancelAll() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, a := range p.activeAgents {
		a.cancel()
	}
}

func (p *Pool) activeAgentIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeAgents))
	for id := range p.activeAgents {
		ids = append(ids, id)
	}
	return ids
}

// Health reports the pool's health. The queue depth query doubles as the
// store reachability probe.
func (p *Pool) Health() *PoolHealth {
	ctx := context.Background()

	pending, inflight, err := p.store.QueueDepth(ctx)
	storeReachable := err == nil
	var storeErr string
	if err != nil {
		p.logger.Error("queue depth query failed during health check", "error", err)
		storeErr = err.Error()
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(workerStatusWorking) {
			activeWorkers++
		}
	}

	p.supervisor.mu.Lock()
	lastScan := p.supervisor.lastScan
	killed := p.supervisor.killed
	p.supervisor.mu.Unlock()

	p.mu.RLock()
	activeAgents := len(p.activeAgents)
	p.mu.RUnlock()

	return &PoolHealth{
		IsHealthy:          len(p.workers) > 0 && storeReachable,
		StoreReachable:     storeReachable,
		StoreError:         storeErr,
		InstanceID:         p.instanceID,
		ActiveWorkers:      activeWorkers,
		TotalWorkers:       len(p.workers),
		ActiveAgents:       activeAgents,
		QueuePending:       pending,
		QueueInflight:      inflight,
		WorkerStats:        workerStats,
		LastSupervisorScan: lastScan,
		StaleAgentsKilled:  killed,
	}
}

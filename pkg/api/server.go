// Package api exposes the HTTP surface: the webhook sink, the admin
// endpoints for repository registration and agent monitoring, and the
// health probe. Admin endpoints require a bearer token; the webhook is
// guarded by its payload signature instead.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/reviewd/pkg/config"
	"github.com/codeready-toolchain/reviewd/pkg/database"
	"github.com/codeready-toolchain/reviewd/pkg/models"
	"github.com/codeready-toolchain/reviewd/pkg/queue"
	"github.com/codeready-toolchain/reviewd/pkg/services"
	"github.com/codeready-toolchain/reviewd/pkg/store"
)

// WebhookAcceptor verifies and enqueues webhook deliveries (services.IngestService).
type WebhookAcceptor interface {
	Accept(ctx context.Context, payload []byte, signature string) (*services.IngestResult, error)
}

// RepositoryManager is the registration surface behind the admin
// repository endpoints (services.RepositoryService).
type RepositoryManager interface {
	Register(ctx context.Context, rawURL string) (*models.Repository, error)
	Get(ctx context.Context, id string) (*models.Repository, error)
	List(ctx context.Context) ([]*models.Repository, error)
	Unregister(ctx context.Context, id string) error
}

// ExecutionReader reads agent execution records (services.ExecutionService).
type ExecutionReader interface {
	ListRunning(ctx context.Context) ([]*models.ExecutionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*models.ExecutionRecord, error)
	GetByAgentID(ctx context.Context, agentID string) (*models.ExecutionRecord, error)
}

// StateReader reads live agent state blobs from the store (store.Client).
type StateReader interface {
	GetState(ctx context.Context, agentID string) (*models.AgentState, error)
	Ping(ctx context.Context) error
}

// PoolMonitor is the worker pool surface used for health reporting and
// agent cancellation (queue.Pool).
type PoolMonitor interface {
	Health() *queue.PoolHealth
	CancelAgent(agentID string) bool
}

// DatabasePinger probes database connectivity (database.Client).
type DatabasePinger interface {
	PingContext(ctx context.Context) error
}

var (
	_ WebhookAcceptor   = (*services.IngestService)(nil)
	_ RepositoryManager = (*services.RepositoryService)(nil)
	_ ExecutionReader   = (*services.ExecutionService)(nil)
	_ StateReader       = (*store.Client)(nil)
	_ PoolMonitor       = (*queue.Pool)(nil)
	_ DatabasePinger    = (*database.Client)(nil)
)

// Server wires the HTTP handlers to the service layer.
type Server struct {
	cfg        *config.Config
	db         DatabasePinger
	ingest     WebhookAcceptor
	repos      RepositoryManager
	executions ExecutionReader
	state      StateReader
	pool       PoolMonitor
	logger     *slog.Logger

	httpSrv *http.Server
}

// NewServer creates the API server. The pool may be nil in setups that
// run the HTTP surface without workers; everything else is required.
func NewServer(
	cfg *config.Config,
	db DatabasePinger,
	ingest WebhookAcceptor,
	repos RepositoryManager,
	executions ExecutionReader,
	state StateReader,
	pool PoolMonitor,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg,
		db:         db,
		ingest:     ingest,
		repos:      repos,
		executions: executions,
		state:      state,
		pool:       pool,
		logger:     logger.With("component", "api"),
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed separately so tests can drive
// handlers through the full middleware chain.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(securityHeaders())

	r.GET("/health", s.healthHandler)
	r.POST("/webhooks/azure-devops/pr", s.webhookHandler)

	v1 := r.Group("/api/v1", requireAdminKey(s.cfg.AdminAPIKey))
	v1.POST("/repositories", s.registerRepositoryHandler)
	v1.GET("/repositories", s.listRepositoriesHandler)
	v1.GET("/repositories/:id", s.getRepositoryHandler)
	v1.DELETE("/repositories/:id", s.unregisterRepositoryHandler)
	v1.GET("/agents", s.listAgentsHandler)
	v1.GET("/agents/:id", s.getAgentHandler)
	v1.POST("/agents/:id/cancel", s.cancelAgentHandler)
	v1.GET("/executions", s.listExecutionsHandler)

	return r
}

// Start runs the HTTP server until Shutdown is called or the listener
// fails. It returns http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/reviewd/pkg/models"
)

// listAgentsHandler handles GET /api/v1/agents.
// Running agents come from the execution records. While a run is live its
// store checkpoint is fresher than the database row, so phase and counters
// are taken from the blob when one exists.
func (s *Server) listAgentsHandler(c *gin.Context) {
	ctx := c.Request.Context()

	running, err := s.executions.ListRunning(ctx)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	agents := make([]models.AgentInfo, 0, len(running))
	for _, rec := range running {
		info := models.AgentInfo{
			AgentID:        rec.AgentID,
			PRID:           rec.PRID,
			RepositoryID:   rec.RepositoryID,
			Status:         rec.Status,
			Phase:          rec.Phase,
			StartedAt:      rec.StartedAt,
			ElapsedSeconds: time.Since(rec.StartedAt).Seconds(),
		}
		if st, err := s.state.GetState(ctx, rec.AgentID); err == nil {
			info.Phase = st.Phase
			info.FindingsSoFar = len(st.Findings)
			info.Errors = len(st.Errors)
		}
		agents = append(agents, info)
	}

	c.JSON(http.StatusOK, agents)
}

// getAgentHandler handles GET /api/v1/agents/:id.
// Returns the execution record plus, for live runs, a summary of the
// checkpointed state. State lookup is best-effort: terminal runs have
// no blob once its TTL lapses.
func (s *Server) getAgentHandler(c *gin.Context) {
	ctx := c.Request.Context()
	agentID := c.Param("id")

	rec, err := s.executions.GetByAgentID(ctx, agentID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	resp := AgentDetailResponse{Record: rec}
	if st, err := s.state.GetState(ctx, agentID); err == nil {
		resp.State = summarizeState(st)
	}

	c.JSON(http.StatusOK, resp)
}

// cancelAgentHandler handles POST /api/v1/agents/:id/cancel.
// Cancellation is per instance: the pool can only cancel agents it is
// running itself. The cancelled agent finalizes through its normal
// terminal path (record update, claim release, ack).
func (s *Server) cancelAgentHandler(c *gin.Context) {
	agentID := c.Param("id")

	if s.pool == nil || !s.pool.CancelAgent(agentID) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "agent is not running on this instance",
		})
		return
	}

	s.logger.InfoContext(c.Request.Context(), "agent cancellation requested",
		"agent_id", agentID, "author", extractAuthor(c))
	c.JSON(http.StatusOK, CancelResponse{
		AgentID: agentID,
		Message: "Agent cancellation requested",
	})
}

// listExecutionsHandler handles GET /api/v1/executions.
// Returns recent execution records, newest first. Optional ?limit=N
// (1-200, default 50).
func (s *Server) listExecutionsHandler(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "invalid limit: must be an integer between 1 and 200",
			})
			return
		}
		limit = n
	}

	records, err := s.executions.ListRecent(c.Request.Context(), limit)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	if records == nil {
		records = []*models.ExecutionRecord{}
	}
	c.JSON(http.StatusOK, records)
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/reviewd/pkg/models"
)

// registerRepositoryHandler handles POST /api/v1/repositories.
// Registers the repository and creates the platform service hooks that
// point back at this service's webhook URL.
func (s *Server) registerRepositoryHandler(c *gin.Context) {
	var req models.CreateRepositoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	repo, err := s.repos.Register(c.Request.Context(), req.URL)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	s.logger.InfoContext(c.Request.Context(), "repository registered",
		"repository_id", repo.ID, "url", repo.URL, "author", extractAuthor(c))
	c.JSON(http.StatusCreated, repo)
}

// listRepositoriesHandler handles GET /api/v1/repositories.
func (s *Server) listRepositoriesHandler(c *gin.Context) {
	repos, err := s.repos.List(c.Request.Context())
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	if repos == nil {
		repos = []*models.Repository{}
	}
	c.JSON(http.StatusOK, repos)
}

// getRepositoryHandler handles GET /api/v1/repositories/:id.
func (s *Server) getRepositoryHandler(c *gin.Context) {
	repo, err := s.repos.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, repo)
}

// unregisterRepositoryHandler handles DELETE /api/v1/repositories/:id.
// Hook removal on the platform is best-effort; the registration row is
// gone either way, so later deliveries are acked and dropped.
func (s *Server) unregisterRepositoryHandler(c *gin.Context) {
	id := c.Param("id")
	if err := s.repos.Unregister(c.Request.Context(), id); err != nil {
		abortWithServiceError(c, err)
		return
	}

	s.logger.InfoContext(c.Request.Context(), "repository unregistered",
		"repository_id", id, "author", extractAuthor(c))
	c.Status(http.StatusNoContent)
}

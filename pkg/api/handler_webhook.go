package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/reviewd/pkg/services"
)

// Rejection codes carried in webhook error responses and logs.
const (
	codeIngestUnauthorized = "INGEST_UNAUTHORIZED"
	codeIngestRejected     = "INGEST_REJECTED"
)

// signatureHeader carries the HMAC-SHA256 hex digest of the raw body.
const signatureHeader = "X-Hub-Signature-256"

// webhookHandler handles POST /webhooks/azure-devops/pr.
//
// The platform does not retry deliveries answered 2xx, so every
// well-formed, authorized delivery gets a 200 even when the event is
// dropped (non-PR event type, unregistered repository, duplicate).
// Only signature mismatches (401), malformed payloads (400), and
// internal failures (500, retried by the platform) are rejected.
func (s *Server) webhookHandler(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "failed to read request body",
			Code:  codeIngestRejected,
		})
		return
	}

	result, err := s.ingest.Accept(c.Request.Context(), payload, c.GetHeader(signatureHeader))
	switch {
	case errors.Is(err, services.ErrUnauthorizedWebhook):
		s.logger.WarnContext(c.Request.Context(), "webhook rejected",
			"code", codeIngestUnauthorized, "error", err)
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error: err.Error(),
			Code:  codeIngestUnauthorized,
		})
		return
	case errors.Is(err, services.ErrEventIgnored):
		c.JSON(http.StatusOK, WebhookResponse{
			Status:  "ignored",
			Message: err.Error(),
		})
		return
	case errors.Is(err, services.ErrMalformedEvent):
		s.logger.WarnContext(c.Request.Context(), "webhook rejected",
			"code", codeIngestRejected, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  codeIngestRejected,
		})
		return
	case err != nil:
		// Store or lookup outage. A 500 makes the platform redeliver once
		// the service recovers.
		s.logger.ErrorContext(c.Request.Context(), "webhook ingest failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := WebhookResponse{Status: string(result.Status)}
	if result.Event != nil {
		resp.PRID = result.Event.PRID
	}
	switch result.Status {
	case services.IngestAccepted:
		resp.Message = fmt.Sprintf("PR event for %s accepted for processing", result.Event.PRID)
		resp.EntryID = result.Entry.ID
	case services.IngestDuplicate:
		resp.Message = "duplicate delivery dropped"
	case services.IngestUnregistered:
		resp.Message = "repository is not registered for review"
	}
	c.JSON(http.StatusOK, resp)
}

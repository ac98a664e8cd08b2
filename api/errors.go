package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
	telephonyx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/telephony"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, contractx.ErrSessionNotFound),
		errors.Is(err, contractx.ErrInterruptNotFound),
		errors.Is(err, contractx.ErrPipelineNotFound),
		errors.Is(err, statex.ErrStateNotFound):
		return http.StatusNotFound
	case errors.Is(err, contractx.ErrValidation),
		errors.Is(err, orchestrator.ErrInvalidSession),
		errors.Is(err, telephonyx.ErrMalformedWebhook):
		return http.StatusBadRequest
	case errors.Is(err, contractx.ErrInterruptPending),
		errors.Is(err, contractx.ErrInterruptResolved),
		errors.Is(err, contractx.ErrSessionEnded),
		errors.Is(err, contractx.ErrNoPendingDecision),
		errors.Is(err, contractx.ErrPipelineSuspended),
		errors.Is(err, orchestrator.ErrPipelineDone):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err and reports whether there was one. Internal errors
// are logged and answered with a bare "failed".
func (s *Server) handleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, ErrorResponse{Error: "failed"})
		return true
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
	return true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

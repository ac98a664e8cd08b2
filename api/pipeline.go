package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

type Pipelines interface {
	Start(ctx context.Context, sessionID string, req statex.Requirements) (*statex.PipelineState, error)
	Get(ctx context.Context, sessionID string) (*statex.PipelineState, error)
	ProvideRequirements(ctx context.Context, sessionID string, patch statex.Requirements) (*statex.PipelineState, error)
	ResumeWithHumanInput(ctx context.Context, sessionID, interruptID, answer string) (*statex.PipelineState, error)
	ResumeWithDecision(ctx context.Context, sessionID, decision string) (*statex.PipelineState, error)
}

type StartPipelineRequest struct {
	SessionID    string              `json:"session_id"`
	Requirements statex.Requirements `json:"requirements"`
}

type PipelineHumanInputRequest struct {
	InterruptID string `json:"interrupt_id" binding:"required"`
	Answer      string `json:"answer" binding:"required"`
}

type DecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
}

// POST /v1/pipelines
func (s *Server) startPipeline(c *gin.Context) {
	var req StartPipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	p, err := s.pipelines.Start(c.Request.Context(), req.SessionID, req.Requirements)
	if s.handleError(c, err) {
		return
	}
	c.JSON(http.StatusAccepted, p)
}

// GET /v1/pipelines/:session_id
func (s *Server) getPipeline(c *gin.Context) {
	p, err := s.pipelines.Get(c.Request.Context(), c.Param("session_id"))
	if s.handleError(c, err) {
		return
	}
	c.JSON(http.StatusOK, p)
}

// POST /v1/pipelines/:session_id/requirements
func (s *Server) provideRequirements(c *gin.Context) {
	var patch statex.Requirements
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	p, err := s.pipelines.ProvideRequirements(c.Request.Context(), c.Param("session_id"), patch)
	if s.handleError(c, err) {
		return
	}
	c.JSON(http.StatusAccepted, p)
}

// POST /v1/pipelines/:session_id/human_input
func (s *Server) pipelineHumanInput(c *gin.Context) {
	var req PipelineHumanInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	p, err := s.pipelines.ResumeWithHumanInput(c.Request.Context(), c.Param("session_id"), req.InterruptID, req.Answer)
	if s.handleError(c, err) {
		return
	}
	c.JSON(http.StatusAccepted, p)
}

// POST /v1/pipelines/:session_id/decision
func (s *Server) pipelineDecision(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	p, err := s.pipelines.ResumeWithDecision(c.Request.Context(), c.Param("session_id"), req.Decision)
	if s.handleError(c, err) {
		return
	}
	c.JSON(http.StatusAccepted, p)
}

package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/negotiation"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

type StartNegotiationRequest struct {
	SessionID string                    `json:"session_id" binding:"required"`
	VendorID  string                    `json:"vendor_id" binding:"required"`
	Context   statex.NegotiationContext `json:"context"`
}

type InterruptAnswerRequest struct {
	Answer string `json:"answer" binding:"required"`
}

type InterruptResponse struct {
	Found     bool                        `json:"found"`
	Interrupt *statex.HumanInterruptState `json:"interrupt,omitempty"`
	Answer    *string                     `json:"answer,omitempty"`
}

func keyFrom(c *gin.Context) statex.Key {
	return statex.Key{SessionID: c.Param("session_id"), VendorID: c.Param("vendor_id")}
}

// POST /v1/negotiations
func (s *Server) startNegotiation(c *gin.Context) {
	var req StartNegotiationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	res, err := s.negotiations.Start(c.Request.Context(), statex.Key{SessionID: req.SessionID, VendorID: req.VendorID}, req.Context)
	if s.handleError(c, err) {
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// GET /v1/negotiations/:session_id/:vendor_id
func (s *Server) getNegotiation(c *gin.Context) {
	sess, err := s.negotiations.Get(c.Request.Context(), keyFrom(c))
	if s.handleError(c, err) {
		return
	}
	c.JSON(http.StatusOK, sess)
}

// POST /v1/negotiations/:session_id/:vendor_id/respond
func (s *Server) respond(c *gin.Context) {
	var req negotiation.RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	res, err := s.negotiations.Respond(c.Request.Context(), keyFrom(c), req)
	if s.handleError(c, err) {
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /v1/negotiations/:session_id/:vendor_id/human_input
func (s *Server) humanInput(c *gin.Context) {
	var req negotiation.HumanInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	res, err := s.negotiations.HumanInput(c.Request.Context(), keyFrom(c), req)
	if s.handleError(c, err) {
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /v1/negotiations/:session_id/:vendor_id/end
func (s *Server) endNegotiation(c *gin.Context) {
	var req negotiation.EndRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}
	sess, err := s.negotiations.End(c.Request.Context(), keyFrom(c), req)
	if s.handleError(c, err) {
		return
	}
	c.JSON(http.StatusOK, sess)
}

// GET /v1/hitl/:session_id/:interrupt_id
func (s *Server) getInterrupt(c *gin.Context) {
	rec, ok := s.lookupInterrupt(c, c.Param("session_id"), c.Param("interrupt_id"))
	if !ok {
		c.JSON(http.StatusNotFound, InterruptResponse{Found: false})
		return
	}
	c.JSON(http.StatusOK, InterruptResponse{Found: true, Interrupt: &rec, Answer: rec.Response})
}

// POST /v1/hitl/:session_id/:interrupt_id answers an interrupt by its id
// alone. Live call interrupts go to the negotiation session; questions a
// finished call left open resume the pipeline.
func (s *Server) submitInterrupt(c *gin.Context) {
	var req InterruptAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	sessionID, interruptID := c.Param("session_id"), c.Param("interrupt_id")

	if rec, ok := s.negotiations.Interrupt(sessionID, interruptID); ok {
		res, err := s.negotiations.HumanInput(c.Request.Context(),
			statex.Key{SessionID: sessionID, VendorID: rec.VendorID},
			negotiation.HumanInputRequest{InterruptID: interruptID, Answer: req.Answer})
		if s.handleError(c, err) {
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}
	if s.pipelines != nil {
		p, err := s.pipelines.ResumeWithHumanInput(c.Request.Context(), sessionID, interruptID, req.Answer)
		if s.handleError(c, err) {
			return
		}
		c.JSON(http.StatusOK, p)
		return
	}
	s.handleError(c, contractx.ErrInterruptNotFound)
}

// GET /v1/hitl/:session_id/answers
func (s *Server) cachedAnswers(c *gin.Context) {
	entries, err := s.negotiations.CachedAnswers(c.Request.Context(), c.Param("session_id"))
	if s.handleError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"answers": entries})
}

func (s *Server) lookupInterrupt(c *gin.Context, sessionID, interruptID string) (statex.HumanInterruptState, bool) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(interruptID) == "" {
		return statex.HumanInterruptState{}, false
	}
	if rec, ok := s.negotiations.Interrupt(sessionID, interruptID); ok {
		return rec, true
	}
	if s.pipelines == nil {
		return statex.HumanInterruptState{}, false
	}
	p, err := s.pipelines.Get(c.Request.Context(), sessionID)
	if err != nil || p.Interrupt == nil || p.Interrupt.InterruptID != interruptID {
		return statex.HumanInterruptState{}, false
	}
	return *p.Interrupt, true
}

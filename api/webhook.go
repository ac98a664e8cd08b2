package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/lang"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/negotiation"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
	telephonyx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/telephony"
)

const (
	WebhookSecretHeader = "X-Telephony-Secret"
	maxWebhookBody      = 1 << 20
)

// UtteranceReply is what the voice assistant says next.
type UtteranceReply struct {
	Utterance string `json:"utterance"`
	EndCall   bool   `json:"end_call"`
	Hold      bool   `json:"hold,omitempty"`
}

// POST /v1/telephony/webhook
func (s *Server) webhook(c *gin.Context) {
	if !s.verifyWebhook(c.GetHeader(WebhookSecretHeader)) {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid webhook secret"})
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}

	ev, err := telephonyx.ParseWebhook(raw)
	if errors.Is(err, telephonyx.ErrUnsupportedWebhook) {
		c.Status(http.StatusNoContent)
		return
	}
	if s.handleError(c, err) {
		return
	}
	ref := ev.Ref()
	key, err := statex.NewKey(ref.SessionID, ref.VendorID)
	if err != nil {
		badRequest(c, "call metadata lacks session_id or vendor_id")
		return
	}

	switch e := ev.(type) {
	case telephonyx.ToolCallEvent:
		s.webhookToolCalls(c, key, e)
	case telephonyx.UtteranceEvent:
		s.webhookUtterance(c, key, e)
	case telephonyx.StatusEvent:
		s.webhookStatus(c, key, e)
	}
}

func (s *Server) webhookToolCalls(c *gin.Context, key statex.Key, ev telephonyx.ToolCallEvent) {
	results := make(map[string]string, len(ev.Calls))
	for _, call := range ev.Calls {
		res, err := s.tools(c.Request.Context(), key, call)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("session_id", key.SessionID).
				Str("vendor_id", key.VendorID).
				Str("tool", call.Name).
				Msg("tool call failed")
			results[call.ID] = s.fallbackFor(c, key)
			continue
		}
		results[call.ID] = res.Text()
	}
	c.JSON(http.StatusOK, telephonyx.ToolCallReply(ev, results))
}

func (s *Server) webhookUtterance(c *gin.Context, key statex.Key, ev telephonyx.UtteranceEvent) {
	res, err := s.negotiations.Respond(c.Request.Context(), key, negotiation.RespondRequest{TurnID: ev.TurnID, Utterance: ev.Text})
	switch {
	case errors.Is(err, contractx.ErrInterruptPending):
		c.JSON(http.StatusOK, UtteranceReply{Utterance: lang.HoldingLine(s.languageOf(c, key)), Hold: true})
		return
	case errors.Is(err, contractx.ErrSessionEnded):
		c.JSON(http.StatusOK, UtteranceReply{EndCall: true})
		return
	}
	if s.handleError(c, err) {
		return
	}
	c.JSON(http.StatusOK, UtteranceReply{
		Utterance: res.Utterance,
		EndCall:   res.ForcedExit || res.Phase == statex.PhaseEnded,
		Hold:      res.HumanInputNeeded,
	})
}

func (s *Server) webhookStatus(c *gin.Context, key statex.Key, ev telephonyx.StatusEvent) {
	if ev.Status != telephonyx.StatusEnded {
		c.Status(http.StatusNoContent)
		return
	}
	notes := strings.TrimSpace(ev.EndedReason)
	_, err := s.negotiations.End(c.Request.Context(), key, negotiation.EndRequest{Notes: notes})
	if err != nil && !errors.Is(err, contractx.ErrSessionNotFound) {
		s.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) languageOf(c *gin.Context, key statex.Key) string {
	sess, err := s.negotiations.Get(c.Request.Context(), key)
	if err != nil {
		return lang.English
	}
	return sess.Context.Language
}

func (s *Server) fallbackFor(c *gin.Context, key statex.Key) string {
	return lang.FallbackLine(s.languageOf(c, key))
}

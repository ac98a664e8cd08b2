package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/negotiation"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/tool"
	metricsx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/metrics"
)

type Deps struct {
	Negotiations *negotiation.Service
	Pipelines    Pipelines
	Tools        tool.Executor
	// VerifyWebhook checks the webhook secret header; nil accepts every call.
	VerifyWebhook func(header string) bool
	Metrics       *metricsx.Metrics
	Logger        *zerolog.Logger
}

type Server struct {
	negotiations  *negotiation.Service
	pipelines     Pipelines
	tools         tool.Executor
	verifyWebhook func(string) bool
	metrics       *metricsx.Metrics
	logger        zerolog.Logger
}

func NewServer(deps Deps) *Server {
	s := &Server{
		negotiations:  deps.Negotiations,
		pipelines:     deps.Pipelines,
		tools:         deps.Tools,
		verifyWebhook: deps.VerifyWebhook,
		metrics:       deps.Metrics,
		logger:        zerolog.Nop(),
	}
	if deps.Logger != nil {
		s.logger = deps.Logger.With().Str("component", "api").Logger()
	}
	if s.verifyWebhook == nil {
		s.verifyWebhook = func(string) bool { return true }
	}
	if s.tools == nil && s.negotiations != nil {
		s.tools = tool.NewExecutor(s.negotiations, s.logger)
	}
	return s
}

// Router registers every route. Pipeline routes are only present when a
// pipeline driver was supplied.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := r.Group("/v1")
	if s.negotiations != nil {
		n := v1.Group("/negotiations")
		n.POST("", s.startNegotiation)
		n.GET("/:session_id/:vendor_id", s.getNegotiation)
		n.POST("/:session_id/:vendor_id/respond", s.respond)
		n.POST("/:session_id/:vendor_id/human_input", s.humanInput)
		n.POST("/:session_id/:vendor_id/end", s.endNegotiation)

		h := v1.Group("/hitl/:session_id")
		h.GET("/answers", s.cachedAnswers)
		h.GET("/:interrupt_id", s.getInterrupt)
		h.POST("/:interrupt_id", s.submitInterrupt)

		v1.POST("/telephony/webhook", s.webhook)
	}
	if s.pipelines != nil {
		p := v1.Group("/pipelines")
		p.POST("", s.startPipeline)
		p.GET("/:session_id", s.getPipeline)
		p.POST("/:session_id/requirements", s.provideRequirements)
		p.POST("/:session_id/human_input", s.pipelineHumanInput)
		p.POST("/:session_id/decision", s.pipelineDecision)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Msg("request")
	}
}

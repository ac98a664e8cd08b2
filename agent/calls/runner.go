package calls

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/lang"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/negotiation"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/tool"
	metricsx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/metrics"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/phone"
	telephonyx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/telephony"
)

const maxPollErrors = 3

type Config struct {
	PollInterval time.Duration `split_words:"true" default:"2s" validate:"gt=0"`
	MaxDuration  time.Duration `split_words:"true" default:"8m" validate:"gt=0"`
	PhoneRegion  string        `split_words:"true" default:"IN"`
	VoiceID      string        `envconfig:"VOICE_ID" split_words:"true"`
	ServerURL    string        `envconfig:"SERVER_URL" split_words:"true"`
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 8 * time.Minute
	}
	if c.PhoneRegion == "" {
		c.PhoneRegion = phone.DefaultRegion
	}
	return c
}

// Sessions is the part of the negotiation service a live call needs.
type Sessions interface {
	Start(ctx context.Context, key statex.Key, nctx statex.NegotiationContext) (negotiation.TurnResult, error)
	Get(ctx context.Context, key statex.Key) (*statex.NegotiationSession, error)
	Interrupt(sessionID, interruptID string) (statex.HumanInterruptState, bool)
	End(ctx context.Context, key statex.Key, req negotiation.EndRequest) (*statex.NegotiationSession, error)
}

type Deps struct {
	Provider     contractx.TelephonyProvider
	Sessions     Sessions
	Metrics      *metricsx.Metrics
	Logger       *zerolog.Logger
	Now          func() time.Time
	SystemPrompt string
}

// Runner places vendor calls through the telephony provider. The live call is
// bound to the negotiation session through the call metadata, so webhook turns
// land on the same session the runner reads back when the call ends.
type Runner struct {
	provider     contractx.TelephonyProvider
	sessions     Sessions
	metrics      *metricsx.Metrics
	logger       zerolog.Logger
	now          func() time.Time
	systemPrompt string
	cfg          Config
}

var _ contractx.CallRunner = (*Runner)(nil)

func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("%w: telephony provider is required", contractx.ErrValidation)
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("%w: negotiation sessions are required", contractx.ErrValidation)
	}
	r := &Runner{
		provider:     deps.Provider,
		sessions:     deps.Sessions,
		metrics:      deps.Metrics,
		logger:       zerolog.Nop(),
		now:          deps.Now,
		systemPrompt: deps.SystemPrompt,
		cfg:          cfg.withDefaults(),
	}
	if deps.Logger != nil {
		r.logger = deps.Logger.With().Str("component", "calls").Logger()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// RunCall dials one vendor and blocks until the call has ended. Provider
// failures produce a failed result rather than an error; the error return is
// reserved for invalid requests and negotiation state failures.
func (r *Runner) RunCall(ctx context.Context, req contractx.CallRequest) (statex.CallResult, error) {
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Vendor.ID) == "" {
		return statex.CallResult{}, fmt.Errorf("%w: session id and vendor id are required", contractx.ErrValidation)
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = statex.PurposeNegotiate
	}
	key := statex.Key{SessionID: req.SessionID, VendorID: req.Vendor.ID}
	if purpose == statex.PurposeVerify {
		key.VendorID = req.Vendor.ID + "-verify"
	}

	started := r.now()
	result := statex.CallResult{
		CallID:     uuid.NewString(),
		VendorID:   req.Vendor.ID,
		VendorName: req.Vendor.Name,
		StartedAt:  started.UTC(),
	}
	log := r.logger.With().Str("session_id", req.SessionID).Str("vendor_id", req.Vendor.ID).Logger()

	target, err := phone.NormalizeE164(req.Vendor.Phone, r.cfg.PhoneRegion)
	if err != nil {
		log.Warn().Err(err).Str("phone", req.Vendor.Phone).Msg("vendor phone rejected")
		return r.finish(result, statex.OutcomeFailed, "invalid-phone-number"), nil
	}

	language := req.Vendor.Language
	if language == "" {
		language = req.Requirements.Language
	}
	requirements := req.Requirements
	opening, err := r.sessions.Start(ctx, key, statex.NegotiationContext{
		VendorName:    req.Vendor.Name,
		Language:      language,
		Market:        req.Market,
		Benchmark:     req.Benchmark,
		IsFirstVendor: req.IsFirst,
		Purpose:       purpose,
		TargetPrice:   req.TargetPrice,
		Requirements:  &requirements,
	})
	if err != nil {
		return statex.CallResult{}, fmt.Errorf("start negotiation: %w", err)
	}

	callID, err := r.provider.StartCall(ctx, target, telephonyx.AssistantConfig{
		FirstMessage: opening.Utterance,
		SystemPrompt: r.systemPrompt,
		Language:     lang.Normalize(language),
		VoiceID:      r.cfg.VoiceID,
		Tools:        tool.Definitions(),
		ServerURL:    r.cfg.ServerURL,
		Metadata: map[string]string{
			"session_id": key.SessionID,
			"vendor_id":  key.VendorID,
		},
		MaxDuration: int(r.cfg.MaxDuration / time.Second),
	})
	if err != nil {
		log.Error().Err(err).Msg("start call failed")
		r.endSession(ctx, key, "call could not be placed")
		return r.finish(result, statex.OutcomeFailed, telephonyx.EndedPipelineError), nil
	}
	result.CallID = callID
	log = log.With().Str("call_id", callID).Logger()
	log.Info().Str("purpose", string(purpose)).Msg("call placed")

	status, err := r.await(ctx, callID, log)
	if err != nil {
		log.Warn().Err(err).Msg("call did not finish cleanly")
		status.EndedReason = telephonyx.EndedPipelineError
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			status.EndedReason = telephonyx.EndedMaxDuration
		}
	}
	result.Transcript = status.Transcript
	result.Interrupt = r.openInterrupt(ctx, key)

	sess, err := r.endSession(ctx, key, status.EndedReason)
	if err != nil {
		return statex.CallResult{}, err
	}
	if !status.StartedAt.IsZero() {
		result.StartedAt = status.StartedAt.UTC()
	}
	if !status.EndedAt.IsZero() {
		result.EndedAt = status.EndedAt.UTC()
	}

	result.QuotedPrice = sess.QuotedPrice
	result.NegotiatedPrice = negotiatedPrice(sess)
	result.Suspicious = sess.PriceSuspicious
	result.Highlights = highlights(sess)
	return r.finish(result, outcomeFor(status.EndedReason), status.EndedReason), nil
}

// await polls the provider until the call ends. A few consecutive poll
// failures are tolerated; the call is given up after that.
func (r *Runner) await(ctx context.Context, callID string, log zerolog.Logger) (telephonyx.CallStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.MaxDuration)
	defer cancel()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	var last telephonyx.CallStatus
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}

		status, err := r.provider.GetCallStatus(ctx, callID)
		if err != nil {
			failures++
			log.Warn().Err(err).Int("failures", failures).Msg("poll call status failed")
			if failures >= maxPollErrors {
				return last, fmt.Errorf("poll call %s: %w", callID, err)
			}
			continue
		}
		failures = 0
		last = status
		if status.Ended() {
			return status, nil
		}
	}
}

// openInterrupt reports an operator question still unanswered when the line
// dropped. Ending the session cancels it, so the caller gets a copy.
func (r *Runner) openInterrupt(ctx context.Context, key statex.Key) *statex.HumanInterruptState {
	sess, err := r.sessions.Get(ctx, key)
	if err != nil || sess.ActiveInterruptID == "" {
		return nil
	}
	rec, ok := r.sessions.Interrupt(key.SessionID, sess.ActiveInterruptID)
	if !ok || !rec.Active {
		return nil
	}
	r.logger.Info().
		Str("session_id", key.SessionID).
		Str("vendor_id", key.VendorID).
		Str("interrupt_id", rec.InterruptID).
		Msg("call ended with an unanswered operator question")
	return &rec
}

func (r *Runner) endSession(ctx context.Context, key statex.Key, reason string) (*statex.NegotiationSession, error) {
	// The webhook may already have ended the session; End is idempotent.
	ctx = context.WithoutCancel(ctx)
	sess, err := r.sessions.End(ctx, key, negotiation.EndRequest{Notes: reason})
	if err != nil {
		r.logger.Error().Err(err).Str("session_id", key.SessionID).Str("vendor_id", key.VendorID).Msg("end negotiation failed")
		return nil, fmt.Errorf("end negotiation: %w", err)
	}
	return sess, nil
}

func (r *Runner) finish(result statex.CallResult, outcome statex.CallOutcome, reason string) statex.CallResult {
	if result.EndedAt.IsZero() {
		result.EndedAt = r.now().UTC()
	}
	result.Outcome = outcome
	result.EndedReason = reason
	result.Duration = result.EndedAt.Sub(result.StartedAt)
	if result.Duration < 0 {
		result.Duration = 0
	}
	r.metrics.CallFinished(result.Duration)
	r.logger.Info().
		Str("vendor_id", result.VendorID).
		Str("call_id", result.CallID).
		Str("outcome", string(outcome)).
		Str("ended_reason", reason).
		Dur("duration", result.Duration).
		Msg("call finished")
	return result
}

func outcomeFor(reason string) statex.CallOutcome {
	switch reason {
	case telephonyx.EndedCustomerBusy:
		return statex.OutcomeBusy
	case telephonyx.EndedCustomerNoAnswer:
		return statex.OutcomeNoAnswer
	case telephonyx.EndedPipelineError:
		return statex.OutcomeFailed
	default:
		return statex.OutcomeCompleted
	}
}

// negotiatedPrice is the final price when it came out of bargaining: either
// lower than the quote or one the agent itself offered.
func negotiatedPrice(sess *statex.NegotiationSession) *float64 {
	if sess == nil || sess.FinalPrice == nil {
		return nil
	}
	final := *sess.FinalPrice
	if sess.QuotedPrice == nil || final < *sess.QuotedPrice-0.5 || sess.HasProposed(final) {
		return &final
	}
	return nil
}

func highlights(sess *statex.NegotiationSession) []string {
	if sess == nil {
		return nil
	}
	var out []string
	if sess.QuotedPrice != nil {
		out = append(out, "quoted "+lang.FormatPrice(*sess.QuotedPrice))
	}
	if p := negotiatedPrice(sess); p != nil && (sess.QuotedPrice == nil || math.Abs(*p-*sess.QuotedPrice) >= 0.5) {
		out = append(out, "negotiated to "+lang.FormatPrice(*p))
	}
	if sess.PriceSuspicious {
		out = append(out, "quote outside the plausible market band")
	}
	if len(sess.ExtraChargeTypes) > 0 {
		out = append(out, "extra charges: "+strings.Join(sess.ExtraChargeTypes, ", "))
	}
	if sess.AllInclusiveConfirmed {
		out = append(out, "all-inclusive confirmed")
	}
	if sess.VendorRefusedCount > 0 {
		out = append(out, fmt.Sprintf("vendor refused %d time(s)", sess.VendorRefusedCount))
	}
	return out
}

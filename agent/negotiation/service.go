package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/hitl"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/lang"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/pricing"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/keylock"
	metricsx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/metrics"
)

type RespondRequest struct {
	TurnID    string `json:"turn_id"`
	Utterance string `json:"utterance"`
}

type HumanInputRequest struct {
	InterruptID string `json:"interrupt_id"`
	Answer      string `json:"answer"`
}

type EndRequest struct {
	FinalPrice *float64 `json:"final_price,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// TurnResult is what the agent says after a turn.
type TurnResult struct {
	Session          *statex.NegotiationSession `json:"session"`
	Utterance        string                     `json:"utterance"`
	Directive        string                     `json:"directive"`
	Kind             Kind                       `json:"kind"`
	Phase            statex.Phase               `json:"phase"`
	HumanInputNeeded bool                       `json:"human_input_needed"`
	InterruptID      string                     `json:"interrupt_id,omitempty"`
	ForcedExit       bool                       `json:"forced_exit"`
	Replayed         bool                       `json:"replayed,omitempty"`
}

type Deps struct {
	Store      statex.Store
	Classifier contractx.IntentClassifier
	Generator  contractx.ResponseGenerator
	Cache      hitl.Cache
	Interrupts *hitl.Manager
	Metrics    *metricsx.Metrics
	Logger     *zerolog.Logger
	Now        func() time.Time

	// SystemPrompt is the negotiator prompt; trip context is appended per call.
	SystemPrompt string
}

// Service owns every negotiation session. Actions on one key are serialised.
type Service struct {
	store        statex.Store
	classifier   contractx.IntentClassifier
	generator    contractx.ResponseGenerator
	cache        hitl.Cache
	interrupts   *hitl.Manager
	engine       *Engine
	metrics      *metricsx.Metrics
	logger       zerolog.Logger
	now          func() time.Time
	systemPrompt string
	cfg          Config
	locks        *keylock.Map[statex.Key]
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: store is required", contractx.ErrValidation)
	}
	if deps.Classifier == nil {
		return nil, fmt.Errorf("%w: classifier is required", contractx.ErrValidation)
	}
	s := &Service{
		store:        deps.Store,
		classifier:   deps.Classifier,
		generator:    deps.Generator,
		cache:        deps.Cache,
		interrupts:   deps.Interrupts,
		engine:       NewEngine(),
		metrics:      deps.Metrics,
		logger:       zerolog.Nop(),
		now:          deps.Now,
		systemPrompt: deps.SystemPrompt,
		cfg:          cfg.withDefaults(),
		locks:        keylock.New[statex.Key](),
	}
	if deps.Logger != nil {
		s.logger = deps.Logger.With().Str("component", "negotiation").Logger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cache == nil {
		s.cache = hitl.NewMemoryCache()
	}
	if s.interrupts == nil {
		s.interrupts = hitl.NewManager(hitl.WithMetrics(deps.Metrics))
	}
	return s, nil
}

// Start opens a session, or returns the existing one for the same key.
func (s *Service) Start(ctx context.Context, key statex.Key, nctx statex.NegotiationContext) (TurnResult, error) {
	if err := key.Validate(); err != nil {
		return TurnResult{}, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	existing, err := s.store.Load(ctx, key)
	switch {
	case err == nil:
		return TurnResult{Session: existing, Phase: existing.Phase, Replayed: true, Utterance: firstAgentText(existing)}, nil
	case !errors.Is(err, statex.ErrStateNotFound):
		return TurnResult{}, fmt.Errorf("load session %s: %w", key, err)
	}

	nctx.Language = lang.Normalize(nctx.Language)
	sess := statex.NewNegotiationSession(key, nctx, s.now())
	opening := OpeningLine(nctx)
	sess.AppendMessage(statex.Message{Speaker: statex.SpeakerAgent, Text: opening, Timestamp: s.now()})

	if err := s.store.Save(ctx, sess); err != nil {
		return TurnResult{}, fmt.Errorf("save session %s: %w", key, err)
	}
	s.logger.Info().
		Str("session_id", key.SessionID).
		Str("vendor_id", key.VendorID).
		Bool("first_vendor", nctx.IsFirstVendor).
		Msg("negotiation started")

	return TurnResult{Session: sess.Clone(), Utterance: opening, Kind: KindAskRate, Phase: sess.Phase}, nil
}

// Respond processes one vendor utterance.
func (s *Service) Respond(ctx context.Context, key statex.Key, req RespondRequest) (TurnResult, error) {
	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		return TurnResult{}, fmt.Errorf("%w: utterance is required", contractx.ErrValidation)
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	sess, err := s.load(ctx, key)
	if err != nil {
		return TurnResult{}, err
	}
	if req.TurnID != "" && sess.LastTurn != nil && sess.LastTurn.TurnID == req.TurnID {
		return replay(sess), nil
	}
	if sess.IsEnded() {
		return TurnResult{}, fmt.Errorf("%w: %s", contractx.ErrSessionEnded, key)
	}
	if sess.ActiveInterruptID != "" {
		if _, pending := s.interrupts.Active(hitl.OwnerOf(key)); pending {
			return TurnResult{}, fmt.Errorf("%w: %s", contractx.ErrInterruptPending, sess.ActiveInterruptID)
		}
		sess.ActiveInterruptID = ""
	}

	sess.PendingDirective = ""
	sess.AppendMessage(statex.Message{Speaker: statex.SpeakerVendor, Text: utterance, Timestamp: s.now()})

	intent := s.classify(ctx, sess, utterance)
	in := TurnInput{Utterance: utterance, Intent: intent}

	if intent.NeedsHumanInput && IsDeflectable(intent, utterance) {
		in.Intent.NeedsHumanInput = false
		in.Deflect = true
		s.logger.Info().Str("session_id", key.SessionID).Str("vendor_id", key.VendorID).Msg("deflected tactic question")
	}

	category := ""
	if in.Intent.NeedsHumanInput {
		category = hitl.NormalizeCategory(intent.HumanInputReason, questionOf(intent, utterance))
		entry, err := s.cache.Lookup(ctx, key.SessionID, category)
		switch {
		case err == nil:
			in.KnownAnswer = entry.Answer
			s.metrics.CacheLookup("hit")
		case errors.Is(err, hitl.ErrMiss):
			s.metrics.CacheLookup("miss")
		default:
			s.metrics.CacheLookup("error")
			s.logger.Warn().Err(err).Str("session_id", key.SessionID).Msg("hitl cache lookup failed")
		}
	}

	decision := s.engine.Apply(sess, in)
	result := TurnResult{Directive: decision.Directive, Kind: decision.Kind, ForcedExit: decision.ForcedExit}

	switch {
	case decision.ForcedExit:
		sess.End(s.now(), nil, "forced exit: "+decision.ExitReason)
		result.Utterance = decision.ForcedExitText
		s.metrics.ForcedExit(decision.ExitReason)
		s.logger.Info().
			Str("session_id", key.SessionID).
			Str("vendor_id", key.VendorID).
			Str("reason", decision.ExitReason).
			Msg("forced exit")

	case decision.HumanInputNeeded:
		rec, err := s.interrupts.Create(ctx, hitl.CreateOptions{
			Owner:     hitl.OwnerOf(key),
			Reason:    intent.HumanInputReason,
			Category:  category,
			Question:  questionOf(intent, utterance),
			Timeout:   s.cfg.HumanInputTimeout,
			OnTimeout: s.onInterruptTimeout,
		})
		if err != nil {
			return TurnResult{}, err
		}
		sess.ActiveInterruptID = rec.InterruptID
		sess.PendingDirective = decision.Pending
		result.HumanInputNeeded = true
		result.InterruptID = rec.InterruptID
		result.Utterance = lang.HoldingLine(sess.Context.Language)

	default:
		result.Utterance = s.generate(ctx, sess, decision)
	}

	sess.AppendMessage(statex.Message{
		Speaker:   statex.SpeakerAgent,
		Text:      result.Utterance,
		Timestamp: s.now(),
		Reasoning: decision.Directive,
	})
	sess.LastTurn = &statex.TurnRecord{
		TurnID:           req.TurnID,
		Utterance:        result.Utterance,
		Directive:        decision.Directive,
		Kind:             string(decision.Kind),
		HumanInputNeeded: result.HumanInputNeeded,
		InterruptID:      result.InterruptID,
		ForcedExit:       result.ForcedExit,
	}
	sess.Touch(s.now())

	if err := s.store.Save(ctx, sess); err != nil {
		return TurnResult{}, fmt.Errorf("save session %s: %w", key, err)
	}
	s.metrics.TurnProcessed(string(sess.Phase))

	result.Session = sess.Clone()
	result.Phase = sess.Phase
	return result, nil
}

// HumanInput applies an operator answer to the session's pending interrupt.
func (s *Service) HumanInput(ctx context.Context, key statex.Key, req HumanInputRequest) (TurnResult, error) {
	answer := strings.TrimSpace(req.Answer)
	if answer == "" {
		return TurnResult{}, fmt.Errorf("%w: answer is required", contractx.ErrValidation)
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	sess, err := s.load(ctx, key)
	if err != nil {
		return TurnResult{}, err
	}
	id := strings.TrimSpace(req.InterruptID)
	if id == "" {
		id = sess.ActiveInterruptID
	}
	if id == "" {
		return TurnResult{}, fmt.Errorf("%w: no pending interrupt for %s", contractx.ErrInterruptNotFound, key)
	}

	if known, ok := s.interrupts.Get(key.SessionID, id); ok && known.VendorID != "" && known.VendorID != key.VendorID {
		return TurnResult{}, fmt.Errorf("%w: %s belongs to another vendor", contractx.ErrInterruptNotFound, id)
	}
	rec, err := s.interrupts.Resolve(ctx, key.SessionID, id, answer)
	if err != nil {
		return TurnResult{}, err
	}

	category := rec.Category
	if category == "" {
		category = hitl.NormalizeCategory(rec.Reason, rec.Question)
	}
	if _, err := s.cache.Store(ctx, key.SessionID, key.VendorID, category, rec.Question, answer); err != nil {
		s.logger.Warn().Err(err).Str("session_id", key.SessionID).Msg("hitl cache store failed")
	}
	if sess.ActiveInterruptID == id {
		sess.ActiveInterruptID = ""
	}
	if sess.IsEnded() {
		if err := s.store.Save(ctx, sess); err != nil {
			return TurnResult{}, fmt.Errorf("save session %s: %w", key, err)
		}
		return TurnResult{Session: sess.Clone(), Phase: sess.Phase, InterruptID: id}, nil
	}

	then := "continue toward confirming their best price."
	if sess.PendingDirective != "" {
		then = sess.PendingDirective
		sess.PendingDirective = ""
	}
	decision := Decision{
		Kind: KindAnswerQuestion,
		Directive: fmt.Sprintf("The vendor asked: %q. Tell them this detail from the customer: %q. Then: %s",
			rec.Question, answer, then),
	}
	utterance := s.generate(ctx, sess, decision)
	sess.AppendMessage(statex.Message{
		Speaker:    statex.SpeakerAgent,
		Text:       utterance,
		Timestamp:  s.now(),
		Reasoning:  decision.Directive,
		HumanInput: true,
	})
	sess.LastTurn = &statex.TurnRecord{
		TurnID:      id,
		Utterance:   utterance,
		Directive:   decision.Directive,
		Kind:        string(decision.Kind),
		InterruptID: id,
	}
	sess.Touch(s.now())
	if err := s.store.Save(ctx, sess); err != nil {
		return TurnResult{}, fmt.Errorf("save session %s: %w", key, err)
	}

	return TurnResult{
		Session:     sess.Clone(),
		Utterance:   utterance,
		Directive:   decision.Directive,
		Kind:        decision.Kind,
		Phase:       sess.Phase,
		InterruptID: id,
	}, nil
}

// AskHuman handles an explicit request for a customer detail from the voice
// assistant. It answers from the cache when it can; otherwise it opens an
// interrupt whose id is returned for AwaitHumanInput.
func (s *Service) AskHuman(ctx context.Context, key statex.Key, question, reason string) (answer, interruptID string, err error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", "", fmt.Errorf("%w: question is required", contractx.ErrValidation)
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	sess, err := s.load(ctx, key)
	if err != nil {
		return "", "", err
	}
	intent := contractx.VendorIntent{NeedsHumanInput: true, HumanInputQuestion: question, HumanInputReason: reason}
	if IsDeflectable(intent, question) {
		return templateUtterance(Decision{Kind: KindDeflect}, sess.Context.Language, nil), "", nil
	}

	category := hitl.NormalizeCategory(reason, question)
	if entry, err := s.cache.Lookup(ctx, key.SessionID, category); err == nil {
		s.metrics.CacheLookup("hit")
		return entry.Answer, "", nil
	} else if !errors.Is(err, hitl.ErrMiss) {
		s.logger.Warn().Err(err).Str("session_id", key.SessionID).Msg("hitl cache lookup failed")
	}
	s.metrics.CacheLookup("miss")

	if active, ok := s.interrupts.Active(hitl.OwnerOf(key)); ok {
		return "", active.InterruptID, nil
	}
	rec, err := s.interrupts.Create(ctx, hitl.CreateOptions{
		Owner:     hitl.OwnerOf(key),
		Reason:    reason,
		Category:  category,
		Question:  question,
		Timeout:   s.cfg.HumanInputTimeout,
		OnTimeout: s.onInterruptTimeout,
	})
	if err != nil {
		return "", "", err
	}
	sess.ActiveInterruptID = rec.InterruptID
	sess.Touch(s.now())
	if err := s.store.Save(ctx, sess); err != nil {
		return "", "", fmt.Errorf("save session %s: %w", key, err)
	}
	return "", rec.InterruptID, nil
}

// AwaitHumanInput blocks until the interrupt is answered or times out and
// returns the utterance recorded for it. On timeout that is the fallback line.
func (s *Service) AwaitHumanInput(ctx context.Context, key statex.Key, interruptID string) (TurnResult, error) {
	_, err := s.interrupts.Wait(ctx, interruptID)
	switch {
	case err == nil:
	case errors.Is(err, contractx.ErrInterruptTimeout):
		if rec, ok := s.interrupts.Get(key.SessionID, interruptID); ok {
			s.applyTimeout(rec)
		}
	default:
		return TurnResult{}, err
	}

	unlock := s.locks.Lock(key)
	defer unlock()
	sess, err := s.load(ctx, key)
	if err != nil {
		return TurnResult{}, err
	}
	res := replay(sess)
	res.Replayed = false
	return res, nil
}

// End closes a session. Ending an ended session returns it unchanged, except
// that a final price is recorded when the session ended without one.
func (s *Service) End(ctx context.Context, key statex.Key, req EndRequest) (*statex.NegotiationSession, error) {
	if req.FinalPrice != nil && *req.FinalPrice <= 0 {
		return nil, fmt.Errorf("%w: final price must be positive", contractx.ErrValidation)
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	sess, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess.IsEnded() && sess.EndedAt != nil {
		if sess.FillFinalPrice(s.now(), req.FinalPrice) {
			if err := s.store.Save(ctx, sess); err != nil {
				return nil, fmt.Errorf("save session %s: %w", key, err)
			}
		}
		return sess.Clone(), nil
	}
	if sess.ActiveInterruptID != "" {
		_ = s.interrupts.Cancel(sess.ActiveInterruptID)
	}
	sess.End(s.now(), req.FinalPrice, req.Notes)
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session %s: %w", key, err)
	}
	s.logger.Info().Str("session_id", key.SessionID).Str("vendor_id", key.VendorID).Msg("negotiation ended")
	return sess.Clone(), nil
}

func (s *Service) Get(ctx context.Context, key statex.Key) (*statex.NegotiationSession, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}
	return s.load(ctx, key)
}

// Interrupt returns an interrupt of the session, if known.
func (s *Service) Interrupt(sessionID, interruptID string) (statex.HumanInterruptState, bool) {
	return s.interrupts.Get(sessionID, interruptID)
}

// CachedAnswers lists the operator answers remembered for a session.
func (s *Service) CachedAnswers(ctx context.Context, sessionID string) ([]hitl.Entry, error) {
	return s.cache.Entries(ctx, sessionID)
}

func (s *Service) onInterruptTimeout(rec statex.HumanInterruptState) {
	s.applyTimeout(rec)
}

// applyTimeout clears a timed-out interrupt and records the fallback line.
// Safe to call more than once for the same interrupt.
func (s *Service) applyTimeout(rec statex.HumanInterruptState) {
	key := statex.Key{SessionID: rec.SessionID, VendorID: rec.VendorID}
	if key.Validate() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SaveTimeout)
	defer cancel()

	unlock := s.locks.Lock(key)
	defer unlock()

	sess, err := s.store.Load(ctx, key)
	if err != nil || sess.ActiveInterruptID != rec.InterruptID {
		return
	}
	sess.ActiveInterruptID = ""
	sess.PendingDirective = ""
	fallback := lang.FallbackLine(sess.Context.Language)
	sess.AppendMessage(statex.Message{
		Speaker:   statex.SpeakerAgent,
		Text:      fallback,
		Timestamp: s.now(),
		Reasoning: "operator answer timed out",
	})
	sess.LastTurn = &statex.TurnRecord{
		TurnID:      rec.InterruptID,
		Utterance:   fallback,
		Kind:        "fallback",
		InterruptID: rec.InterruptID,
	}
	if err := s.store.Save(ctx, sess); err != nil {
		s.logger.Error().Err(err).Str("session_id", key.SessionID).Msg("save after interrupt timeout failed")
		return
	}
	s.logger.Warn().
		Str("session_id", key.SessionID).
		Str("vendor_id", key.VendorID).
		Str("interrupt_id", rec.InterruptID).
		Msg("operator answer timed out, fallback used")
}

func (s *Service) load(ctx context.Context, key statex.Key) (*statex.NegotiationSession, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}
	sess, err := s.store.Load(ctx, key)
	if errors.Is(err, statex.ErrStateNotFound) {
		return nil, fmt.Errorf("%w: %s", contractx.ErrSessionNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}
	return sess, nil
}

// classify never fails: on error it falls back to price extraction alone.
func (s *Service) classify(ctx context.Context, sess *statex.NegotiationSession, utterance string) contractx.VendorIntent {
	req := contractx.ClassifyRequest{
		Utterance:      utterance,
		History:        sess.History(s.cfg.HistoryWindow),
		ProposedPrices: append([]float64(nil), sess.AgentProposedPrices...),
		Context: contractx.ClassifyContext{
			Language:      sess.Context.Language,
			Phase:         sess.Phase,
			Market:        sess.Context.Market,
			QuotedPrice:   sess.QuotedPrice,
			IsFirstVendor: sess.Context.IsFirstVendor,
		},
	}
	intent, err := s.classifier.Classify(ctx, req)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sess.Key.SessionID).Msg("classification failed, using extractor")
		intent = contractx.VendorIntent{Intent: contractx.IntentUnclear, Source: "extractor"}
		if p, ok := pricing.Extract(utterance); ok {
			intent.ExtractedPrice = &p
			intent.Intent = contractx.IntentCounterOffer
		}
	}
	if intent.ExtractedPrice != nil && !pricing.InRange(*intent.ExtractedPrice) {
		intent.ExtractedPrice = nil
	}
	if intent.ExtractedPrice != nil {
		intent.Suspicious = pricing.Suspicious(*intent.ExtractedPrice, sess.Context.Market)
	}
	s.metrics.Classified(intent.Source)
	return intent
}

func (s *Service) generate(ctx context.Context, sess *statex.NegotiationSession, d Decision) string {
	if d.Kind == KindForcedExit {
		return d.ForcedExitText
	}
	if s.generator != nil {
		text, err := s.generator.Generate(ctx, contractx.GenerateRequest{
			SystemPrompt: s.buildSystemPrompt(sess),
			History:      sess.History(s.cfg.HistoryWindow),
			Directive:    d.Directive,
			Language:     sess.Context.Language,
		})
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		s.logger.Warn().Err(err).Str("session_id", sess.Key.SessionID).Msg("generation failed, using template")
	}
	return templateUtterance(d, sess.Context.Language, sess.QuotedPrice)
}

func (s *Service) buildSystemPrompt(sess *statex.NegotiationSession) string {
	var b strings.Builder
	b.WriteString(s.systemPrompt)
	b.WriteString("\n\nContext:\n")
	fmt.Fprintf(&b, "- Language: %s\n", lang.Name(sess.Context.Language))
	if sess.Context.VendorName != "" {
		fmt.Fprintf(&b, "- Vendor: %s\n", sess.Context.VendorName)
	}
	if trip := tripSummary(sess.Context.Requirements); trip != "" {
		fmt.Fprintf(&b, "- Trip: %s\n", trip)
	}
	fmt.Fprintf(&b, "- Phase: %s\n", sess.Phase)
	return b.String()
}

func questionOf(intent contractx.VendorIntent, utterance string) string {
	if q := strings.TrimSpace(intent.HumanInputQuestion); q != "" {
		return q
	}
	return utterance
}

func replay(sess *statex.NegotiationSession) TurnResult {
	res := TurnResult{Session: sess, Phase: sess.Phase, Replayed: true}
	if t := sess.LastTurn; t != nil {
		res.Utterance = t.Utterance
		res.Directive = t.Directive
		res.Kind = Kind(t.Kind)
		res.HumanInputNeeded = t.HumanInputNeeded
		res.InterruptID = t.InterruptID
		res.ForcedExit = t.ForcedExit
	}
	return res
}

func firstAgentText(sess *statex.NegotiationSession) string {
	for _, m := range sess.Messages {
		if m.Speaker == statex.SpeakerAgent {
			return m.Text
		}
	}
	return ""
}

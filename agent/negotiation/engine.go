// Package negotiation runs the per-vendor conversation: the phase engine
// decides what the agent should say next and the service serialises turns.
package negotiation

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/lang"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

// Kind names the branch the engine took for a turn.
type Kind string

const (
	KindCounterMarketHigh Kind = "counter_market_high"
	KindCounterMarketLow  Kind = "counter_market_low"
	KindAskFinal          Kind = "ask_final"
	KindMatchBenchmark    Kind = "match_benchmark"
	KindAskAllInclusive   Kind = "ask_all_inclusive"
	KindConfirmDetails    Kind = "confirm_details"
	KindAskRate           Kind = "ask_rate"
	KindAnswerQuestion    Kind = "answer_question"
	KindHoldForHuman      Kind = "hold_for_human"
	KindDeflect           Kind = "deflect"
	KindForcedExit        Kind = "forced_exit"
	KindClose             Kind = "close"
	KindContinue          Kind = "continue"
)

const (
	ExitRefusalAfterQuote = "refusal_after_quote"
	ExitRepeatedRefusal   = "repeated_refusal"
	ExitRateAskLoop       = "rate_ask_loop"
)

// repetitionWindow is how many agent utterances the loop breaker inspects.
const repetitionWindow = 3

type Decision struct {
	NextPhase        statex.Phase
	Kind             Kind
	Directive        string
	HumanInputNeeded bool
	ForcedExit       bool
	ForcedExitText   string
	ExitReason       string
	CounterPrice     *float64
	Reason           string

	// Pending is the reply held back while the agent waits on the operator.
	Pending string
}

type TurnInput struct {
	Utterance string
	Intent    contractx.VendorIntent

	// KnownAnswer is an operator answer for the vendor's question, from the
	// cache or a fresh reply.
	KnownAnswer string

	// Deflect is set when the vendor asked about the agent's own tactics.
	Deflect bool
}

// Engine is stateless; all state lives in the session it is handed.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Apply updates the session bookkeeping for one vendor turn and returns the
// decision. The caller must already have appended the vendor message.
func (e *Engine) Apply(s *statex.NegotiationSession, in TurnInput) Decision {
	intent := in.Intent
	prior := s.QuotedPrice
	price := intent.ExtractedPrice

	if price == nil && intent.AgreedToPrice && intent.Intent == contractx.IntentAgreement && len(s.AgentProposedPrices) > 0 {
		last := s.AgentProposedPrices[len(s.AgentProposedPrices)-1]
		price = &last
	}
	agreed := price != nil && s.HasProposed(*price) &&
		(intent.Intent == contractx.IntentAgreement || intent.AgreedToPrice)

	if intent.MentionsExtraCharges && len(intent.ExtraChargeTypes) > 0 {
		s.AddExtraCharges(intent.ExtraChargeTypes...)
		s.AllInclusiveConfirmed = false
	} else if s.AllInclusiveAsked && (price != nil || lang.IsAllInclusive(in.Utterance)) {
		s.AllInclusiveConfirmed = true
	}
	refused := intent.Intent == contractx.IntentRefusal
	if refused {
		s.VendorRefusedCount++
	}
	if price != nil {
		p := *price
		s.QuotedPrice = &p
		s.PriceQuoteCount++
		s.PriceSuspicious = intent.Suspicious
	}

	if agreed {
		return e.agreement(s, *price)
	}
	if d, ok := e.forcedExit(s, in, refused, prior, price); ok {
		return d
	}

	var d Decision
	switch {
	case in.Deflect:
		d = Decision{
			Kind: KindDeflect,
			Directive: "The vendor asked where our reference price came from. Politely decline to name any " +
				"other vendor or source, and bring the conversation back to their own best rate.",
			Reason: "question about our own negotiation reference",
		}
	case intent.NeedsHumanInput && strings.TrimSpace(in.KnownAnswer) == "":
		d = Decision{
			Kind:             KindHoldForHuman,
			HumanInputNeeded: true,
			Directive:        "Ask the vendor to hold for a moment while you check that detail.",
			Reason:           intent.HumanInputReason,
		}
		if price != nil {
			next := e.reply(s, in, price, refused)
			d.Pending = next.Directive
			d.CounterPrice = next.CounterPrice
		}
	default:
		d = e.reply(s, in, price, refused)
	}

	if answer := strings.TrimSpace(in.KnownAnswer); answer != "" && intent.NeedsHumanInput {
		d.Directive = fmt.Sprintf("First answer the vendor's question using this detail from the customer: %q. Then: %s",
			answer, d.Directive)
		if d.Kind == KindContinue || d.Kind == KindAskRate {
			d.Kind = KindAnswerQuestion
		}
	}

	d.NextPhase = e.transition(s, in.Utterance, intent)
	return d
}

// reply answers the vendor's price, or the lack of one.
func (e *Engine) reply(s *statex.NegotiationSession, in TurnInput, price *float64, refused bool) Decision {
	switch {
	case !s.AllInclusiveConfirmed && len(s.ExtraChargeTypes) > 0 && s.QuotedPrice != nil:
		s.AllInclusiveAsked = true
		return Decision{
			Kind: KindAskAllInclusive,
			Directive: fmt.Sprintf("The vendor said %s would be charged extra. Before discussing the price, ask "+
				"for one all-inclusive total covering %s.", joinCharges(s.ExtraChargeTypes), joinCharges(s.ExtraChargeTypes)),
			Reason: "extra charges unresolved",
		}
	case price != nil:
		return e.comparePrice(s, *price)
	default:
		return e.noPrice(s, in, refused)
	}
}

func (e *Engine) agreement(s *statex.NegotiationSession, price float64) Decision {
	s.SetPhase(statex.PhaseClosing)
	d := Decision{
		NextPhase: s.Phase,
		Kind:      KindConfirmDetails,
		Directive: fmt.Sprintf("The vendor accepted your offer of %s. Do not ask for any further reduction. "+
			"Confirm the pickup time and trip details, then thank them.", lang.FormatPrice(price)),
		Reason: "vendor agreed to our price",
	}
	if len(s.ExtraChargeTypes) > 0 && !s.AllInclusiveConfirmed {
		s.AllInclusiveAsked = true
		d.Kind = KindAskAllInclusive
		d.Directive = fmt.Sprintf("The vendor accepted %s. Do not negotiate further, only confirm that %s "+
			"are included in that amount, then confirm the trip details.", lang.FormatPrice(price), joinCharges(s.ExtraChargeTypes))
	}
	return d
}

func (e *Engine) forcedExit(s *statex.NegotiationSession, in TurnInput, refused bool, prior, price *float64) (Decision, bool) {
	reason := ""
	switch {
	case refused && prior != nil:
		reason = ExitRefusalAfterQuote
	case s.VendorRefusedCount >= 2:
		reason = ExitRepeatedRefusal
	case price == nil && rateAskLoop(s):
		reason = ExitRateAskLoop
	default:
		return Decision{}, false
	}

	last := s.QuotedPrice
	text := lang.ClosingLine(s.Context.Language, last)
	s.SetPhase(statex.PhaseEnded)
	return Decision{
		NextPhase:      statex.PhaseEnded,
		Kind:           KindForcedExit,
		Directive:      "End the call politely: " + text,
		ForcedExit:     true,
		ForcedExitText: text,
		ExitReason:     reason,
		Reason:         reason,
	}, true
}

func rateAskLoop(s *statex.NegotiationSession) bool {
	recent := s.RecentAgentTexts(repetitionWindow)
	if len(recent) < repetitionWindow {
		return false
	}
	for _, t := range recent {
		if !lang.IsRateAsk(t) {
			return false
		}
	}
	return true
}

func (e *Engine) comparePrice(s *statex.NegotiationSession, p float64) Decision {
	quoted := lang.FormatPrice(p)

	if s.Context.Purpose == statex.PurposeVerify && s.Context.TargetPrice != nil {
		target := *s.Context.TargetPrice
		if p <= target+0.5 {
			return Decision{Kind: KindConfirmDetails, Directive: fmt.Sprintf(
				"The vendor confirmed %s. Confirm the booking details and thank them.", quoted)}
		}
		return Decision{Kind: KindAskFinal, Directive: fmt.Sprintf(
			"The vendor now says %s, but agreed to %s earlier. Politely remind them of the earlier agreed amount "+
				"and ask whether they can honour it.", quoted, lang.FormatPrice(target))}
	}

	if b := s.Context.Benchmark; b.HasPrice() {
		bench := *b.LowestPriceSoFar
		if p > bench+0.5 {
			return e.counter(s, KindMatchBenchmark, bench, fmt.Sprintf(
				"The vendor quoted %s. Say you have another offer for %s for the same trip and ask whether they "+
					"can match it.", quoted, lang.FormatPrice(bench)))
		}
		return askFinal(quoted)
	}

	m := s.Context.Market
	if !m.Valid() {
		return askFinal(quoted)
	}
	switch {
	case p > m.High:
		if s.HasProposed(m.High) {
			return askFinal(quoted)
		}
		return e.counter(s, KindCounterMarketHigh, m.High, fmt.Sprintf(
			"The vendor quoted %s, which is above the usual fare for this trip. Politely counter with %s.",
			quoted, lang.FormatPrice(m.High)))
	case p > m.Low:
		if s.HasProposed(m.Low) {
			return askFinal(quoted)
		}
		return e.counter(s, KindCounterMarketLow, m.Low, fmt.Sprintf(
			"The vendor quoted %s. Ask once whether they could do it for %s.", quoted, lang.FormatPrice(m.Low)))
	default:
		return askFinal(quoted)
	}
}

func (e *Engine) counter(s *statex.NegotiationSession, kind Kind, price float64, directive string) Decision {
	s.ProposePrice(price)
	s.CounterOfferCount++
	p := price
	return Decision{Kind: kind, Directive: directive, CounterPrice: &p}
}

func askFinal(quoted string) Decision {
	return Decision{
		Kind: KindAskFinal,
		Directive: fmt.Sprintf("The vendor quoted %s. Ask whether this is their final price and if they could do "+
			"any better, without pushing further.", quoted),
	}
}

func (e *Engine) noPrice(s *statex.NegotiationSession, in TurnInput, refused bool) Decision {
	switch {
	case s.QuotedPrice != nil && (in.Intent.EndsCall || lang.ContainsEnding(in.Utterance, s.Context.Language)):
		return Decision{Kind: KindClose, Directive: fmt.Sprintf(
			"Confirm the agreed amount of %s and the trip details, then thank the vendor and say goodbye.",
			lang.FormatPrice(*s.QuotedPrice))}
	case refused:
		return Decision{Kind: KindContinue, Directive: "The vendor does not want to negotiate. Without pushing, ask " +
			"what their best all-inclusive fare for the trip would be."}
	case in.Intent.Intent == contractx.IntentQuestion:
		return Decision{Kind: KindAnswerQuestion, Directive: "Answer the vendor's question using the trip details you " +
			"have. If you do not know, say you will confirm later. Then ask for their fare."}
	case s.QuotedPrice == nil:
		return Decision{Kind: KindAskRate, Directive: "Briefly describe the trip and ask the vendor for their fare."}
	default:
		return Decision{Kind: KindContinue, Directive: fmt.Sprintf(
			"Acknowledge the vendor and steer back to confirming whether %s is their best price.",
			lang.FormatPrice(*s.QuotedPrice))}
	}
}

// transition picks the next phase; phases never move backwards.
func (e *Engine) transition(s *statex.NegotiationSession, utterance string, intent contractx.VendorIntent) statex.Phase {
	havePrice := s.QuotedPrice != nil
	var next statex.Phase
	switch {
	case havePrice && (intent.EndsCall || lang.ContainsEnding(utterance, s.Context.Language)):
		next = statex.PhaseClosing
	case havePrice:
		next = statex.PhaseNegotiation
	case len(s.Messages) <= 2:
		next = statex.PhaseGreeting
	case len(s.Messages) <= 4:
		next = statex.PhaseInquiry
	default:
		next = statex.PhaseNegotiation
	}
	s.SetPhase(next)
	return s.Phase
}

func joinCharges(types []string) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = strings.ReplaceAll(t, "_", " ")
	}
	switch len(names) {
	case 0:
		return "extras"
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

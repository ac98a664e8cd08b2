package classifier

import (
	"context"
	"fmt"
	"math"
	"strings"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/hitl"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/lang"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/pricing"
)

const SourceHeuristic = "heuristic"

// Heuristic classifies from the phrase tables and the price extractor. It
// never calls out and never fails on a non-empty utterance.
type Heuristic struct{}

var _ contractx.IntentClassifier = Heuristic{}

func (Heuristic) Classify(_ context.Context, req contractx.ClassifyRequest) (contractx.VendorIntent, error) {
	text := strings.TrimSpace(req.Utterance)
	if text == "" {
		return contractx.VendorIntent{}, fmt.Errorf("%w: utterance is required", contractx.ErrValidation)
	}

	out := contractx.VendorIntent{Intent: contractx.IntentUnclear, Confidence: 0.3, Source: SourceHeuristic}
	if p, ok := pricing.Extract(text); ok {
		out.ExtractedPrice = &p
	}
	if extras := lang.ExtraCharges(text); len(extras) > 0 {
		out.MentionsExtraCharges = true
		out.ExtraChargeTypes = extras
	}
	out.EndsCall = lang.ContainsEnding(text, req.Context.Language)

	asking := strings.Contains(text, "?")
	category := hitl.CategoryGeneral
	if asking {
		category = hitl.NormalizeCategory("", text)
	}

	switch {
	case lang.IsRefusal(text):
		out.Intent = contractx.IntentRefusal
		out.Confidence = 0.6
	case lang.IsAgreement(text) && agreesToOffer(req.ProposedPrices, out.ExtractedPrice):
		out.Intent = contractx.IntentAgreement
		out.Confidence = 0.6
		out.AgreedToPrice = len(req.ProposedPrices) > 0
		if out.ExtractedPrice == nil && out.AgreedToPrice {
			last := req.ProposedPrices[len(req.ProposedPrices)-1]
			out.ExtractedPrice = &last
		}
	case out.ExtractedPrice != nil:
		out.Intent = contractx.IntentCounterOffer
		out.Confidence = 0.6
	case asking:
		out.Intent = contractx.IntentQuestion
		out.Confidence = 0.5
		if category != hitl.CategoryGeneral && category != hitl.CategoryClarification {
			out.NeedsHumanInput = true
			out.HumanInputReason = category
			out.HumanInputQuestion = text
		}
	case out.EndsCall || out.MentionsExtraCharges:
		out.Intent = contractx.IntentInformation
		out.Confidence = 0.5
	}
	return out, nil
}

// agreesToOffer is false when a "yes" comes with a price the agent never offered.
func agreesToOffer(offered []float64, price *float64) bool {
	if price == nil {
		return true
	}
	for _, p := range offered {
		if math.Abs(p-*price) < 0.5 {
			return true
		}
	}
	return false
}

package decision

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

// Route is where the pipeline goes once a call decision is applied.
type Route string

const (
	RouteNextVendor Route = "next_vendor"
	RouteLearning   Route = "learning"
)

// Summarize builds the summary shown to the user after a call.
func Summarize(c statex.CallResult) statex.CallSummary {
	return statex.CallSummary{
		VendorID:        c.VendorID,
		VendorName:      c.VendorName,
		QuotedPrice:     c.QuotedPrice,
		NegotiatedPrice: c.NegotiatedPrice,
		Duration:        c.Duration,
		Outcome:         c.Outcome,
		Highlights:      append([]string(nil), c.Highlights...),
	}
}

// Open prepares the decision after a call. The user is asked only while
// vendors remain; otherwise the state is returned already settled.
func Open(summary statex.CallSummary, vendorsRemaining int, bench statex.BenchmarkSnapshot) *statex.CallDecisionState {
	st := &statex.CallDecisionState{
		AwaitingDecision:  vendorsRemaining > 0,
		LastCallSummary:   summary,
		VendorsRemaining:  max(vendorsRemaining, 0),
		CurrentBestVendor: bench.BestVendorSoFar,
	}
	if bench.LowestPriceSoFar != nil {
		p := *bench.LowestPriceSoFar
		st.CurrentBestPrice = &p
	}
	return st
}

// ParseDecision accepts continue or stop in any case.
func ParseDecision(raw string) (statex.Decision, error) {
	switch d := statex.Decision(strings.ToLower(strings.TrimSpace(raw))); d {
	case statex.DecisionContinue, statex.DecisionStop:
		return d, nil
	default:
		return "", fmt.Errorf("%w: decision must be continue or stop, got %q", contractx.ErrValidation, raw)
	}
}

// Decide records the user's choice on a pending decision.
func Decide(st *statex.CallDecisionState, d statex.Decision) error {
	if st == nil || !st.AwaitingDecision {
		return contractx.ErrNoPendingDecision
	}
	if _, err := ParseDecision(string(d)); err != nil {
		return err
	}
	st.UserDecision = d
	return nil
}

// Apply consumes a decided state and returns the route. A state still
// waiting for the user returns ErrPipelineSuspended and is left untouched.
func Apply(st *statex.CallDecisionState) (Route, error) {
	if st == nil || !st.AwaitingDecision {
		return RouteLearning, nil
	}
	var route Route
	switch st.UserDecision {
	case statex.DecisionContinue:
		route = RouteNextVendor
	case statex.DecisionStop:
		route = RouteLearning
	default:
		return "", fmt.Errorf("%w: awaiting call decision", contractx.ErrPipelineSuspended)
	}
	st.AwaitingDecision = false
	st.UserDecision = ""
	return route, nil
}

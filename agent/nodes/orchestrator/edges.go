package orchestratornode

import (
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/decision"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

// Transition is the outcome of a conditional edge: the step to run next and
// whether the driver must stop there until an external event arrives.
type Transition struct {
	Next    statex.Step
	Suspend bool
}

func (t Transition) apply(p *statex.PipelineState) {
	if t.Suspend {
		p.Suspend(t.Next)
		return
	}
	p.Advance(t.Next)
}

func AfterIntake(p *statex.PipelineState) Transition {
	if len(p.Missing) > 0 {
		return Transition{Next: statex.StepIntake, Suspend: true}
	}
	return Transition{Next: statex.StepBusinessSearch}
}

func AfterBusinessSearch(p *statex.PipelineState) Transition {
	if len(p.Vendors) == 0 {
		return Transition{Next: statex.StepEnd}
	}
	return Transition{Next: statex.StepResearch}
}

func AfterResearch(*statex.PipelineState) Transition {
	return Transition{Next: statex.StepNegotiation}
}

// AfterNegotiation holds on an open operator question first, then on a
// pending call decision.
func AfterNegotiation(p *statex.PipelineState) Transition {
	switch {
	case p.Interrupt != nil && p.Interrupt.Active:
		return Transition{Next: statex.StepNegotiation, Suspend: true}
	case p.Decision != nil && p.Decision.AwaitingDecision:
		return Transition{Next: statex.StepCallDecision, Suspend: true}
	default:
		return Transition{Next: statex.StepLearning}
	}
}

func AfterCallDecision(route decision.Route) Transition {
	if route == decision.RouteNextVendor {
		return Transition{Next: statex.StepNegotiation}
	}
	return Transition{Next: statex.StepLearning}
}

func AfterLearning(p *statex.PipelineState) Transition {
	if !p.Learning.HasDeal() || p.Requirements.SkipVerification {
		return Transition{Next: statex.StepEnd}
	}
	return Transition{Next: statex.StepVerification}
}

func AfterVerification(*statex.PipelineState) Transition {
	return Transition{Next: statex.StepEnd}
}

package orchestratornode

import (
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/decision"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

// CallDecision applies the user's continue/stop choice. Without one the
// pipeline stays suspended here; the decision gate has no timeout.
func CallDecision(in *GraphState) (*GraphState, error) {
	if in == nil || in.Pipeline == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	p := in.Pipeline

	route, err := decision.Apply(p.Decision)
	if errors.Is(err, contractx.ErrPipelineSuspended) {
		p.Suspend(statex.StepCallDecision)
		return in, nil
	}
	if err != nil {
		return nil, err
	}
	if route == decision.RouteNextVendor {
		p.VendorIndex++
		if _, ok := p.CurrentVendor(); !ok {
			route = decision.RouteLearning
		}
	}
	p.Decision = nil
	AfterCallDecision(route).apply(p)
	return in, nil
}

package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

// Research looks up the market range. Without one the calls still go ahead;
// negotiation then only asks for the vendor's best price.
func Research(ctx context.Context, in *GraphState, researcher contractx.MarketResearcher, logger zerolog.Logger) (*GraphState, error) {
	if in == nil || in.Pipeline == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	p := in.Pipeline

	market, err := researcher.MarketRange(ctx, p.Requirements, p.Vendors)
	if err != nil {
		logger.Warn().Err(err).Str("session_id", p.SessionID).Msg("market research failed")
		p.RecordError(statex.StepResearch, err.Error(), true, in.Now)
		market = statex.MarketRange{}
	}
	p.Market = market
	AfterResearch(p).apply(p)
	return in, nil
}

package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

const defaultMaxVendors = 5

// BusinessSearch finds the vendors to call. Finding none ends the run.
func BusinessSearch(ctx context.Context, in *GraphState, searcher contractx.VendorSearcher, logger zerolog.Logger) (*GraphState, error) {
	if in == nil || in.Pipeline == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	p := in.Pipeline

	vendors, err := searcher.Search(ctx, p.Requirements)
	switch {
	case err == nil && len(vendors) == 0:
		err = contractx.ErrVendorsUnavailable
	case err != nil && !errors.Is(err, contractx.ErrVendorsUnavailable):
		logger.Error().Err(err).Str("session_id", p.SessionID).Msg("vendor search failed")
	}
	if err != nil {
		p.Vendors = nil
		p.RecordError(statex.StepBusinessSearch, err.Error(), false, in.Now)
		AfterBusinessSearch(p).apply(p)
		return in, nil
	}

	limit := p.Requirements.MaxVendors
	if limit <= 0 {
		limit = defaultMaxVendors
	}
	if len(vendors) > limit {
		vendors = vendors[:limit]
	}
	p.Vendors = vendors
	p.VendorIndex = 0
	logger.Info().Str("session_id", p.SessionID).Int("vendors", len(vendors)).Msg("vendors found")
	AfterBusinessSearch(p).apply(p)
	return in, nil
}

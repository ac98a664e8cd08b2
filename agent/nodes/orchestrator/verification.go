package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/benchmark"
	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

// Verification calls the winning vendor back to confirm the deal.
func Verification(ctx context.Context, in *GraphState, verifier contractx.Verifier, bench *benchmark.Tracker, logger zerolog.Logger) (*GraphState, error) {
	if in == nil || in.Pipeline == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	p := in.Pipeline
	if !p.Learning.HasDeal() {
		AfterVerification(p).apply(p)
		return in, nil
	}

	var vendor statex.Vendor
	found := false
	for _, v := range p.Vendors {
		if v.ID == p.Learning.BestVendorID {
			vendor, found = v, true
			break
		}
	}
	if !found || verifier == nil {
		p.RecordError(statex.StepVerification, "winning vendor cannot be verified", true, in.Now)
		AfterVerification(p).apply(p)
		return in, nil
	}

	target := *p.Learning.BestPrice
	res, err := verifier.Verify(ctx, contractx.CallRequest{
		SessionID:    p.SessionID,
		Vendor:       vendor,
		Requirements: p.Requirements,
		Market:       p.Market,
		Benchmark:    bench.Snapshot(p.SessionID),
		Purpose:      statex.PurposeVerify,
		TargetPrice:  &target,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		logger.Error().Err(err).Str("session_id", p.SessionID).Str("vendor_id", vendor.ID).Msg("verification failed")
		p.RecordError(statex.StepVerification, err.Error(), true, in.Now)
	} else {
		p.Verification = &res
		logger.Info().
			Str("session_id", p.SessionID).
			Str("vendor_id", vendor.ID).
			Bool("confirmed", res.Confirmed).
			Msg("verification finished")
	}
	AfterVerification(p).apply(p)
	return in, nil
}

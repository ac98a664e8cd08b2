package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/benchmark"
	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/decision"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

type NegotiationDeps struct {
	Runner    contractx.CallRunner
	Benchmark *benchmark.Tracker
	CallLog   contractx.CallLog
	Logger    zerolog.Logger
}

// Negotiate calls the current vendor, folds the result into the benchmark and
// the call log, and opens the call decision. Re-entering after a suspension
// for operator input skips the dial: the vendor has already been called.
func Negotiate(ctx context.Context, in *GraphState, deps NegotiationDeps) (*GraphState, error) {
	if in == nil || in.Pipeline == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	p := in.Pipeline
	if p.Interrupt != nil && p.Interrupt.Active {
		AfterNegotiation(p).apply(p)
		return in, nil
	}

	vendor, ok := p.CurrentVendor()
	if !ok {
		p.RecordError(statex.StepNegotiation, fmt.Sprintf("no vendor at index %d", p.VendorIndex), false, in.Now)
		p.Decision = nil
		AfterNegotiation(p).apply(p)
		return in, nil
	}
	log := deps.Logger.With().Str("session_id", p.SessionID).Str("vendor_id", vendor.ID).Logger()

	call, called := callFor(p, vendor.ID)
	if !called {
		res, err := deps.Runner.RunCall(ctx, contractx.CallRequest{
			SessionID:    p.SessionID,
			Vendor:       vendor,
			Requirements: p.Requirements,
			Market:       p.Market,
			Benchmark:    deps.Benchmark.Snapshot(p.SessionID),
			IsFirst:      len(p.Calls) == 0,
			Purpose:      statex.PurposeNegotiate,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			log.Error().Err(err).Msg("vendor call failed")
			p.RecordError(statex.StepNegotiation, err.Error(), true, in.Now)
			res = statex.CallResult{
				CallID:      uuid.NewString(),
				VendorID:    vendor.ID,
				VendorName:  vendor.Name,
				Outcome:     statex.OutcomeFailed,
				EndedReason: err.Error(),
				StartedAt:   in.Now,
				EndedAt:     in.Now,
			}
		}
		p.Calls = append(p.Calls, res)
		commitCall(ctx, p, res, deps, log, in)
		call = res

		if res.Interrupt != nil && res.Interrupt.Active {
			rec := *res.Interrupt
			p.Interrupt = &rec
			log.Info().Str("interrupt_id", rec.InterruptID).Msg("pipeline waiting for operator input")
			AfterNegotiation(p).apply(p)
			return in, nil
		}
	}

	p.Decision = decision.Open(decision.Summarize(call), p.VendorsRemaining(), deps.Benchmark.Snapshot(p.SessionID))
	AfterNegotiation(p).apply(p)
	return in, nil
}

func commitCall(ctx context.Context, p *statex.PipelineState, res statex.CallResult, deps NegotiationDeps, log zerolog.Logger, in *GraphState) {
	if res.Outcome == statex.OutcomeCompleted {
		_, err := deps.Benchmark.Commit(p.SessionID, benchmark.Outcome{
			CallID:     res.CallID,
			VendorID:   res.VendorID,
			VendorName: res.VendorName,
			Price:      res.BestPrice(),
			Suspicious: res.Suspicious,
		})
		if err != nil && !errors.Is(err, benchmark.ErrAlreadyCommitted) {
			log.Warn().Err(err).Msg("benchmark commit failed")
		}
	}

	if deps.CallLog == nil {
		return
	}
	rec := contractx.CallRecord{
		ID:              res.CallID,
		SessionID:       p.SessionID,
		VendorID:        res.VendorID,
		VendorName:      res.VendorName,
		Outcome:         res.Outcome,
		QuotedPrice:     res.QuotedPrice,
		NegotiatedPrice: res.NegotiatedPrice,
		Suspicious:      res.Suspicious,
		DurationSeconds: int(res.Duration.Seconds()),
		EndedReason:     res.EndedReason,
		CreatedAt:       res.EndedAt,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = in.Now
	}
	if err := deps.CallLog.Record(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("call record not persisted")
		p.RecordError(statex.StepNegotiation, "call record not persisted: "+err.Error(), true, in.Now)
	}
}

func callFor(p *statex.PipelineState, vendorID string) (statex.CallResult, bool) {
	for i := len(p.Calls) - 1; i >= 0; i-- {
		if p.Calls[i].VendorID == vendorID {
			return p.Calls[i], true
		}
	}
	return statex.CallResult{}, false
}

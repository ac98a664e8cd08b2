package orchestratornode

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/lang"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

// Learning builds the end-of-run report from the persisted call records,
// falling back to the calls held in the pipeline when the log is unavailable.
func Learning(ctx context.Context, in *GraphState, callLog contractx.CallLog, logger zerolog.Logger) (*GraphState, error) {
	if in == nil || in.Pipeline == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	p := in.Pipeline

	records := recordsFromCalls(p.SessionID, p.Calls)
	if callLog != nil {
		stored, err := callLog.ListBySession(ctx, p.SessionID)
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("session_id", p.SessionID).Msg("call log unavailable, using pipeline calls")
			p.RecordError(statex.StepLearning, "call log unavailable: "+err.Error(), true, in.Now)
		case len(stored) > 0:
			records = mergeRecords(stored, records)
		}
	}

	p.Learning = BuildReport(records, p.Market, p.Errors, in)
	AfterLearning(p).apply(p)
	return in, nil
}

// BuildReport picks the best trusted deal and summarises how the run went.
// Suspicious prices are listed for correction and never win.
func BuildReport(records []contractx.CallRecord, market statex.MarketRange, errs []statex.StepError, in *GraphState) *statex.LearningReport {
	report := &statex.LearningReport{
		Outcomes:    make(map[statex.CallOutcome]int),
		CallsMade:   len(records),
		GeneratedAt: in.Now,
	}

	for _, r := range records {
		report.Outcomes[r.Outcome]++
		price := r.NegotiatedPrice
		if price == nil {
			price = r.QuotedPrice
		}
		if r.Suspicious {
			if price != nil {
				report.SuspiciousCalls = append(report.SuspiciousCalls,
					fmt.Sprintf("%s quoted %s, outside the plausible market band", nameOf(r), lang.FormatPrice(*price)))
			}
			continue
		}
		if r.Outcome != statex.OutcomeCompleted || price == nil {
			continue
		}
		if report.BestPrice == nil || *price < *report.BestPrice {
			p := *price
			report.BestPrice = &p
			report.BestVendorID = r.VendorID
			report.BestVendorName = r.VendorName
		}
	}

	report.SystemicErrors = systemicErrors(errs)
	report.Insights = insights(report, market)
	return report
}

// systemicErrors counts unrecoverable errors plus steps that failed more
// than once; a single recoverable error is treated as noise.
func systemicErrors(errs []statex.StepError) int {
	perStep := make(map[statex.Step]int)
	n := 0
	for _, e := range errs {
		if !e.Recoverable {
			n++
			continue
		}
		perStep[e.Step]++
	}
	for _, c := range perStep {
		if c > 1 {
			n++
		}
	}
	return n
}

func insights(r *statex.LearningReport, market statex.MarketRange) []string {
	var out []string
	if r.HasDeal() {
		line := fmt.Sprintf("best deal %s from %s", lang.FormatPrice(*r.BestPrice), r.BestVendorName)
		if market.Valid() && market.Mid > 0 {
			diff := (market.Mid - *r.BestPrice) / market.Mid * 100
			if diff >= 0 {
				line += fmt.Sprintf(", %.0f%% below the market mid", diff)
			} else {
				line += fmt.Sprintf(", %.0f%% above the market mid", -diff)
			}
		}
		out = append(out, line)
	} else if r.CallsMade > 0 {
		out = append(out, "no trusted price was obtained")
	}

	unreached := r.Outcomes[statex.OutcomeBusy] + r.Outcomes[statex.OutcomeNoAnswer] + r.Outcomes[statex.OutcomeFailed]
	if unreached > 0 {
		out = append(out, fmt.Sprintf("%d of %d calls did not reach a conversation", unreached, r.CallsMade))
	}
	if len(r.SuspiciousCalls) > 0 {
		out = append(out, fmt.Sprintf("%d suspicious quote(s) need manual review", len(r.SuspiciousCalls)))
	}
	if r.SystemicErrors > 0 {
		out = append(out, fmt.Sprintf("%d systemic error(s) during the run", r.SystemicErrors))
	}
	return out
}

func recordsFromCalls(sessionID string, calls []statex.CallResult) []contractx.CallRecord {
	out := make([]contractx.CallRecord, 0, len(calls))
	for _, c := range calls {
		out = append(out, contractx.CallRecord{
			ID:              c.CallID,
			SessionID:       sessionID,
			VendorID:        c.VendorID,
			VendorName:      c.VendorName,
			Outcome:         c.Outcome,
			QuotedPrice:     c.QuotedPrice,
			NegotiatedPrice: c.NegotiatedPrice,
			Suspicious:      c.Suspicious,
			DurationSeconds: int(c.Duration.Seconds()),
			EndedReason:     c.EndedReason,
			CreatedAt:       c.EndedAt,
		})
	}
	return out
}

// mergeRecords prefers the stored row for a call id and keeps pipeline calls
// the log has not seen.
func mergeRecords(stored, local []contractx.CallRecord) []contractx.CallRecord {
	seen := make(map[string]struct{}, len(stored))
	out := append([]contractx.CallRecord(nil), stored...)
	for _, r := range stored {
		seen[r.ID] = struct{}{}
	}
	for _, r := range local {
		if _, ok := seen[r.ID]; !ok {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func nameOf(r contractx.CallRecord) string {
	if r.VendorName != "" {
		return r.VendorName
	}
	return r.VendorID
}

package calls

import (
	"context"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

// Verifier re-calls the winning vendor to confirm the negotiated price still
// holds. It runs a verify-purpose negotiation on its own session key.
type Verifier struct {
	runner contractx.CallRunner
	now    func() time.Time
}

var _ contractx.Verifier = (*Verifier)(nil)

func NewVerifier(runner contractx.CallRunner) *Verifier {
	return &Verifier{runner: runner, now: time.Now}
}

func (v *Verifier) Verify(ctx context.Context, req contractx.CallRequest) (statex.VerificationResult, error) {
	if req.TargetPrice == nil || *req.TargetPrice <= 0 {
		return statex.VerificationResult{}, fmt.Errorf("%w: verification needs a target price", contractx.ErrValidation)
	}
	req.Purpose = statex.PurposeVerify

	res, err := v.runner.RunCall(ctx, req)
	if err != nil {
		return statex.VerificationResult{}, err
	}

	out := statex.VerificationResult{VendorID: req.Vendor.ID, VerifiedAt: v.now().UTC()}
	price := res.BestPrice()
	switch {
	case res.Outcome != statex.OutcomeCompleted:
		out.Notes = fmt.Sprintf("verification call %s: %s", res.Outcome, res.EndedReason)
	case price == nil:
		out.Notes = "vendor did not restate a price"
	case *price <= *req.TargetPrice+0.5:
		p := *price
		out.Confirmed = true
		out.ConfirmedPrice = &p
		out.Notes = "price confirmed"
	default:
		p := *price
		out.ConfirmedPrice = &p
		out.Notes = fmt.Sprintf("vendor now asks %.0f, above the agreed %.0f", *price, *req.TargetPrice)
	}
	return out, nil
}

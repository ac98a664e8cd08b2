package contract

import (
	"context"

	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
	telephonyx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/telephony"
)

type IntentClassifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (VendorIntent, error)
}

type ResponseGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

type TelephonyProvider interface {
	StartCall(ctx context.Context, target string, cfg telephonyx.AssistantConfig) (string, error)
	GetCallStatus(ctx context.Context, callID string) (telephonyx.CallStatus, error)
}

// CallRunner places one vendor call and blocks until it has finished.
type CallRunner interface {
	RunCall(ctx context.Context, req CallRequest) (statex.CallResult, error)
}

type VendorSearcher interface {
	Search(ctx context.Context, req statex.Requirements) ([]statex.Vendor, error)
}

type MarketResearcher interface {
	MarketRange(ctx context.Context, req statex.Requirements, vendors []statex.Vendor) (statex.MarketRange, error)
}

type Verifier interface {
	Verify(ctx context.Context, req CallRequest) (statex.VerificationResult, error)
}

type CallLog interface {
	Record(ctx context.Context, rec CallRecord) error
	ListBySession(ctx context.Context, sessionID string) ([]CallRecord, error)
}

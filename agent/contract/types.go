package contract

import (
	"time"

	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

type Role string

const (
	RoleClassifier Role = "classifier"
	RoleNegotiator Role = "negotiator"
)

type Intent string

const (
	IntentAgreement    Intent = "agreement"
	IntentRefusal      Intent = "refusal"
	IntentCounterOffer Intent = "counter_offer"
	IntentQuestion     Intent = "question"
	IntentInformation  Intent = "information"
	IntentUnclear      Intent = "unclear"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentAgreement, IntentRefusal, IntentCounterOffer, IntentQuestion, IntentInformation, IntentUnclear:
		return true
	}
	return false
}

// VendorIntent is the structured reading of one vendor utterance.
type VendorIntent struct {
	Intent               Intent   `json:"intent"`
	Confidence           float64  `json:"confidence"`
	ExtractedPrice       *float64 `json:"extracted_price"`
	AgreedToPrice        bool     `json:"agreed_to_price"`
	NeedsHumanInput      bool     `json:"needs_human_input"`
	HumanInputReason     string   `json:"human_input_reason,omitempty"`
	HumanInputQuestion   string   `json:"human_input_question,omitempty"`
	MentionsExtraCharges bool     `json:"mentions_extra_charges"`
	ExtraChargeTypes     []string `json:"extra_charge_types,omitempty"`
	EndsCall             bool     `json:"ends_call,omitempty"`

	// Set by the caller, never by a model.
	Source     string `json:"-"`
	Suspicious bool   `json:"-"`
}

// ClassifyContext is the negotiation context a classifier may use.
type ClassifyContext struct {
	Language      string             `json:"language"`
	Phase         statex.Phase       `json:"phase"`
	Market        statex.MarketRange `json:"market"`
	QuotedPrice   *float64           `json:"quoted_price,omitempty"`
	IsFirstVendor bool               `json:"is_first_vendor"`
}

type ClassifyRequest struct {
	Utterance      string           `json:"utterance"`
	History        []statex.Message `json:"history"`
	ProposedPrices []float64        `json:"proposed_prices"`
	Context        ClassifyContext  `json:"context"`
}

type GenerateRequest struct {
	SystemPrompt string           `json:"system_prompt"`
	History      []statex.Message `json:"history"`
	Directive    string           `json:"directive"`
	Language     string           `json:"language"`
}

// HumanAnswer is an operator reply to an interrupt.
type HumanAnswer struct {
	InterruptID string    `json:"interrupt_id"`
	Answer      string    `json:"answer"`
	AnsweredAt  time.Time `json:"answered_at"`
}

// CallRequest is what the pipeline hands a CallRunner for one vendor.
type CallRequest struct {
	SessionID    string                   `json:"session_id"`
	Vendor       statex.Vendor            `json:"vendor"`
	Requirements statex.Requirements      `json:"requirements"`
	Market       statex.MarketRange       `json:"market"`
	Benchmark    statex.BenchmarkSnapshot `json:"benchmark"`
	IsFirst      bool                     `json:"is_first"`
	Purpose      statex.Purpose           `json:"purpose"`
	TargetPrice  *float64                 `json:"target_price,omitempty"`
}

// CallRecord is the durable row written for every finished call.
type CallRecord struct {
	ID              string             `json:"id"`
	SessionID       string             `json:"session_id"`
	VendorID        string             `json:"vendor_id"`
	VendorName      string             `json:"vendor_name"`
	Outcome         statex.CallOutcome `json:"outcome"`
	QuotedPrice     *float64           `json:"quoted_price,omitempty"`
	NegotiatedPrice *float64           `json:"negotiated_price,omitempty"`
	Suspicious      bool               `json:"suspicious"`
	DurationSeconds int                `json:"duration_seconds"`
	EndedReason     string             `json:"ended_reason,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

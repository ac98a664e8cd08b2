package state

import (
	"encoding/json"
	"strings"
	"time"
)

// Requirements is what the user asked for, collected at intake.
type Requirements struct {
	Service          string `json:"service" validate:"required"`
	PickupLocation   string `json:"pickup_location" validate:"required"`
	DropLocation     string `json:"drop_location" validate:"required"`
	TravelDate       string `json:"travel_date" validate:"required"`
	TravelTime       string `json:"travel_time,omitempty"`
	Passengers       int    `json:"passengers,omitempty" validate:"omitempty,gte=1,lte=60"`
	VehicleType      string `json:"vehicle_type,omitempty"`
	TripType         string `json:"trip_type,omitempty" validate:"omitempty,oneof=one_way round_trip"`
	Language         string `json:"language,omitempty"`
	Region           string `json:"region,omitempty"`
	Notes            string `json:"notes,omitempty"`
	MaxVendors       int    `json:"max_vendors,omitempty" validate:"omitempty,gte=1,lte=20"`
	SkipVerification bool   `json:"skip_verification,omitempty"`
}

// Merge fills r with the non-empty fields of patch.
func (r *Requirements) Merge(patch Requirements) {
	setString := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	setString(&r.Service, patch.Service)
	setString(&r.PickupLocation, patch.PickupLocation)
	setString(&r.DropLocation, patch.DropLocation)
	setString(&r.TravelDate, patch.TravelDate)
	setString(&r.TravelTime, patch.TravelTime)
	setString(&r.VehicleType, patch.VehicleType)
	setString(&r.TripType, patch.TripType)
	setString(&r.Language, patch.Language)
	setString(&r.Region, patch.Region)
	setString(&r.Notes, patch.Notes)
	if patch.Passengers > 0 {
		r.Passengers = patch.Passengers
	}
	if patch.MaxVendors > 0 {
		r.MaxVendors = patch.MaxVendors
	}
	if patch.SkipVerification {
		r.SkipVerification = true
	}
}

type Vendor struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Phone       string  `json:"phone" yaml:"phone"`
	Service     string  `json:"service,omitempty" yaml:"service"`
	City        string  `json:"city,omitempty" yaml:"city"`
	Rating      float64 `json:"rating,omitempty" yaml:"rating"`
	ReviewCount int     `json:"review_count,omitempty" yaml:"review_count"`
	DistanceKm  float64 `json:"distance_km,omitempty" yaml:"distance_km"`
	ListedPrice float64 `json:"listed_price,omitempty" yaml:"listed_price"`
	Language    string  `json:"language,omitempty" yaml:"language"`
}

type Step string

const (
	StepIntake         Step = "intake"
	StepBusinessSearch Step = "business_search"
	StepResearch       Step = "research"
	StepNegotiation    Step = "negotiation"
	StepCallDecision   Step = "call_decision"
	StepLearning       Step = "learning"
	StepVerification   Step = "verification"
	StepEnd            Step = "end"
)

type CallOutcome string

const (
	OutcomeCompleted CallOutcome = "completed"
	OutcomeFailed    CallOutcome = "failed"
	OutcomeNoAnswer  CallOutcome = "no_answer"
	OutcomeBusy      CallOutcome = "busy"
)

type CallResult struct {
	CallID          string        `json:"call_id"`
	VendorID        string        `json:"vendor_id"`
	VendorName      string        `json:"vendor_name"`
	Outcome         CallOutcome   `json:"outcome"`
	QuotedPrice     *float64      `json:"quoted_price,omitempty"`
	NegotiatedPrice *float64      `json:"negotiated_price,omitempty"`
	Suspicious      bool          `json:"suspicious,omitempty"`
	Duration        time.Duration `json:"duration"`
	Highlights      []string      `json:"highlights,omitempty"`
	Transcript      string        `json:"transcript,omitempty"`
	EndedReason     string        `json:"ended_reason,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         time.Time     `json:"ended_at"`

	// Interrupt is set when the call could not proceed without an operator answer.
	Interrupt *HumanInterruptState `json:"interrupt,omitempty"`
}

// BestPrice is the negotiated price when known, otherwise the quote.
func (c CallResult) BestPrice() *float64 {
	if c.NegotiatedPrice != nil {
		return c.NegotiatedPrice
	}
	return c.QuotedPrice
}

type InterruptStatus string

const (
	InterruptPending   InterruptStatus = "pending"
	InterruptAnswered  InterruptStatus = "answered"
	InterruptTimeout   InterruptStatus = "timeout"
	InterruptCancelled InterruptStatus = "cancelled"
)

type HumanInterruptState struct {
	Active      bool            `json:"active"`
	InterruptID string          `json:"interrupt_id"`
	SessionID   string          `json:"session_id"`
	VendorID    string          `json:"vendor_id,omitempty"`
	Reason      string          `json:"reason"`
	Category    string          `json:"category,omitempty"`
	Question    string          `json:"question"`
	Status      InterruptStatus `json:"status"`
	RequestedAt time.Time       `json:"requested_at"`
	Response    *string         `json:"response,omitempty"`
	RespondedAt *time.Time      `json:"responded_at,omitempty"`
}

type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionStop     Decision = "stop"
)

type CallSummary struct {
	VendorID        string        `json:"vendor_id"`
	VendorName      string        `json:"vendor_name"`
	QuotedPrice     *float64      `json:"quoted_price,omitempty"`
	NegotiatedPrice *float64      `json:"negotiated_price,omitempty"`
	Duration        time.Duration `json:"duration"`
	Outcome         CallOutcome   `json:"outcome"`
	Highlights      []string      `json:"highlights,omitempty"`
}

type CallDecisionState struct {
	AwaitingDecision  bool        `json:"awaiting_decision"`
	LastCallSummary   CallSummary `json:"last_call_summary"`
	VendorsRemaining  int         `json:"vendors_remaining"`
	CurrentBestPrice  *float64    `json:"current_best_price,omitempty"`
	CurrentBestVendor string      `json:"current_best_vendor,omitempty"`
	UserDecision      Decision    `json:"user_decision,omitempty"`
}

type LearningReport struct {
	BestVendorID    string              `json:"best_vendor_id,omitempty"`
	BestVendorName  string              `json:"best_vendor_name,omitempty"`
	BestPrice       *float64            `json:"best_price,omitempty"`
	SuspiciousCalls []string            `json:"suspicious_calls,omitempty"`
	Outcomes        map[CallOutcome]int `json:"outcomes"`
	CallsMade       int                 `json:"calls_made"`
	SystemicErrors  int                 `json:"systemic_errors"`
	Insights        []string            `json:"insights,omitempty"`
	GeneratedAt     time.Time           `json:"generated_at"`
}

func (r *LearningReport) HasDeal() bool {
	return r != nil && r.BestVendorID != "" && r.BestPrice != nil
}

type VerificationResult struct {
	VendorID       string    `json:"vendor_id"`
	Confirmed      bool      `json:"confirmed"`
	ConfirmedPrice *float64  `json:"confirmed_price,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	VerifiedAt     time.Time `json:"verified_at"`
}

type StepError struct {
	Step        Step      `json:"step"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	At          time.Time `json:"at"`
}

// PipelineState is the persisted state of one orchestration run.
type PipelineState struct {
	SessionID    string       `json:"session_id"`
	Requirements Requirements `json:"requirements"`
	Missing      []string     `json:"missing,omitempty"`

	Vendors     []Vendor     `json:"vendors,omitempty"`
	Market      MarketRange  `json:"market"`
	VendorIndex int          `json:"vendor_index"`
	Calls       []CallResult `json:"calls,omitempty"`

	Interrupt    *HumanInterruptState `json:"interrupt,omitempty"`
	Decision     *CallDecisionState   `json:"decision,omitempty"`
	Learning     *LearningReport      `json:"learning,omitempty"`
	Verification *VerificationResult  `json:"verification,omitempty"`
	Errors       []StepError          `json:"errors,omitempty"`

	CurrentStep    Step      `json:"current_step"`
	ShouldContinue bool      `json:"should_continue"`
	Done           bool      `json:"done"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func NewPipelineState(sessionID string, req Requirements, now time.Time) *PipelineState {
	return &PipelineState{
		SessionID:      sessionID,
		Requirements:   req,
		CurrentStep:    StepIntake,
		ShouldContinue: true,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
}

func (p *PipelineState) Touch(now time.Time) {
	p.UpdatedAt = now.UTC()
}

func (p *PipelineState) CurrentVendor() (Vendor, bool) {
	if p.VendorIndex < 0 || p.VendorIndex >= len(p.Vendors) {
		return Vendor{}, false
	}
	return p.Vendors[p.VendorIndex], true
}

func (p *PipelineState) VendorsRemaining() int {
	rest := len(p.Vendors) - p.VendorIndex - 1
	if rest < 0 {
		return 0
	}
	return rest
}

func (p *PipelineState) RecordError(step Step, msg string, recoverable bool, now time.Time) {
	p.Errors = append(p.Errors, StepError{Step: step, Message: msg, Recoverable: recoverable, At: now.UTC()})
}

// Suspend stops the driver at step until an external event arrives.
func (p *PipelineState) Suspend(step Step) {
	p.CurrentStep = step
	p.ShouldContinue = false
}

// Advance moves to step and lets the driver keep going.
func (p *PipelineState) Advance(step Step) {
	p.CurrentStep = step
	p.ShouldContinue = step != StepEnd
	if step == StepEnd {
		p.Done = true
	}
}

func (p *PipelineState) Clone() *PipelineState {
	if p == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	var out PipelineState
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

package state

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"
)

var (
	ErrInvalidSession = errors.New("session id is empty")
	ErrInvalidVendor  = errors.New("vendor id is empty")
	ErrSessionEnded   = errors.New("negotiation session has ended")
)

// Key identifies one negotiation: a vendor call inside a user session.
type Key struct {
	SessionID string `json:"session_id"`
	VendorID  string `json:"vendor_id"`
}

func NewKey(sessionID, vendorID string) (Key, error) {
	k := Key{SessionID: strings.TrimSpace(sessionID), VendorID: strings.TrimSpace(vendorID)}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

func (k Key) Validate() error {
	if strings.TrimSpace(k.SessionID) == "" {
		return ErrInvalidSession
	}
	if strings.TrimSpace(k.VendorID) == "" {
		return ErrInvalidVendor
	}
	return nil
}

// String is for logs and storage keys only.
func (k Key) String() string {
	return k.SessionID + "/" + k.VendorID
}

type Phase string

const (
	PhaseGreeting    Phase = "greeting"
	PhaseInquiry     Phase = "inquiry"
	PhaseNegotiation Phase = "negotiation"
	PhaseClosing     Phase = "closing"
	PhaseEnded       Phase = "ended"
)

// Order gives the position of p in the conversation; unknown phases sort first.
func (p Phase) Order() int {
	switch p {
	case PhaseGreeting:
		return 1
	case PhaseInquiry:
		return 2
	case PhaseNegotiation:
		return 3
	case PhaseClosing:
		return 4
	case PhaseEnded:
		return 5
	default:
		return 0
	}
}

type Speaker string

const (
	SpeakerAgent  Speaker = "agent"
	SpeakerVendor Speaker = "vendor"
)

type Message struct {
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Reasoning  string    `json:"reasoning,omitempty"`
	HumanInput bool      `json:"human_input,omitempty"`
}

// MarketRange is the expected price band for the requested service.
type MarketRange struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

func (m MarketRange) Valid() bool {
	return m.Low > 0 && m.High >= m.Low
}

// BenchmarkSnapshot is the read-only view of the session benchmark a call starts with.
type BenchmarkSnapshot struct {
	LowestPriceSoFar *float64 `json:"lowest_price_so_far,omitempty"`
	BestVendorSoFar  string   `json:"best_vendor_so_far,omitempty"`
}

func (b BenchmarkSnapshot) HasPrice() bool {
	return b.LowestPriceSoFar != nil && *b.LowestPriceSoFar > 0
}

type Purpose string

const (
	PurposeNegotiate Purpose = "negotiate"
	PurposeVerify    Purpose = "verify"
)

// NegotiationContext is fixed when a session starts.
type NegotiationContext struct {
	VendorName    string            `json:"vendor_name"`
	Language      string            `json:"language"`
	Market        MarketRange       `json:"market"`
	Benchmark     BenchmarkSnapshot `json:"benchmark"`
	IsFirstVendor bool              `json:"is_first_vendor"`
	Purpose       Purpose           `json:"purpose"`
	TargetPrice   *float64          `json:"target_price,omitempty"`
	Requirements  *Requirements     `json:"requirements,omitempty"`
}

// TurnRecord is what respond returned for a vendor turn, kept so a retried
// delivery of the same turn gets the same answer.
type TurnRecord struct {
	TurnID           string `json:"turn_id"`
	Utterance        string `json:"utterance"`
	Directive        string `json:"directive"`
	Kind             string `json:"kind"`
	HumanInputNeeded bool   `json:"human_input_needed"`
	InterruptID      string `json:"interrupt_id,omitempty"`
	ForcedExit       bool   `json:"forced_exit"`
}

type NegotiationSession struct {
	Key     Key                `json:"key"`
	Context NegotiationContext `json:"context"`

	Phase    Phase     `json:"phase"`
	Messages []Message `json:"messages"`

	QuotedPrice         *float64  `json:"quoted_price,omitempty"`
	PriceSuspicious     bool      `json:"price_suspicious,omitempty"`
	PriceQuoteCount     int       `json:"price_quote_count"`
	AgentProposedPrices []float64 `json:"agent_proposed_prices,omitempty"`

	CounterOfferCount  int `json:"counter_offer_count"`
	VendorRefusedCount int `json:"vendor_refused_count"`

	AllInclusiveAsked     bool     `json:"all_inclusive_asked"`
	AllInclusiveConfirmed bool     `json:"all_inclusive_confirmed"`
	ExtraChargeTypes      []string `json:"extra_charge_types,omitempty"`

	ActiveInterruptID string `json:"active_interrupt_id,omitempty"`
	// PendingDirective is what the agent says after the operator answers the
	// interrupt the vendor is waiting on.
	PendingDirective string      `json:"pending_directive,omitempty"`
	LastTurn         *TurnRecord `json:"last_turn,omitempty"`

	FinalPrice *float64   `json:"final_price,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

func NewNegotiationSession(key Key, ctx NegotiationContext, now time.Time) *NegotiationSession {
	if ctx.Purpose == "" {
		ctx.Purpose = PurposeNegotiate
	}
	return &NegotiationSession{
		Key:       key,
		Context:   ctx,
		Phase:     PhaseGreeting,
		Messages:  make([]Message, 0, 16),
		StartedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *NegotiationSession) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

func (s *NegotiationSession) IsEnded() bool {
	return s != nil && s.Phase == PhaseEnded
}

func (s *NegotiationSession) AppendMessage(m Message) {
	m.Text = strings.TrimSpace(m.Text)
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	m.Timestamp = m.Timestamp.UTC()
	s.Messages = append(s.Messages, m)
	s.UpdatedAt = m.Timestamp
}

// priceEpsilon absorbs float noise from extraction; prices are whole currency units.
const priceEpsilon = 0.5

func samePrice(a, b float64) bool {
	return math.Abs(a-b) < priceEpsilon
}

// ProposePrice records an offer the agent made. Duplicates are ignored.
func (s *NegotiationSession) ProposePrice(p float64) {
	if p <= 0 || s.HasProposed(p) {
		return
	}
	s.AgentProposedPrices = append(s.AgentProposedPrices, p)
}

func (s *NegotiationSession) HasProposed(p float64) bool {
	for _, q := range s.AgentProposedPrices {
		if samePrice(p, q) {
			return true
		}
	}
	return false
}

func (s *NegotiationSession) AddExtraCharges(types ...string) {
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		dup := false
		for _, have := range s.ExtraChargeTypes {
			if have == t {
				dup = true
				break
			}
		}
		if !dup {
			s.ExtraChargeTypes = append(s.ExtraChargeTypes, t)
		}
	}
}

// RecentAgentTexts returns up to n of the agent's latest utterances, oldest first.
func (s *NegotiationSession) RecentAgentTexts(n int) []string {
	out := make([]string, 0, n)
	for i := len(s.Messages) - 1; i >= 0 && len(out) < n; i-- {
		if s.Messages[i].Speaker == SpeakerAgent {
			out = append(out, s.Messages[i].Text)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// History returns the last n messages (all when n <= 0).
func (s *NegotiationSession) History(n int) []Message {
	if n <= 0 || n >= len(s.Messages) {
		return append([]Message(nil), s.Messages...)
	}
	return append([]Message(nil), s.Messages[len(s.Messages)-n:]...)
}

// SetPhase moves forward only; ended is sticky.
func (s *NegotiationSession) SetPhase(p Phase) {
	if s.Phase == PhaseEnded {
		return
	}
	if p.Order() > s.Phase.Order() {
		s.Phase = p
	}
}

// End records the outcome once. The engine may already have moved the phase
// to ended on a forced exit, so EndedAt marks the bookkeeping as done.
func (s *NegotiationSession) End(now time.Time, finalPrice *float64, notes string) {
	if s.EndedAt != nil {
		return
	}
	s.Phase = PhaseEnded
	if finalPrice != nil {
		p := *finalPrice
		s.FinalPrice = &p
	} else if s.QuotedPrice != nil {
		p := *s.QuotedPrice
		s.FinalPrice = &p
	}
	if strings.TrimSpace(notes) != "" {
		s.Notes = strings.TrimSpace(notes)
	}
	ended := now.UTC()
	s.EndedAt = &ended
	s.ActiveInterruptID = ""
	s.PendingDirective = ""
	s.Touch(now)
}

// FillFinalPrice sets the final price of an ended session that has none.
func (s *NegotiationSession) FillFinalPrice(now time.Time, finalPrice *float64) bool {
	if s.EndedAt == nil || s.FinalPrice != nil || finalPrice == nil {
		return false
	}
	p := *finalPrice
	s.FinalPrice = &p
	s.Touch(now)
	return true
}

// Clone returns a deep copy safe to hand out of the registry.
func (s *NegotiationSession) Clone() *NegotiationSession {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	var out NegotiationSession
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

// Float returns a pointer to v; convenience for optional prices.
func Float(v float64) *float64 {
	return &v
}

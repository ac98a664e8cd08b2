package state

import (
	"errors"
	"testing"
	"time"
)

func TestNewKeyValidates(t *testing.T) {
	t.Parallel()

	if _, err := NewKey(" ", "v"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("NewKey() error = %v, want ErrInvalidSession", err)
	}
	if _, err := NewKey("s", ""); !errors.Is(err, ErrInvalidVendor) {
		t.Fatalf("NewKey() error = %v, want ErrInvalidVendor", err)
	}
	k, err := NewKey(" s ", " v ")
	if err != nil || k.String() != "s/v" {
		t.Fatalf("NewKey() = %v, %v", k, err)
	}
}

func TestSetPhaseIsMonotonic(t *testing.T) {
	t.Parallel()

	s := NewNegotiationSession(Key{SessionID: "s", VendorID: "v"}, NegotiationContext{}, time.Now())
	s.SetPhase(PhaseNegotiation)
	s.SetPhase(PhaseInquiry)
	if s.Phase != PhaseNegotiation {
		t.Fatalf("Phase = %s, want negotiation", s.Phase)
	}
	s.End(time.Now(), nil, "")
	s.SetPhase(PhaseClosing)
	if s.Phase != PhaseEnded {
		t.Fatalf("Phase = %s, want ended", s.Phase)
	}
}

func TestProposePriceSetSemantics(t *testing.T) {
	t.Parallel()

	s := NewNegotiationSession(Key{SessionID: "s", VendorID: "v"}, NegotiationContext{}, time.Now())
	s.ProposePrice(2500)
	s.ProposePrice(2500.2)
	s.ProposePrice(0)
	s.ProposePrice(2200)
	if len(s.AgentProposedPrices) != 2 {
		t.Fatalf("AgentProposedPrices = %v", s.AgentProposedPrices)
	}
	if !s.HasProposed(2200) || s.HasProposed(2300) {
		t.Fatal("HasProposed mismatch")
	}

	s.AddExtraCharges("Toll", "toll ", "parking", "")
	if len(s.ExtraChargeTypes) != 2 {
		t.Fatalf("ExtraChargeTypes = %v", s.ExtraChargeTypes)
	}
}

func TestRecentAgentTextsOldestFirst(t *testing.T) {
	t.Parallel()

	s := NewNegotiationSession(Key{SessionID: "s", VendorID: "v"}, NegotiationContext{}, time.Now())
	for _, m := range []Message{
		{Speaker: SpeakerAgent, Text: "one"},
		{Speaker: SpeakerVendor, Text: "x"},
		{Speaker: SpeakerAgent, Text: "two"},
		{Speaker: SpeakerAgent, Text: "three"},
		{Speaker: SpeakerAgent, Text: "four"},
	} {
		s.AppendMessage(m)
	}
	got := s.RecentAgentTexts(3)
	want := []string{"two", "three", "four"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RecentAgentTexts() = %v, want %v", got, want)
		}
	}
	if h := s.History(2); len(h) != 2 || h[1].Text != "four" {
		t.Fatalf("History(2) = %v", h)
	}
}

func TestEndFallsBackToQuote(t *testing.T) {
	t.Parallel()

	s := NewNegotiationSession(Key{SessionID: "s", VendorID: "v"}, NegotiationContext{}, time.Now())
	s.QuotedPrice = Float(1800)
	s.ActiveInterruptID = "int-1"
	s.End(time.Now(), nil, " done ")
	if s.FinalPrice == nil || *s.FinalPrice != 1800 {
		t.Fatalf("FinalPrice = %v", s.FinalPrice)
	}
	if s.ActiveInterruptID != "" || s.Notes != "done" || s.EndedAt == nil {
		t.Fatalf("End() left %+v", s)
	}
}

func TestRequirementsMerge(t *testing.T) {
	t.Parallel()

	r := Requirements{Service: "cab", PickupLocation: "Pune"}
	r.Merge(Requirements{DropLocation: "Mumbai", Passengers: 4, PickupLocation: " "})
	if r.PickupLocation != "Pune" || r.DropLocation != "Mumbai" || r.Passengers != 4 {
		t.Fatalf("Merge() = %+v", r)
	}
}

func TestPipelineVendorCursor(t *testing.T) {
	t.Parallel()

	p := NewPipelineState("s", Requirements{}, time.Now())
	if _, ok := p.CurrentVendor(); ok {
		t.Fatal("expected no vendor")
	}
	p.Vendors = []Vendor{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	if v, ok := p.CurrentVendor(); !ok || v.ID != "a" {
		t.Fatalf("CurrentVendor() = %v", v)
	}
	if p.VendorsRemaining() != 2 {
		t.Fatalf("VendorsRemaining() = %d", p.VendorsRemaining())
	}
	p.Advance(StepEnd)
	if p.ShouldContinue || !p.Done {
		t.Fatal("Advance(end) should stop the driver")
	}
}

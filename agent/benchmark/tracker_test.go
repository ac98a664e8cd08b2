package benchmark

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

func TestCommitKeepsLowestTrustedPrice(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil, zerolog.Nop())

	if snap := tr.Snapshot("s1"); snap.HasPrice() {
		t.Fatalf("empty tracker snapshot = %+v", snap)
	}

	steps := []struct {
		outcome Outcome
		updated bool
		want    float64
	}{
		{Outcome{CallID: "c1", VendorName: "A", Price: statex.Float(1200)}, true, 1200},
		{Outcome{CallID: "c2", VendorName: "B", Price: statex.Float(1300)}, false, 1200},
		{Outcome{CallID: "c3", VendorName: "C", Price: statex.Float(300), Suspicious: true}, false, 1200},
		{Outcome{CallID: "c4", VendorName: "D", Price: statex.Float(1200)}, false, 1200},
		{Outcome{CallID: "c5", VendorName: "E"}, false, 1200},
		{Outcome{CallID: "c6", VendorName: "F", Price: statex.Float(950)}, true, 950},
	}
	for _, st := range steps {
		updated, err := tr.Commit("s1", st.outcome)
		if err != nil {
			t.Fatalf("Commit(%s) error = %v", st.outcome.CallID, err)
		}
		if updated != st.updated {
			t.Fatalf("Commit(%s) updated = %v, want %v", st.outcome.CallID, updated, st.updated)
		}
		if got := *tr.Snapshot("s1").LowestPriceSoFar; got != st.want {
			t.Fatalf("after %s lowest = %v, want %v", st.outcome.CallID, got, st.want)
		}
	}
	if best := tr.Snapshot("s1").BestVendorSoFar; best != "F" {
		t.Fatalf("BestVendorSoFar = %q, want F", best)
	}
}

func TestCommitOncePerCall(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil, zerolog.Nop())
	if _, err := tr.Commit("s1", Outcome{CallID: "c1", Price: statex.Float(1000)}); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	_, err := tr.Commit("s1", Outcome{CallID: "c1", Price: statex.Float(800)})
	if !errors.Is(err, ErrAlreadyCommitted) {
		t.Fatalf("second Commit() error = %v", err)
	}
	if got := *tr.Snapshot("s1").LowestPriceSoFar; got != 1000 {
		t.Fatalf("lowest = %v, want 1000", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil, zerolog.Nop())
	_, _ = tr.Commit("s1", Outcome{CallID: "c1", Price: statex.Float(1000)})
	snap := tr.Snapshot("s1")
	*snap.LowestPriceSoFar = 1
	if got := *tr.Snapshot("s1").LowestPriceSoFar; got != 1000 {
		t.Fatalf("tracker changed through snapshot: %v", got)
	}
	if other := tr.Snapshot("s2"); other.HasPrice() {
		t.Fatal("sessions must not share a benchmark")
	}
}

func TestRebuildFromCallResults(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil, zerolog.Nop())
	tr.Rebuild("s1", []statex.CallResult{
		{CallID: "c1", VendorName: "A", Outcome: statex.OutcomeCompleted, QuotedPrice: statex.Float(1400), NegotiatedPrice: statex.Float(1250)},
		{CallID: "c2", VendorName: "B", Outcome: statex.OutcomeNoAnswer},
		{CallID: "c3", VendorName: "C", Outcome: statex.OutcomeCompleted, QuotedPrice: statex.Float(1100)},
	})
	tr.Rebuild("s1", []statex.CallResult{
		{CallID: "c1", VendorName: "A", Outcome: statex.OutcomeCompleted, NegotiatedPrice: statex.Float(1250)},
	})

	snap := tr.Snapshot("s1")
	if *snap.LowestPriceSoFar != 1100 || snap.BestVendorSoFar != "C" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

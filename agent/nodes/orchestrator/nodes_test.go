package orchestratornode

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/benchmark"
	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/repository"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func completeRequirements() statex.Requirements {
	return statex.Requirements{
		Service:        "cab",
		PickupLocation: "Pune station",
		DropLocation:   "Mumbai airport",
		TravelDate:     "2026-03-02",
		Passengers:     3,
	}
}

func stateAt(step statex.Step) *GraphState {
	p := statex.NewPipelineState("sess-1", completeRequirements(), testNow)
	p.CurrentStep = step
	return &GraphState{Pipeline: p, Step: step, Now: testNow}
}

type stubRunner struct {
	results map[string]statex.CallResult
	err     error
	reqs    []contractx.CallRequest
}

func (s *stubRunner) RunCall(_ context.Context, req contractx.CallRequest) (statex.CallResult, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return statex.CallResult{}, s.err
	}
	return s.results[req.Vendor.ID], nil
}

func negotiationDeps(r contractx.CallRunner) NegotiationDeps {
	return NegotiationDeps{
		Runner:    r,
		Benchmark: benchmark.NewTracker(nil, zerolog.Nop()),
		CallLog:   repository.NewMemoryCallLog(),
		Logger:    zerolog.Nop(),
	}
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	if _, err := ValidateRequest(&statex.PipelineState{}, time.Now); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
	done := statex.NewPipelineState("s", statex.Requirements{}, testNow)
	done.Advance(statex.StepEnd)
	if _, err := ValidateRequest(done, time.Now); !errors.Is(err, ErrPipelineDone) {
		t.Fatalf("err = %v, want ErrPipelineDone", err)
	}
}

func TestIntakeSuspendsOnMissingFields(t *testing.T) {
	t.Parallel()

	in := stateAt(statex.StepIntake)
	in.Pipeline.Requirements = statex.Requirements{Service: "cab", Passengers: 99}

	if _, err := Intake(in, NewRequirementsValidator()); err != nil {
		t.Fatalf("Intake() error = %v", err)
	}
	p := in.Pipeline
	if p.ShouldContinue || p.CurrentStep != statex.StepIntake {
		t.Fatalf("step = %s continue = %v, want suspended at intake", p.CurrentStep, p.ShouldContinue)
	}
	want := []string{"drop_location", "passengers (lte)", "pickup_location", "travel_date"}
	if strings.Join(p.Missing, ",") != strings.Join(want, ",") {
		t.Fatalf("Missing = %v, want %v", p.Missing, want)
	}
	if len(p.Errors) != 1 || !p.Errors[0].Recoverable {
		t.Fatalf("Errors = %+v, want one recoverable", p.Errors)
	}
}

func TestIntakeAdvancesWhenComplete(t *testing.T) {
	t.Parallel()

	in := stateAt(statex.StepIntake)
	if _, err := Intake(in, NewRequirementsValidator()); err != nil {
		t.Fatalf("Intake() error = %v", err)
	}
	if in.Pipeline.CurrentStep != statex.StepBusinessSearch || !in.Pipeline.ShouldContinue {
		t.Fatalf("step = %s, want business_search", in.Pipeline.CurrentStep)
	}
}

type stubSearcher struct {
	vendors []statex.Vendor
	err     error
}

func (s stubSearcher) Search(context.Context, statex.Requirements) ([]statex.Vendor, error) {
	return s.vendors, s.err
}

func TestBusinessSearchWithoutVendorsEndsRun(t *testing.T) {
	t.Parallel()

	in := stateAt(statex.StepBusinessSearch)
	if _, err := BusinessSearch(context.Background(), in, stubSearcher{err: contractx.ErrVendorsUnavailable}, zerolog.Nop()); err != nil {
		t.Fatalf("BusinessSearch() error = %v", err)
	}
	p := in.Pipeline
	if !p.Done || p.CurrentStep != statex.StepEnd {
		t.Fatalf("step = %s done = %v, want end", p.CurrentStep, p.Done)
	}
	if len(p.Errors) != 1 || p.Errors[0].Recoverable {
		t.Fatalf("Errors = %+v, want one unrecoverable", p.Errors)
	}
}

func TestBusinessSearchLimitsVendors(t *testing.T) {
	t.Parallel()

	in := stateAt(statex.StepBusinessSearch)
	in.Pipeline.Requirements.MaxVendors = 2
	vendors := []statex.Vendor{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	if _, err := BusinessSearch(context.Background(), in, stubSearcher{vendors: vendors}, zerolog.Nop()); err != nil {
		t.Fatalf("BusinessSearch() error = %v", err)
	}
	if len(in.Pipeline.Vendors) != 2 || in.Pipeline.CurrentStep != statex.StepResearch {
		t.Fatalf("vendors = %d step = %s", len(in.Pipeline.Vendors), in.Pipeline.CurrentStep)
	}
}

type stubResearcher struct {
	market statex.MarketRange
	err    error
}

func (s stubResearcher) MarketRange(context.Context, statex.Requirements, []statex.Vendor) (statex.MarketRange, error) {
	return s.market, s.err
}

func TestResearchFailureIsRecoverable(t *testing.T) {
	t.Parallel()

	in := stateAt(statex.StepResearch)
	if _, err := Research(context.Background(), in, stubResearcher{err: errors.New("directory missing")}, zerolog.Nop()); err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	p := in.Pipeline
	if p.CurrentStep != statex.StepNegotiation || !p.ShouldContinue {
		t.Fatalf("step = %s, want negotiation", p.CurrentStep)
	}
	if p.Market.Valid() || len(p.Errors) != 1 || !p.Errors[0].Recoverable {
		t.Fatalf("market = %+v errors = %+v", p.Market, p.Errors)
	}
}

func TestNegotiateOpensDecisionWhileVendorsRemain(t *testing.T) {
	t.Parallel()

	in := stateAt(statex.StepNegotiation)
	in.Pipeline.Vendors = []statex.Vendor{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}
	runner := &stubRunner{results: map[string]statex.CallResult{
		"a": {CallID: "c-a", VendorID: "a", VendorName: "A", Outcome: statex.OutcomeCompleted, QuotedPrice: statex.Float(1300), NegotiatedPrice: statex.Float(1150)},
	}}
	deps := negotiationDeps(runner)

	if _, err := Negotiate(context.Background(), in, deps); err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	p := in.Pipeline
	if p.CurrentStep != statex.StepCallDecision || p.ShouldContinue {
		t.Fatalf("step = %s continue = %v, want suspended at call_decision", p.CurrentStep, p.ShouldContinue)
	}
	if p.Decision == nil || !p.Decision.AwaitingDecision || p.Decision.VendorsRemaining != 1 {
		t.Fatalf("Decision = %+v", p.Decision)
	}
	if p.Decision.CurrentBestPrice == nil || *p.Decision.CurrentBestPrice != 1150 {
		t.Fatalf("CurrentBestPrice = %v, want 1150", p.Decision.CurrentBestPrice)
	}
	if !runner.reqs[0].IsFirst {
		t.Fatal("first call should be flagged as the first vendor")
	}
	records, _ := deps.CallLog.ListBySession(context.Background(), "sess-1")
	if len(records) != 1 || records[0].ID != "c-a" {
		t.Fatalf("records = %+v", records)
	}
}

func TestNegotiateLastVendorGoesToLearning(t *testing.T) {
	t.Parallel()

	in := stateAt(statex.StepNegotiation)
	in.Pipeline.Vendors = []statex.Vendor{{ID: "a"}}
	runner := &stubRunner{results: map[string]statex.CallResult{
		"a": {CallID: "c-a", VendorID: "a", Outcome: statex.OutcomeBusy},
	}}

	if _, err := Negotiate(context.Background(), in, negotiationDeps(runner)); err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if in.Pipeline.CurrentStep != statex.StepLearning || !in.Pipeline.ShouldContinue {
		t.Fatalf("step = %s, want learning", in.Pipeline.CurrentStep)
	}
}

func TestNegotiateSuspendsOnUnansweredQuestion(t *testing.T) {
	t.Parallel()

	in := stateAt(statex.StepNegotiation)
	in.Pipeline.Vendors = []statex.Vendor{{ID: "a"}, {ID: "b"}}
	runner := &stubRunner{results: map[string]statex.CallResult{
		"a": {
			CallID:   "c-a",
			VendorID: "a",
			Outcome:  statex.OutcomeCompleted,
			Interrupt: &statex.HumanInterruptState{
				Active: true, InterruptID: "int-1", Category: "address", Question: "Exact pickup?",
			},
		},
	}}
	deps := negotiationDeps(runner)

	if _, err := Negotiate(context.Background(), in, deps); err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	p := in.Pipeline
	if p.CurrentStep != statex.StepNegotiation || p.ShouldContinue || p.Interrupt == nil {
		t.Fatalf("step = %s continue = %v interrupt = %v", p.CurrentStep, p.ShouldContinue, p.Interrupt)
	}

	// Still active: re-entry must not dial again.
	if _, err := Negotiate(context.Background(), in, deps); err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if len(runner.reqs) != 1 {
		t.Fatalf("calls placed = %d, want 1", len(runner.reqs))
	}

	p.Interrupt.Active = false
	p.ShouldContinue = true
	if _, err := Negotiate(context.Background(), in, deps); err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if len(runner.reqs) != 1 {
		t.Fatalf("resume redialled the vendor")
	}
	if p.CurrentStep != statex.StepCallDecision {
		t.Fatalf("step = %s, want call_decision", p.CurrentStep)
	}
}

func TestNegotiateRunnerErrorBecomesFailedCall(t *testing.T) {
	t.Parallel()

	in := stateAt(statex.StepNegotiation)
	in.Pipeline.Vendors = []statex.Vendor{{ID: "a"}}
	runner := &stubRunner{err: errors.New("session store down")}

	if _, err := Negotiate(context.Background(), in, negotiationDeps(runner)); err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	p := in.Pipeline
	if len(p.Calls) != 1 || p.Calls[0].Outcome != statex.OutcomeFailed {
		t.Fatalf("Calls = %+v", p.Calls)
	}
	if len(p.Errors) != 1 || !p.Errors[0].Recoverable {
		t.Fatalf("Errors = %+v", p.Errors)
	}
}

func TestCallDecisionRoutes(t *testing.T) {
	t.Parallel()

	in := stateAt(statex.StepCallDecision)
	p := in.Pipeline
	p.Vendors = []statex.Vendor{{ID: "a"}, {ID: "b"}}
	p.Decision = &statex.CallDecisionState{AwaitingDecision: true, VendorsRemaining: 1}

	if _, err := CallDecision(in); err != nil {
		t.Fatalf("CallDecision() error = %v", err)
	}
	if p.ShouldContinue || p.CurrentStep != statex.StepCallDecision {
		t.Fatalf("undecided state must stay suspended, step = %s", p.CurrentStep)
	}

	p.Decision.UserDecision = statex.DecisionContinue
	if _, err := CallDecision(in); err != nil {
		t.Fatalf("CallDecision() error = %v", err)
	}
	if p.CurrentStep != statex.StepNegotiation || p.VendorIndex != 1 || p.Decision != nil {
		t.Fatalf("step = %s index = %d decision = %v", p.CurrentStep, p.VendorIndex, p.Decision)
	}

	p.Decision = &statex.CallDecisionState{AwaitingDecision: true, UserDecision: statex.DecisionStop}
	if _, err := CallDecision(in); err != nil {
		t.Fatalf("CallDecision() error = %v", err)
	}
	if p.CurrentStep != statex.StepLearning {
		t.Fatalf("step = %s, want learning", p.CurrentStep)
	}
}

func TestBuildReportSkipsSuspiciousPrices(t *testing.T) {
	t.Parallel()

	records := []contractx.CallRecord{
		{ID: "1", VendorID: "a", VendorName: "A", Outcome: statex.OutcomeCompleted, QuotedPrice: statex.Float(400), Suspicious: true},
		{ID: "2", VendorID: "b", VendorName: "B", Outcome: statex.OutcomeCompleted, QuotedPrice: statex.Float(1300), NegotiatedPrice: statex.Float(1100)},
		{ID: "3", VendorID: "c", VendorName: "C", Outcome: statex.OutcomeCompleted, QuotedPrice: statex.Float(1150)},
		{ID: "4", VendorID: "d", VendorName: "D", Outcome: statex.OutcomeNoAnswer},
	}
	errs := []statex.StepError{
		{Step: statex.StepNegotiation, Recoverable: true},
		{Step: statex.StepNegotiation, Recoverable: true},
		{Step: statex.StepResearch, Recoverable: true},
	}
	r := BuildReport(records, statex.MarketRange{Low: 900, Mid: 1050, High: 1200}, errs, &GraphState{Now: testNow})

	if r.BestVendorID != "b" || r.BestPrice == nil || *r.BestPrice != 1100 {
		t.Fatalf("best = %s %v, want b 1100", r.BestVendorID, r.BestPrice)
	}
	if len(r.SuspiciousCalls) != 1 || !strings.HasPrefix(r.SuspiciousCalls[0], "A quoted") {
		t.Fatalf("SuspiciousCalls = %v", r.SuspiciousCalls)
	}
	if r.CallsMade != 4 || r.Outcomes[statex.OutcomeCompleted] != 3 || r.Outcomes[statex.OutcomeNoAnswer] != 1 {
		t.Fatalf("outcomes = %v calls = %d", r.Outcomes, r.CallsMade)
	}
	if r.SystemicErrors != 1 {
		t.Fatalf("SystemicErrors = %d, want 1", r.SystemicErrors)
	}
	if len(r.Insights) == 0 || !strings.Contains(r.Insights[0], "above the market mid") {
		t.Fatalf("Insights = %v", r.Insights)
	}
}

type failingLog struct{}

func (failingLog) Record(context.Context, contractx.CallRecord) error { return errors.New("db down") }
func (failingLog) ListBySession(context.Context, string) ([]contractx.CallRecord, error) {
	return nil, errors.New("db down")
}

func TestLearningFallsBackToPipelineCalls(t *testing.T) {
	t.Parallel()

	in := stateAt(statex.StepLearning)
	p := in.Pipeline
	p.Calls = []statex.CallResult{{CallID: "c-a", VendorID: "a", Outcome: statex.OutcomeCompleted, QuotedPrice: statex.Float(1000)}}

	if _, err := Learning(context.Background(), in, failingLog{}, zerolog.Nop()); err != nil {
		t.Fatalf("Learning() error = %v", err)
	}
	if !p.Learning.HasDeal() || p.Learning.BestVendorID != "a" {
		t.Fatalf("Learning = %+v", p.Learning)
	}
	if p.CurrentStep != statex.StepVerification {
		t.Fatalf("step = %s, want verification", p.CurrentStep)
	}
}

func TestAfterLearningSkipsVerification(t *testing.T) {
	t.Parallel()

	p := statex.NewPipelineState("s", statex.Requirements{SkipVerification: true}, testNow)
	p.Learning = &statex.LearningReport{BestVendorID: "a", BestPrice: statex.Float(1000)}
	if got := AfterLearning(p); got.Next != statex.StepEnd {
		t.Fatalf("Next = %s, want end", got.Next)
	}
	p.Requirements.SkipVerification = false
	if got := AfterLearning(p); got.Next != statex.StepVerification {
		t.Fatalf("Next = %s, want verification", got.Next)
	}
	p.Learning = &statex.LearningReport{}
	if got := AfterLearning(p); got.Next != statex.StepEnd {
		t.Fatalf("Next = %s, want end without a deal", got.Next)
	}
}

type stubVerifier struct {
	got contractx.CallRequest
}

func (s *stubVerifier) Verify(_ context.Context, req contractx.CallRequest) (statex.VerificationResult, error) {
	s.got = req
	return statex.VerificationResult{VendorID: req.Vendor.ID, Confirmed: true, ConfirmedPrice: req.TargetPrice}, nil
}

func TestVerificationCallsWinningVendor(t *testing.T) {
	t.Parallel()

	in := stateAt(statex.StepVerification)
	p := in.Pipeline
	p.Vendors = []statex.Vendor{{ID: "a"}, {ID: "b", Name: "B"}}
	p.Learning = &statex.LearningReport{BestVendorID: "b", BestPrice: statex.Float(1100)}
	v := &stubVerifier{}

	if _, err := Verification(context.Background(), in, v, benchmark.NewTracker(nil, zerolog.Nop()), zerolog.Nop()); err != nil {
		t.Fatalf("Verification() error = %v", err)
	}
	if v.got.Vendor.ID != "b" || v.got.TargetPrice == nil || *v.got.TargetPrice != 1100 {
		t.Fatalf("verify request = %+v", v.got)
	}
	if p.Verification == nil || !p.Verification.Confirmed || !p.Done {
		t.Fatalf("Verification = %+v done = %v", p.Verification, p.Done)
	}
}

package negotiation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/hitl"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/lang"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

type scriptedClassifier struct {
	mu      sync.Mutex
	intents map[string]contractx.VendorIntent
	err     error
	calls   int
}

func (c *scriptedClassifier) Classify(_ context.Context, req contractx.ClassifyRequest) (contractx.VendorIntent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return contractx.VendorIntent{}, c.err
	}
	if intent, ok := c.intents[req.Utterance]; ok {
		intent.Source = "test"
		return intent, nil
	}
	return contractx.VendorIntent{Intent: contractx.IntentUnclear, Source: "test"}, nil
}

func newTestService(t *testing.T, classifier contractx.IntentClassifier, cfg Config) *Service {
	t.Helper()
	svc, err := NewService(cfg, Deps{
		Store:      statex.NewMemoryStore(),
		Classifier: classifier,
		Cache:      hitl.NewMemoryCache(),
		Interrupts: hitl.NewManager(),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func startVendor(t *testing.T, svc *Service, vendorID string) statex.Key {
	t.Helper()
	key := statex.Key{SessionID: "sess-1", VendorID: vendorID}
	_, err := svc.Start(context.Background(), key, statex.NegotiationContext{
		VendorName:    "Vendor " + vendorID,
		Market:        testMarket,
		IsFirstVendor: true,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return key
}

var pickupQuestion = contractx.VendorIntent{
	Intent:             contractx.IntentQuestion,
	NeedsHumanInput:    true,
	HumanInputReason:   "exact_pickup",
	HumanInputQuestion: "What is the exact pickup address?",
}

func TestNewServiceRequiresStoreAndClassifier(t *testing.T) {
	t.Parallel()

	if _, err := NewService(DefaultConfig(), Deps{Classifier: &scriptedClassifier{}}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("missing store error = %v", err)
	}
	if _, err := NewService(DefaultConfig(), Deps{Store: statex.NewMemoryStore()}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("missing classifier error = %v", err)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &scriptedClassifier{}, DefaultConfig())
	key := statex.Key{SessionID: "sess-1", VendorID: "v1"}
	nctx := statex.NegotiationContext{VendorName: "Shree Travels", Market: testMarket, IsFirstVendor: true}

	first, err := svc.Start(context.Background(), key, nctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	second, err := svc.Start(context.Background(), key, nctx)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if !second.Replayed || second.Utterance != first.Utterance {
		t.Fatalf("second Start() = %+v, want replay of %q", second, first.Utterance)
	}
	if got := len(second.Session.Messages); got != 1 {
		t.Fatalf("messages = %d, want only the opening line", got)
	}
	if second.Session.Context.Language != lang.English {
		t.Fatalf("language = %q, want en default", second.Session.Context.Language)
	}
}

func TestStartRejectsInvalidKey(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &scriptedClassifier{}, DefaultConfig())
	if _, err := svc.Start(context.Background(), statex.Key{SessionID: "s"}, statex.NegotiationContext{}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Start() error = %v, want validation", err)
	}
}

func TestRespondCountersAndReplaysRepeatedTurn(t *testing.T) {
	t.Parallel()

	classifier := &scriptedClassifier{intents: map[string]contractx.VendorIntent{
		"It will be 1400 rupees": quote(1400),
	}}
	svc := newTestService(t, classifier, DefaultConfig())
	key := startVendor(t, svc, "v1")

	req := RespondRequest{TurnID: "turn-1", Utterance: "It will be 1400 rupees"}
	res, err := svc.Respond(context.Background(), key, req)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if res.Kind != KindCounterMarketHigh || res.Utterance == "" {
		t.Fatalf("Respond() = %+v", res)
	}
	if res.Session.QuotedPrice == nil || *res.Session.QuotedPrice != 1400 {
		t.Fatalf("QuotedPrice = %v, want 1400", res.Session.QuotedPrice)
	}

	again, err := svc.Respond(context.Background(), key, req)
	if err != nil {
		t.Fatalf("repeated Respond() error = %v", err)
	}
	if !again.Replayed || again.Utterance != res.Utterance || again.Kind != res.Kind {
		t.Fatalf("repeated Respond() = %+v", again)
	}
	if len(again.Session.Messages) != len(res.Session.Messages) || classifier.calls != 1 {
		t.Fatal("a repeated turn must not be processed twice")
	}
}

func TestRespondValidatesInput(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &scriptedClassifier{}, DefaultConfig())
	if _, err := svc.Respond(context.Background(), statex.Key{SessionID: "s", VendorID: "v"}, RespondRequest{Utterance: "  "}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("empty utterance error = %v", err)
	}
	if _, err := svc.Respond(context.Background(), statex.Key{SessionID: "s", VendorID: "v"}, RespondRequest{Utterance: "hello"}); !errors.Is(err, contractx.ErrSessionNotFound) {
		t.Fatalf("unknown session error = %v", err)
	}
}

func TestClassifierFailureFallsBackToExtractor(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &scriptedClassifier{err: errors.New("model unavailable")}, DefaultConfig())
	key := startVendor(t, svc, "v1")

	res, err := svc.Respond(context.Background(), key, RespondRequest{Utterance: "1400 rupees lagega"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if res.Kind != KindCounterMarketHigh {
		t.Fatalf("Kind = %s, want %s", res.Kind, KindCounterMarketHigh)
	}
}

func TestOperatorAnswerIsReusedForNextVendor(t *testing.T) {
	t.Parallel()

	classifier := &scriptedClassifier{intents: map[string]contractx.VendorIntent{
		"Pickup kahan se?": pickupQuestion,
		"Exact pickup point batao": {
			Intent:             contractx.IntentQuestion,
			NeedsHumanInput:    true,
			HumanInputReason:   "pickup_location",
			HumanInputQuestion: "Where exactly should the driver come?",
		},
	}}
	svc := newTestService(t, classifier, DefaultConfig())
	ctx := context.Background()

	first := startVendor(t, svc, "v1")
	held, err := svc.Respond(ctx, first, RespondRequest{Utterance: "Pickup kahan se?"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !held.HumanInputNeeded || held.InterruptID == "" {
		t.Fatalf("Respond() = %+v, want a pending interrupt", held)
	}
	if held.Utterance != lang.HoldingLine(lang.English) {
		t.Fatalf("Utterance = %q, want holding line", held.Utterance)
	}

	if _, err := svc.Respond(ctx, first, RespondRequest{Utterance: "Hello?"}); !errors.Is(err, contractx.ErrInterruptPending) {
		t.Fatalf("Respond() while pending error = %v", err)
	}

	answered, err := svc.HumanInput(ctx, first, HumanInputRequest{InterruptID: held.InterruptID, Answer: "Gate 3, Pune station"})
	if err != nil {
		t.Fatalf("HumanInput() error = %v", err)
	}
	if answered.Kind != KindAnswerQuestion || answered.Session.ActiveInterruptID != "" {
		t.Fatalf("HumanInput() = %+v", answered)
	}
	if _, err := svc.HumanInput(ctx, first, HumanInputRequest{InterruptID: held.InterruptID, Answer: "again"}); !errors.Is(err, contractx.ErrInterruptResolved) {
		t.Fatalf("second HumanInput() error = %v", err)
	}

	second := startVendor(t, svc, "v2")
	res, err := svc.Respond(ctx, second, RespondRequest{Utterance: "Exact pickup point batao"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if res.HumanInputNeeded {
		t.Fatal("a cached answer must not raise a second interrupt")
	}
	if !strings.Contains(res.Directive, "Gate 3, Pune station") {
		t.Fatalf("Directive = %q, want the cached answer", res.Directive)
	}

	entries, err := svc.CachedAnswers(ctx, "sess-1")
	if err != nil {
		t.Fatalf("CachedAnswers() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Category != hitl.CategoryAddress || entries[0].UsedCount != 1 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestOperatorAnswerCarriesHeldPriceReply(t *testing.T) {
	t.Parallel()

	quoteAndAsk := quote(1400)
	quoteAndAsk.NeedsHumanInput = true
	quoteAndAsk.HumanInputReason = "exact_pickup"
	quoteAndAsk.HumanInputQuestion = "What is the exact pickup address?"
	classifier := &scriptedClassifier{intents: map[string]contractx.VendorIntent{
		"1400 lagega. Pickup kahan se?": quoteAndAsk,
	}}
	svc := newTestService(t, classifier, DefaultConfig())
	ctx := context.Background()
	key := startVendor(t, svc, "v1")

	held, err := svc.Respond(ctx, key, RespondRequest{Utterance: "1400 lagega. Pickup kahan se?"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !held.HumanInputNeeded || held.Session.PendingDirective == "" {
		t.Fatalf("Respond() = %+v, want a held price reply", held)
	}
	if held.Session.QuotedPrice == nil || *held.Session.QuotedPrice != 1400 {
		t.Fatalf("QuotedPrice = %v, want 1400", held.Session.QuotedPrice)
	}

	answered, err := svc.HumanInput(ctx, key, HumanInputRequest{InterruptID: held.InterruptID, Answer: "Gate 3, Pune station"})
	if err != nil {
		t.Fatalf("HumanInput() error = %v", err)
	}
	if !strings.Contains(answered.Directive, "Gate 3, Pune station") ||
		!strings.Contains(answered.Directive, held.Session.PendingDirective) {
		t.Fatalf("Directive = %q, want the answer then %q", answered.Directive, held.Session.PendingDirective)
	}
	if answered.Session.PendingDirective != "" {
		t.Fatalf("PendingDirective = %q after the answer, want cleared", answered.Session.PendingDirective)
	}
}

func TestUnknownInterruptIsDroppedAfterRestart(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	classifier := &scriptedClassifier{intents: map[string]contractx.VendorIntent{"Pickup kahan se?": pickupQuestion}}
	newSvc := func() *Service {
		svc, err := NewService(DefaultConfig(), Deps{
			Store:      store,
			Classifier: classifier,
			Cache:      hitl.NewMemoryCache(),
			Interrupts: hitl.NewManager(),
		})
		if err != nil {
			t.Fatalf("NewService() error = %v", err)
		}
		return svc
	}
	ctx := context.Background()

	before := newSvc()
	key := startVendor(t, before, "v1")
	held, err := before.Respond(ctx, key, RespondRequest{Utterance: "Pickup kahan se?"})
	if err != nil || !held.HumanInputNeeded {
		t.Fatalf("Respond() = %+v, %v", held, err)
	}

	after := newSvc()
	if _, err := after.HumanInput(ctx, key, HumanInputRequest{InterruptID: held.InterruptID, Answer: "Gate 3"}); !errors.Is(err, contractx.ErrInterruptNotFound) {
		t.Fatalf("HumanInput() after restart error = %v, want not found", err)
	}
	res, err := after.Respond(ctx, key, RespondRequest{Utterance: "Hello?"})
	if err != nil {
		t.Fatalf("Respond() after restart error = %v", err)
	}
	if res.Session.ActiveInterruptID != "" || res.Session.PendingDirective != "" {
		t.Fatalf("session = %+v, want the stale interrupt cleared", res.Session)
	}
}

func TestHumanInputFromAnotherVendorIsRejected(t *testing.T) {
	t.Parallel()

	classifier := &scriptedClassifier{intents: map[string]contractx.VendorIntent{"Pickup kahan se?": pickupQuestion}}
	svc := newTestService(t, classifier, DefaultConfig())
	ctx := context.Background()

	first := startVendor(t, svc, "v1")
	other := startVendor(t, svc, "v2")
	held, err := svc.Respond(ctx, first, RespondRequest{Utterance: "Pickup kahan se?"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	if _, err := svc.HumanInput(ctx, other, HumanInputRequest{InterruptID: held.InterruptID, Answer: "Gate 3"}); !errors.Is(err, contractx.ErrInterruptNotFound) {
		t.Fatalf("HumanInput() error = %v, want not found", err)
	}
	if rec, ok := svc.Interrupt("sess-1", held.InterruptID); !ok || rec.Status != statex.InterruptPending {
		t.Fatalf("interrupt = %+v, want still pending", rec)
	}
}

func TestInterruptTimeoutUsesFallbackLine(t *testing.T) {
	t.Parallel()

	classifier := &scriptedClassifier{intents: map[string]contractx.VendorIntent{"Pickup kahan se?": pickupQuestion}}
	cfg := DefaultConfig()
	cfg.HumanInputTimeout = 20 * time.Millisecond
	svc := newTestService(t, classifier, cfg)
	ctx := context.Background()
	key := startVendor(t, svc, "v1")

	held, err := svc.Respond(ctx, key, RespondRequest{Utterance: "Pickup kahan se?"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := svc.AwaitHumanInput(waitCtx, key, held.InterruptID)
	if err != nil {
		t.Fatalf("AwaitHumanInput() error = %v", err)
	}
	if res.Utterance != lang.FallbackLine(lang.English) {
		t.Fatalf("Utterance = %q, want fallback line", res.Utterance)
	}
	if res.Session.ActiveInterruptID != "" {
		t.Fatal("timed-out interrupt must be cleared from the session")
	}
	if rec, _ := svc.Interrupt("sess-1", held.InterruptID); rec.Status != statex.InterruptTimeout {
		t.Fatalf("status = %s, want timeout", rec.Status)
	}

	if _, err := svc.Respond(ctx, key, RespondRequest{Utterance: "Theek hai, 1100 rupees"}); err != nil {
		t.Fatalf("Respond() after timeout error = %v", err)
	}
}

func TestTacticQuestionIsDeflectedWithoutInterrupt(t *testing.T) {
	t.Parallel()

	classifier := &scriptedClassifier{intents: map[string]contractx.VendorIntent{
		"Which company gave you that price?": {
			Intent:             contractx.IntentQuestion,
			NeedsHumanInput:    true,
			HumanInputReason:   "competitor",
			HumanInputQuestion: "Which company gave you that price?",
		},
	}}
	svc := newTestService(t, classifier, DefaultConfig())
	key := startVendor(t, svc, "v1")

	res, err := svc.Respond(context.Background(), key, RespondRequest{Utterance: "Which company gave you that price?"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if res.HumanInputNeeded || res.Kind != KindDeflect {
		t.Fatalf("Respond() = %+v, want deflection", res)
	}
	if pending := svc.interrupts.Pending("sess-1"); len(pending) != 0 {
		t.Fatalf("pending interrupts = %d, want 0", len(pending))
	}

	answer, id, err := svc.AskHuman(context.Background(), key, "Who quoted you 1200?", "competitor")
	if err != nil || id != "" || answer == "" {
		t.Fatalf("AskHuman() = %q, %q, %v", answer, id, err)
	}
}

func TestAskHumanUsesCacheThenInterrupt(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &scriptedClassifier{}, DefaultConfig())
	ctx := context.Background()
	key := startVendor(t, svc, "v1")

	answer, id, err := svc.AskHuman(ctx, key, "How many passengers?", "passenger_count")
	if err != nil || answer != "" || id == "" {
		t.Fatalf("AskHuman() = %q, %q, %v", answer, id, err)
	}
	again, sameID, err := svc.AskHuman(ctx, key, "How many people?", "passengers")
	if err != nil || again != "" || sameID != id {
		t.Fatalf("second AskHuman() = %q, %q, %v; want existing interrupt %q", again, sameID, err, id)
	}

	if _, err := svc.HumanInput(ctx, key, HumanInputRequest{Answer: "4 adults"}); err != nil {
		t.Fatalf("HumanInput() error = %v", err)
	}
	cached, none, err := svc.AskHuman(ctx, key, "Kitne log hain?", "people")
	if err != nil || cached != "4 adults" || none != "" {
		t.Fatalf("cached AskHuman() = %q, %q, %v", cached, none, err)
	}
}

func TestRepeatedRefusalEndsSession(t *testing.T) {
	t.Parallel()

	classifier := &scriptedClassifier{intents: map[string]contractx.VendorIntent{
		"No, this is final.":  refusal(),
		"I said no discount.": refusal(),
	}}
	svc := newTestService(t, classifier, DefaultConfig())
	key := startVendor(t, svc, "v1")

	if _, err := svc.Respond(context.Background(), key, RespondRequest{Utterance: "No, this is final."}); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	res, err := svc.Respond(context.Background(), key, RespondRequest{Utterance: "I said no discount."})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !res.ForcedExit || res.Phase != statex.PhaseEnded {
		t.Fatalf("Respond() = %+v, want forced exit", res)
	}
	if res.Utterance != lang.ClosingLine(lang.English, nil) {
		t.Fatalf("Utterance = %q", res.Utterance)
	}
	if _, err := svc.Respond(context.Background(), key, RespondRequest{Utterance: "Hello?"}); !errors.Is(err, contractx.ErrSessionEnded) {
		t.Fatalf("Respond() after exit error = %v", err)
	}
}

func TestForcedExitRecordsOutcome(t *testing.T) {
	t.Parallel()

	classifier := &scriptedClassifier{intents: map[string]contractx.VendorIntent{
		"It will be 1400.":   quote(1400),
		"No, this is final.": refusal(),
	}}
	svc := newTestService(t, classifier, DefaultConfig())
	key := startVendor(t, svc, "v1")
	ctx := context.Background()

	if _, err := svc.Respond(ctx, key, RespondRequest{Utterance: "It will be 1400."}); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	res, err := svc.Respond(ctx, key, RespondRequest{Utterance: "No, this is final."})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !res.ForcedExit {
		t.Fatalf("Respond() = %+v, want forced exit", res)
	}

	sess, err := svc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.EndedAt == nil || sess.FinalPrice == nil || *sess.FinalPrice != 1400 {
		t.Fatalf("ended session = endedAt %v finalPrice %v", sess.EndedAt, sess.FinalPrice)
	}
	if sess.Notes != "forced exit: "+ExitRefusalAfterQuote {
		t.Fatalf("Notes = %q", sess.Notes)
	}
}

func TestEndFillsPriceAfterForcedExitWithoutQuote(t *testing.T) {
	t.Parallel()

	classifier := &scriptedClassifier{intents: map[string]contractx.VendorIntent{
		"No, this is final.":  refusal(),
		"I said no discount.": refusal(),
	}}
	svc := newTestService(t, classifier, DefaultConfig())
	key := startVendor(t, svc, "v1")
	ctx := context.Background()

	for _, u := range []string{"No, this is final.", "I said no discount."} {
		if _, err := svc.Respond(ctx, key, RespondRequest{Utterance: u}); err != nil {
			t.Fatalf("Respond(%q) error = %v", u, err)
		}
	}
	sess, err := svc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.EndedAt == nil || sess.FinalPrice != nil {
		t.Fatalf("after forced exit: endedAt %v finalPrice %v", sess.EndedAt, sess.FinalPrice)
	}

	ended, err := svc.End(ctx, key, EndRequest{FinalPrice: statex.Float(1300)})
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.FinalPrice == nil || *ended.FinalPrice != 1300 || !ended.EndedAt.Equal(*sess.EndedAt) {
		t.Fatalf("End() = finalPrice %v endedAt %v", ended.FinalPrice, ended.EndedAt)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &scriptedClassifier{}, DefaultConfig())
	key := startVendor(t, svc, "v1")

	ended, err := svc.End(context.Background(), key, EndRequest{FinalPrice: statex.Float(1100), Notes: "booked"})
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Phase != statex.PhaseEnded || *ended.FinalPrice != 1100 || ended.EndedAt == nil {
		t.Fatalf("End() = %+v", ended)
	}

	again, err := svc.End(context.Background(), key, EndRequest{FinalPrice: statex.Float(900)})
	if err != nil {
		t.Fatalf("second End() error = %v", err)
	}
	if *again.FinalPrice != 1100 || !again.EndedAt.Equal(*ended.EndedAt) {
		t.Fatalf("second End() changed the session: %+v", again)
	}

	if _, err := svc.End(context.Background(), key, EndRequest{FinalPrice: statex.Float(-1)}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("negative price error = %v", err)
	}
}

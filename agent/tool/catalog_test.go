package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/lang"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/negotiation"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
	telephonyx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/telephony"
)

type fakeSession struct {
	answer      string
	interruptID string
	askErr      error
	awaited     string
	endReq      *negotiation.EndRequest
	question    string
	reason      string
}

func (f *fakeSession) AskHuman(_ context.Context, _ statex.Key, question, reason string) (string, string, error) {
	f.question, f.reason = question, reason
	return f.answer, f.interruptID, f.askErr
}

func (f *fakeSession) AwaitHumanInput(_ context.Context, _ statex.Key, interruptID string) (negotiation.TurnResult, error) {
	f.awaited = interruptID
	return negotiation.TurnResult{Utterance: "Pickup is near Shivaji Nagar bus stand."}, nil
}

func (f *fakeSession) End(_ context.Context, key statex.Key, req negotiation.EndRequest) (*statex.NegotiationSession, error) {
	f.endReq = &req
	return &statex.NegotiationSession{
		Key:        key,
		Context:    statex.NegotiationContext{Language: "en"},
		Phase:      statex.PhaseEnded,
		FinalPrice: req.FinalPrice,
	}, nil
}

var testKey = statex.Key{SessionID: "sess-1", VendorID: "v1"}

func TestCatalogExposesBothTools(t *testing.T) {
	t.Parallel()

	defs := Definitions()
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	names := map[string]bool{}
	for _, def := range defs {
		names[def.Name] = true
		if def.Parameters["type"] != "object" {
			t.Fatalf("tool %s parameters = %v", def.Name, def.Parameters)
		}
	}
	if !names[ToolAskHumanForDetails] || !names[ToolEndCall] {
		t.Fatalf("names = %v", names)
	}

	for _, def := range defs {
		if def.Name != ToolAskHumanForDetails {
			continue
		}
		required, _ := def.Parameters["required"].([]string)
		if len(required) != 1 || required[0] != "question" {
			t.Fatalf("required = %v, want [question]", required)
		}
	}
}

func TestAskHumanAnsweredFromCache(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{answer: "Shivaji Nagar"}
	exec := NewExecutor(sess, zerolog.Nop())

	res, err := exec(context.Background(), testKey, telephonyx.ToolCall{
		Name:      ToolAskHumanForDetails,
		Arguments: map[string]any{"question": "Exact pickup?", "reason": "exact_pickup"},
	})
	if err != nil {
		t.Fatalf("exec error = %v", err)
	}
	if res.Text() != "Shivaji Nagar" {
		t.Fatalf("Text() = %q", res.Text())
	}
	if sess.awaited != "" {
		t.Fatal("cached answer must not wait for the operator")
	}
	if sess.reason != "exact_pickup" {
		t.Fatalf("reason = %q", sess.reason)
	}
}

func TestAskHumanWaitsForOperator(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{interruptID: "int-1"}
	exec := NewExecutor(sess, zerolog.Nop())

	res, err := exec(context.Background(), testKey, telephonyx.ToolCall{
		Name:      ToolAskHumanForDetails,
		Arguments: map[string]any{"question": "Exact pickup?"},
	})
	if err != nil {
		t.Fatalf("exec error = %v", err)
	}
	if sess.awaited != "int-1" {
		t.Fatalf("awaited = %q, want int-1", sess.awaited)
	}
	if res.Output != "Pickup is near Shivaji Nagar bus stand." {
		t.Fatalf("Output = %q", res.Output)
	}
}

func TestAskHumanErrors(t *testing.T) {
	t.Parallel()

	exec := NewExecutor(&fakeSession{}, zerolog.Nop())
	res, err := exec(context.Background(), testKey, telephonyx.ToolCall{Name: ToolAskHumanForDetails})
	if err != nil {
		t.Fatalf("exec error = %v", err)
	}
	if res.Error == "" {
		t.Fatal("missing question should produce a tool error")
	}

	boom := errors.New("store down")
	exec = NewExecutor(&fakeSession{askErr: boom}, zerolog.Nop())
	_, err = exec(context.Background(), testKey, telephonyx.ToolCall{
		Name:      ToolAskHumanForDetails,
		Arguments: map[string]any{"question": "Exact pickup?"},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestEndCallParsesPrice(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	exec := NewExecutor(sess, zerolog.Nop())

	res, err := exec(context.Background(), testKey, telephonyx.ToolCall{
		Name:      ToolEndCall,
		Arguments: map[string]any{"final_price": "1,200", "notes": "agreed"},
	})
	if err != nil {
		t.Fatalf("exec error = %v", err)
	}
	if sess.endReq == nil || sess.endReq.FinalPrice == nil || *sess.endReq.FinalPrice != 1200 {
		t.Fatalf("end request = %+v", sess.endReq)
	}
	if sess.endReq.Notes != "agreed" {
		t.Fatalf("Notes = %q", sess.endReq.Notes)
	}
	if want := lang.ClosingLine("en", statex.Float(1200)); res.Output != want {
		t.Fatalf("Output = %q, want %q", res.Output, want)
	}
}

func TestEndCallWithoutPrice(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	exec := NewExecutor(sess, zerolog.Nop())
	if _, err := exec(context.Background(), testKey, telephonyx.ToolCall{Name: ToolEndCall}); err != nil {
		t.Fatalf("exec error = %v", err)
	}
	if sess.endReq.FinalPrice != nil {
		t.Fatalf("FinalPrice = %v, want nil", *sess.endReq.FinalPrice)
	}
}

func TestUnknownTool(t *testing.T) {
	t.Parallel()

	res, err := NewExecutor(&fakeSession{}, zerolog.Nop())(context.Background(), testKey, telephonyx.ToolCall{Name: "transferCall"})
	if err != nil {
		t.Fatalf("exec error = %v", err)
	}
	if res.Error == "" {
		t.Fatal("unknown tool should report an error")
	}
}

package tool

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/lang"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/negotiation"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
	telephonyx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/telephony"
)

const (
	ToolAskHumanForDetails = "askHumanForDetails"
	ToolEndCall            = "endCall"
)

type param struct {
	name     string
	typ      schema.DataType
	desc     string
	required bool
}

type entry struct {
	name   string
	desc   string
	params []param
}

var catalog = []entry{
	{
		name: ToolAskHumanForDetails,
		desc: "Ask the customer for a detail you do not know, such as the exact pickup address, a contact " +
			"number or the passenger count. Never use it for questions about other vendors or prices.",
		params: []param{
			{name: "question", typ: schema.String, desc: "The vendor's question in English", required: true},
			{name: "reason", typ: schema.String, desc: "Short snake_case code such as exact_pickup or contact_number"},
		},
	},
	{
		name: ToolEndCall,
		desc: "End the call once the price is settled or the vendor will not negotiate.",
		params: []param{
			{name: "final_price", typ: schema.Number, desc: "The agreed or last quoted price in rupees"},
			{name: "notes", typ: schema.String, desc: "One line on how the call went"},
		},
	},
}

// Definitions returns the voice-assistant tools in the provider's JSON schema form.
func Definitions() []telephonyx.ToolDefinition {
	out := make([]telephonyx.ToolDefinition, 0, len(catalog))
	for _, s := range catalog {
		props := make(map[string]any, len(s.params))
		required := make([]string, 0, len(s.params))
		for _, p := range s.params {
			props[p.name] = map[string]any{"type": string(p.typ), "description": p.desc}
			if p.required {
				required = append(required, p.name)
			}
		}
		out = append(out, telephonyx.ToolDefinition{
			Name:        s.name,
			Description: s.desc,
			Parameters: map[string]any{
				"type":       "object",
				"properties": props,
				"required":   required,
			},
		})
	}
	return out
}

// Session is the part of the negotiation service the tools drive.
type Session interface {
	AskHuman(ctx context.Context, key statex.Key, question, reason string) (answer, interruptID string, err error)
	AwaitHumanInput(ctx context.Context, key statex.Key, interruptID string) (negotiation.TurnResult, error)
	End(ctx context.Context, key statex.Key, req negotiation.EndRequest) (*statex.NegotiationSession, error)
}

// Result is what a tool call returns to the voice assistant.
type Result struct {
	Tool   string `json:"tool"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Text is the string handed back to the provider.
func (r Result) Text() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Output
}

type Executor func(ctx context.Context, key statex.Key, call telephonyx.ToolCall) (Result, error)

// NewExecutor binds the tools to a negotiation session service.
func NewExecutor(sess Session, logger zerolog.Logger) Executor {
	return func(ctx context.Context, key statex.Key, call telephonyx.ToolCall) (Result, error) {
		switch call.Name {
		case ToolAskHumanForDetails:
			return askHuman(ctx, sess, key, call)
		case ToolEndCall:
			return endCall(ctx, sess, key, call)
		default:
			logger.Warn().Str("tool", call.Name).Str("session_id", key.SessionID).Msg("unknown tool requested")
			return Result{Tool: call.Name, Error: fmt.Sprintf("tool=%s is unavailable", call.Name)}, nil
		}
	}
}

func askHuman(ctx context.Context, sess Session, key statex.Key, call telephonyx.ToolCall) (Result, error) {
	question := call.StringArg("question")
	if question == "" {
		return Result{Tool: call.Name, Error: "question is required"}, nil
	}
	answer, interruptID, err := sess.AskHuman(ctx, key, question, call.StringArg("reason"))
	if err != nil {
		return Result{}, err
	}
	if answer != "" {
		return Result{Tool: call.Name, Output: answer}, nil
	}

	turn, err := sess.AwaitHumanInput(ctx, key, interruptID)
	if err != nil {
		return Result{}, err
	}
	return Result{Tool: call.Name, Output: turn.Utterance}, nil
}

func endCall(ctx context.Context, sess Session, key statex.Key, call telephonyx.ToolCall) (Result, error) {
	req := negotiation.EndRequest{Notes: call.StringArg("notes")}
	if p, ok := numberArg(call.Arguments["final_price"]); ok && p > 0 {
		req.FinalPrice = &p
	}
	ended, err := sess.End(ctx, key, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Tool: call.Name, Output: lang.ClosingLine(ended.Context.Language, ended.FinalPrice)}, nil
}

// numberArg accepts JSON numbers and numeric strings such as "1,200".
func numberArg(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

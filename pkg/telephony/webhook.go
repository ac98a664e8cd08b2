package telephony

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedWebhook   = errors.New("malformed webhook payload")
	ErrUnsupportedWebhook = errors.New("unsupported webhook event")
)

// Webhook message types. The provider has shipped two shapes for tool calls:
// the current batched "tool-calls" list and the legacy single "function-call".
const (
	typeToolCalls       = "tool-calls"
	typeFunctionCall    = "function-call"
	typeTranscript      = "transcript"
	typeVendorUtterance = "vendor-utterance"
	typeStatusUpdate    = "status-update"
	typeEndOfCallReport = "end-of-call-report"
)

// CallRef identifies the call and the negotiation it belongs to, taken from
// the metadata attached when the call was started.
type CallRef struct {
	CallID    string
	SessionID string
	VendorID  string
}

// Event is one decoded webhook. Concrete types: ToolCallEvent, UtteranceEvent, StatusEvent.
type Event interface {
	Ref() CallRef
	isEvent()
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// StringArg returns a trimmed string argument or "".
func (t ToolCall) StringArg(name string) string {
	v, ok := t.Arguments[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

type ToolCallEvent struct {
	Call CallRef
	// Legacy is set for the single function-call shape; the reply format differs.
	Legacy bool
	Calls  []ToolCall
}

type UtteranceEvent struct {
	Call   CallRef
	TurnID string
	Text   string
}

type StatusEvent struct {
	Call        CallRef
	Status      string
	EndedReason string
	Transcript  string
}

func (e ToolCallEvent) Ref() CallRef  { return e.Call }
func (e UtteranceEvent) Ref() CallRef { return e.Call }
func (e StatusEvent) Ref() CallRef    { return e.Call }

func (ToolCallEvent) isEvent()  {}
func (UtteranceEvent) isEvent() {}
func (StatusEvent) isEvent()    {}

type envelope struct {
	Message *message `json:"message"`
}

type message struct {
	Type           string           `json:"type"`
	Call           *callInfo        `json:"call,omitempty"`
	ToolCallList   []rawToolCall    `json:"toolCallList,omitempty"`
	FunctionCall   *rawFunctionCall `json:"functionCall,omitempty"`
	Role           string           `json:"role,omitempty"`
	TranscriptType string           `json:"transcriptType,omitempty"`
	Transcript     string           `json:"transcript,omitempty"`
	Text           string           `json:"text,omitempty"`
	TurnID         string           `json:"turnId,omitempty"`
	Status         string           `json:"status,omitempty"`
	EndedReason    string           `json:"endedReason,omitempty"`
}

type callInfo struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type rawToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type rawFunctionCall struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

// ParseWebhook detects the payload shape and decodes it into a concrete Event.
func ParseWebhook(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if env.Message == nil || strings.TrimSpace(env.Message.Type) == "" {
		return nil, fmt.Errorf("%w: missing message type", ErrMalformedWebhook)
	}

	msg := env.Message
	ref := msg.ref()

	switch msg.Type {
	case typeToolCalls:
		calls := make([]ToolCall, 0, len(msg.ToolCallList))
		for _, tc := range msg.ToolCallList {
			args, err := decodeArguments(tc.Function.Arguments)
			if err != nil {
				return nil, fmt.Errorf("%w: tool call %s: %v", ErrMalformedWebhook, tc.ID, err)
			}
			calls = append(calls, ToolCall{ID: tc.ID, Name: strings.TrimSpace(tc.Function.Name), Arguments: args})
		}
		if len(calls) == 0 {
			return nil, fmt.Errorf("%w: empty tool call list", ErrMalformedWebhook)
		}
		return ToolCallEvent{Call: ref, Calls: calls}, nil

	case typeFunctionCall:
		if msg.FunctionCall == nil {
			return nil, fmt.Errorf("%w: function call body missing", ErrMalformedWebhook)
		}
		args, err := decodeArguments(msg.FunctionCall.Parameters)
		if err != nil {
			return nil, fmt.Errorf("%w: function call: %v", ErrMalformedWebhook, err)
		}
		return ToolCallEvent{
			Call:   ref,
			Legacy: true,
			Calls:  []ToolCall{{Name: strings.TrimSpace(msg.FunctionCall.Name), Arguments: args}},
		}, nil

	case typeVendorUtterance, typeTranscript:
		// Only final transcripts from the callee are turns; partials and the
		// assistant's own speech are ignored.
		if msg.Type == typeTranscript && (msg.Role != "user" || msg.TranscriptType != "final") {
			return nil, ErrUnsupportedWebhook
		}
		text := strings.TrimSpace(msg.Transcript)
		if text == "" {
			text = strings.TrimSpace(msg.Text)
		}
		if text == "" {
			return nil, fmt.Errorf("%w: empty utterance", ErrMalformedWebhook)
		}
		return UtteranceEvent{Call: ref, TurnID: msg.TurnID, Text: text}, nil

	case typeStatusUpdate, typeEndOfCallReport:
		status := msg.Status
		if msg.Type == typeEndOfCallReport {
			status = StatusEnded
		}
		return StatusEvent{Call: ref, Status: status, EndedReason: msg.EndedReason, Transcript: msg.Transcript}, nil
	}

	return nil, fmt.Errorf("%w: type=%s", ErrUnsupportedWebhook, msg.Type)
}

func (m *message) ref() CallRef {
	if m.Call == nil {
		return CallRef{}
	}
	return CallRef{
		CallID:    m.Call.ID,
		SessionID: m.Call.Metadata["session_id"],
		VendorID:  m.Call.Metadata["vendor_id"],
	}
}

// decodeArguments accepts either a JSON object or a JSON string containing one.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, err
		}
		raw = []byte(encoded)
		if strings.TrimSpace(encoded) == "" {
			return map[string]any{}, nil
		}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type toolResult struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
}

// ToolCallReply builds the response body the provider expects for a tool-call event.
// results is keyed by tool call id; legacy events carry a single result.
func ToolCallReply(ev ToolCallEvent, results map[string]string) any {
	if ev.Legacy {
		for _, r := range results {
			return map[string]string{"result": r}
		}
		return map[string]string{"result": ""}
	}
	out := make([]toolResult, 0, len(ev.Calls))
	for _, call := range ev.Calls {
		out = append(out, toolResult{ToolCallID: call.ID, Result: results[call.ID]})
	}
	return map[string]any{"results": out}
}

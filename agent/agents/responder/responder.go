package responder

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/lang"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
	openrouterx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/openrouter"
)

// Responder turns a negotiation directive into the agent's next spoken line.
type Responder struct {
	client      *openaisdk.Client
	model       string
	temperature float64
	maxTokens   int64
}

var _ contractx.ResponseGenerator = (*Responder)(nil)

func New(client *openaisdk.Client, cfg openrouterx.Config) (*Responder, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrValidation)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("%w: responder model is required", contractx.ErrValidation)
	}
	r := &Responder{
		client:      client,
		model:       model,
		temperature: float64(cfg.Temperature),
		maxTokens:   300,
	}
	if cfg.MaxCompletionToken != nil && *cfg.MaxCompletionToken > 0 {
		r.maxTokens = int64(*cfg.MaxCompletionToken)
	}
	return r, nil
}

func (r *Responder) Generate(ctx context.Context, req contractx.GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Directive) == "" {
		return "", fmt.Errorf("%w: directive is required", contractx.ErrValidation)
	}

	resp, err := r.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model:               openaisdk.ChatModel(r.model),
		Messages:            buildMessages(req),
		Temperature:         openaisdk.Float(r.temperature),
		MaxCompletionTokens: openaisdk.Int(r.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat completion returned no choices", contractx.ErrModelInvoke)
	}

	text := cleanLine(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty reply", contractx.ErrSchemaViolation)
	}
	return text, nil
}

func buildMessages(req contractx.GenerateRequest) []openaisdk.ChatCompletionMessageParamUnion {
	system := strings.TrimSpace(req.SystemPrompt)
	system += fmt.Sprintf("\n\nSpeak %s. Reply with one or two short sentences to be spoken aloud, nothing else.",
		lang.Name(req.Language))

	msgs := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	msgs = append(msgs, openaisdk.SystemMessage(system))
	for _, m := range req.History {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		if m.Speaker == statex.SpeakerAgent {
			msgs = append(msgs, openaisdk.AssistantMessage(text))
		} else {
			msgs = append(msgs, openaisdk.UserMessage(text))
		}
	}
	msgs = append(msgs, openaisdk.SystemMessage("Instruction for your next line: "+strings.TrimSpace(req.Directive)))
	return msgs
}

// cleanLine strips quoting and speaker labels models sometimes add.
func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"Agent:", "agent:", "Assistant:", "assistant:"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	return strings.Trim(s, "\"“” ")
}

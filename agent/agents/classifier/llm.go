package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
)

const SourceLLM = "llm"

// LLM classifies utterances with a structured chat model call.
type LLM struct {
	runner compose.Runnable[map[string]any, contractx.VendorIntent]
}

var _ contractx.IntentClassifier = (*LLM)(nil)

func NewLLM(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*LLM, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: classifier", contractx.ErrPromptMissing)
	}
	runner, err := compileIntentGraph(ctx, chatModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: compile intent graph: %v", contractx.ErrModelInvoke, err)
	}
	return &LLM{runner: runner}, nil
}

func (c *LLM) Classify(ctx context.Context, req contractx.ClassifyRequest) (contractx.VendorIntent, error) {
	if strings.TrimSpace(req.Utterance) == "" {
		return contractx.VendorIntent{}, fmt.Errorf("%w: utterance is required", contractx.ErrValidation)
	}

	inputBytes, err := json.Marshal(buildPayload(req))
	if err != nil {
		return contractx.VendorIntent{}, fmt.Errorf("%w: marshal classifier payload: %v", contractx.ErrValidation, err)
	}

	out, err := c.runner.Invoke(ctx, map[string]any{
		"input": string(inputBytes),
	})
	if err != nil {
		return contractx.VendorIntent{}, fmt.Errorf("%w: classifier invoke: %v", contractx.ErrModelInvoke, err)
	}

	if err := validateIntent(&out); err != nil {
		return contractx.VendorIntent{}, err
	}
	out.Source = SourceLLM
	return out, nil
}

func buildPayload(req contractx.ClassifyRequest) map[string]any {
	history := make([]map[string]string, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, map[string]string{
			"speaker": string(m.Speaker),
			"text":    m.Text,
		})
	}

	payload := map[string]any{
		"utterance":            req.Utterance,
		"history":              history,
		"agent_offered_prices": req.ProposedPrices,
		"language":             req.Context.Language,
		"phase":                req.Context.Phase,
		"is_first_vendor":      req.Context.IsFirstVendor,
	}
	if req.Context.Market.Valid() {
		payload["market_range"] = req.Context.Market
	}
	if req.Context.QuotedPrice != nil {
		payload["last_quoted_price"] = *req.Context.QuotedPrice
	}
	return payload
}

func validateIntent(out *contractx.VendorIntent) error {
	out.Intent = contractx.Intent(strings.ToLower(strings.TrimSpace(string(out.Intent))))
	if !out.Intent.Valid() {
		return fmt.Errorf("%w: unsupported intent=%q", contractx.ErrSchemaViolation, out.Intent)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", contractx.ErrSchemaViolation, out.Confidence)
	}
	if out.ExtractedPrice != nil && *out.ExtractedPrice <= 0 {
		out.ExtractedPrice = nil
	}
	if out.NeedsHumanInput && strings.TrimSpace(out.HumanInputQuestion) == "" {
		return fmt.Errorf("%w: needs_human_input without human_input_question", contractx.ErrSchemaViolation)
	}
	if len(out.ExtraChargeTypes) > 0 {
		out.MentionsExtraCharges = true
		types := make([]string, 0, len(out.ExtraChargeTypes))
		for _, t := range out.ExtraChargeTypes {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				types = append(types, strings.ReplaceAll(t, " ", "_"))
			}
		}
		out.ExtraChargeTypes = types
	}
	return nil
}

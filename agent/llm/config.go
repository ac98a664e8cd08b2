package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/openrouter"
)

// Config is loaded with the LLM prefix. APIKey may be empty, in which case the
// service runs on the heuristic classifier and template utterances.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" default:"openai/gpt-4o-mini"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"600" validate:"gte=0"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"20s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	ClassifierModel       string  `envconfig:"CLASSIFIER_MODEL" split_words:"true"`
	NegotiatorModel       string  `envconfig:"NEGOTIATOR_MODEL" split_words:"true"`
	ClassifierTemperature float32 `envconfig:"CLASSIFIER_TEMPERATURE" split_words:"true" default:"0"`
	NegotiatorTemperature float32 `envconfig:"NEGOTIATOR_TEMPERATURE" split_words:"true" default:"-1"`

	// MinConfidence is the classifier confidence below which the heuristic answers.
	MinConfidence float64 `envconfig:"MIN_CONFIDENCE" split_words:"true" default:"0.4" validate:"gte=0,lte=1"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// OpenRouterFor returns the client config for role. Role-specific model and
// temperature override the defaults; a negative temperature means unset.
func (c Config) OpenRouterFor(role contractx.Role) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature
	maxCompletionToken := c.MaxCompletionToken

	switch role {
	case contractx.RoleClassifier:
		if v := strings.TrimSpace(c.ClassifierModel); v != "" {
			modelName = v
		}
		if c.ClassifierTemperature >= 0 {
			temp = c.ClassifierTemperature
		}
	case contractx.RoleNegotiator:
		if v := strings.TrimSpace(c.NegotiatorModel); v != "" {
			modelName = v
		}
		if c.NegotiatorTemperature >= 0 {
			temp = c.NegotiatorTemperature
		}
		// spoken lines are short
		if maxCompletionToken == 0 || maxCompletionToken > 300 {
			maxCompletionToken = 300
		}
	}

	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

// Package telephony talks to the voice-call provider: placing calls, polling
// their status and decoding the webhooks the provider sends during a call.
package telephony

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxResponseSizeBytes = 4 << 20

type Config struct {
	URL           string        `split_words:"true" required:"true"`
	Token         string        `split_words:"true" required:"true"`
	PhoneNumberID string        `envconfig:"PHONE_NUMBER_ID" split_words:"true"`
	WebhookSecret string        `split_words:"true"`
	ServerURL     string        `envconfig:"SERVER_URL" split_words:"true"`
	Timeout       time.Duration `split_words:"true" default:"10s"`
	// Outbound request budget towards the provider API.
	RequestsPerSecond float64 `split_words:"true" default:"5"`
}

// Call states reported by the provider.
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusForwarding = "forwarding"
	StatusEnded      = "ended"
)

// Ended reasons that the call runner maps to call outcomes.
const (
	EndedCustomerBusy     = "customer-busy"
	EndedCustomerNoAnswer = "customer-did-not-answer"
	EndedAssistantHangup  = "assistant-ended-call"
	EndedCustomerHangup   = "customer-ended-call"
	EndedPipelineError    = "pipeline-error"
	EndedSilenceTimedOut  = "silence-timed-out"
	EndedMaxDuration      = "exceeded-max-duration"
)

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// AssistantConfig is the per-call agent configuration handed to the provider.
type AssistantConfig struct {
	FirstMessage string            `json:"firstMessage"`
	SystemPrompt string            `json:"systemPrompt"`
	Language     string            `json:"language,omitempty"`
	VoiceID      string            `json:"voiceId,omitempty"`
	Tools        []ToolDefinition  `json:"tools,omitempty"`
	ServerURL    string            `json:"serverUrl,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	MaxDuration  int               `json:"maxDurationSeconds,omitempty"`
}

type CallStatus struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Transcript  string    `json:"transcript,omitempty"`
	EndedReason string    `json:"endedReason,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	EndedAt     time.Time `json:"endedAt,omitempty"`
}

func (s CallStatus) Ended() bool {
	return s.Status == StatusEnded
}

type Client struct {
	baseURL       string
	token         string
	phoneNumberID string
	serverURL     string
	webhookSecret string
	limiter       *rate.Limiter
	httpClient    *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("telephony url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         strings.TrimSpace(cfg.Token),
		phoneNumberID: strings.TrimSpace(cfg.PhoneNumberID),
		serverURL:     strings.TrimSpace(cfg.ServerURL),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		limiter:       rate.NewLimiter(rate.Limit(rps), 1),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

type startCallRequest struct {
	PhoneNumberID string          `json:"phoneNumberId,omitempty"`
	Customer      customer        `json:"customer"`
	Assistant     AssistantConfig `json:"assistant"`
}

type customer struct {
	Number string `json:"number"`
}

// StartCall dials target (E.164) with the given assistant and returns the provider call id.
func (c *Client) StartCall(ctx context.Context, target string, assistant AssistantConfig) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", errors.New("call target is required")
	}
	if assistant.ServerURL == "" {
		assistant.ServerURL = c.serverURL
	}

	var out CallStatus
	err := c.do(ctx, http.MethodPost, "/call", startCallRequest{
		PhoneNumberID: c.phoneNumberID,
		Customer:      customer{Number: target},
		Assistant:     assistant,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("start call: %w", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", errors.New("start call: provider returned empty call id")
	}
	return out.ID, nil
}

func (c *Client) GetCallStatus(ctx context.Context, callID string) (CallStatus, error) {
	if strings.TrimSpace(callID) == "" {
		return CallStatus{}, errors.New("call id is required")
	}
	var out CallStatus
	if err := c.do(ctx, http.MethodGet, "/call/"+url.PathEscape(callID), nil, &out); err != nil {
		return CallStatus{}, fmt.Errorf("get call status: %w", err)
	}
	return out, nil
}

// VerifyWebhook checks the shared secret header sent with every webhook.
// An empty configured secret disables the check.
func (c *Client) VerifyWebhook(header string) bool {
	if c.webhookSecret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(header)), []byte(c.webhookSecret)) == 1
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("telephony http status=%d body=%s", resp.StatusCode, string(raw))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

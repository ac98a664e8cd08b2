package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	ErrStateNotFound   = errors.New("state not found")
	ErrNilSessionState = errors.New("session state is nil")
)

const (
	defaultStoreKeyPrefix = "vneg:"
	defaultStoreTTL       = 24 * time.Hour
	maxResponseSizeBytes  = 2 << 20
)

// Store persists negotiation sessions by key.
type Store interface {
	Load(ctx context.Context, key Key) (*NegotiationSession, error)
	Save(ctx context.Context, s *NegotiationSession) error
	Delete(ctx context.Context, key Key) error
}

// PipelineStore persists orchestration runs by session id.
type PipelineStore interface {
	LoadPipeline(ctx context.Context, sessionID string) (*PipelineState, error)
	SavePipeline(ctx context.Context, p *PipelineState) error
	DeletePipeline(ctx context.Context, sessionID string) error
}

var (
	_ Store         = (*MemoryStore)(nil)
	_ PipelineStore = (*MemoryStore)(nil)
	_ Store         = (*UpstashRedisStore)(nil)
	_ PipelineStore = (*UpstashRedisStore)(nil)
)

// MemoryStore keeps deep copies in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[Key]*NegotiationSession
	pipelines map[string]*PipelineState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[Key]*NegotiationSession),
		pipelines: make(map[string]*PipelineState),
	}
}

func (m *MemoryStore) Load(_ context.Context, key Key) (*NegotiationSession, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, ErrStateNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s *NegotiationSession) error {
	if s == nil {
		return ErrNilSessionState
	}
	if err := s.Key.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Key] = s.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}

func (m *MemoryStore) LoadPipeline(_ context.Context, sessionID string) (*PipelineState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[sessionID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) SavePipeline(_ context.Context, p *PipelineState) error {
	if p == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(p.SessionID) == "" {
		return ErrInvalidSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelines[p.SessionID] = p.Clone()
	return nil
}

func (m *MemoryStore) DeletePipeline(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pipelines, sessionID)
	return nil
}

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashRedisStore persists sessions and pipelines in Upstash Redis via REST.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" validate:"omitempty,url"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	// KeyPrefix namespaces every key; TTL of zero keeps records forever.
	KeyPrefix string        `envconfig:"KEY_PREFIX" split_words:"true"`
	TTL       time.Duration `envconfig:"TTL" split_words:"true" default:"72h" validate:"gte=0"`
}

// Enabled reports whether a REST endpoint is configured.
func (c UpstashRedisConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.Token) != ""
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashRedisStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultStoreKeyPrefix,
		ttl:        defaultStoreTTL,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	if store.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}

	return store, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, key Key) (*NegotiationSession, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var out NegotiationSession
	if err := s.get(ctx, s.sessionKey(key), &out); err != nil {
		return nil, err
	}
	if err := out.Key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session loaded from store: %w", err)
	}
	return &out, nil
}

func (s *UpstashRedisStore) Save(ctx context.Context, st *NegotiationSession) error {
	if st == nil {
		return ErrNilSessionState
	}
	if err := st.Key.Validate(); err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	return s.set(ctx, s.sessionKey(st.Key), st)
}

func (s *UpstashRedisStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := s.exec(ctx, []any{"DEL", s.sessionKey(key)})
	return err
}

func (s *UpstashRedisStore) LoadPipeline(ctx context.Context, sessionID string) (*PipelineState, error) {
	key, err := s.pipelineKey(sessionID)
	if err != nil {
		return nil, err
	}
	var out PipelineState
	if err := s.get(ctx, key, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *UpstashRedisStore) SavePipeline(ctx context.Context, p *PipelineState) error {
	if p == nil {
		return ErrNilSessionState
	}
	key, err := s.pipelineKey(p.SessionID)
	if err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	return s.set(ctx, key, p)
}

func (s *UpstashRedisStore) DeletePipeline(ctx context.Context, sessionID string) error {
	key, err := s.pipelineKey(sessionID)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, []any{"DEL", key})
	return err
}

func (s *UpstashRedisStore) sessionKey(key Key) string {
	return s.prefix() + "negotiation:" + key.SessionID + ":" + key.VendorID
}

func (s *UpstashRedisStore) pipelineKey(sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", ErrInvalidSession
	}
	return s.prefix() + "pipeline:" + sessionID, nil
}

func (s *UpstashRedisStore) prefix() string {
	if p := strings.TrimSpace(s.keyPrefix); p != "" {
		return p
	}
	return defaultStoreKeyPrefix
}

func (s *UpstashRedisStore) get(ctx context.Context, key string, dst any) error {
	resp, err := s.exec(ctx, []any{"GET", key})
	if err != nil {
		return err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return ErrStateNotFound
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal([]byte(encoded), dst); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}
	return nil
}

func (s *UpstashRedisStore) set(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	cmd := []any{"SET", key, string(payload)}
	if s.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(s.ttl))
	}
	_, err = s.exec(ctx, cmd)
	return err
}

func (s *UpstashRedisStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}

package hitl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
	metricsx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/metrics"
)

// Owner scopes the single-active-interrupt rule. VendorID is empty for
// interrupts raised by the pipeline itself.
type Owner struct {
	SessionID string
	VendorID  string
}

func OwnerOf(k statex.Key) Owner {
	return Owner{SessionID: k.SessionID, VendorID: k.VendorID}
}

type CreateOptions struct {
	Owner    Owner
	Reason   string
	Category string
	Question string

	// Timeout bounds the wait; zero waits until resolved or cancelled.
	Timeout time.Duration

	// OnTimeout runs once, outside the manager lock, when the deadline passes.
	OnTimeout func(statex.HumanInterruptState)
}

type pendingInterrupt struct {
	record    *statex.HumanInterruptState
	owner     Owner
	done      chan struct{}
	timer     *time.Timer
	onTimeout func(statex.HumanInterruptState)
}

// Manager tracks interrupts and lets callers block until one is answered.
type Manager struct {
	mu      sync.Mutex
	records map[string]*statex.HumanInterruptState
	pending map[string]*pendingInterrupt
	active  map[Owner]string
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metricsx.Metrics
	newID   func() string
}

type ManagerOption func(*Manager)

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(mx *metricsx.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mx }
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		records: make(map[string]*statex.HumanInterruptState),
		pending: make(map[string]*pendingInterrupt),
		active:  make(map[Owner]string),
		now:     time.Now,
		logger:  zerolog.Nop(),
		newID:   func() string { return "int_" + uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Create opens an interrupt. An owner may hold only one pending interrupt.
func (m *Manager) Create(_ context.Context, opts CreateOptions) (statex.HumanInterruptState, error) {
	if strings.TrimSpace(opts.Owner.SessionID) == "" {
		return statex.HumanInterruptState{}, fmt.Errorf("%w: session id is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(opts.Question) == "" {
		return statex.HumanInterruptState{}, fmt.Errorf("%w: question is required", contractx.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.active[opts.Owner]; ok {
		return statex.HumanInterruptState{}, fmt.Errorf("%w: %s", contractx.ErrInterruptPending, id)
	}

	rec := &statex.HumanInterruptState{
		Active:      true,
		InterruptID: m.newID(),
		SessionID:   opts.Owner.SessionID,
		VendorID:    opts.Owner.VendorID,
		Reason:      strings.TrimSpace(opts.Reason),
		Category:    opts.Category,
		Question:    strings.TrimSpace(opts.Question),
		Status:      statex.InterruptPending,
		RequestedAt: m.now().UTC(),
	}
	p := &pendingInterrupt{
		record:    rec,
		owner:     opts.Owner,
		done:      make(chan struct{}),
		onTimeout: opts.OnTimeout,
	}
	if opts.Timeout > 0 {
		id := rec.InterruptID
		p.timer = time.AfterFunc(opts.Timeout, func() { m.expire(id) })
	}

	m.records[rec.InterruptID] = rec
	m.pending[rec.InterruptID] = p
	m.active[opts.Owner] = rec.InterruptID
	m.metrics.Interrupt("created")

	m.logger.Info().
		Str("interrupt_id", rec.InterruptID).
		Str("session_id", rec.SessionID).
		Str("vendor_id", rec.VendorID).
		Str("category", rec.Category).
		Msg("human interrupt created")

	return *rec, nil
}

// Resolve answers a pending interrupt. Resolution is terminal.
func (m *Manager) Resolve(_ context.Context, sessionID, interruptID, answer string) (statex.HumanInterruptState, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return statex.HumanInterruptState{}, fmt.Errorf("%w: answer is required", contractx.ErrValidation)
	}

	m.mu.Lock()
	rec, ok := m.records[interruptID]
	if !ok || rec.SessionID != sessionID {
		m.mu.Unlock()
		return statex.HumanInterruptState{}, fmt.Errorf("%w: %s", contractx.ErrInterruptNotFound, interruptID)
	}
	p, pending := m.pending[interruptID]
	if !pending {
		status := rec.Status
		m.mu.Unlock()
		return statex.HumanInterruptState{}, fmt.Errorf("%w: %s is %s", contractx.ErrInterruptResolved, interruptID, status)
	}

	now := m.now().UTC()
	rec.Active = false
	rec.Status = statex.InterruptAnswered
	rec.Response = &answer
	rec.RespondedAt = &now
	m.finishLocked(p)
	out := *rec
	m.mu.Unlock()

	m.metrics.Interrupt("answered")
	m.logger.Info().Str("interrupt_id", interruptID).Str("session_id", sessionID).Msg("human interrupt answered")
	return out, nil
}

// Cancel closes a pending interrupt without an answer.
func (m *Manager) Cancel(interruptID string) error {
	m.mu.Lock()
	p, ok := m.pending[interruptID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", contractx.ErrInterruptNotFound, interruptID)
	}
	p.record.Active = false
	p.record.Status = statex.InterruptCancelled
	m.finishLocked(p)
	m.mu.Unlock()

	m.metrics.Interrupt("cancelled")
	return nil
}

// Wait blocks until the interrupt leaves the pending state or ctx ends.
// It returns the answer, ErrInterruptTimeout, or the context error.
func (m *Manager) Wait(ctx context.Context, interruptID string) (string, error) {
	m.mu.Lock()
	rec, ok := m.records[interruptID]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", contractx.ErrInterruptNotFound, interruptID)
	}
	var done <-chan struct{}
	if p, pending := m.pending[interruptID]; pending {
		done = p.done
	}
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch rec.Status {
	case statex.InterruptAnswered:
		return *rec.Response, nil
	case statex.InterruptTimeout:
		return "", fmt.Errorf("%w: %s", contractx.ErrInterruptTimeout, interruptID)
	default:
		return "", fmt.Errorf("%w: %s is %s", contractx.ErrInterruptResolved, interruptID, rec.Status)
	}
}

func (m *Manager) Get(sessionID, interruptID string) (statex.HumanInterruptState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[interruptID]
	if !ok || rec.SessionID != sessionID {
		return statex.HumanInterruptState{}, false
	}
	return *rec, true
}

// Active returns the pending interrupt held by owner, if any.
func (m *Manager) Active(owner Owner) (statex.HumanInterruptState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[owner]
	if !ok {
		return statex.HumanInterruptState{}, false
	}
	return *m.records[id], true
}

// Pending lists the open interrupts of a session.
func (m *Manager) Pending(sessionID string) []statex.HumanInterruptState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []statex.HumanInterruptState
	for _, p := range m.pending {
		if p.record.SessionID == sessionID {
			out = append(out, *p.record)
		}
	}
	return out
}

func (m *Manager) expire(interruptID string) {
	m.mu.Lock()
	p, ok := m.pending[interruptID]
	if !ok {
		m.mu.Unlock()
		return
	}
	p.record.Active = false
	p.record.Status = statex.InterruptTimeout
	now := m.now().UTC()
	p.record.RespondedAt = &now
	m.finishLocked(p)
	snapshot := *p.record
	m.mu.Unlock()

	m.metrics.Interrupt("timeout")
	m.logger.Warn().
		Str("interrupt_id", interruptID).
		Str("session_id", snapshot.SessionID).
		Str("vendor_id", snapshot.VendorID).
		Msg("human interrupt timed out")

	if p.onTimeout != nil {
		p.onTimeout(snapshot)
	}
}

// finishLocked must be called with m.mu held.
func (m *Manager) finishLocked(p *pendingInterrupt) {
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(m.pending, p.record.InterruptID)
	if m.active[p.owner] == p.record.InterruptID {
		delete(m.active, p.owner)
	}
	close(p.done)
}

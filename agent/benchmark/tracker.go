package benchmark

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
	metricsx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/metrics"
)

var ErrAlreadyCommitted = errors.New("benchmark: call already committed")

// Outcome is the result of one finished call as far as the benchmark cares.
type Outcome struct {
	CallID     string
	VendorID   string
	VendorName string
	Price      *float64
	Suspicious bool
}

type sessionBenchmark struct {
	state     statex.BenchmarkSnapshot
	committed map[string]struct{}
}

// Tracker holds the lowest trusted price per pipeline session. The price only
// ever goes down, and each call contributes at most once.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*sessionBenchmark
	metrics  *metricsx.Metrics
	logger   zerolog.Logger
}

func NewTracker(mx *metricsx.Metrics, logger zerolog.Logger) *Tracker {
	return &Tracker{
		sessions: make(map[string]*sessionBenchmark),
		metrics:  mx,
		logger:   logger,
	}
}

// Snapshot returns a copy that callers may hand to a negotiation session.
func (t *Tracker) Snapshot(sessionID string) statex.BenchmarkSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	sb, ok := t.sessions[sessionID]
	if !ok {
		return statex.BenchmarkSnapshot{}
	}
	return copySnapshot(sb.state)
}

// Commit folds a finished call into the benchmark and reports whether it
// became the new best price.
func (t *Tracker) Commit(sessionID string, o Outcome) (bool, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(o.CallID) == "" {
		return false, fmt.Errorf("%w: session id and call id are required", contractx.ErrValidation)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	sb := t.sessionLocked(sessionID)
	if _, done := sb.committed[o.CallID]; done {
		return false, fmt.Errorf("%w: %s", ErrAlreadyCommitted, o.CallID)
	}
	sb.committed[o.CallID] = struct{}{}

	if o.Price == nil || *o.Price <= 0 {
		return false, nil
	}
	if o.Suspicious {
		t.logger.Info().
			Str("session_id", sessionID).
			Str("call_id", o.CallID).
			Float64("price", *o.Price).
			Msg("suspicious price not used as benchmark")
		return false, nil
	}
	if cur := sb.state.LowestPriceSoFar; cur != nil && *o.Price >= *cur {
		return false, nil
	}

	p := *o.Price
	sb.state.LowestPriceSoFar = &p
	sb.state.BestVendorSoFar = o.VendorName
	if sb.state.BestVendorSoFar == "" {
		sb.state.BestVendorSoFar = o.VendorID
	}
	t.metrics.BenchmarkImproved()
	t.logger.Info().
		Str("session_id", sessionID).
		Str("vendor", sb.state.BestVendorSoFar).
		Float64("price", p).
		Msg("benchmark improved")
	return true, nil
}

// Rebuild replays persisted call results, oldest first. Calls already
// committed are skipped.
func (t *Tracker) Rebuild(sessionID string, calls []statex.CallResult) {
	for _, c := range calls {
		if c.Outcome != statex.OutcomeCompleted {
			continue
		}
		_, _ = t.Commit(sessionID, Outcome{
			CallID:     c.CallID,
			VendorID:   c.VendorID,
			VendorName: c.VendorName,
			Price:      c.BestPrice(),
			Suspicious: c.Suspicious,
		})
	}
}

func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

func (t *Tracker) sessionLocked(sessionID string) *sessionBenchmark {
	sb, ok := t.sessions[sessionID]
	if !ok {
		sb = &sessionBenchmark{committed: make(map[string]struct{})}
		t.sessions[sessionID] = sb
	}
	return sb
}

func copySnapshot(s statex.BenchmarkSnapshot) statex.BenchmarkSnapshot {
	out := statex.BenchmarkSnapshot{BestVendorSoFar: s.BestVendorSoFar}
	if s.LowestPriceSoFar != nil {
		p := *s.LowestPriceSoFar
		out.LowestPriceSoFar = &p
	}
	return out
}

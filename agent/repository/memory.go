package repository

import (
	"context"
	"sort"
	"sync"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
)

// MemoryCallLog keeps call records in process; used when no database is configured.
type MemoryCallLog struct {
	mu      sync.RWMutex
	records map[string]contractx.CallRecord
}

var _ contractx.CallLog = (*MemoryCallLog)(nil)

func NewMemoryCallLog() *MemoryCallLog {
	return &MemoryCallLog{records: make(map[string]contractx.CallRecord)}
}

func (l *MemoryCallLog) Record(_ context.Context, rec contractx.CallRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[rec.ID]; exists {
		return nil
	}
	l.records[rec.ID] = rec
	return nil
}

func (l *MemoryCallLog) ListBySession(_ context.Context, sessionID string) ([]contractx.CallRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]contractx.CallRecord, 0)
	for _, r := range l.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

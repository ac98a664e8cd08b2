// Package hitl reuses operator answers across the vendor calls of one
// session and coordinates the interrupts that ask for them.
package hitl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
)

var ErrMiss = errors.New("hitl cache miss")

// Entry is an operator answer remembered for one question category.
type Entry struct {
	Category         string    `json:"category"`
	OriginalQuestion string    `json:"original_question"`
	Answer           string    `json:"answer"`
	AnsweredAt       time.Time `json:"answered_at"`
	VendorIDOfOrigin string    `json:"vendor_id_of_origin"`
	UsedCount        int       `json:"used_count"`
}

// Cache holds at most one entry per (session, category). Lookup returns
// ErrMiss when nothing is stored and counts a use on a hit; Store overwrites.
type Cache interface {
	Lookup(ctx context.Context, sessionID, category string) (*Entry, error)
	Store(ctx context.Context, sessionID, vendorID, category, question, answer string) (*Entry, error)
	Entries(ctx context.Context, sessionID string) ([]Entry, error)
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]map[string]*Entry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]map[string]*Entry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Lookup(_ context.Context, sessionID, category string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[sessionID][category]
	if !ok {
		return nil, ErrMiss
	}
	e.UsedCount++
	out := *e
	return &out, nil
}

func (c *MemoryCache) Store(_ context.Context, sessionID, vendorID, category, question, answer string) (*Entry, error) {
	if err := validateStore(sessionID, category, answer); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.entries[sessionID]
	if !ok {
		bucket = make(map[string]*Entry)
		c.entries[sessionID] = bucket
	}
	e := &Entry{
		Category:         category,
		OriginalQuestion: strings.TrimSpace(question),
		Answer:           strings.TrimSpace(answer),
		AnsweredAt:       c.now().UTC(),
		VendorIDOfOrigin: vendorID,
	}
	bucket[category] = e
	out := *e
	return &out, nil
}

func (c *MemoryCache) Entries(_ context.Context, sessionID string) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.entries[sessionID]))
	for _, e := range c.entries[sessionID] {
		out = append(out, *e)
	}
	return out, nil
}

func validateStore(sessionID, category, answer string) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(category) == "" || strings.TrimSpace(answer) == "" {
		return fmt.Errorf("%w: session, category and answer are required", contractx.ErrValidation)
	}
	return nil
}

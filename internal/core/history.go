package core

import (
	"sync"
	"time"
)

// DispatchRecord summarizes one dispatch decision for the status API.
type DispatchRecord struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Kind      EventKind       `json:"kind"`
	Severity  Severity        `json:"severity"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Outcome   Outcome         `json:"outcome"`
	Success   bool            `json:"success"`
	Channels  map[string]bool `json:"channels,omitempty"`
}

// HistoryRing is a fixed-size ring buffer of recent dispatch records.
type HistoryRing struct {
	mu      sync.RWMutex
	entries []DispatchRecord
	maxSize int
	pos     int
	full    bool
}

// NewHistoryRing creates a ring that holds up to maxSize records.
func NewHistoryRing(maxSize int) *HistoryRing {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &HistoryRing{
		entries: make([]DispatchRecord, maxSize),
		maxSize: maxSize,
	}
}

// Add stores a record, overwriting the oldest when full.
func (h *HistoryRing) Add(rec DispatchRecord) {
	h.mu.Lock()
	h.entries[h.pos] = rec
	h.pos = (h.pos + 1) % h.maxSize
	if h.pos == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// Recent returns the most recent n records, newest first.
func (h *HistoryRing) Recent(n int) []DispatchRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := h.pos
	if h.full {
		total = h.maxSize
	}
	if n > total {
		n = total
	}
	if n <= 0 {
		return []DispatchRecord{}
	}

	result := make([]DispatchRecord, n)
	for i := 0; i < n; i++ {
		idx := (h.pos - 1 - i + h.maxSize) % h.maxSize
		result[i] = h.entries[idx]
	}
	return result
}

// Len returns the number of stored records.
func (h *HistoryRing) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return h.maxSize
	}
	return h.pos
}

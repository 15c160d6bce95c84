// Package audit implements the bounded, append-only execution ring (spec.md
// "Audit entry" in §3): oldest entries are dropped once the ring reaches
// capacity.
package audit

import (
	"sync"

	"github.com/melkeydev/dbbroker/internal/types"
)

// Ring is a fixed-capacity FIFO of AuditEntry values.
type Ring struct {
	mu       sync.Mutex
	capacity int
	entries  []types.AuditEntry
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Ring{capacity: capacity}
}

// Append adds an entry, trimming the oldest entry if the ring is full.
func (r *Ring) Append(e types.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
}

// Recent returns a copy of the last n entries (or all of them if n <= 0),
// newest last.
func (r *Ring) Recent(n int) []types.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.entries) {
		n = len(r.entries)
	}
	start := len(r.entries) - n
	out := make([]types.AuditEntry, n)
	copy(out, r.entries[start:])
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

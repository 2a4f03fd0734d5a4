// Package dedup rejects re-deliveries of the same event identifier.
package dedup

import (
	"strings"
	"sync"
)

// Policy decides what happens when a new id would exceed capacity.
type Policy string

const (
	// PolicyFIFO evicts only the oldest id.
	PolicyFIFO Policy = "fifo"
	// PolicyReset clears the whole set and keeps only the new id.
	PolicyReset Policy = "reset"
)

const DefaultCapacity = 500

// ParsePolicy maps a config value to a Policy. Unknown values use FIFO.
func ParsePolicy(s string) Policy {
	if strings.EqualFold(strings.TrimSpace(s), string(PolicyReset)) {
		return PolicyReset
	}
	return PolicyFIFO
}

// Filter is a bounded set of recently seen ids. Len() never exceeds the capacity.
type Filter struct {
	mu     sync.Mutex
	cap    int
	policy Policy
	seen   map[string]struct{}
	// ring holds ids in insertion order for FIFO eviction.
	ring []string
	head int
}

func New(capacity int, policy Policy) *Filter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if policy != PolicyReset {
		policy = PolicyFIFO
	}
	f := &Filter{
		cap:    capacity,
		policy: policy,
		seen:   make(map[string]struct{}, capacity),
	}
	if policy == PolicyFIFO {
		f.ring = make([]string, 0, capacity)
	}
	return f
}

// Observe reports whether the event should continue processing: true the
// first time id is seen, false for a repeat. An empty id always passes and is
// not recorded.
func (f *Filter) Observe(id string) bool {
	if id == "" {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[id]; ok {
		return false
	}

	switch f.policy {
	case PolicyReset:
		if len(f.seen) >= f.cap {
			clear(f.seen)
		}
		f.seen[id] = struct{}{}
	default:
		if len(f.ring) < f.cap {
			f.ring = append(f.ring, id)
		} else {
			delete(f.seen, f.ring[f.head])
			f.ring[f.head] = id
			f.head = (f.head + 1) % f.cap
		}
		f.seen[id] = struct{}{}
	}
	return true
}

func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *Filter) Cap() int { return f.cap }

func (f *Filter) Policy() Policy { return f.policy }

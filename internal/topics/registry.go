package topics

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/edgerelay/internal/protocol/records"
)

var (
	ErrTooManyTopics   = errors.New("topics: too many topics")
	ErrMissingConsumer = errors.New("topics: consumer id required")
)

// Registration is one consumer's current subscription.
type Registration struct {
	ConsumerID   string
	ConnID       uint64
	Topics       []string
	Metadata     map[string]string
	RegisteredAt time.Time
}

type SweepResult struct {
	Evicted  []Registration
	Duration time.Duration
}

type SweepStats struct {
	Runs         uint64
	Evicted      uint64
	LastDuration time.Duration
	LastSweep    time.Time
}

// Registry maps consumers to topic filters. A connection carries at most one
// consumer registration.
type Registry struct {
	mu         sync.RWMutex
	byConsumer map[string]*Registration
	byConn     map[uint64]string
	maxTopics  int
	clock      clock.Clock
	stats      SweepStats
}

// NewRegistry returns an empty registry. maxTopics <= 0 disables the cap.
func NewRegistry(maxTopics int, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		byConsumer: make(map[string]*Registration),
		byConn:     make(map[uint64]string),
		maxTopics:  maxTopics,
		clock:      clk,
	}
}

// Register replaces any previous registration for the same consumer or the
// same connection.
func (r *Registry) Register(connID uint64, reg records.ConsumerRegistration) (Registration, error) {
	if reg.ConsumerID == "" {
		return Registration{}, ErrMissingConsumer
	}
	if err := reg.Validate(); err != nil {
		return Registration{}, err
	}
	if r.maxTopics > 0 && len(reg.Topics) > r.maxTopics {
		return Registration{}, fmt.Errorf("%w: %d > %d", ErrTooManyTopics, len(reg.Topics), r.maxTopics)
	}
	entry := &Registration{
		ConsumerID:   reg.ConsumerID,
		ConnID:       connID,
		Topics:       slices.Clone(reg.Topics),
		Metadata:     maps.Clone(reg.Metadata),
		RegisteredAt: r.clock.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byConsumer[reg.ConsumerID]; ok && prev.ConnID != connID {
		delete(r.byConn, prev.ConnID)
	}
	if prevID, ok := r.byConn[connID]; ok && prevID != reg.ConsumerID {
		delete(r.byConsumer, prevID)
	}
	r.byConsumer[reg.ConsumerID] = entry
	r.byConn[connID] = reg.ConsumerID
	return *entry, nil
}

// FiltersFor returns the topic filters of the consumer on connID. The slice
// is shared and must not be modified.
func (r *Registry) FiltersFor(connID uint64) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	return r.byConsumer[id].Topics, true
}

func (r *Registry) Lookup(consumerID string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byConsumer[consumerID]
	if !ok {
		return Registration{}, false
	}
	return *entry, true
}

func (r *Registry) Remove(consumerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byConsumer[consumerID]
	if !ok {
		return false
	}
	delete(r.byConsumer, consumerID)
	delete(r.byConn, entry.ConnID)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConsumer)
}

// Snapshot returns all registrations ordered by consumer id.
func (r *Registry) Snapshot() []Registration {
	r.mu.RLock()
	out := make([]Registration, 0, len(r.byConsumer))
	for _, entry := range r.byConsumer {
		out = append(out, *entry)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Registration) int {
		switch {
		case a.ConsumerID < b.ConsumerID:
			return -1
		case a.ConsumerID > b.ConsumerID:
			return 1
		}
		return 0
	})
	return out
}

// Sweep evicts every consumer whose connection isStale reports as gone.
func (r *Registry) Sweep(isStale func(connID uint64) bool) SweepResult {
	start := r.clock.Now()
	var evicted []Registration

	r.mu.Lock()
	for id, entry := range r.byConsumer {
		if !isStale(entry.ConnID) {
			continue
		}
		evicted = append(evicted, *entry)
		delete(r.byConsumer, id)
		delete(r.byConn, entry.ConnID)
	}
	took := r.clock.Since(start)
	r.stats.Runs++
	r.stats.Evicted += uint64(len(evicted))
	r.stats.LastDuration = took
	r.stats.LastSweep = start
	r.mu.Unlock()

	return SweepResult{Evicted: evicted, Duration: took}
}

func (r *Registry) Stats() SweepStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

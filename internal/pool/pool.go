// Package pool bounds concurrent connections per logical target.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/edgerelay/internal/protocol"
)

var ErrPoolExhausted = errors.New("pool: exhausted")

type PoolExhaustedError struct {
	Target string
	Active int64
	Max    int64
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("pool: %s exhausted (%d/%d active)", e.Target, e.Active, e.Max)
}

func (e *PoolExhaustedError) Unwrap() error { return ErrPoolExhausted }

func (e *PoolExhaustedError) Category() protocol.Category { return protocol.CategoryTransport }

// Pool counts active connections to one target.
type Pool struct {
	target    string
	max       int64
	preferred int64
	active    atomic.Int64
	acquired  atomic.Uint64
	rejected  atomic.Uint64
}

// New returns a pool. limit <= 0 means unbounded; preferred is clamped to limit.
func New(target string, limit, preferred int) *Pool {
	p := &Pool{target: target, max: int64(limit), preferred: int64(preferred)}
	if p.max > 0 && p.preferred > p.max {
		p.preferred = p.max
	}
	if p.preferred < 0 {
		p.preferred = 0
	}
	return p
}

func (p *Pool) Target() string { return p.target }

// TryAcquire reserves one slot. The caller must Release the guard on every
// exit path, typically with defer.
func (p *Pool) TryAcquire() (*Guard, error) {
	if p.max > 0 && p.active.Load() >= p.max {
		p.rejected.Add(1)
		return nil, &PoolExhaustedError{Target: p.target, Active: p.active.Load(), Max: p.max}
	}
	n := p.active.Add(1)
	if p.max > 0 && n > p.max {
		p.active.Add(-1)
		p.rejected.Add(1)
		return nil, &PoolExhaustedError{Target: p.target, Active: n - 1, Max: p.max}
	}
	p.acquired.Add(1)
	return &Guard{pool: p}, nil
}

func (p *Pool) Active() int64 {
	return p.active.Load()
}

func (p *Pool) Stats() Stats {
	return Stats{
		Target:    p.target,
		Active:    p.active.Load(),
		Max:       p.max,
		Preferred: p.preferred,
		Acquired:  p.acquired.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Guard is one reserved slot.
type Guard struct {
	pool     *Pool
	released atomic.Bool
}

// Release returns the slot. Calling it more than once is a no-op.
func (g *Guard) Release() {
	if g == nil || !g.released.CompareAndSwap(false, true) {
		return
	}
	g.pool.active.Add(-1)
}

// Stats is a monitoring snapshot; nothing scales automatically from it.
type Stats struct {
	Target    string
	Active    int64
	Max       int64
	Preferred int64
	Acquired  uint64
	Rejected  uint64
}

func (s Stats) Utilization() float64 {
	if s.Max <= 0 {
		return 0
	}
	return float64(s.Active) / float64(s.Max)
}

func (s Stats) UnderUtilized() bool { return s.Utilization() < 0.5 }

func (s Stats) OverUtilized() bool { return s.Utilization() > 0.9 }

func (s Stats) NeedsScaling() bool { return s.Active < s.Preferred }

// Manager keeps one Pool per target, created on first use.
type Manager struct {
	mu        sync.Mutex
	pools     map[string]*Pool
	max       int
	preferred int
}

func NewManager(limit, preferred int) *Manager {
	return &Manager{pools: make(map[string]*Pool), max: limit, preferred: preferred}
}

func (m *Manager) Pool(target string) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[target]
	if !ok {
		p = New(target, m.max, m.preferred)
		m.pools[target] = p
	}
	return p
}

func (m *Manager) Acquire(target string) (*Guard, error) {
	return m.Pool(target).TryAcquire()
}

// Stats returns a snapshot for every known target.
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()
	out := make([]Stats, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Stats())
	}
	return out
}

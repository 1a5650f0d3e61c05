package relay

import (
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

type connState int32

const (
	stateAccepted connState = iota
	stateActive
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateAccepted:
		return "accepted"
	case stateActive:
		return "active"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// connection is one accepted client. It is both a source (read loop) and a
// destination (write loop) of broadcast traffic.
type connection struct {
	id     uint64
	conn   net.Conn
	remote string
	opened time.Time

	state      atomic.Int32
	lastActive atomic.Int64

	// read loop only
	failures int
	logLimit *rate.Limiter

	teardown sync.Once
}

func newConnection(id uint64, conn net.Conn, now time.Time, logLimit *rate.Limiter) *connection {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	c := &connection{id: id, conn: conn, remote: remote, opened: now, logLimit: logLimit}
	c.lastActive.Store(now.UnixNano())
	return c
}

// advance moves the state forward; it never moves backwards, so Closed is
// terminal.
func (c *connection) advance(to connState) bool {
	for {
		cur := connState(c.state.Load())
		if cur >= to {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(to)) {
			return true
		}
	}
}

func (c *connection) currentState() connState {
	return connState(c.state.Load())
}

func (c *connection) touch(now time.Time) {
	c.lastActive.Store(now.UnixNano())
}

func (c *connection) idleSince() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// ConnInfo is a read-only view of one connection.
type ConnInfo struct {
	ID         uint64    `json:"id"`
	Remote     string    `json:"remote"`
	State      string    `json:"state"`
	Opened     time.Time `json:"opened"`
	LastActive time.Time `json:"last_active"`
	Dropped    uint64    `json:"dropped"`
}

// connTable is the engine's id-keyed registry of live connections.
type connTable struct {
	mu    sync.RWMutex
	conns map[uint64]*connection
}

func newConnTable() *connTable {
	return &connTable{conns: make(map[uint64]*connection)}
}

func (t *connTable) add(c *connection) {
	t.mu.Lock()
	t.conns[c.id] = c
	t.mu.Unlock()
}

func (t *connTable) remove(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.conns[id]; !ok {
		return false
	}
	delete(t.conns, id)
	return true
}

func (t *connTable) get(id uint64) (*connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[id]
	return c, ok
}

func (t *connTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

func (t *connTable) snapshot() []*connection {
	t.mu.RLock()
	out := make([]*connection, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b *connection) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

// closeAll closes every socket; teardown happens in each connection's own
// goroutine.
func (t *connTable) closeAll() error {
	var err error
	for _, c := range t.snapshot() {
		c.advance(stateClosing)
		err = multierr.Append(err, ignoreClosed(c.conn.Close()))
	}
	return err
}

package relay

import (
	"sync"
	"sync/atomic"

	"github.com/danmuck/edgerelay/internal/topics"
)

// envelope is one admitted message on its way to subscribers.
type envelope struct {
	origin uint64
	raw    []byte
	topic  string
}

type subscriber struct {
	connID  uint64
	queue   chan []byte
	dropped atomic.Uint64
}

// hub fans admitted messages out to per-connection queues. Queues are never
// closed; an unsubscribed queue is simply forgotten.
type hub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]*subscriber)}
}

func (h *hub) subscribe(connID uint64, size int) *subscriber {
	s := &subscriber{connID: connID, queue: make(chan []byte, size)}
	h.mu.Lock()
	h.subs[connID] = s
	h.mu.Unlock()
	return s
}

func (h *hub) unsubscribe(connID uint64) {
	h.mu.Lock()
	delete(h.subs, connID)
	h.mu.Unlock()
}

func (h *hub) dropped(connID uint64) uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s, ok := h.subs[connID]; ok {
		return s.dropped.Load()
	}
	return 0
}

type fanout struct {
	enqueued int
	dropped  int
	filtered int
}

// filterFunc returns the topic filters registered for a connection.
type filterFunc func(connID uint64) ([]string, bool)

// broadcast never blocks: a full queue drops the message for that
// subscriber only.
func (h *hub) broadcast(env envelope, echo bool, filters filterFunc) fanout {
	var out fanout
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.subs {
		if id == env.origin && !echo {
			continue
		}
		if filters != nil {
			if f, ok := filters(id); ok && !topics.Matches(f, env.topic) {
				out.filtered++
				continue
			}
		}
		select {
		case s.queue <- env.raw:
			out.enqueued++
		default:
			s.dropped.Add(1)
			out.dropped++
		}
	}
	return out
}

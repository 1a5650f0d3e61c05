package relay

import (
	"sync/atomic"

	"github.com/danmuck/edgerelay/internal/pool"
	"github.com/danmuck/edgerelay/internal/topics"
)

type counters struct {
	connsAccepted atomic.Uint64
	connsRejected atomic.Uint64
	connsClosed   atomic.Uint64
	acceptErrors  atomic.Uint64

	received  atomic.Uint64
	admitted  atomic.Uint64
	rejected  atomic.Uint64
	control   atomic.Uint64
	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	filtered  atomic.Uint64
	delivered atomic.Uint64

	registrations atomic.Uint64
	heartbeats    atomic.Uint64
	failureCloses atomic.Uint64
}

// Stats is a point-in-time snapshot of one engine.
type Stats struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Endpoint string `json:"endpoint"`

	ActiveConnections   int    `json:"active_connections"`
	AcceptedConnections uint64 `json:"accepted_connections"`
	RejectedConnections uint64 `json:"rejected_connections"`
	ClosedConnections   uint64 `json:"closed_connections"`
	AcceptErrors        uint64 `json:"accept_errors"`
	FailureDisconnects  uint64 `json:"failure_disconnects"`

	Received  uint64 `json:"received"`
	Admitted  uint64 `json:"admitted"`
	Rejected  uint64 `json:"rejected"`
	Control   uint64 `json:"control"`
	Enqueued  uint64 `json:"enqueued"`
	Dropped   uint64 `json:"dropped"`
	Filtered  uint64 `json:"filtered"`
	Delivered uint64 `json:"delivered"`

	Registrations       uint64            `json:"registrations"`
	Heartbeats          uint64            `json:"heartbeats"`
	RegisteredConsumers int               `json:"registered_consumers"`
	Sweep               topics.SweepStats `json:"sweep"`
	Pool                pool.Stats        `json:"pool"`
}

package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerelay",
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"relay", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgerelay",
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"relay", "method", "path", "status"},
	)
	relayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerelay",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Messages seen by the relay, by outcome.",
		},
		[]string{"relay", "domain", "outcome"},
	)
	relayRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerelay",
			Subsystem: "relay",
			Name:      "rejected_total",
			Help:      "Inbound messages dropped by validation or admission.",
		},
		[]string{"relay", "domain", "reason", "category"},
	)
	relayConnEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerelay",
			Subsystem: "relay",
			Name:      "connection_events_total",
			Help:      "Connection lifecycle events.",
		},
		[]string{"relay", "domain", "event"},
	)
	relayActiveConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "edgerelay",
			Subsystem: "relay",
			Name:      "active_connections",
			Help:      "Currently connected clients.",
		},
		[]string{"relay", "domain"},
	)
	topicConsumers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "edgerelay",
			Subsystem: "topics",
			Name:      "registered_consumers",
			Help:      "Consumers with an active topic registration.",
		},
		[]string{"relay"},
	)
	topicEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerelay",
			Subsystem: "topics",
			Name:      "evicted_total",
			Help:      "Consumers evicted by the stale sweep.",
		},
		[]string{"relay"},
	)
	topicSweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgerelay",
			Subsystem: "topics",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one stale consumer sweep.",
			Buckets:   []float64{.00001, .0001, .001, .01, .1, 1},
		},
		[]string{"relay"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			relayMessages,
			relayRejects,
			relayConnEvents,
			relayActiveConns,
			topicConsumers,
			topicEvicted,
			topicSweepDuration,
		)
	})
}

func RecordHTTPRequest(relay, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(relay, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(relay, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordMessages adds n to the counter for one message outcome
// (received, admitted, control, enqueued, dropped, filtered, delivered).
func RecordMessages(relay, domain, outcome string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	relayMessages.WithLabelValues(relay, domain, outcome).Add(float64(n))
}

func RecordReject(relay, domain, reason, category string) {
	RegisterMetrics()
	relayRejects.WithLabelValues(relay, domain, reason, category).Inc()
}

func RecordConnectionEvent(relay, domain, event string) {
	RegisterMetrics()
	relayConnEvents.WithLabelValues(relay, domain, event).Inc()
}

func SetActiveConnections(relay, domain string, n int) {
	RegisterMetrics()
	relayActiveConns.WithLabelValues(relay, domain).Set(float64(n))
}

func SetRegisteredConsumers(relay string, n int) {
	RegisterMetrics()
	topicConsumers.WithLabelValues(relay).Set(float64(n))
}

func RecordSweep(relay string, evicted int, duration time.Duration) {
	RegisterMetrics()
	topicEvicted.WithLabelValues(relay).Add(float64(evicted))
	topicSweepDuration.WithLabelValues(relay).Observe(duration.Seconds())
}

package observability

import (
	"testing"
	"time"

	"github.com/danmuck/edgerelay/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)

	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("relay-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordMessages("relay-a", "market_data", "admitted", 3)
	RecordMessages("relay-a", "market_data", "admitted", 0)
	RecordReject("relay-a", "market_data", "checksum_mismatch", "integrity")
	RecordConnectionEvent("relay-a", "market_data", "accepted")
	SetActiveConnections("relay-a", "market_data", 2)
	SetRegisteredConsumers("relay-a", 1)
	RecordSweep("relay-a", 2, time.Millisecond)

	if got := testutil.ToFloat64(relayMessages.WithLabelValues("relay-a", "market_data", "admitted")); got != 3 {
		t.Fatalf("admitted counter=%v want 3", got)
	}
	if got := testutil.ToFloat64(relayActiveConns.WithLabelValues("relay-a", "market_data")); got != 2 {
		t.Fatalf("active gauge=%v want 2", got)
	}
	if got := testutil.ToFloat64(topicEvicted.WithLabelValues("relay-a")); got != 2 {
		t.Fatalf("evicted counter=%v want 2", got)
	}
}

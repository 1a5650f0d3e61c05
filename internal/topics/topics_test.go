package topics

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/protocol/records"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/danmuck/edgerelay/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	testlog.Start(t)

	filters := []string{"arbitrage.*"}
	assert.True(t, Matches(filters, "arbitrage.flash"))
	assert.True(t, Matches(filters, "arbitrage."))
	assert.False(t, Matches(filters, "market.btc"))
	assert.False(t, Matches(filters, "arbitrag"))

	assert.True(t, Matches([]string{"*"}, "anything"))
	assert.True(t, Matches([]string{"risk.alerts"}, "risk.alerts"))
	assert.False(t, Matches([]string{"risk.alerts"}, "risk.alerts.high"))
	assert.False(t, Matches(nil, "risk"))
	assert.True(t, Matches([]string{"x", "risk*"}, "risk.alerts"))
}

func TestCategory(t *testing.T) {
	testlog.Start(t)

	assert.Equal(t, "arbitrage", Category("arbitrage.flash.v2"))
	assert.Equal(t, "plain", Category("plain"))
}

func TestRegisterReplacesWholesale(t *testing.T) {
	testlog.Start(t)

	r := NewRegistry(4, clock.NewMock())
	_, err := r.Register(1, records.ConsumerRegistration{ConsumerID: "c1", Topics: []string{"a.*", "b"}})
	require.NoError(t, err)
	_, err = r.Register(1, records.ConsumerRegistration{ConsumerID: "c1", Topics: []string{"c"}})
	require.NoError(t, err)

	filters, ok := r.FiltersFor(1)
	require.True(t, ok)
	assert.Equal(t, []string{"c"}, filters)
	assert.Equal(t, 1, r.Len())

	// same consumer moving to a new connection drops the old binding
	_, err = r.Register(2, records.ConsumerRegistration{ConsumerID: "c1", Topics: []string{"d"}})
	require.NoError(t, err)
	_, ok = r.FiltersFor(1)
	assert.False(t, ok)

	// a connection switching consumer ids drops the old consumer
	_, err = r.Register(2, records.ConsumerRegistration{ConsumerID: "c2", Topics: []string{"e"}})
	require.NoError(t, err)
	_, ok = r.Lookup("c1")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterRejects(t *testing.T) {
	testlog.Start(t)

	r := NewRegistry(2, nil)
	_, err := r.Register(1, records.ConsumerRegistration{Topics: []string{"a"}})
	assert.ErrorIs(t, err, ErrMissingConsumer)
	_, err = r.Register(1, records.ConsumerRegistration{ConsumerID: "c", Topics: []string{"a", "b", "c"}})
	assert.ErrorIs(t, err, ErrTooManyTopics)
	_, err = r.Register(1, records.ConsumerRegistration{ConsumerID: "c"})
	assert.ErrorIs(t, err, records.ErrInvalidRegistration)
	assert.Zero(t, r.Len())
}

func TestSweepEvictsStale(t *testing.T) {
	testlog.Start(t)

	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	r := NewRegistry(0, mock)
	for i, id := range []string{"a", "b", "c"} {
		_, err := r.Register(uint64(i+1), records.ConsumerRegistration{ConsumerID: id, Topics: []string{"*"}})
		require.NoError(t, err)
	}

	res := r.Sweep(func(connID uint64) bool { return connID == 2 })
	require.Len(t, res.Evicted, 1)
	assert.Equal(t, "b", res.Evicted[0].ConsumerID)
	assert.Equal(t, 2, r.Len())

	r.Sweep(func(uint64) bool { return false })
	stats := r.Stats()
	assert.Equal(t, uint64(2), stats.Runs)
	assert.Equal(t, uint64(1), stats.Evicted)
	assert.Equal(t, mock.Now(), stats.LastSweep)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ConsumerID)
	assert.Equal(t, "c", snap[1].ConsumerID)
}

func TestExtractor(t *testing.T) {
	testlog.Start(t)

	raw, err := records.BuildSignal(schema.SourceArbitrageStrategy, 1, "arbitrage.flash", schema.TypeArbitrageSignal, []byte{1})
	require.NoError(t, err)
	msg, err := protocol.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "arbitrage.flash", Extractor{Strategy: StrategyTLV, Default: "signals"}.Extract(msg))
	assert.Equal(t, "source.arbitrage_strategy", Extractor{Strategy: StrategySource}.Extract(msg))
	assert.Equal(t, "fixed.topic", Extractor{Strategy: StrategyFixed, Fixed: "fixed.topic"}.Extract(msg))

	plain, err := protocol.NewBuilder(schema.DomainSignal, schema.SourceMarketMaker).
		Add(schema.TypeEconomics, []byte{1, 2}).
		Build()
	require.NoError(t, err)
	msg, err = protocol.Parse(plain)
	require.NoError(t, err)
	assert.Equal(t, "signals", Extractor{Strategy: StrategyTLV, Default: "signals"}.Extract(msg))

	s, err := ParseStrategy("SOURCE")
	require.NoError(t, err)
	assert.Equal(t, StrategySource, s)
	_, err = ParseStrategy("header")
	assert.Error(t, err)
}

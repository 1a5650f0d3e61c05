package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/edgerelay/internal/client"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/protocol/frame"
	"github.com/danmuck/edgerelay/internal/protocol/records"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/danmuck/edgerelay/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// socketPath keeps unix socket paths short; t.TempDir can exceed sun_path.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "er")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "relay.sock")
}

func startEngine(t *testing.T, domain schema.RelayDomain, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig(domain)
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(NewDomainLogic(domain, socketPath(t)), cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, e.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return e
}

func dial(t *testing.T, e *Engine, source schema.SourceType) *client.Conn {
	t.Helper()
	cfg := client.DefaultConfig(e.Addr())
	cfg.Source = source
	conn, err := client.Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitConns(t *testing.T, e *Engine, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.Stats().ActiveConnections == n }, waitFor, 5*time.Millisecond)
}

func readMessage(t *testing.T, c *client.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	msg, err := c.ReadMessage()
	require.NoError(t, err)
	return msg
}

func expectSilence(t *testing.T, c *client.Conn) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	raw, err := c.ReadRaw()
	require.Error(t, err, "unexpected message of %d bytes", len(raw))
	var nerr net.Error
	require.True(t, errors.As(err, &nerr) && nerr.Timeout(), "want timeout, got %v", err)
}

func expectClosed(t *testing.T, c *client.Conn) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	_, err := c.ReadRaw()
	require.ErrorIs(t, err, io.EOF)
}

func trade(t *testing.T, seq uint64, price int64) []byte {
	t.Helper()
	raw, err := records.BuildTrade(schema.SourceKrakenCollector, seq, records.Trade{
		InstrumentID: 7,
		Side:         records.SideBuy,
		Price:        price,
		Volume:       150_000_000,
	})
	require.NoError(t, err)
	return raw
}

func signal(t *testing.T, seq uint64, topic string) []byte {
	t.Helper()
	raw, err := records.BuildSignal(schema.SourceArbitrageStrategy, seq, topic, schema.TypeArbitrageSignal, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	return raw
}

func TestFanOutSkipsSender(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, nil)
	a := dial(t, e, schema.SourceKrakenCollector)
	b := dial(t, e, schema.SourceDashboard)
	c := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 3)

	raw := trade(t, 1, 4_512_350_000_000)
	require.NoError(t, a.Send(raw))

	assert.Equal(t, raw, readMessage(t, b).Raw)
	assert.Equal(t, raw, readMessage(t, c).Raw)
	expectSilence(t, a)

	require.Eventually(t, func() bool {
		st := e.Stats()
		return st.Admitted == 1 && st.Enqueued == 2
	}, waitFor, 5*time.Millisecond)
}

func TestEchoToSender(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, func(c *Config) { c.EchoToSender = true })
	a := dial(t, e, schema.SourceKrakenCollector)
	b := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 2)

	raw := trade(t, 1, 100)
	require.NoError(t, a.Send(raw))
	assert.Equal(t, raw, readMessage(t, a).Raw)
	assert.Equal(t, raw, readMessage(t, b).Raw)
}

func TestEndToEndTrade(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, nil)
	producer := dial(t, e, schema.SourceKrakenCollector)
	consumer := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 2)

	require.NoError(t, producer.Send(trade(t, 42, 4_512_350_000_000)))

	msg := readMessage(t, consumer)
	assert.Equal(t, schema.DomainMarketData, msg.Header.Domain)
	assert.Equal(t, schema.SourceKrakenCollector, msg.Header.Source)
	assert.EqualValues(t, 42, msg.Header.Sequence)
	rec, ok := msg.Find(schema.TypeTrade)
	require.True(t, ok)
	got, err := records.DecodeTrade(rec.Value)
	require.NoError(t, err)
	assert.EqualValues(t, 4_512_350_000_000, got.Price)
	assert.InDelta(t, 45123.5, got.PriceFloat(), 1e-9)
	assert.Equal(t, records.SideBuy, got.Side)
	assert.NoError(t, frame.VerifyChecksum(msg.Raw))
}

func TestOrderPreserved(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, nil)
	a := dial(t, e, schema.SourceKrakenCollector)
	b := dial(t, e, schema.SourceDashboard)
	c := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 3)

	const n = 50
	for i := 1; i <= n; i++ {
		require.NoError(t, a.Send(trade(t, uint64(i), int64(i))))
	}
	for _, sub := range []*client.Conn{b, c} {
		for i := 1; i <= n; i++ {
			assert.EqualValues(t, i, readMessage(t, sub).Header.Sequence)
		}
	}
}

func TestDomainMismatchNotForwarded(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, nil)
	a := dial(t, e, schema.SourceKrakenCollector)
	b := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 2)

	require.NoError(t, a.Send(signal(t, 1, "arbitrage.btc")))
	expectSilence(t, b)
	require.Eventually(t, func() bool { return e.Stats().Rejected == 1 }, waitFor, 5*time.Millisecond)

	raw := trade(t, 2, 100)
	require.NoError(t, a.Send(raw))
	assert.Equal(t, raw, readMessage(t, b).Raw)
}

func TestCorruptMessageDroppedConnectionKept(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, nil)
	a := dial(t, e, schema.SourceKrakenCollector)
	b := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 2)

	bad := trade(t, 1, 100)
	bad[len(bad)-1] ^= 0x01
	require.NoError(t, a.Send(bad))
	expectSilence(t, b)

	good := trade(t, 2, 100)
	require.NoError(t, a.Send(good))
	assert.Equal(t, good, readMessage(t, b).Raw)

	st := e.Stats()
	assert.EqualValues(t, 1, st.Rejected)
	assert.Equal(t, 2, st.ActiveConnections)
}

func TestGarbageResyncs(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, nil)
	a := dial(t, e, schema.SourceKrakenCollector)
	b := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 2)

	good := trade(t, 1, 100)
	stream := append([]byte("noise before the frame"), good...)
	require.NoError(t, a.Send(stream))
	assert.Equal(t, good, readMessage(t, b).Raw)
}

func TestConsecutiveFailuresDisconnect(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, func(c *Config) { c.MaxConsecutiveFailures = 3 })
	a := dial(t, e, schema.SourceKrakenCollector)
	waitConns(t, e, 1)

	for i := 0; i < 3; i++ {
		bad := trade(t, uint64(i), 100)
		bad[frame.HeaderLen+3] ^= 0xFF
		require.NoError(t, a.Send(bad))
	}
	expectClosed(t, a)
	require.Eventually(t, func() bool { return e.Stats().FailureDisconnects == 1 }, waitFor, 5*time.Millisecond)
	waitConns(t, e, 0)
}

func TestFailureCounterResetsOnSuccess(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, func(c *Config) { c.MaxConsecutiveFailures = 2 })
	a := dial(t, e, schema.SourceKrakenCollector)
	b := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 2)

	for i := 0; i < 3; i++ {
		bad := trade(t, 1, 100)
		bad[len(bad)-1] ^= 0x01
		require.NoError(t, a.Send(bad))
		require.NoError(t, a.Send(trade(t, uint64(i+1), 100)))
		assert.EqualValues(t, i+1, readMessage(t, b).Header.Sequence)
	}
	assert.EqualValues(t, 0, e.Stats().FailureDisconnects)
}

func TestControlMessagesNotBroadcast(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, nil)
	a := dial(t, e, schema.SourceKrakenCollector)
	b := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 2)

	require.NoError(t, a.Heartbeat())
	expectSilence(t, b)
	require.Eventually(t, func() bool { return e.Stats().Heartbeats == 1 }, waitFor, 5*time.Millisecond)
	assert.EqualValues(t, 0, e.Stats().Rejected)
}

func TestAssignSequence(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, func(c *Config) { c.AssignSequence = true })
	a := dial(t, e, schema.SourceKrakenCollector)
	b := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 2)

	require.NoError(t, a.Send(trade(t, 0, 100)))
	require.NoError(t, a.Send(trade(t, 0, 200)))
	assert.EqualValues(t, 1, readMessage(t, b).Header.Sequence)
	assert.EqualValues(t, 2, readMessage(t, b).Header.Sequence)
}

func TestTopicFiltering(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainSignal, nil)
	producer := dial(t, e, schema.SourceArbitrageStrategy)
	filtered := dial(t, e, schema.SourceDashboard)
	everything := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 3)

	require.NoError(t, filtered.Register(records.ConsumerRegistration{
		ConsumerID: "dashboard-1",
		Topics:     []string{"arbitrage.*"},
	}))
	require.Eventually(t, func() bool { return e.Registry().Len() == 1 }, waitFor, 5*time.Millisecond)

	arb := signal(t, 1, "arbitrage.kraken")
	trend := signal(t, 2, "trend.btc")
	require.NoError(t, producer.Send(arb))
	require.NoError(t, producer.Send(trend))

	assert.Equal(t, arb, readMessage(t, filtered).Raw)
	expectSilence(t, filtered)
	assert.Equal(t, arb, readMessage(t, everything).Raw)
	assert.Equal(t, trend, readMessage(t, everything).Raw)
	require.Eventually(t, func() bool { return e.Stats().Filtered == 1 }, waitFor, 5*time.Millisecond)
}

func TestRegistrationAssignsConsumerID(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainSignal, nil)
	c := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 1)

	require.NoError(t, c.Register(records.ConsumerRegistration{Topics: []string{"*"}}))
	require.Eventually(t, func() bool { return e.Registry().Len() == 1 }, waitFor, 5*time.Millisecond)
	snap := e.Registry().Snapshot()
	require.Len(t, snap, 1)
	assert.Regexp(t, `^consumer_[0-9a-f-]{36}$`, snap[0].ConsumerID)
}

func TestRegistrationIgnoredWhenTopicsDisabled(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, nil)
	a := dial(t, e, schema.SourceKrakenCollector)
	b := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 2)

	require.NoError(t, b.Register(records.ConsumerRegistration{ConsumerID: "b", Topics: []string{"nothing"}}))
	require.Eventually(t, func() bool { return e.Stats().Control == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 0, e.Registry().Len())

	raw := trade(t, 1, 100)
	require.NoError(t, a.Send(raw))
	assert.Equal(t, raw, readMessage(t, b).Raw)
}

func TestSweepEvictsIdleConsumer(t *testing.T) {
	testlog.Start(t)
	mock := clock.NewMock()
	e := startEngine(t, schema.DomainSignal, nil, WithClock(mock))
	c := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 1)

	require.NoError(t, c.Register(records.ConsumerRegistration{ConsumerID: "idle", Topics: []string{"*"}}))
	require.Eventually(t, func() bool { return e.Registry().Len() == 1 }, waitFor, 5*time.Millisecond)

	mock.Add(10 * time.Second)
	e.Sweep()
	assert.Equal(t, 1, e.Registry().Len())

	mock.Add(25 * time.Second)
	res := e.Sweep()
	require.Eventually(t, func() bool { return e.Registry().Len() == 0 }, waitFor, 5*time.Millisecond)
	if len(res.Evicted) == 1 {
		assert.Equal(t, "idle", res.Evicted[0].ConsumerID)
	}
	expectClosed(t, c)
	waitConns(t, e, 0)
}

func TestSweepEvictsDisconnectedConsumer(t *testing.T) {
	testlog.Start(t)
	mock := clock.NewMock()
	e := startEngine(t, schema.DomainSignal, nil, WithClock(mock))
	c := dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 1)

	require.NoError(t, c.Register(records.ConsumerRegistration{ConsumerID: "gone", Topics: []string{"*"}}))
	require.Eventually(t, func() bool { return e.Registry().Len() == 1 }, waitFor, 5*time.Millisecond)
	require.NoError(t, c.Close())
	waitConns(t, e, 0)

	res := e.Sweep()
	require.Len(t, res.Evicted, 1)
	assert.Equal(t, "gone", res.Evicted[0].ConsumerID)
	assert.EqualValues(t, 1, e.Registry().Stats().Evicted)
}

func TestPoolExhaustionRejectsConnection(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, func(c *Config) {
		c.MaxConnections = 1
		c.PreferredConnections = 1
	})
	a := dial(t, e, schema.SourceKrakenCollector)
	waitConns(t, e, 1)

	b := dial(t, e, schema.SourceDashboard)
	expectClosed(t, b)
	require.Eventually(t, func() bool { return e.Stats().RejectedConnections == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, a.Close())
	waitConns(t, e, 0)
	require.Eventually(t, func() bool { return e.Stats().Pool.Active == 0 }, waitFor, 5*time.Millisecond)

	dial(t, e, schema.SourceDashboard)
	waitConns(t, e, 1)
}

func TestCloseIsIdempotentAndUnbinds(t *testing.T) {
	testlog.Start(t)
	e := startEngine(t, schema.DomainMarketData, nil)
	a := dial(t, e, schema.SourceKrakenCollector)
	waitConns(t, e, 1)
	path := e.Addr()

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Healthy(), ErrEngineClosed)
	assert.ErrorIs(t, e.Listen(), ErrEngineClosed)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	expectClosed(t, a)
}

func TestListenRemovesStaleSocket(t *testing.T) {
	testlog.Start(t)
	path := socketPath(t)
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())
	_, err = os.Stat(path)
	require.NoError(t, err)

	e, err := NewEngine(MarketDataLogic(path), Config{})
	require.NoError(t, err)
	require.NoError(t, e.Listen())
	require.NoError(t, e.Healthy())
	require.NoError(t, e.Close())
}

func TestListenRefusesRegularFile(t *testing.T) {
	testlog.Start(t)
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, []byte("keep me"), 0o600))

	e, err := NewEngine(MarketDataLogic(path), Config{})
	require.NoError(t, err)
	require.ErrorIs(t, e.Listen(), ErrInvalidConfig)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(b))
}

func TestNewEngineValidates(t *testing.T) {
	testlog.Start(t)
	_, err := NewEngine(nil, Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(MarketDataLogic("/tmp/x.sock"), Config{Transport: "udp"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(SignalLogic("/tmp/x.sock"), Config{
		Topics: TopicConfig{Enabled: true, Extraction: "fixed"},
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(MarketDataLogic("/tmp/x.sock"), Config{MaxConnections: 2, PreferredConnections: 3})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDefaultConfig(t *testing.T) {
	testlog.Start(t)
	md := DefaultConfig(schema.DomainMarketData)
	assert.False(t, md.EchoToSender)
	assert.False(t, md.Topics.Enabled)
	assert.Equal(t, 64*1024, md.Policy.MaxMessageSize)
	assert.True(t, DefaultConfig(schema.DomainSignal).Topics.Enabled)
	assert.True(t, DefaultConfig(schema.DomainExecution).Policy.Strict)
}

func TestLogicFor(t *testing.T) {
	for _, d := range schema.Domains() {
		l, err := LogicFor(d, "")
		require.NoError(t, err)
		assert.Equal(t, d, l.Domain())
		assert.Equal(t, d.DefaultEndpoint(), l.Endpoint())
		assert.True(t, l.ShouldForward(frame.New(d, schema.SourceDashboard)))
	}
	_, err := LogicFor(schema.RelayDomain(9), "")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConnStateForwardOnly(t *testing.T) {
	c := &connection{}
	assert.True(t, c.advance(stateActive))
	assert.True(t, c.advance(stateClosed))
	assert.False(t, c.advance(stateClosing))
	assert.Equal(t, stateClosed, c.currentState())
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	h := newHub()
	h.subscribe(1, 1)
	h.subscribe(2, 1)

	out := h.broadcast(envelope{origin: 1, raw: []byte{1}}, false, nil)
	assert.Equal(t, fanout{enqueued: 1}, out)
	out = h.broadcast(envelope{origin: 1, raw: []byte{2}}, false, nil)
	assert.Equal(t, fanout{dropped: 1}, out)
	assert.EqualValues(t, 1, h.dropped(2))
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "checksum_mismatch", rejectReason(&frame.ChecksumMismatchError{}))
	assert.Equal(t, "not_forwardable", rejectReason(&NotForwardableError{}))
	assert.Equal(t, "other", rejectReason(errors.New("x")))
	assert.Equal(t, protocol.CategorySemantic, protocol.Classify(&NotForwardableError{}))
}

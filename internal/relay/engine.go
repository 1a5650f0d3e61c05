// Package relay runs one domain-scoped relay: it accepts clients on a local
// socket, validates every inbound message, and fans admitted messages out to
// every other client.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/edgerelay/internal/logging"
	"github.com/danmuck/edgerelay/internal/observability"
	"github.com/danmuck/edgerelay/internal/pool"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/danmuck/edgerelay/internal/protocol/validation"
	"github.com/danmuck/edgerelay/internal/topics"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

type Option func(*Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.log = logger }
}

func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

// Engine is one relay instance. All state (connections, pool, topic
// registry) is owned here; nothing is global except Prometheus collectors.
type Engine struct {
	logic Logic
	cfg   Config
	log   zerolog.Logger
	clock clock.Clock

	validator *validation.Validator
	control   *validation.Validator
	pool      *pool.Pool
	registry  *topics.Registry
	extractor topics.Extractor

	conns   *connTable
	hub     *hub
	ingress chan envelope

	nextConnID atomic.Uint64
	sequence   atomic.Uint64
	stats      counters

	mu      sync.Mutex
	ln      net.Listener
	cancel  context.CancelFunc
	serving bool
	closed  bool

	connWG sync.WaitGroup
}

func NewEngine(logic Logic, cfg Config, opts ...Option) (*Engine, error) {
	if logic == nil || !logic.Domain().Valid() {
		return nil, fmt.Errorf("%w: relay logic with a known domain is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(logic.Endpoint()) == "" {
		return nil, fmt.Errorf("%w: endpoint required", ErrInvalidConfig)
	}
	domain := logic.Domain()
	cfg = cfg.WithDefaults(domain)
	cfg.Policy.Domain = domain
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		logic: logic,
		cfg:   cfg,
		log:   logging.Component("relay"),
		clock: clock.New(),
		conns: newConnTable(),
		hub:   newHub(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("relay", cfg.Name).Str("domain", domain.String()).Logger()

	e.validator = validation.New(cfg.Policy)
	e.control = validation.New(validation.DefaultPolicy(schema.DomainSystem))
	e.pool = pool.New(logic.Endpoint(), cfg.MaxConnections, cfg.PreferredConnections)
	e.registry = topics.NewRegistry(cfg.Topics.MaxTopicsPerConsumer, e.clock)
	e.extractor = topics.Extractor{
		Strategy: cfg.Topics.Extraction,
		Fixed:    cfg.Topics.FixedTopic,
		Default:  cfg.Topics.DefaultTopic,
	}
	e.ingress = make(chan envelope, cfg.IngressBuffer)
	return e, nil
}

func (e *Engine) Logic() Logic { return e.logic }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Registry() *topics.Registry { return e.registry }

// Listen prepares the endpoint and binds the listener. For unix sockets the
// parent directory is created and a stale socket file is removed.
func (e *Engine) Listen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.ln != nil {
		return nil
	}
	endpoint := e.logic.Endpoint()
	if e.cfg.Transport == "unix" {
		if err := os.MkdirAll(filepath.Dir(endpoint), 0o755); err != nil {
			return fmt.Errorf("relay: create socket dir: %w", err)
		}
		if err := removeStaleSocket(endpoint); err != nil {
			return err
		}
	}
	ln, err := net.Listen(e.cfg.Transport, endpoint)
	if err != nil {
		return fmt.Errorf("relay: listen %s %s: %w", e.cfg.Transport, endpoint, err)
	}
	e.ln = ln
	e.log.Info().Str("transport", e.cfg.Transport).Str("addr", ln.Addr().String()).Msg("relay.Listen bound")
	return nil
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("relay: stat socket: %w", err)
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%w: %s exists and is not a socket", ErrInvalidConfig, path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("relay: remove stale socket: %w", err)
	}
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (e *Engine) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln == nil {
		return ""
	}
	if e.cfg.Transport == "unix" {
		return e.logic.Endpoint()
	}
	return e.ln.Addr().String()
}

// Run binds and serves until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Listen(); err != nil {
		return err
	}
	return e.Serve(ctx)
}

// Serve runs the accept loop, the dispatcher and the topic sweeper. It only
// returns after every connection has been torn down.
func (e *Engine) Serve(ctx context.Context) error {
	if err := e.Listen(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if e.serving {
		e.mu.Unlock()
		return fmt.Errorf("relay: %s already serving", e.cfg.Name)
	}
	e.serving = true
	e.cancel = cancel
	ln := e.ln
	e.mu.Unlock()

	var bg sync.WaitGroup
	bg.Add(2)
	go func() {
		defer bg.Done()
		e.dispatch(ctx)
	}()
	go func() {
		defer bg.Done()
		e.sweepLoop(ctx)
	}()
	go func() {
		<-ctx.Done()
		_ = e.Close()
	}()

	e.log.Info().Str("endpoint", e.logic.Endpoint()).Msg("relay.Serve accepting")
	e.acceptLoop(ctx, ln)

	e.connWG.Wait()
	cancel()
	bg.Wait()
	e.log.Info().Msg("relay.Serve stopped")
	return nil
}

func (e *Engine) acceptLoop(ctx context.Context, ln net.Listener) {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			e.stats.acceptErrors.Add(1)
			observability.RecordConnectionEvent(e.cfg.Name, e.domainLabel(), "accept_error")
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > time.Second {
				delay = time.Second
			}
			e.log.Warn().Err(err).Dur("retry_in", delay).Msg("relay.acceptLoop accept failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		delay = 0
		e.accept(ctx, conn)
	}
}

func (e *Engine) accept(ctx context.Context, conn net.Conn) {
	guard, err := e.pool.TryAcquire()
	if err != nil {
		e.stats.connsRejected.Add(1)
		observability.RecordConnectionEvent(e.cfg.Name, e.domainLabel(), "rejected")
		e.log.Warn().Err(err).Msg("relay.accept connection refused")
		_ = conn.Close()
		return
	}

	id := e.nextConnID.Add(1)
	c := newConnection(id, conn, e.clock.Now(), rate.NewLimiter(e.cfg.RejectLogRate, e.cfg.RejectLogBurst))
	e.conns.add(c)
	sub := e.hub.subscribe(id, e.cfg.SendBuffer)
	e.stats.connsAccepted.Add(1)
	observability.RecordConnectionEvent(e.cfg.Name, e.domainLabel(), "accepted")
	observability.SetActiveConnections(e.cfg.Name, e.domainLabel(), e.conns.len())
	e.log.Debug().Uint64("conn", id).Str("remote", c.remote).Int("active", e.conns.len()).Msg("relay.accept connected")

	e.connWG.Add(1)
	go func() {
		defer e.connWG.Done()
		defer guard.Release()
		e.serveConn(ctx, c, sub)
	}()
}

// Close stops accepting, closes every connection and unbinds the endpoint.
// It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	ln, cancel := e.ln, e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if ln != nil {
		err = multierr.Append(err, ignoreClosed(ln.Close()))
		if e.cfg.Transport == "unix" {
			if rmErr := os.Remove(e.logic.Endpoint()); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				err = multierr.Append(err, rmErr)
			}
		}
	}
	err = multierr.Append(err, e.conns.closeAll())
	return err
}

// Healthy reports whether the engine is bound and still open.
func (e *Engine) Healthy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return ErrEngineClosed
	case e.ln == nil:
		return errors.New("relay: not listening")
	}
	return nil
}

func (e *Engine) Stats() Stats {
	return Stats{
		Name:                e.cfg.Name,
		Domain:              e.domainLabel(),
		Endpoint:            e.logic.Endpoint(),
		ActiveConnections:   e.conns.len(),
		AcceptedConnections: e.stats.connsAccepted.Load(),
		RejectedConnections: e.stats.connsRejected.Load(),
		ClosedConnections:   e.stats.connsClosed.Load(),
		AcceptErrors:        e.stats.acceptErrors.Load(),
		FailureDisconnects:  e.stats.failureCloses.Load(),
		Received:            e.stats.received.Load(),
		Admitted:            e.stats.admitted.Load(),
		Rejected:            e.stats.rejected.Load(),
		Control:             e.stats.control.Load(),
		Enqueued:            e.stats.enqueued.Load(),
		Dropped:             e.stats.dropped.Load(),
		Filtered:            e.stats.filtered.Load(),
		Delivered:           e.stats.delivered.Load(),
		Registrations:       e.stats.registrations.Load(),
		Heartbeats:          e.stats.heartbeats.Load(),
		RegisteredConsumers: e.registry.Len(),
		Sweep:               e.registry.Stats(),
		Pool:                e.pool.Stats(),
	}
}

// Snapshot satisfies observability.AdminSource.
func (e *Engine) Snapshot() any {
	return struct {
		Stats       Stats                 `json:"stats"`
		Connections []ConnInfo            `json:"connections"`
		Consumers   []topics.Registration `json:"consumers"`
	}{
		Stats:       e.Stats(),
		Connections: e.Connections(),
		Consumers:   e.registry.Snapshot(),
	}
}

// Connections lists live connections ordered by id.
func (e *Engine) Connections() []ConnInfo {
	conns := e.conns.snapshot()
	out := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, ConnInfo{
			ID:         c.id,
			Remote:     c.remote,
			State:      c.currentState().String(),
			Opened:     c.opened,
			LastActive: c.idleSince(),
			Dropped:    e.hub.dropped(c.id),
		})
	}
	return out
}

func (e *Engine) domainLabel() string {
	return e.logic.Domain().String()
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Package client connects producers and consumers to a relay endpoint.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgerelay/internal/pool"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/protocol/frame"
	"github.com/danmuck/edgerelay/internal/protocol/records"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/danmuck/edgerelay/internal/protocol/validation"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrEndpointRequired = errors.New("client: endpoint required")
	ErrClosed           = errors.New("client: connection closed")
)

type Config struct {
	Endpoint           string
	Transport          string
	Source             schema.SourceType
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	MaxMessageSize     int
	Backoff            BackoffConfig
}

func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:           endpoint,
		Transport:          "unix",
		Source:             schema.SourceDashboard,
		ConnectTimeout:     2 * time.Second,
		WriteTimeout:       2 * time.Second,
		MaxConnectAttempts: 5,
		Backoff:            DefaultBackoff(),
	}
}

type Option func(*Client)

// WithPool bounds how many connections this process opens per endpoint.
func WithPool(m *pool.Manager) Option {
	return func(c *Client) { c.pools = m }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

type Client struct {
	cfg   Config
	rng   *rand.Rand
	pools *pool.Manager
	log   zerolog.Logger
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrEndpointRequired
	}
	if cfg.Transport == "" {
		cfg.Transport = "unix"
	}
	if !cfg.Source.Valid() {
		cfg.Source = schema.SourceDashboard
	}
	c := &Client{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		log: log.Logger.With().Str("component", "client").Str("endpoint", cfg.Endpoint).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dial is New followed by Connect.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Conn, error) {
	c, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return c.Connect(ctx)
}

// Connect dials the endpoint, retrying with backoff until MaxConnectAttempts
// is reached (<= 0 retries until ctx is done).
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	var guard *pool.Guard
	if c.pools != nil {
		g, err := c.pools.Acquire(c.cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		guard = g
	}

	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
		raw, err := dialer.DialContext(ctx, c.cfg.Transport, c.cfg.Endpoint)
		if err == nil {
			c.log.Debug().Int("attempt", attempt).Msg("client.Connect connected")
			return c.wrap(raw, guard), nil
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("client.Connect dial failed")
		if !c.shouldRetry(attempt) {
			guard.Release()
			return nil, fmt.Errorf("client: dial %s: %w", c.cfg.Endpoint, err)
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			guard.Release()
			return nil, err
		}
	}
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := c.cfg.Backoff.Delay(attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) wrap(raw net.Conn, guard *pool.Guard) *Conn {
	policy := validation.Policy{VerifyChecksum: true, MaxMessageSize: c.cfg.MaxMessageSize}
	return &Conn{
		conn:      raw,
		reader:    frame.NewReader(raw, frame.LimitsForMessageSize(c.cfg.MaxMessageSize)),
		validator: validation.New(policy),
		guard:     guard,
		source:    c.cfg.Source,
		writeWait: c.cfg.WriteTimeout,
	}
}

// Conn is one relay connection. Sends are safe for concurrent use; reads
// must come from a single goroutine.
type Conn struct {
	conn      net.Conn
	reader    *frame.Reader
	validator *validation.Validator
	guard     *pool.Guard
	source    schema.SourceType
	writeWait time.Duration

	wmu       sync.Mutex
	heartbeat uint64

	closeOnce sync.Once
	closeErr  error
}

// Send writes one complete, already finalized message.
func (c *Conn) Send(raw []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeWait > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	}
	return frame.WriteMessage(c.conn, raw)
}

// Register subscribes this connection to topic patterns.
func (c *Conn) Register(reg records.ConsumerRegistration) error {
	raw, err := records.BuildRegistration(c.source, reg)
	if err != nil {
		return err
	}
	return c.Send(raw)
}

func (c *Conn) Heartbeat() error {
	c.wmu.Lock()
	c.heartbeat++
	seq := c.heartbeat
	c.wmu.Unlock()
	raw, err := records.BuildHeartbeat(c.source, seq)
	if err != nil {
		return err
	}
	return c.Send(raw)
}

// ReadRaw returns the next complete message without validating it.
func (c *Conn) ReadRaw() ([]byte, error) {
	return c.reader.Next()
}

// ReadMessage returns the next message after checksum and structure checks.
// A corrupted message yields an error but leaves the connection usable.
func (c *Conn) ReadMessage() (protocol.Message, error) {
	raw, err := c.reader.Next()
	if err != nil {
		return protocol.Message{}, err
	}
	return c.validator.Validate(raw)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		c.guard.Release()
	})
	return c.closeErr
}

package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/danmuck/edgerelay/internal/protocol/validation"
	"github.com/danmuck/edgerelay/internal/topics"
	"golang.org/x/time/rate"
)

// TopicConfig controls topic routing for one engine.
type TopicConfig struct {
	Enabled              bool
	Extraction           topics.Strategy
	DefaultTopic         string
	FixedTopic           string
	MaxTopicsPerConsumer int
	CleanupInterval      time.Duration
	ConnectionTimeout    time.Duration
}

// Config is the runtime configuration of one Engine.
type Config struct {
	Name      string
	Transport string

	// EchoToSender delivers a broadcast back to the connection that sent it.
	EchoToSender   bool
	AssignSequence bool

	Policy                 validation.Policy
	MaxConsecutiveFailures int

	Topics TopicConfig

	IngressBuffer        int
	SendBuffer           int
	ReadBuffer           int
	MaxConnections       int
	PreferredConnections int
	WriteTimeout         time.Duration

	RejectLogRate  rate.Limit
	RejectLogBurst int
}

func DefaultConfig(domain schema.RelayDomain) Config {
	cfg := Config{
		Name:                   domain.String() + "_relay",
		Transport:              "unix",
		Policy:                 validation.DefaultPolicy(domain),
		MaxConsecutiveFailures: 16,
		Topics: TopicConfig{
			Enabled:              domain == schema.DomainSignal,
			Extraction:           topics.StrategyTLV,
			DefaultTopic:         domain.String(),
			MaxTopicsPerConsumer: 64,
			CleanupInterval:      5 * time.Second,
			ConnectionTimeout:    30 * time.Second,
		},
		IngressBuffer:        10000,
		SendBuffer:           1024,
		ReadBuffer:           64 * 1024,
		MaxConnections:       1000,
		PreferredConnections: 10,
		WriteTimeout:         5 * time.Second,
		RejectLogRate:        rate.Limit(5),
		RejectLogBurst:       10,
	}
	if domain == schema.DomainMarketData {
		cfg.SendBuffer = 4096
	}
	return cfg
}

// WithDefaults fills zero values from DefaultConfig(domain).
func (c Config) WithDefaults(domain schema.RelayDomain) Config {
	def := DefaultConfig(domain)
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if strings.TrimSpace(c.Transport) == "" {
		c.Transport = def.Transport
	}
	if c.Policy.Domain == 0 {
		c.Policy = def.Policy
	}
	if c.Topics.Extraction == "" {
		c.Topics.Extraction = def.Topics.Extraction
	}
	if c.Topics.DefaultTopic == "" {
		c.Topics.DefaultTopic = def.Topics.DefaultTopic
	}
	if c.IngressBuffer <= 0 {
		c.IngressBuffer = def.IngressBuffer
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.ReadBuffer <= 0 {
		c.ReadBuffer = def.ReadBuffer
	}
	if c.RejectLogRate <= 0 {
		c.RejectLogRate = def.RejectLogRate
	}
	if c.RejectLogBurst <= 0 {
		c.RejectLogBurst = def.RejectLogBurst
	}
	return c
}

func (c Config) Validate() error {
	switch c.Transport {
	case "unix", "tcp":
	default:
		return fmt.Errorf("%w: transport %q (want unix or tcp)", ErrInvalidConfig, c.Transport)
	}
	if c.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("%w: max_consecutive_failures must be >= 0", ErrInvalidConfig)
	}
	if c.MaxConnections < 0 || c.PreferredConnections < 0 {
		return fmt.Errorf("%w: connection limits must be >= 0", ErrInvalidConfig)
	}
	if c.MaxConnections > 0 && c.PreferredConnections > c.MaxConnections {
		return fmt.Errorf("%w: preferred_connections exceeds max_connections", ErrInvalidConfig)
	}
	if c.Topics.Enabled {
		if _, err := topics.ParseStrategy(string(c.Topics.Extraction)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if c.Topics.Extraction == topics.StrategyFixed && strings.TrimSpace(c.Topics.FixedTopic) == "" {
			return fmt.Errorf("%w: fixed extraction requires fixed_topic", ErrInvalidConfig)
		}
	}
	return nil
}

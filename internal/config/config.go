// Package config loads relay instance configuration from TOML files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/danmuck/edgerelay/internal/relay"
	"github.com/danmuck/edgerelay/internal/topics"
)

var ErrInvalidConfig = errors.New("config: invalid")

// FieldError names the offending key.
type FieldError struct {
	Path   string
	Key    string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config %s: %s: %s", e.Path, e.Key, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidConfig }

func (e *FieldError) Category() protocol.Category { return protocol.CategoryConfiguration }

type relaySection struct {
	Domain         string `toml:"domain"`
	Name           string `toml:"name"`
	Endpoint       string `toml:"endpoint"`
	Transport      string `toml:"transport"`
	EchoToSender   bool   `toml:"echo_to_sender"`
	AssignSequence bool   `toml:"assign_sequence"`
}

type validationSection struct {
	Checksum               bool `toml:"checksum"`
	Strict                 bool `toml:"strict"`
	MaxMessageSize         int  `toml:"max_message_size"`
	MaxConsecutiveFailures int  `toml:"max_consecutive_failures"`
}

type topicsSection struct {
	Enabled              bool   `toml:"enabled"`
	Extraction           string `toml:"extraction"`
	DefaultTopic         string `toml:"default_topic"`
	FixedTopic           string `toml:"fixed_topic"`
	MaxTopicsPerConsumer int    `toml:"max_topics_per_consumer"`
	CleanupInterval      string `toml:"cleanup_interval"`
	ConnectionTimeout    string `toml:"connection_timeout"`
}

type performanceSection struct {
	IngressBuffer        int    `toml:"ingress_buffer"`
	SendBuffer           int    `toml:"send_buffer"`
	ReadBuffer           int    `toml:"read_buffer"`
	MaxConnections       int    `toml:"max_connections"`
	PreferredConnections int    `toml:"preferred_connections"`
	WriteTimeout         string `toml:"write_timeout"`
}

type adminSection struct {
	Listen string `toml:"listen"`
	Token  string `toml:"token"`
}

type fileConfig struct {
	Relay       relaySection       `toml:"relay"`
	Validation  validationSection  `toml:"validation"`
	Topics      topicsSection      `toml:"topics"`
	Performance performanceSection `toml:"performance"`
	Admin       adminSection       `toml:"admin"`
}

// RelayConfig is everything cmd/relayd needs to start one instance.
type RelayConfig struct {
	Domain   schema.RelayDomain
	Endpoint string
	Engine   relay.Config
	// AdminListen is the admin HTTP address; empty disables it.
	AdminListen string
	// AdminToken, when set, guards /stats and /metrics.
	AdminToken string
}

// Default returns the built-in configuration for domain.
func Default(domain schema.RelayDomain) RelayConfig {
	return RelayConfig{
		Domain:   domain,
		Endpoint: domain.DefaultEndpoint(),
		Engine:   relay.DefaultConfig(domain),
	}
}

// Logic returns the relay logic for the configured domain and endpoint.
func (c RelayConfig) Logic() (relay.Logic, error) {
	return relay.LogicFor(c.Domain, c.Endpoint)
}

// Validate checks the assembled configuration.
func (c RelayConfig) Validate() error {
	if !c.Domain.Valid() {
		return &FieldError{Key: "relay.domain", Reason: "unknown or missing domain"}
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return &FieldError{Key: "relay.endpoint", Reason: "required"}
	}
	if err := c.Engine.Validate(); err != nil {
		return &FieldError{Key: "relay", Reason: err.Error()}
	}
	return nil
}

// LoadRelayConfig reads path and overlays every defined key onto the
// defaults of the file's domain. fallback is used when the file does not
// name a domain.
func LoadRelayConfig(path string, fallback schema.RelayDomain) (RelayConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return build(path, raw, meta, fallback)
}

// ParseRelayConfig is LoadRelayConfig over an in-memory document.
func ParseRelayConfig(data string, fallback schema.RelayDomain) (RelayConfig, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("config parse failed: %w", err)
	}
	return build("", raw, meta, fallback)
}

func build(path string, raw fileConfig, meta toml.MetaData, fallback schema.RelayDomain) (RelayConfig, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return RelayConfig{}, &FieldError{Path: path, Key: undecoded[0].String(), Reason: "unknown key"}
	}

	domain := fallback
	if meta.IsDefined("relay", "domain") {
		d, err := schema.ParseDomain(raw.Relay.Domain)
		if err != nil {
			return RelayConfig{}, &FieldError{Path: path, Key: "relay.domain", Reason: err.Error()}
		}
		domain = d
	}
	if !domain.Valid() {
		return RelayConfig{}, &FieldError{Path: path, Key: "relay.domain", Reason: "unknown or missing domain"}
	}

	cfg := Default(domain)
	eng := &cfg.Engine

	if meta.IsDefined("relay", "name") {
		eng.Name = strings.TrimSpace(raw.Relay.Name)
	}
	if meta.IsDefined("relay", "endpoint") {
		cfg.Endpoint = strings.TrimSpace(raw.Relay.Endpoint)
	}
	if meta.IsDefined("relay", "transport") {
		eng.Transport = strings.ToLower(strings.TrimSpace(raw.Relay.Transport))
	}
	if meta.IsDefined("relay", "echo_to_sender") {
		eng.EchoToSender = raw.Relay.EchoToSender
	}
	if meta.IsDefined("relay", "assign_sequence") {
		eng.AssignSequence = raw.Relay.AssignSequence
	}

	if meta.IsDefined("validation", "checksum") {
		eng.Policy.VerifyChecksum = raw.Validation.Checksum
	}
	if meta.IsDefined("validation", "strict") {
		eng.Policy.Strict = raw.Validation.Strict
	}
	if meta.IsDefined("validation", "max_message_size") {
		eng.Policy.MaxMessageSize = raw.Validation.MaxMessageSize
	}
	if meta.IsDefined("validation", "max_consecutive_failures") {
		eng.MaxConsecutiveFailures = raw.Validation.MaxConsecutiveFailures
	}

	if meta.IsDefined("topics", "enabled") {
		eng.Topics.Enabled = raw.Topics.Enabled
	}
	if meta.IsDefined("topics", "extraction") {
		s, err := topics.ParseStrategy(raw.Topics.Extraction)
		if err != nil {
			return RelayConfig{}, &FieldError{Path: path, Key: "topics.extraction", Reason: err.Error()}
		}
		eng.Topics.Extraction = s
	}
	if meta.IsDefined("topics", "default_topic") {
		eng.Topics.DefaultTopic = strings.TrimSpace(raw.Topics.DefaultTopic)
	}
	if meta.IsDefined("topics", "fixed_topic") {
		eng.Topics.FixedTopic = strings.TrimSpace(raw.Topics.FixedTopic)
	}
	if meta.IsDefined("topics", "max_topics_per_consumer") {
		eng.Topics.MaxTopicsPerConsumer = raw.Topics.MaxTopicsPerConsumer
	}
	if meta.IsDefined("topics", "cleanup_interval") {
		d, err := parseDuration(path, "topics.cleanup_interval", raw.Topics.CleanupInterval)
		if err != nil {
			return RelayConfig{}, err
		}
		eng.Topics.CleanupInterval = d
	}
	if meta.IsDefined("topics", "connection_timeout") {
		d, err := parseDuration(path, "topics.connection_timeout", raw.Topics.ConnectionTimeout)
		if err != nil {
			return RelayConfig{}, err
		}
		eng.Topics.ConnectionTimeout = d
	}

	if meta.IsDefined("performance", "ingress_buffer") {
		eng.IngressBuffer = raw.Performance.IngressBuffer
	}
	if meta.IsDefined("performance", "send_buffer") {
		eng.SendBuffer = raw.Performance.SendBuffer
	}
	if meta.IsDefined("performance", "read_buffer") {
		eng.ReadBuffer = raw.Performance.ReadBuffer
	}
	if meta.IsDefined("performance", "max_connections") {
		eng.MaxConnections = raw.Performance.MaxConnections
	}
	if meta.IsDefined("performance", "preferred_connections") {
		eng.PreferredConnections = raw.Performance.PreferredConnections
	}
	if meta.IsDefined("performance", "write_timeout") {
		d, err := parseDuration(path, "performance.write_timeout", raw.Performance.WriteTimeout)
		if err != nil {
			return RelayConfig{}, err
		}
		eng.WriteTimeout = d
	}

	if meta.IsDefined("admin", "listen") {
		cfg.AdminListen = strings.TrimSpace(raw.Admin.Listen)
	}
	if meta.IsDefined("admin", "token") {
		cfg.AdminToken = strings.TrimSpace(raw.Admin.Token)
	}

	cfg.Engine = cfg.Engine.WithDefaults(domain)
	if err := cfg.Validate(); err != nil {
		var fe *FieldError
		if errors.As(err, &fe) {
			fe.Path = path
		}
		return RelayConfig{}, err
	}
	return cfg, nil
}

func parseDuration(path, key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, &FieldError{Path: path, Key: key, Reason: err.Error()}
	}
	if d < 0 {
		return 0, &FieldError{Path: path, Key: key, Reason: "must not be negative"}
	}
	return d, nil
}

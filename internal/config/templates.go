package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
)

// Template renders the default configuration of the named domain as TOML.
func Template(kind string) (string, error) {
	domain, err := schema.ParseDomain(kind)
	if err != nil {
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	cfg := Default(domain)
	eng := cfg.Engine
	doc := fileConfig{
		Relay: relaySection{
			Domain:         domain.String(),
			Name:           eng.Name,
			Endpoint:       cfg.Endpoint,
			Transport:      eng.Transport,
			EchoToSender:   eng.EchoToSender,
			AssignSequence: eng.AssignSequence,
		},
		Validation: validationSection{
			Checksum:               eng.Policy.VerifyChecksum,
			Strict:                 eng.Policy.Strict,
			MaxMessageSize:         eng.Policy.MaxMessageSize,
			MaxConsecutiveFailures: eng.MaxConsecutiveFailures,
		},
		Topics: topicsSection{
			Enabled:              eng.Topics.Enabled,
			Extraction:           string(eng.Topics.Extraction),
			DefaultTopic:         eng.Topics.DefaultTopic,
			FixedTopic:           eng.Topics.FixedTopic,
			MaxTopicsPerConsumer: eng.Topics.MaxTopicsPerConsumer,
			CleanupInterval:      eng.Topics.CleanupInterval.String(),
			ConnectionTimeout:    eng.Topics.ConnectionTimeout.String(),
		},
		Performance: performanceSection{
			IngressBuffer:        eng.IngressBuffer,
			SendBuffer:           eng.SendBuffer,
			ReadBuffer:           eng.ReadBuffer,
			MaxConnections:       eng.MaxConnections,
			PreferredConnections: eng.PreferredConnections,
			WriteTimeout:         eng.WriteTimeout.String(),
		},
		Admin: adminSection{Listen: "127.0.0.1:9464"},
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s relay\n", domain)
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

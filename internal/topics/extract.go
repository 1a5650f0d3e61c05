package topics

import (
	"fmt"
	"strings"

	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/protocol/records"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
)

type Strategy string

const (
	StrategyTLV    Strategy = "tlv"
	StrategySource Strategy = "source"
	StrategyFixed  Strategy = "fixed"
)

func ParseStrategy(raw string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(raw))); s {
	case StrategyTLV, StrategySource, StrategyFixed:
		return s, nil
	case "":
		return StrategyTLV, nil
	default:
		return "", fmt.Errorf("topics: unknown extraction strategy %q", raw)
	}
}

// Extractor derives the routing topic of an admitted message.
type Extractor struct {
	Strategy Strategy
	Fixed    string
	Default  string
}

// Extract never returns an empty topic; it falls back to Default.
func (e Extractor) Extract(msg protocol.Message) string {
	var topic string
	switch e.Strategy {
	case StrategyTLV:
		if rec, ok := msg.Find(schema.TypeSignalTopic); ok {
			topic, _ = records.DecodeTopic(rec.Value)
		}
	case StrategySource:
		if msg.Header.Source.Valid() {
			topic = "source." + msg.Header.Source.String()
		}
	case StrategyFixed:
		topic = e.Fixed
	}
	if topic == "" {
		return e.Default
	}
	return topic
}

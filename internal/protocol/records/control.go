package records

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/protocol/frame"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/sugawarayuuta/sonnet"
)

var ErrInvalidRegistration = errors.New("records: invalid consumer registration")

// ConsumerRegistration is the JSON body of a consumer_registration record.
type ConsumerRegistration struct {
	ConsumerID string            `json:"consumer_id"`
	Topics     []string          `json:"topics"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Validate checks the topic list. ConsumerID may be empty; the relay assigns
// one.
func (r ConsumerRegistration) Validate() error {
	if len(r.Topics) == 0 {
		return fmt.Errorf("%w: missing topics", ErrInvalidRegistration)
	}
	for i, topic := range r.Topics {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("%w: topics[%d] is blank", ErrInvalidRegistration, i)
		}
	}
	return nil
}

func EncodeRegistration(r ConsumerRegistration) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return sonnet.Marshal(r)
}

func DecodeRegistration(b []byte) (ConsumerRegistration, error) {
	var r ConsumerRegistration
	if err := sonnet.Unmarshal(b, &r); err != nil {
		return ConsumerRegistration{}, fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
	}
	if err := r.Validate(); err != nil {
		return ConsumerRegistration{}, err
	}
	return r, nil
}

// BuildRegistration produces the control message a consumer sends to
// subscribe to topics.
func BuildRegistration(source schema.SourceType, r ConsumerRegistration) ([]byte, error) {
	body, err := EncodeRegistration(r)
	if err != nil {
		return nil, err
	}
	return protocol.NewBuilder(schema.DomainSystem, source).
		WithFlags(frame.FlagControl).
		Add(schema.TypeConsumerRegistration, body).
		Build()
}

// BuildHeartbeat produces a control heartbeat.
func BuildHeartbeat(source schema.SourceType, seq uint64) ([]byte, error) {
	now := time.Now()
	hb := Heartbeat{TimestampNs: uint64(now.UnixNano()), Sequence: seq}
	return protocol.NewBuilder(schema.DomainSystem, source).
		WithFlags(frame.FlagControl).
		WithTimestamp(now).
		WithSequence(seq).
		Add(schema.TypeHeartbeat, hb.Encode()).
		Build()
}

// BuildTrade wraps one trade in a market data message.
func BuildTrade(source schema.SourceType, seq uint64, t Trade) ([]byte, error) {
	return protocol.NewBuilder(schema.DomainMarketData, source).
		WithSequence(seq).
		Add(schema.TypeTrade, t.Encode()).
		Build()
}

// BuildSignal wraps an opaque signal body with its routing topic.
func BuildSignal(source schema.SourceType, seq uint64, topic string, t schema.TLVType, body []byte) ([]byte, error) {
	tv, err := EncodeTopic(topic)
	if err != nil {
		return nil, err
	}
	return protocol.NewBuilder(schema.DomainSignal, source).
		WithSequence(seq).
		Add(schema.TypeSignalTopic, tv).
		Add(t, body).
		Build()
}

package relay

import (
	"github.com/danmuck/edgerelay/internal/observability"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/protocol/records"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/google/uuid"
)

// handleControl consumes a relay-local control message. Control messages are
// never broadcast.
func (e *Engine) handleControl(c *connection, msg protocol.Message) error {
	if msg.Header.Domain != schema.DomainSystem {
		return &controlError{reason: "control flag on non-system message"}
	}
	if len(msg.Records) == 0 {
		return &controlError{reason: "no records"}
	}
	for _, rec := range msg.Records {
		switch rec.Type {
		case schema.TypeConsumerRegistration:
			if err := e.register(c, rec.Value); err != nil {
				return err
			}
		case schema.TypeHeartbeat:
			if _, err := records.DecodeHeartbeat(rec.Value); err != nil {
				return &controlError{reason: err.Error()}
			}
			e.stats.heartbeats.Add(1)
		default:
			return &controlError{reason: "unsupported record " + rec.Type.String()}
		}
	}
	e.stats.control.Add(1)
	observability.RecordMessages(e.cfg.Name, e.domainLabel(), "control", 1)
	return nil
}

func (e *Engine) register(c *connection, body []byte) error {
	reg, err := records.DecodeRegistration(body)
	if err != nil {
		return err
	}
	if !e.cfg.Topics.Enabled {
		e.log.Debug().Uint64("conn", c.id).Str("consumer", reg.ConsumerID).Msg("relay.register ignored, topic routing disabled")
		return nil
	}
	if reg.ConsumerID == "" {
		reg.ConsumerID = "consumer_" + uuid.NewString()
	}
	entry, err := e.registry.Register(c.id, reg)
	if err != nil {
		return err
	}
	e.stats.registrations.Add(1)
	observability.SetRegisteredConsumers(e.cfg.Name, e.registry.Len())
	e.log.Info().
		Uint64("conn", c.id).
		Str("consumer", entry.ConsumerID).
		Strs("topics", entry.Topics).
		Msg("relay.register consumer registered")
	return nil
}

package relay

import (
	"context"

	"github.com/danmuck/edgerelay/internal/observability"
	"github.com/danmuck/edgerelay/internal/topics"
)

func (e *Engine) sweepLoop(ctx context.Context) {
	interval := e.cfg.Topics.CleanupInterval
	if !e.cfg.Topics.Enabled || interval <= 0 {
		return
	}
	ticker := e.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// Sweep evicts consumers whose connection is gone or idle past the
// connection timeout. Idle connections are closed.
func (e *Engine) Sweep() topics.SweepResult {
	now := e.clock.Now()
	timeout := e.cfg.Topics.ConnectionTimeout
	res := e.registry.Sweep(func(connID uint64) bool {
		c, ok := e.conns.get(connID)
		if !ok {
			return true
		}
		return timeout > 0 && now.Sub(c.idleSince()) > timeout
	})
	for _, reg := range res.Evicted {
		if c, ok := e.conns.get(reg.ConnID); ok {
			c.advance(stateClosing)
			_ = c.conn.Close()
		}
	}
	observability.RecordSweep(e.cfg.Name, len(res.Evicted), res.Duration)
	observability.SetRegisteredConsumers(e.cfg.Name, e.registry.Len())
	if len(res.Evicted) > 0 {
		e.log.Info().
			Int("evicted", len(res.Evicted)).
			Dur("took", res.Duration).
			Int("remaining", e.registry.Len()).
			Msg("relay.Sweep evicted stale consumers")
	}
	return res
}

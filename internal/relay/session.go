package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/edgerelay/internal/observability"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/protocol/frame"
	"golang.org/x/sync/errgroup"
)

// serveConn runs the coupled read/write pair for one connection. Whichever
// side fails first cancels the other; teardown runs exactly once.
func (e *Engine) serveConn(ctx context.Context, c *connection, sub *subscriber) {
	c.advance(stateActive)
	defer e.teardown(c)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.readLoop(gctx, c)
	})
	g.Go(func() error {
		return e.writeLoop(gctx, c, sub)
	})
	g.Go(func() error {
		<-gctx.Done()
		c.advance(stateClosing)
		return ignoreClosed(c.conn.Close())
	})

	err := g.Wait()
	switch {
	case err == nil, errors.Is(err, errPeerClosed), errors.Is(err, context.Canceled):
		e.log.Debug().Uint64("conn", c.id).Msg("relay.serveConn closed")
	case errors.Is(err, ErrTooManyFailures):
		e.stats.failureCloses.Add(1)
		e.log.Warn().Uint64("conn", c.id).Int("failures", c.failures).Msg("relay.serveConn disconnected after consecutive failures")
	default:
		e.log.Info().Err(err).Uint64("conn", c.id).Msg("relay.serveConn closed on error")
	}
}

func (e *Engine) teardown(c *connection) {
	c.teardown.Do(func() {
		c.advance(stateClosed)
		e.hub.unsubscribe(c.id)
		e.conns.remove(c.id)
		e.stats.connsClosed.Add(1)
		observability.RecordConnectionEvent(e.cfg.Name, e.domainLabel(), "closed")
		observability.SetActiveConnections(e.cfg.Name, e.domainLabel(), e.conns.len())
	})
}

func (e *Engine) readLoop(ctx context.Context, c *connection) error {
	reader := frame.NewReaderSize(c.conn, e.cfg.ReadBuffer, frame.LimitsForMessageSize(e.cfg.Policy.MaxMessageSize))
	for {
		raw, err := reader.Next()
		if err != nil {
			if recoverable(err) {
				e.stats.received.Add(1)
				if rerr := e.reject(c, err); rerr != nil {
					return rerr
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				return errPeerClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("relay: read conn %d: %w", c.id, err)
		}

		c.touch(e.clock.Now())
		e.stats.received.Add(1)
		observability.RecordMessages(e.cfg.Name, e.domainLabel(), "received", 1)

		if err := e.handle(ctx, c, raw); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if rerr := e.reject(c, err); rerr != nil {
				return rerr
			}
			continue
		}
		c.failures = 0
	}
}

// handle admits one complete message or returns the reason it was dropped.
func (e *Engine) handle(ctx context.Context, c *connection, raw []byte) error {
	h, err := frame.DecodeHeader(raw)
	if err != nil {
		return err
	}
	if h.IsControl() {
		msg, err := e.control.Validate(raw)
		if err != nil {
			return err
		}
		return e.handleControl(c, msg)
	}

	msg, err := e.validator.Validate(raw)
	if err != nil {
		return err
	}
	if !e.logic.ShouldForward(msg.Header) {
		return &NotForwardableError{Relay: e.logic.Domain(), Header: msg.Header.Domain}
	}
	if e.cfg.AssignSequence {
		if err := frame.SetSequence(raw, e.sequence.Add(1)); err != nil {
			return err
		}
	}

	env := envelope{origin: c.id, raw: raw}
	if e.cfg.Topics.Enabled {
		env.topic = e.extractor.Extract(msg)
	}
	select {
	case e.ingress <- env:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.stats.admitted.Add(1)
	observability.RecordMessages(e.cfg.Name, e.domainLabel(), "admitted", 1)
	return nil
}

// reject records a dropped message and decides whether the connection has
// failed too many times in a row.
func (e *Engine) reject(c *connection, err error) error {
	c.failures++
	e.stats.rejected.Add(1)
	reason := rejectReason(err)
	category := protocol.Classify(err).String()
	observability.RecordReject(e.cfg.Name, e.domainLabel(), reason, category)
	if c.logLimit.Allow() {
		e.log.Warn().
			Err(err).
			Uint64("conn", c.id).
			Str("reason", reason).
			Str("category", category).
			Int("consecutive", c.failures).
			Msg("relay.readLoop dropped message")
	}
	if limit := e.cfg.MaxConsecutiveFailures; limit > 0 && c.failures >= limit {
		return ErrTooManyFailures
	}
	return nil
}

func (e *Engine) writeLoop(ctx context.Context, c *connection, sub *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-sub.queue:
			if e.cfg.WriteTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout))
			}
			if _, err := c.conn.Write(raw); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("relay: write conn %d: %w", c.id, err)
			}
			c.touch(e.clock.Now())
			e.stats.delivered.Add(1)
			observability.RecordMessages(e.cfg.Name, e.domainLabel(), "delivered", 1)
		}
	}
}

// dispatch is the single consumer of the ingress channel, so every
// subscriber sees admitted messages in the same order.
func (e *Engine) dispatch(ctx context.Context) {
	var filters filterFunc
	if e.cfg.Topics.Enabled {
		filters = e.registry.FiltersFor
	}
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-e.ingress:
			out := e.hub.broadcast(env, e.cfg.EchoToSender, filters)
			e.stats.enqueued.Add(uint64(out.enqueued))
			e.stats.dropped.Add(uint64(out.dropped))
			e.stats.filtered.Add(uint64(out.filtered))
			observability.RecordMessages(e.cfg.Name, e.domainLabel(), "enqueued", out.enqueued)
			observability.RecordMessages(e.cfg.Name, e.domainLabel(), "dropped", out.dropped)
			observability.RecordMessages(e.cfg.Name, e.domainLabel(), "filtered", out.filtered)
			if out.dropped > 0 {
				e.log.Debug().Int("dropped", out.dropped).Uint64("origin", env.origin).Msg("relay.dispatch slow consumers")
			}
		}
	}
}

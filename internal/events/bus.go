// Package events implements the optional cross-instance broadcast bus: a
// thin NATS relay that lets a fleet of gateway processes share a single
// channel/subscriber space by republishing local broadcasts to every
// other instance. Off by default (no NATS_URL configured).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/relayhub/fanout/internal/logger"
)

// Subject is the single subject used for cross-instance fan-out relay.
const Subject = "fanout.broadcast.relay"

// Config names the NATS connection parameters.
type Config struct {
	URL      string
	User     string
	Password string
}

// relayMessage is the wire shape published on Subject.
type relayMessage struct {
	OriginID string          `json:"origin_id"`
	Channel  string          `json:"channel"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

// Handler is invoked for every relayed message originating from another
// instance (this instance's own publishes are filtered out by OriginID).
type Handler func(channel, event string, data json.RawMessage)

// Bus is the cross-instance broadcast relay. A Bus with no NATS_URL
// configured is a permanently-disabled no-op, matching the rest of the
// gateway's graceful-degradation pattern for optional infrastructure
// (see internal/cache's disabled-Redis fallback).
type Bus struct {
	conn     *nats.Conn
	enabled  bool
	originID string
	sub      *nats.Subscription
}

// New connects to NATS if cfg.URL is set; otherwise returns a disabled
// Bus. A connection failure is logged and also degrades to disabled
// rather than failing startup; the cross-instance relay is an optional
// extension, not a core dependency.
func New(cfg Config) *Bus {
	if cfg.URL == "" {
		return &Bus{enabled: false, originID: uuid.NewString()}
	}

	opts := []nats.Option{
		nats.Name("fanout-gateway"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Events().Warn().Err(err).Msg("nats relay disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Events().Info().Str("url", nc.ConnectedUrl()).Msg("nats relay reconnected")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.Events().Warn().Err(err).Str("url", cfg.URL).Msg("nats relay connect failed, broadcasts stay instance-local")
		return &Bus{enabled: false, originID: uuid.NewString()}
	}

	logger.Events().Info().Str("url", conn.ConnectedUrl()).Msg("nats relay connected")
	return &Bus{conn: conn, enabled: true, originID: uuid.NewString()}
}

// IsEnabled reports whether the relay is actually connected.
func (b *Bus) IsEnabled() bool { return b.enabled }

// Publish relays a local broadcast to every other instance subscribed to
// Subject. No-op when disabled.
func (b *Bus) Publish(ctx context.Context, channel, event string, data json.RawMessage) error {
	if !b.enabled {
		return nil
	}
	payload, err := json.Marshal(relayMessage{OriginID: b.originID, Channel: channel, Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	return b.conn.Publish(Subject, payload)
}

// Subscribe registers handler for every relayed message this instance
// did not itself originate. No-op when disabled.
func (b *Bus) Subscribe(handler Handler) error {
	if !b.enabled {
		return nil
	}
	sub, err := b.conn.Subscribe(Subject, func(msg *nats.Msg) {
		var rm relayMessage
		if err := json.Unmarshal(msg.Data, &rm); err != nil {
			logger.Events().Warn().Err(err).Msg("malformed relay message, ignoring")
			return
		}
		if rm.OriginID == b.originID {
			return
		}
		handler(rm.Channel, rm.Event, rm.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to relay subject: %w", err)
	}
	b.sub = sub
	return nil
}

// Close drains the subscription and closes the connection.
func (b *Bus) Close() {
	if !b.enabled {
		return
	}
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
	b.conn.Drain()
	b.conn.Close()
}

// Package dispatch converts an authenticated fan-out request into
// per-socket deliveries: to a channel's current subscribers, to one
// user's active socket, or across a batch of channel/event/data
// triples. The payload passes through untouched.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/relayhub/fanout/internal/connmgr"
	"github.com/relayhub/fanout/internal/logger"
	"github.com/relayhub/fanout/internal/metrics"
	"github.com/relayhub/fanout/internal/registry"
)

// Enqueuer is implemented by the socket gateway; the dispatcher never
// touches a socket directly.
type Enqueuer interface {
	Enqueue(socketID, event string, data json.RawMessage) bool
}

// Relay is implemented by the optional cross-instance broadcast bus
// (internal/events). A Dispatcher with no relay wired behaves exactly
// as a single-instance deployment.
type Relay interface {
	Publish(ctx context.Context, channel, event string, data json.RawMessage) error
}

// Dispatcher fans events out to subscriber sockets.
type Dispatcher struct {
	registry *registry.Registry
	connmgr  *connmgr.Manager
	gateway  Enqueuer
	metrics  *metrics.Metrics
	relay    Relay
}

// New constructs a Dispatcher.
func New(reg *registry.Registry, cm *connmgr.Manager, gw Enqueuer, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{registry: reg, connmgr: cm, gateway: gw, metrics: m}
}

// SetRelay wires the cross-instance broadcast bus. Broadcasts made
// locally after this call are also published for other instances to
// relay to their own subscribers via DeliverLocal.
func (d *Dispatcher) SetRelay(r Relay) { d.relay = r }

// Broadcast delivers event/data to every current subscriber of
// channelName. The subscriber snapshot is taken once; mutations to the
// subscription set mid-fan-out do not affect this call's recipient
// count. If a relay is wired, the broadcast is also published for other
// instances in the fleet.
func (d *Dispatcher) Broadcast(channelName, event string, data json.RawMessage) int {
	recipients := d.DeliverLocal(channelName, event, data)
	if d.relay != nil {
		if err := d.relay.Publish(context.Background(), channelName, event, data); err != nil {
			logger.Dispatch().Warn().Err(err).Str("channel", channelName).Msg("cross-instance relay publish failed")
		}
	}
	return recipients
}

// DeliverLocal fans out to this instance's subscribers only, without
// publishing to the cross-instance relay. Used directly by Broadcast and
// by the relay's inbound handler for messages originating elsewhere, so
// a relayed message is never re-published in a loop.
func (d *Dispatcher) DeliverLocal(channelName, event string, data json.RawMessage) int {
	subscribers := d.registry.Subscribers(channelName)
	recipients := 0
	for _, socketID := range subscribers {
		if d.gateway.Enqueue(socketID, event, data) {
			recipients++
		}
	}
	d.metrics.BroadcastSent(recipients, recipients < len(subscribers))
	logger.Dispatch().Debug().Str("channel", channelName).Str("event", event).Int("recipients", recipients).Msg("broadcast delivered")
	return recipients
}

// BroadcastToUser resolves userID's active socket and enqueues
// directly, skipping channel indirection.
func (d *Dispatcher) BroadcastToUser(userID int64, event string, data json.RawMessage) bool {
	socketID, ok := d.connmgr.ActiveSocketID(userID)
	if !ok {
		d.metrics.BroadcastSent(0, true)
		return false
	}
	delivered := d.gateway.Enqueue(socketID, event, data)
	d.metrics.BroadcastSent(boolToInt(delivered), !delivered)
	return delivered
}

// MultiItem is one entry of a broadcastMulti request.
type MultiItem struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// MultiResult is one entry's outcome.
type MultiResult struct {
	Channel    string `json:"channel"`
	Event      string `json:"event"`
	Recipients int    `json:"recipients"`
	Success    bool   `json:"success"`
}

// BroadcastMulti processes a batch; a per-item failure never aborts the
// remaining items.
func (d *Dispatcher) BroadcastMulti(items []MultiItem) []MultiResult {
	results := make([]MultiResult, 0, len(items))
	for _, item := range items {
		recipients := d.Broadcast(item.Channel, item.Event, item.Data)
		results = append(results, MultiResult{
			Channel:    item.Channel,
			Event:      item.Event,
			Recipients: recipients,
			Success:    true,
		})
	}
	return results
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

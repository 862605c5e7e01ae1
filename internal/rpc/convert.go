package rpc

import (
	"encoding/json"

	"github.com/relayhub/fanout/internal/dispatch"
)

// broadcastItem mirrors dispatch.MultiItem with already-marshaled data,
// kept local so handlers.go doesn't need to know dispatch's wire shape.
type broadcastItem struct {
	Channel string
	Event   string
	Data    json.RawMessage
}

func toDispatchItems(items []broadcastItem) []dispatch.MultiItem {
	out := make([]dispatch.MultiItem, 0, len(items))
	for _, it := range items {
		out = append(out, dispatch.MultiItem{Channel: it.Channel, Event: it.Event, Data: it.Data})
	}
	return out
}

func marshalData(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(v)
}

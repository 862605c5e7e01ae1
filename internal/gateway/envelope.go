package gateway

import "encoding/json"

// Envelope is the framing every socket message uses: an event name plus
// an opaque payload. Both transports speak it, so an upgrade from
// polling to websocket changes nothing about what the client parses.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// mustEncode panics only on programmer error (an unmarshalable literal);
// used for fixed internal payloads, never for caller-supplied data.
func mustEncode(event string, data interface{}) []byte {
	b, err := encode(event, data)
	if err != nil {
		panic(err)
	}
	return b
}

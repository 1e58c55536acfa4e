package extchannel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType discriminates wire frames.
type MessageType string

const (
	TypeRequest  MessageType = "rpc_request"
	TypeResponse MessageType = "rpc_response"
	TypeEvent    MessageType = "event"
	TypePing     MessageType = "ping"
	TypePong     MessageType = "pong"
)

// Message is one JSON text frame. Which fields are set depends on Type:
// requests carry id, method and params; responses carry id and result or
// error; events carry name and data.
type Message struct {
	Type   MessageType     `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
	Name   string          `json:"name,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

var errMalformedFrame = errors.New("malformed frame")

func parseMessage(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	switch m.Type {
	case TypePing, TypePong:
	case TypeRequest:
		if m.ID == "" || m.Method == "" {
			return Message{}, fmt.Errorf("%w: request without id or method", errMalformedFrame)
		}
	case TypeResponse:
		if m.ID == "" {
			return Message{}, fmt.Errorf("%w: response without id", errMalformedFrame)
		}
	case TypeEvent:
		if m.Name == "" {
			return Message{}, fmt.Errorf("%w: event without name", errMalformedFrame)
		}
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", errMalformedFrame, m.Type)
	}
	return m, nil
}

// rawJSON marshals v, using fallback for nil.
func rawJSON(v any, fallback string) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage(fallback), nil
	}
	if raw, ok := v.(json.RawMessage); ok && len(raw) > 0 {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

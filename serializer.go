package phxsocket

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONCodec abstracts the JSON library used for wire encoding. The default
// is encoding/json; callers may substitute a faster drop-in.
type JSONCodec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// stdJSON is the default JSONCodec, backed by encoding/json.
type stdJSON struct{}

func (stdJSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (stdJSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Serializer encodes and decodes protocol messages for a given wire version
// and builds the join/leave control messages.
type Serializer interface {
	Encode(version string, msg *Message, codec JSONCodec) ([]byte, error)
	Decode(version string, frame []byte, codec JSONCodec) (*Message, error)
	BuildJoin(topic string, params any) *Message
	BuildLeave(topic string) *Message
}

// Wire versions understood by JSONSerializer.
const (
	VersionV1 = "1.0.0"
	VersionV2 = "2.0.0"
)

// JSONSerializer implements the Phoenix JSON wire protocol. V1 frames are
// objects ({"topic","event","payload","ref"}); V2 frames are five-element
// arrays ([join_ref, ref, topic, event, payload]) with null for absent refs.
type JSONSerializer struct{}

// v1Envelope is the V1 object frame.
type v1Envelope struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref"`
}

func (JSONSerializer) Encode(version string, msg *Message, codec JSONCodec) ([]byte, error) {
	switch version {
	case VersionV1:
		frame, err := codec.Marshal(v1Envelope{
			Topic:   msg.Topic,
			Event:   msg.Event,
			Payload: msg.Payload,
			Ref:     msg.Ref,
		})
		if err != nil {
			return nil, fmt.Errorf("encode v1 frame: %w", err)
		}
		return frame, nil

	case VersionV2:
		var joinRef, ref any
		if msg.JoinRef != "" {
			joinRef = msg.JoinRef
		}
		if msg.Ref != "" {
			ref = msg.Ref
		}
		frame, err := codec.Marshal([]any{joinRef, ref, msg.Topic, msg.Event, msg.Payload})
		if err != nil {
			return nil, fmt.Errorf("encode v2 frame: %w", err)
		}
		return frame, nil

	default:
		return nil, fmt.Errorf("encode: unsupported protocol version %q", version)
	}
}

func (JSONSerializer) Decode(version string, frame []byte, codec JSONCodec) (*Message, error) {
	switch version {
	case VersionV1:
		var env v1Envelope
		if err := codec.Unmarshal(frame, &env); err != nil {
			return nil, fmt.Errorf("decode v1 frame: %w", err)
		}
		return &Message{Topic: env.Topic, Event: env.Event, Payload: env.Payload, Ref: env.Ref}, nil

	case VersionV2:
		var parts []json.RawMessage
		if err := codec.Unmarshal(frame, &parts); err != nil {
			return nil, fmt.Errorf("decode v2 frame: %w", err)
		}
		if len(parts) != 5 {
			return nil, fmt.Errorf("decode v2 frame: want 5 elements, got %d", len(parts))
		}
		var msg Message
		if err := decodeNullableString(codec, parts[0], &msg.JoinRef); err != nil {
			return nil, fmt.Errorf("decode v2 join_ref: %w", err)
		}
		if err := decodeNullableString(codec, parts[1], &msg.Ref); err != nil {
			return nil, fmt.Errorf("decode v2 ref: %w", err)
		}
		if err := codec.Unmarshal(parts[2], &msg.Topic); err != nil {
			return nil, fmt.Errorf("decode v2 topic: %w", err)
		}
		if err := codec.Unmarshal(parts[3], &msg.Event); err != nil {
			return nil, fmt.Errorf("decode v2 event: %w", err)
		}
		if err := codec.Unmarshal(parts[4], &msg.Payload); err != nil {
			return nil, fmt.Errorf("decode v2 payload: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("decode: unsupported protocol version %q", version)
	}
}

func (JSONSerializer) BuildJoin(topic string, params any) *Message {
	if params == nil {
		params = map[string]any{}
	}
	return &Message{Topic: topic, Event: EventJoin, Payload: params}
}

func (JSONSerializer) BuildLeave(topic string) *Message {
	return &Message{Topic: topic, Event: EventLeave, Payload: map[string]any{}}
}

// decodeNullableString handles the null refs V2 frames carry for messages
// outside a channel session.
func decodeNullableString(codec JSONCodec, data json.RawMessage, dst *string) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	return codec.Unmarshal(data, dst)
}

package channel

import (
	"encoding/json"
	"fmt"

	internalerrors "github.com/rcourtman/healthdash/internal/errors"
)

// Message is the envelope written for every published payload.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Envelope is the decoded form of a Message with the payload left raw so
// each topic handler can decode it into its own type.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode marshals data under topic.
func Encode(topic string, data interface{}) ([]byte, error) {
	if topic == "" {
		return nil, fmt.Errorf("encode message: empty topic")
	}
	payload, err := json.Marshal(Message{Type: topic, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", topic, err)
	}
	return payload, nil
}

// Decode parses one websocket text frame into an Envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, internalerrors.WrapDecodeError("decode_envelope", err)
	}
	if env.Type == "" {
		return Envelope{}, internalerrors.WrapDecodeError("decode_envelope", fmt.Errorf("missing type"))
	}
	return env, nil
}

package codec

import (
	"encoding/json"

	"mini-bridge/message"
)

// JSONCodec uses encoding/json for the envelope; Payload is carried as base64.
// Pros: human-readable, easy to debug with a packet dump.
// Cons: larger frames, base64 overhead on every payload.
type JSONCodec struct{}

func (c *JSONCodec) Encode(msg *message.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *JSONCodec) Decode(data []byte, msg *message.Message) error {
	return json.Unmarshal(data, msg)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

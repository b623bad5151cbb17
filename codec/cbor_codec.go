package codec

import (
	"github.com/fxamacker/cbor/v2"

	"mini-bridge/message"
	"mini-bridge/rpcerr"
)

// CBORCodec encodes the envelope as a 3-element CBOR array, so a frame body
// and its payload share one self-describing format.
type CBORCodec struct{}

type cborEnvelope struct {
	_       struct{} `cbor:",toarray"`
	Command string
	Kind    uint8
	Payload []byte
}

func (c *CBORCodec) Encode(msg *message.Message) ([]byte, error) {
	return cbor.Marshal(&cborEnvelope{
		Command: msg.Command,
		Kind:    uint8(msg.Kind),
		Payload: msg.Payload,
	})
}

func (c *CBORCodec) Decode(data []byte, msg *message.Message) error {
	var env cborEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return err
	}
	msg.Command = env.Command
	msg.Kind = rpcerr.Kind(env.Kind)
	msg.Payload = env.Payload
	return nil
}

func (c *CBORCodec) Type() CodecType {
	return CodecTypeCBOR
}

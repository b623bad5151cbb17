package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"mini-bridge/message"
	"mini-bridge/rpcerr"
)

// BinaryCodec lays the envelope out by hand:
//
//	┌────────┬─────────┬──────┬────────────┬─────────┐
//	│ cmdLen │ command │ kind │ payloadLen │ payload │
//	│ uint16 │ n bytes │ 1 B  │   uint32   │ n bytes │
//	└────────┴─────────┴──────┴────────────┴─────────┘
//
// Decode checks every length against the remaining input, so a hostile frame
// yields an error instead of a slice-bounds panic.
type BinaryCodec struct{}

var errShortBuffer = errors.New("BinaryCodec: truncated message")

func (c *BinaryCodec) Encode(msg *message.Message) ([]byte, error) {
	if len(msg.Command) > math.MaxUint16 {
		return nil, fmt.Errorf("BinaryCodec: command name too long (%d bytes)", len(msg.Command))
	}
	if uint64(len(msg.Payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("BinaryCodec: payload too large (%d bytes)", len(msg.Payload))
	}
	total := 2 + len(msg.Command) + 1 + 4 + len(msg.Payload)
	buf := make([]byte, total)

	offset := 0
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(msg.Command)))
	offset += 2
	copy(buf[offset:], msg.Command)
	offset += len(msg.Command)

	buf[offset] = byte(msg.Kind)
	offset++

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(msg.Payload)))
	offset += 4
	copy(buf[offset:], msg.Payload)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, msg *message.Message) error {
	offset := 0

	if len(data) < offset+2 {
		return errShortBuffer
	}
	cmdLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if len(data) < offset+cmdLen {
		return errShortBuffer
	}
	command := string(data[offset : offset+cmdLen])
	offset += cmdLen

	if len(data) < offset+1 {
		return errShortBuffer
	}
	kind := rpcerr.Kind(data[offset])
	offset++

	if len(data) < offset+4 {
		return errShortBuffer
	}
	payloadLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	if uint64(len(data)-offset) < uint64(payloadLen) {
		return errShortBuffer
	}
	payload := make([]byte, payloadLen)
	copy(payload, data[offset:offset+int(payloadLen)])
	offset += int(payloadLen)

	if offset != len(data) {
		return fmt.Errorf("BinaryCodec: %d trailing bytes", len(data)-offset)
	}

	msg.Command = command
	msg.Kind = kind
	msg.Payload = payload
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

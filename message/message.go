// Package message defines the envelope exchanged between the invocation client
// and the host.
//
// A Message is serialized by the codec layer and wrapped in a protocol frame;
// the frame's sequence number is the correlation id, so it does not appear here.
package message

import (
	"strings"

	"mini-bridge/payload"
	"mini-bridge/rpcerr"
	"mini-bridge/value"
)

// Message carries a single invocation request or response.
//
//   - On request:  Command is set, Payload holds the encoded arguments, Kind is KindNone.
//   - On response: Kind is KindNone and Payload holds the encoded result, or Kind names
//     the failure and Payload holds the encoded error detail.
type Message struct {
	Command string      // e.g. "do_stuff_with_num"
	Kind    rpcerr.Kind // KindNone unless the response reports an error
	Payload []byte      // payload-encoded value (see package payload)
}

// Failed reports whether m is an error response.
func (m *Message) Failed() bool {
	return m.Kind != rpcerr.KindNone
}

// Failure builds the error response for command. The kind comes from err and
// the payload carries the encoded error detail.
func Failure(command string, err error) *Message {
	kind := rpcerr.KindOf(err)
	if kind == rpcerr.KindNone {
		kind = rpcerr.KindRemote
	}
	data, encErr := payload.Encode(rpcerr.DetailOf(err))
	if encErr != nil {
		// The detail itself is unencodable (e.g. a NaN a handler put in it);
		// fall back to the bare message, which always encodes.
		data, _ = payload.Encode(value.Mapping(map[string]value.Value{
			"message": value.String(strings.ToValidUTF8(err.Error(), "�")),
		}))
	}
	return &Message{Command: command, Kind: kind, Payload: data}
}

// Err converts an error response back into an *rpcerr.Error carrying the
// decoded detail. It returns nil for successful responses.
func (m *Message) Err() error {
	if !m.Failed() {
		return nil
	}
	if len(m.Payload) == 0 {
		return rpcerr.New(m.Kind, m.Command, nil)
	}
	detail, err := payload.Decode(m.Payload)
	if err != nil {
		return rpcerr.Remote(m.Kind, m.Command, value.String("undecodable error detail"))
	}
	return rpcerr.Remote(m.Kind, m.Command, detail)
}

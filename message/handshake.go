package message

import "mini-bridge/payload"

// ProtocolVersion is checked by both sides during the init handshake.
const ProtocolVersion = 1

// Hello opens a session. It travels payload-encoded as the handshake body.
type Hello struct {
	Session string `cbor:"session"`
	Version int    `cbor:"version"`
}

// Welcome is the host's answer to Hello.
type Welcome struct {
	Session  string   `cbor:"session"` // echo of Hello.Session
	Version  int      `cbor:"version"`
	Commands []string `cbor:"commands"`
}

func (h Hello) Marshal() ([]byte, error) { return payload.Marshal(h) }

func (w Welcome) Marshal() ([]byte, error) { return payload.Marshal(w) }

func UnmarshalHello(data []byte) (Hello, error) {
	var h Hello
	err := payload.Unmarshal(data, &h)
	return h, err
}

func UnmarshalWelcome(data []byte) (Welcome, error) {
	var w Welcome
	err := payload.Unmarshal(data, &w)
	return w, err
}

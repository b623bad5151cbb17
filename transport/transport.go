// Package transport moves invocation envelopes across the boundary between
// the client and the host.
//
// A Transport is fire-and-forget on the way out and a single stream of
// deliveries on the way back. Matching a delivery to its request is the
// caller's job: every response carries the seq its request was sent with.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ Transport ──→ Host
//	goroutine-3 ──Send(seq=3)──┘
//
//	Deliveries(): ←── {seq=2, response} ←── {seq=1, response} ...
package transport

import (
	"context"
	"errors"

	"mini-bridge/message"
)

// ErrClosed is reported by Send and Err after Close.
var ErrClosed = errors.New("transport: closed")

// Delivery is one inbound response.
type Delivery struct {
	Seq uint32
	Msg *message.Message
}

type Transport interface {
	// Send queues msg as request seq. It does not wait for the response.
	Send(seq uint32, msg *message.Message) error
	// Handshake exchanges the init hello for the host's reply.
	Handshake(ctx context.Context, hello []byte) ([]byte, error)
	// Deliveries yields each response exactly once. It is closed when the
	// transport fails or is closed; Err then reports why.
	Deliveries() <-chan Delivery
	Err() error
	Close() error
}

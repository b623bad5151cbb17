package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"mini-bridge/codec"
	"mini-bridge/message"
	"mini-bridge/protocol"
	"mini-bridge/rpcerr"
)

// ConnTransport multiplexes concurrent invocations over one stream
// connection (TCP, unix socket, net.Pipe).
//
// A single recvLoop reads frames, since a byte stream must be parsed
// sequentially to keep frame boundaries, and writes are serialized by a mutex
// so one request's header can never interleave with another's body.
type ConnTransport struct {
	conn      net.Conn
	codecType codec.CodecType
	codec     codec.Codec
	logger    *zap.Logger

	sending sync.Mutex

	deliveries chan Delivery
	handshakes chan []byte

	closing   chan struct{} // closed by Close
	closeOnce sync.Once
	done      chan struct{} // closed when recvLoop exits

	errMu sync.Mutex
	err   error
}

type ConnOption func(*ConnTransport, *connConfig)

type connConfig struct {
	heartbeat time.Duration
}

// WithHeartbeat sets the heartbeat interval. Zero disables heartbeats.
func WithHeartbeat(interval time.Duration) ConnOption {
	return func(_ *ConnTransport, cfg *connConfig) { cfg.heartbeat = interval }
}

// WithConnLogger sets the logger for transport events.
func WithConnLogger(logger *zap.Logger) ConnOption {
	return func(t *ConnTransport, _ *connConfig) { t.logger = logger }
}

// NewConnTransport wraps conn and starts the receive loop and, unless
// disabled, a heartbeat loop.
func NewConnTransport(conn net.Conn, codecType codec.CodecType, opts ...ConnOption) (*ConnTransport, error) {
	cdc, err := codec.GetCodec(codecType)
	if err != nil {
		return nil, err
	}
	t := &ConnTransport{
		conn:       conn,
		codecType:  codecType,
		codec:      cdc,
		logger:     zap.NewNop(),
		deliveries: make(chan Delivery, 64),
		handshakes: make(chan []byte, 1),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	cfg := connConfig{heartbeat: 30 * time.Second}
	for _, opt := range opts {
		opt(t, &cfg)
	}

	go t.recvLoop()
	if cfg.heartbeat > 0 {
		go t.heartbeatLoop(cfg.heartbeat)
	}
	return t, nil
}

// Dial connects to address and wraps the connection.
func Dial(ctx context.Context, network, address string, codecType codec.CodecType, opts ...ConnOption) (*ConnTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	t, err := NewConnTransport(conn, codecType, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

func (t *ConnTransport) Send(seq uint32, msg *message.Message) error {
	body, err := t.codec.Encode(msg)
	if err != nil {
		return err
	}
	return t.writeFrame(protocol.MsgTypeRequest, seq, body)
}

func (t *ConnTransport) writeFrame(msgType protocol.MsgType, seq uint32, body []byte) error {
	select {
	case <-t.done:
		return t.Err()
	default:
	}

	header := protocol.Header{
		CodecType: byte(t.codecType),
		MsgType:   msgType,
		Seq:       seq,
	}
	t.sending.Lock()
	defer t.sending.Unlock()
	return protocol.Encode(t.conn, &header, body)
}

// Handshake sends hello on seq 0 and waits for the host's reply to it.
// Replies to earlier hellos, left over from attempts whose caller gave up,
// are discarded by session.
func (t *ConnTransport) Handshake(ctx context.Context, hello []byte) ([]byte, error) {
	t.drainHandshakes()
	if err := t.writeFrame(protocol.MsgTypeHandshake, 0, hello); err != nil {
		return nil, err
	}

	var session string
	if h, err := message.UnmarshalHello(hello); err == nil {
		session = h.Session
	}
	for {
		select {
		case reply := <-t.handshakes:
			if w, err := message.UnmarshalWelcome(reply); err == nil && session != "" && w.Session != session {
				t.logger.Debug("dropping stale handshake reply", zap.String("session", w.Session))
				continue
			}
			return reply, nil
		case <-t.done:
			return nil, t.Err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *ConnTransport) drainHandshakes() {
	for {
		select {
		case <-t.handshakes:
		default:
			return
		}
	}
}

func (t *ConnTransport) Deliveries() <-chan Delivery {
	return t.deliveries
}

func (t *ConnTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *ConnTransport) setErr(err error) {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *ConnTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.setErr(ErrClosed)
		close(t.closing)
		err = t.conn.Close()
	})
	return err
}

// recvLoop reads frames until the connection fails, routing responses to
// Deliveries and handshake replies to Handshake.
func (t *ConnTransport) recvLoop() {
	defer close(t.done)
	defer close(t.deliveries)

	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.setErr(fmt.Errorf("transport: connection lost: %w", err))
			t.logger.Debug("receive loop stopped", zap.Error(err))
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue
		case protocol.MsgTypeHandshake:
			select {
			case t.handshakes <- body:
			default:
				t.logger.Debug("dropping unsolicited handshake frame")
			}
			continue
		case protocol.MsgTypeRequest:
			t.logger.Debug("dropping request frame on client transport", zap.Uint32("seq", header.Seq))
			continue
		}

		msg := &message.Message{}
		if err := t.decode(header, body, msg); err != nil {
			// The seq is still known, so the caller gets a decoding failure
			// instead of waiting for its timeout.
			t.logger.Debug("undecodable response envelope", zap.Uint32("seq", header.Seq), zap.Error(err))
			msg = message.Failure("", rpcerr.New(rpcerr.KindDecoding, "", err))
		}

		select {
		case t.deliveries <- Delivery{Seq: header.Seq, Msg: msg}:
		case <-t.closing:
			return
		}
	}
}

func (t *ConnTransport) decode(header *protocol.Header, body []byte, msg *message.Message) error {
	cdc := t.codec
	if codec.CodecType(header.CodecType) != t.codecType {
		var err error
		if cdc, err = codec.GetCodec(codec.CodecType(header.CodecType)); err != nil {
			return err
		}
	}
	return cdc.Decode(body, msg)
}

// heartbeatLoop sends empty heartbeat frames so idle connections stay open
// and dead ones are noticed.
func (t *ConnTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.writeFrame(protocol.MsgTypeHeartbeat, 0, nil); err != nil {
				return
			}
		}
	}
}

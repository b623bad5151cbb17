// Package client is the calling side of the bridge.
//
// A Client sends invocations through a transport.Transport and hands back a
// Future per call without blocking. A single receive loop matches responses
// to futures by correlation id:
//
//	Invoke ──add(f)──► pending[id] ──Send(id)──► host
//	recvLoop ◄── Delivery{id} ── take(id) ── f.settle(result)
//
// Timeouts, context cancellation, Future.Cancel, transport failure and Close
// all settle futures the same way: by taking the entry out of the pending
// table first, so a late response finds nothing and is logged as an orphan.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mini-bridge/message"
	"mini-bridge/payload"
	"mini-bridge/rpcerr"
	"mini-bridge/transport"
	"mini-bridge/value"
)

// Client is safe for concurrent use.
type Client struct {
	tr      transport.Transport
	logger  *zap.Logger
	timeout time.Duration
	pending *pendingTable

	mu       sync.Mutex
	state    State
	attempt  *initAttempt // in-flight Init, nil otherwise
	session  string
	commands []string

	loopDone chan struct{}
}

// New wraps tr and starts receiving. Init must succeed before Invoke.
func New(tr transport.Transport, opts ...Option) *Client {
	c := &Client{
		tr:       tr,
		logger:   zap.NewNop(),
		pending:  newPendingTable(),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.recvLoop()
	return c
}

// Invoke sends command name with args and returns immediately. Every
// failure, including ones detected before anything is sent, is reported
// through the returned Future.
func (c *Client) Invoke(ctx context.Context, name string, args value.Value, opts ...CallOption) *Future {
	if err := c.ready(name); err != nil {
		return rejected(name, err)
	}

	data, err := payload.Encode(args)
	if err != nil {
		return rejected(name, withCommand(err, name))
	}

	cfg := callConfig{timeout: c.timeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := newFuture(c, name)
	id, err := c.pending.add(f)
	if err != nil {
		return rejected(name, withCommand(err, name))
	}

	if cfg.timeout > 0 {
		timer := time.AfterFunc(cfg.timeout, func() {
			f.abandon(rpcerr.New(rpcerr.KindTimeout, name, fmt.Errorf("no response within %s", cfg.timeout)))
		})
		f.onSettle(timer.Stop)
	}
	if ctx.Done() != nil {
		f.onSettle(context.AfterFunc(ctx, func() {
			f.abandon(ctxError(name, ctx))
		}))
	}

	if err := c.tr.Send(id, &message.Message{Command: name, Payload: data}); err != nil {
		f.abandon(rpcerr.New(rpcerr.KindTransport, name, err))
	}
	return f
}

// Call invokes name with args converted by value.FromAny and, on success,
// decodes the result into reply (which may be nil).
func (c *Client) Call(ctx context.Context, name string, args any, reply any, opts ...CallOption) error {
	v, err := value.FromAny(args)
	if err != nil {
		return rpcerr.New(rpcerr.KindEncoding, name, err)
	}
	result, err := c.Invoke(ctx, name, v, opts...).Wait(ctx)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	if err := payload.Into(result, reply); err != nil {
		return withCommand(err, name)
	}
	return nil
}

// Encode serializes x the way Invoke serializes arguments.
func (c *Client) Encode(x any) ([]byte, error) {
	if err := c.ready(""); err != nil {
		return nil, err
	}
	return payload.Marshal(x)
}

// Pending reports how many invocations await a response.
func (c *Client) Pending() int {
	return c.pending.len()
}

// Err returns a Transport error once the transport has stopped delivering
// responses, nil while it is usable. A client in that state never recovers.
func (c *Client) Err() error {
	select {
	case <-c.loopDone:
	default:
		return nil
	}
	cause := c.tr.Err()
	if cause == nil {
		cause = transport.ErrClosed
	}
	return rpcerr.New(rpcerr.KindTransport, "", cause)
}

// Close rejects every pending invocation with a Cancelled error and closes
// the transport. Later calls fail with a NotInitialized error.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	c.failAll(rpcerr.New(rpcerr.KindCancelled, "", errors.New("client closed")))
	err := c.tr.Close()
	<-c.loopDone
	return err
}

// recvLoop settles futures as responses arrive and fails the rest once the
// transport stops delivering.
func (c *Client) recvLoop() {
	defer close(c.loopDone)
	for d := range c.tr.Deliveries() {
		f := c.pending.take(d.Seq)
		if f == nil {
			c.logger.Debug("dropping orphan response",
				zap.Uint32("seq", d.Seq),
				zap.String("command", d.Msg.Command),
				zap.Stringer("kind", d.Msg.Kind))
			continue
		}
		f.settle(resolve(f.command, d.Msg))
	}

	cause := c.tr.Err()
	if cause == nil {
		cause = transport.ErrClosed
	}
	if n := c.failAll(rpcerr.New(rpcerr.KindTransport, "", cause)); n > 0 {
		c.logger.Warn("transport lost with invocations pending", zap.Int("pending", n), zap.Error(cause))
	}
}

func (c *Client) failAll(err error) int {
	futures := c.pending.drain(err)
	for _, f := range futures {
		f.settle(value.Null(), withCommand(err, f.command))
	}
	return len(futures)
}

// resolve turns a response into a future outcome.
func resolve(command string, msg *message.Message) (value.Value, error) {
	if msg.Failed() {
		return value.Null(), withCommand(msg.Err(), command)
	}
	v, err := payload.Decode(msg.Payload)
	if err != nil {
		return value.Null(), rpcerr.New(rpcerr.KindDecoding, command, err)
	}
	return v, nil
}

// withCommand fills in the command of a shared or host-built error.
func withCommand(err error, command string) error {
	var re *rpcerr.Error
	if !errors.As(err, &re) || re.Command == command {
		return err
	}
	cp := *re
	cp.Command = command
	return &cp
}

package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mini-bridge/message"
	"mini-bridge/rpcerr"
)

// State is the client lifecycle:
//
//	Uninitialized ──Init──► Initializing ──ok──► Ready ──Close──► Closed
//	      ▲                      │
//	      └────────failed────────┘
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type initAttempt struct {
	done chan struct{}
	err  error
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session is the id sent in the handshake, empty before Init succeeds.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Commands lists what the host reported in its handshake reply.
func (c *Client) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

// ready fails with a NotInitialized error unless Init has succeeded.
func (c *Client) ready(command string) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == StateReady {
		return nil
	}
	return rpcerr.New(rpcerr.KindNotInitialized, command, fmt.Errorf("client is %s", state))
}

// Init performs the handshake with the host. It runs at most once at a
// time: concurrent callers share the outcome of the attempt in flight, and
// once an attempt succeeds every later call returns nil right away. A failed
// attempt leaves the client uninitialized so Init can be retried.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		c.mu.Unlock()
		return nil
	case StateClosed:
		c.mu.Unlock()
		return rpcerr.New(rpcerr.KindNotInitialized, "", errors.New("client is closed"))
	case StateInitializing:
		attempt := c.attempt
		c.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctxError("", ctx)
		}
	}

	attempt := &initAttempt{done: make(chan struct{})}
	c.attempt = attempt
	c.state = StateInitializing
	c.mu.Unlock()

	// The handshake runs without the lock so Invoke and State never block
	// behind network I/O.
	session, commands, err := c.handshake(ctx)

	c.mu.Lock()
	switch {
	case c.state == StateClosed:
		err = rpcerr.New(rpcerr.KindNotInitialized, "", errors.New("client closed during init"))
	case err != nil:
		c.state = StateUninitialized
	default:
		c.state = StateReady
		c.session, c.commands = session, commands
	}
	c.attempt = nil
	attempt.err = err
	close(attempt.done)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("init failed", zap.Error(err))
	} else {
		c.logger.Info("bridge ready", zap.String("session", session), zap.Int("commands", len(commands)))
	}
	return err
}

func (c *Client) handshake(ctx context.Context) (string, []string, error) {
	session := uuid.NewString()
	hello, err := message.Hello{Session: session, Version: message.ProtocolVersion}.Marshal()
	if err != nil {
		return "", nil, err
	}

	reply, err := c.tr.Handshake(ctx, hello)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctxError("", ctx)
		}
		return "", nil, rpcerr.New(rpcerr.KindTransport, "", err)
	}

	welcome, err := message.UnmarshalWelcome(reply)
	if err != nil {
		return "", nil, err
	}
	if welcome.Version != message.ProtocolVersion {
		return "", nil, rpcerr.New(rpcerr.KindTransport, "",
			fmt.Errorf("host speaks protocol %d, want %d", welcome.Version, message.ProtocolVersion))
	}
	if welcome.Session != session {
		return "", nil, rpcerr.New(rpcerr.KindTransport, "", errors.New("handshake reply for another session"))
	}
	return session, welcome.Commands, nil
}

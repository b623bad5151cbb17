package client

import (
	"context"
	"sync"

	"mini-bridge/rpcerr"
	"mini-bridge/value"
)

// Future is the pending result of one invocation.
type Future struct {
	id      uint32
	command string
	client  *Client
	done    chan struct{}

	mu      sync.Mutex
	settled bool
	stops   []func() bool // timers and context watchers to disarm on settle
	result  value.Value
	err     error
}

func newFuture(c *Client, command string) *Future {
	return &Future{client: c, command: command, done: make(chan struct{})}
}

// Rejected returns a future that has already failed with err, for callers
// that detect a failure before an invocation can be made.
func Rejected(command string, err error) *Future {
	return rejected(command, err)
}

func rejected(command string, err error) *Future {
	f := newFuture(nil, command)
	f.settle(value.Null(), err)
	return f
}

// ID is the correlation id, or 0 if the invocation never got one.
func (f *Future) ID() uint32 { return f.id }

func (f *Future) Command() string { return f.command }

// Done is closed once the future has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result blocks until the future settles and returns its outcome.
func (f *Future) Result() (value.Value, error) {
	<-f.done
	return f.result, f.err
}

// Wait is Result bounded by ctx. When ctx ends first the invocation is
// cancelled and any late response is dropped as an orphan.
func (f *Future) Wait(ctx context.Context) (value.Value, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		f.abandon(ctxError(f.command, ctx))
	}
	return f.Result()
}

// Cancel rejects the future with a Cancelled error and forgets its
// correlation id. It reports false if the future had already settled.
func (f *Future) Cancel() bool {
	return f.abandon(rpcerr.New(rpcerr.KindCancelled, f.command, nil))
}

func (f *Future) abandon(err error) bool {
	if f.client == nil || !f.client.pending.takeIf(f.id, f) {
		return false
	}
	f.settle(value.Null(), err)
	return true
}

// onSettle registers a disarm function; it runs right away if the future
// has already settled.
func (f *Future) onSettle(stop func() bool) {
	f.mu.Lock()
	if !f.settled {
		f.stops = append(f.stops, stop)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	stop()
}

// settle must only be called by whoever removed f from the pending table.
func (f *Future) settle(result value.Value, err error) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return
	}
	f.settled = true
	f.result, f.err = result, err
	stops := f.stops
	f.stops = nil
	f.mu.Unlock()

	close(f.done)
	for _, stop := range stops {
		stop()
	}
}

// ctxError maps a finished context to the bridge error kind.
func ctxError(command string, ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return rpcerr.New(rpcerr.KindTimeout, command, ctx.Err())
	}
	return rpcerr.New(rpcerr.KindCancelled, command, ctx.Err())
}

// Package host is the receiving side of the bridge: a Registry of named
// command handlers and a Server exposing it over stream connections and HTTP.
//
// The Registry is the fault boundary between handler code and the wire. A
// handler that fails or panics produces an error response; it never takes
// the host down or leaves a caller waiting.
package host

import (
	"context"
	"fmt"
	"regexp"
	"runtime/debug"
	"sort"
	"sync"

	"go.uber.org/zap"

	"mini-bridge/message"
	"mini-bridge/payload"
	"mini-bridge/rpcerr"
	"mini-bridge/value"
)

// Handler implements one command. args is the decoded argument value; the
// returned value is encoded as the result.
type Handler func(ctx context.Context, args value.Value) (value.Value, error)

var validName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.]*$`)

// Registry maps command names to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewRegistry returns an empty Registry. A nil logger discards output.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register binds name to h. A second registration of the same name fails
// with a DuplicateCommand error and leaves the first handler in place.
func (r *Registry) Register(name string, h Handler) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("host: invalid command name %q", name)
	}
	if h == nil {
		return fmt.Errorf("host: nil handler for %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return rpcerr.New(rpcerr.KindDuplicateCommand, name, nil)
	}
	r.handlers[name] = h
	return nil
}

// Names lists the registered commands in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Dispatch runs the handler registered under name.
//
// It returns an error only when the request cannot reach a handler: the
// command is unknown or the arguments do not decode. Anything that happens
// inside the handler is reported through the returned response instead.
func (r *Registry) Dispatch(ctx context.Context, name string, encodedArgs []byte) (*message.Message, error) {
	h, ok := r.lookup(name)
	if !ok {
		return nil, rpcerr.New(rpcerr.KindUnknownCommand, name, fmt.Errorf("no handler registered"))
	}

	args, err := payload.Decode(encodedArgs)
	if err != nil {
		return nil, rpcerr.New(rpcerr.KindDecoding, name, err)
	}

	result, err := r.call(ctx, name, h, args)
	if err != nil {
		return message.Failure(name, handlerError(name, err)), nil
	}

	data, err := payload.Encode(result)
	if err != nil {
		r.logger.Warn("unencodable handler result", zap.String("command", name), zap.Error(err))
		return message.Failure(name, rpcerr.New(rpcerr.KindEncoding, name, err)), nil
	}
	return &message.Message{Command: name, Payload: data}, nil
}

// Respond is Dispatch for a request envelope; dispatch errors become error
// responses.
func (r *Registry) Respond(ctx context.Context, req *message.Message) *message.Message {
	resp, err := r.Dispatch(ctx, req.Command, req.Payload)
	if err != nil {
		return message.Failure(req.Command, err)
	}
	return resp
}

// call runs h and turns a panic into an error.
func (r *Registry) call(ctx context.Context, name string, h Handler, args value.Value) (result value.Value, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked",
				zap.String("command", name),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h(ctx, args)
}

// handlerError classifies a handler failure. Argument and result conversion
// failures keep their kind; everything else is a remote invocation error.
func handlerError(name string, err error) error {
	switch rpcerr.KindOf(err) {
	case rpcerr.KindDecoding, rpcerr.KindEncoding:
		return err
	}
	return rpcerr.Remote(rpcerr.KindRemote, name, rpcerr.DetailOf(err))
}

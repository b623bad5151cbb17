// Package bridge is the front door for code that calls host commands.
//
// It holds one process-wide session:
//
//	bridge.Configure(bridge.Config{Transport: "tcp", Address: "127.0.0.1:7420"})
//	if err := bridge.Init(ctx); err != nil { ... }
//	v, err := bridge.Invoke(ctx, "do_stuff_with_num", map[string]any{"num": 42}).Result()
//
// Encode and Invoke fail with a NotInitialized error until Init succeeds.
// Programs that need several sessions use NewSession directly.
package bridge

import (
	"context"
	"errors"

	"mini-bridge/client"
	"mini-bridge/rpcerr"
	"mini-bridge/value"
)

var std = NewSession(Config{})

// Configure replaces the configuration of the process-wide session. It fails
// once the session is connected; Close it first.
func Configure(cfg Config) error {
	return std.Configure(cfg)
}

// Init connects the process-wide session and performs the handshake.
// Calls after the first success return nil.
func Init(ctx context.Context) error {
	return std.Init(ctx)
}

// Encode serializes x the way Invoke serializes arguments.
func Encode(x any) ([]byte, error) {
	return std.Encode(x)
}

// Invoke calls command on the host. args may be a value.Value or any Go
// value value.FromAny accepts.
func Invoke(ctx context.Context, command string, args any, opts ...client.CallOption) *client.Future {
	return std.Invoke(ctx, command, args, opts...)
}

// Call invokes command and decodes the result into reply.
func Call(ctx context.Context, command string, args any, reply any, opts ...client.CallOption) error {
	return std.Call(ctx, command, args, reply, opts...)
}

// Close ends the process-wide session. A later Init starts a new one.
func Close() error {
	return std.Close()
}

var errNotConnected = errors.New("bridge.Init has not completed")

func notInitialized(command string) error {
	return rpcerr.New(rpcerr.KindNotInitialized, command, errNotConnected)
}

func toValue(command string, args any) (value.Value, error) {
	if v, ok := args.(value.Value); ok {
		return v, nil
	}
	v, err := value.FromAny(args)
	if err != nil {
		return value.Null(), rpcerr.New(rpcerr.KindEncoding, command, err)
	}
	return v, nil
}

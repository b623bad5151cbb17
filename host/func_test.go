package host

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-bridge/rpcerr"
	"mini-bridge/value"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addReply struct {
	Sum int `json:"sum"`
}

func TestRegisterFuncShapes(t *testing.T) {
	reg := NewRegistry(nil)

	require.NoError(t, reg.RegisterFunc("add", func(args addArgs) int { return args.A + args.B }))
	require.NoError(t, reg.RegisterFunc("add_ptr", func(ctx context.Context, args *addArgs) (*addReply, error) {
		return &addReply{Sum: args.A + args.B}, nil
	}))
	require.NoError(t, reg.RegisterFunc("raw", func(args value.Value) value.Value { return args }))
	require.NoError(t, reg.RegisterFunc("ping", func() string { return "pong" }))
	require.NoError(t, reg.RegisterFunc("noop", func(ctx context.Context) error { return nil }))

	args := encodeArgs(t, map[string]any{"a": 2, "b": 3})
	ctx := context.Background()

	resp, err := reg.Dispatch(ctx, "add", args)
	require.NoError(t, err)
	assert.Equal(t, int64(5), decodeResult(t, resp).Int())

	resp, err = reg.Dispatch(ctx, "add_ptr", args)
	require.NoError(t, err)
	sum, ok := decodeResult(t, resp).Get("sum")
	require.True(t, ok)
	assert.Equal(t, int64(5), sum.Int())

	resp, err = reg.Dispatch(ctx, "raw", args)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, decodeResult(t, resp).Keys())

	resp, err = reg.Dispatch(ctx, "ping", encodeArgs(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "pong", decodeResult(t, resp).Str())

	resp, err = reg.Dispatch(ctx, "noop", encodeArgs(t, nil))
	require.NoError(t, err)
	assert.True(t, decodeResult(t, resp).IsNull())
}

func TestRegisterFuncRejectsShapes(t *testing.T) {
	reg := NewRegistry(nil)
	bad := map[string]any{
		"not a func":   42,
		"nil func":     (func())(nil),
		"variadic":     func(xs ...int) {},
		"two args":     func(a, b int) {},
		"bad second":   func() (int, int) { return 0, 0 },
		"three result": func() (int, int, error) { return 0, 0, nil },
	}
	for name, fn := range bad {
		assert.Error(t, reg.RegisterFunc("cmd", fn), name)
	}
}

func TestRegisterFuncErrors(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterFunc("typed", func(args addArgs) int { return args.A }))
	require.NoError(t, reg.RegisterFunc("fails", func() (int, error) { return 0, errors.New("nope") }))
	require.NoError(t, reg.RegisterFunc("chan", func() chan int { return make(chan int) }))
	ctx := context.Background()

	resp, err := reg.Dispatch(ctx, "typed", encodeArgs(t, map[string]any{"a": "not a number"}))
	require.NoError(t, err)
	assert.Equal(t, rpcerr.KindDecoding, resp.Kind)

	resp, err = reg.Dispatch(ctx, "fails", encodeArgs(t, nil))
	require.NoError(t, err)
	assert.True(t, errors.Is(resp.Err(), rpcerr.ErrRemoteInvocation))

	resp, err = reg.Dispatch(ctx, "chan", encodeArgs(t, nil))
	require.NoError(t, err)
	assert.Equal(t, rpcerr.KindEncoding, resp.Kind)
}

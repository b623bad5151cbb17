package main

import (
	"context"
	"time"

	"mini-bridge/host"
	"mini-bridge/value"
)

type numArgs struct {
	Num int64 `json:"num"`
}

type addArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

type sleepArgs struct {
	Ms int `json:"ms"`
}

func registerCommands(reg *host.Registry) error {
	if err := reg.RegisterFunc("do_stuff_with_num", func(args numArgs) int64 {
		return args.Num + 1
	}); err != nil {
		return err
	}
	if err := reg.RegisterFunc("add", func(args addArgs) float64 {
		return args.A + args.B
	}); err != nil {
		return err
	}
	if err := reg.Register("echo", func(ctx context.Context, args value.Value) (value.Value, error) {
		return args, nil
	}); err != nil {
		return err
	}
	return reg.RegisterFunc("sleep", func(ctx context.Context, args sleepArgs) (int, error) {
		select {
		case <-time.After(time.Duration(args.Ms) * time.Millisecond):
			return args.Ms, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
}

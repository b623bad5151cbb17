// Command bridgecall invokes one command on a bridge host and prints the
// result.
//
//	bridgecall -a 127.0.0.1:7420 do_stuff_with_num '{"num": 42}'
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"mini-bridge/bridge"
	"mini-bridge/rpcerr"
)

type Options struct {
	bridge.Config
	Verbose bool `short:"v" long:"verbose" description:"log transport activity"`
	Args    struct {
		Command string `positional-arg-name:"command" required:"true"`
		JSON    string `positional-arg-name:"args" description:"JSON arguments, null when omitted"`
	} `positional-args:"true"`
}

func main() {
	options := &Options{}
	if _, err := flags.Parse(options); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if err := run(context.Background(), options); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var re *rpcerr.Error
		if errors.As(err, &re) && re.Kind == rpcerr.KindRemote {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, options *Options) error {
	logger := zap.NewNop()
	if options.Verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
		defer logger.Sync()
	}
	options.Config.Logger = logger

	args, err := parseArgs(options.Args.JSON)
	if err != nil {
		return err
	}

	if err := bridge.Configure(options.Config); err != nil {
		return err
	}
	if err := bridge.Init(ctx); err != nil {
		return err
	}
	defer bridge.Close()

	result, err := bridge.Invoke(ctx, options.Args.Command, args).Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Println(result.String())
	return nil
}

// Command bridgehost serves the demo commands over TCP and HTTP.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-bridge/discovery"
	"mini-bridge/host"
	"mini-bridge/middleware"
)

type Options struct {
	Listen    string        `short:"l" long:"listen" description:"tcp listen address, empty to disable" default:"127.0.0.1:7420"`
	HTTP      string        `long:"http" description:"http listen address, empty to disable" default:"127.0.0.1:7421"`
	Advertise string        `long:"advertise" description:"address registered in etcd, defaults to the listen address"`
	Etcd      []string      `long:"etcd" description:"etcd endpoint to register with (repeatable)"`
	Service   string        `long:"service" description:"service name to register under" default:"bridge"`
	Workers   int           `short:"w" long:"workers" description:"handlers running at once" default:"64"`
	Timeout   time.Duration `long:"timeout" description:"per-command time limit, 0 for none" default:"10s"`
	Rate      float64       `long:"rate" description:"commands per second, 0 for unlimited"`
	Burst     int           `long:"burst" description:"rate limiter burst" default:"20"`
	Verbose   bool          `short:"v" long:"verbose" description:"development logging"`
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

	logger, err := newLogger(options.Verbose)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(options, logger); err != nil {
		logger.Fatal("bridgehost failed", zap.Error(err))
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(options *Options, logger *zap.Logger) error {
	reg := host.NewRegistry(logger.Named("registry"))
	if err := registerCommands(reg); err != nil {
		return err
	}

	serverOpts := []host.Option{
		host.WithLogger(logger.Named("server")),
		host.WithWorkers(options.Workers),
	}
	var etcd *discovery.EtcdRegistry
	if len(options.Etcd) > 0 {
		var err error
		etcd, err = discovery.NewEtcdRegistry(options.Etcd, 5*time.Second, logger.Named("discovery"))
		if err != nil {
			return err
		}
		defer etcd.Close()
		serverOpts = append(serverOpts, host.WithDiscovery(etcd, options.Service, advertisedInstance(options)))
	}

	srv := host.NewServer(reg, serverOpts...)
	srv.Use(middleware.LoggingMiddleware(logger.Named("access")))
	if options.Rate > 0 {
		srv.Use(middleware.RetryMiddleware(logger.Named("retry"), 2, 10*time.Millisecond))
		srv.Use(middleware.RateLimitMiddleware(options.Rate, options.Burst))
	}
	if options.Timeout > 0 {
		srv.Use(middleware.TimeOutMiddleware(options.Timeout))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 2)
	if options.Listen != "" {
		ln, err := net.Listen("tcp", options.Listen)
		if err != nil {
			return err
		}
		logger.Info("serving tcp", zap.Stringer("addr", ln.Addr()))
		go func() { errc <- srv.ServeListener(ln) }()
	}

	var httpSrv *http.Server
	if options.HTTP != "" {
		httpSrv = &http.Server{Addr: options.HTTP, Handler: srv}
		logger.Info("serving http", zap.String("addr", options.HTTP))
		go func() {
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
		if options.Listen == "" {
			// Nothing else advertises an http-only host.
			if err := srv.Advertise(ctx); err != nil {
				return err
			}
		}
	}

	var errs error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		errs = multierr.Append(errs, err)
	}

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = multierr.Append(errs, httpSrv.Shutdown(shutdownCtx))
		cancel()
	}
	return multierr.Append(errs, srv.Shutdown(5*time.Second))
}

func advertisedInstance(options *Options) discovery.ServiceInstance {
	if options.Listen != "" {
		return discovery.ServiceInstance{Addr: options.Advertise, Transport: "tcp", Weight: 1}
	}
	addr := options.Advertise
	if addr == "" {
		addr = "http://" + options.HTTP
	}
	return discovery.ServiceInstance{Addr: addr, Transport: "http", Weight: 1}
}

package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-bridge/client"
	"mini-bridge/codec"
	"mini-bridge/discovery"
	"mini-bridge/loadbalance"
	"mini-bridge/rpcerr"
	"mini-bridge/transport"
)

// Session owns one client and whatever it took to reach the host.
type Session struct {
	key string // balancer key, stable for the life of the Session

	connecting sync.Mutex // serializes Configure, connect and Close
	cfg        Config
	registry   discovery.Registry // owned only when built from Endpoints
	current    atomic.Pointer[client.Client]
}

func NewSession(cfg Config) *Session {
	return &Session{key: uuid.NewString(), cfg: cfg.withDefaults()}
}

func (s *Session) Configure(cfg Config) error {
	s.connecting.Lock()
	defer s.connecting.Unlock()
	if s.current.Load() != nil {
		return fmt.Errorf("bridge: session already connected")
	}
	s.cfg = cfg.withDefaults()
	return nil
}

// Client returns the underlying client, nil before Init.
func (s *Session) Client() *client.Client {
	return s.current.Load()
}

func (s *Session) Init(ctx context.Context) error {
	c, err := s.connect(ctx)
	if err != nil {
		return err
	}
	if err := c.Init(ctx); err != nil {
		if rpcerr.KindOf(err) == rpcerr.KindTransport {
			s.discard(c)
		}
		return err
	}
	return nil
}

func (s *Session) Encode(x any) ([]byte, error) {
	c := s.current.Load()
	if c == nil {
		return nil, notInitialized("")
	}
	return c.Encode(x)
}

func (s *Session) Invoke(ctx context.Context, command string, args any, opts ...client.CallOption) *client.Future {
	c := s.current.Load()
	if c == nil {
		return client.Rejected(command, notInitialized(command))
	}
	v, err := toValue(command, args)
	if err != nil {
		return client.Rejected(command, err)
	}
	return c.Invoke(ctx, command, v, opts...)
}

func (s *Session) Call(ctx context.Context, command string, args any, reply any, opts ...client.CallOption) error {
	c := s.current.Load()
	if c == nil {
		return notInitialized(command)
	}
	return c.Call(ctx, command, args, reply, opts...)
}

// Close closes the client and any registry the session created.
func (s *Session) Close() error {
	s.connecting.Lock()
	defer s.connecting.Unlock()

	var errs error
	if c := s.current.Swap(nil); c != nil {
		errs = multierr.Append(errs, c.Close())
	}
	if s.registry != nil {
		errs = multierr.Append(errs, s.registry.Close())
		s.registry = nil
	}
	return errs
}

// connect builds the client on first use, and again once the previous
// client has lost its transport.
func (s *Session) connect(ctx context.Context) (*client.Client, error) {
	if c := s.current.Load(); c != nil && c.Err() == nil {
		return c, nil
	}
	s.connecting.Lock()
	defer s.connecting.Unlock()
	if c := s.current.Load(); c != nil {
		if c.Err() == nil {
			return c, nil
		}
		s.dropLocked(c)
	}

	cfg := s.cfg
	tr, err := s.dial(ctx, cfg)
	if err != nil {
		return nil, rpcerr.New(rpcerr.KindTransport, "", err)
	}
	c := client.New(tr,
		client.WithLogger(cfg.Logger.Named("client")),
		client.WithDefaultTimeout(cfg.Timeout))
	s.current.Store(c)
	return c, nil
}

// discard forgets c, if it is still current, so the next Init dials again.
func (s *Session) discard(c *client.Client) {
	s.connecting.Lock()
	defer s.connecting.Unlock()
	if s.current.Load() == c {
		s.dropLocked(c)
	}
}

func (s *Session) dropLocked(c *client.Client) {
	s.current.Store(nil)
	if err := c.Close(); err != nil {
		s.cfg.Logger.Debug("closing broken client", zap.Error(err))
	}
}

func (s *Session) dial(ctx context.Context, cfg Config) (transport.Transport, error) {
	switch cfg.Transport {
	case "tcp":
		return s.dialStream(ctx, cfg, cfg.Address)
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("bridge: http transport needs a URL")
		}
		return s.dialHTTP(cfg, cfg.URL), nil
	case "discovery":
		return s.dialDiscovered(ctx, cfg)
	}
	return nil, fmt.Errorf("bridge: unknown transport %q", cfg.Transport)
}

func (s *Session) dialStream(ctx context.Context, cfg Config, addr string) (transport.Transport, error) {
	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return transport.Dial(ctx, "tcp", addr, ct,
		transport.WithHeartbeat(cfg.Heartbeat),
		transport.WithConnLogger(cfg.Logger.Named("transport")))
}

func (s *Session) dialHTTP(cfg Config, url string) transport.Transport {
	return transport.NewHTTPTransport(url,
		transport.WithHTTPClient(&http.Client{}),
		transport.WithHTTPLogger(cfg.Logger.Named("transport")))
}

// dialDiscovered looks the service up and connects to the host the
// balancer picks for this session's key.
func (s *Session) dialDiscovered(ctx context.Context, cfg Config) (transport.Transport, error) {
	reg := cfg.Discovery
	if reg == nil {
		if s.registry == nil {
			etcd, err := discovery.NewEtcdRegistry(cfg.Endpoints, 5*time.Second, cfg.Logger.Named("discovery"))
			if err != nil {
				return nil, err
			}
			s.registry = etcd
		}
		reg = s.registry
	}

	instances, err := reg.Discover(ctx, cfg.Service)
	if err != nil {
		return nil, err
	}
	bal, err := loadbalance.New(cfg.Balancer)
	if err != nil {
		return nil, err
	}
	inst, err := bal.Pick(s.key, instances)
	if err != nil {
		return nil, fmt.Errorf("bridge: service %q: %w", cfg.Service, err)
	}
	cfg.Logger.Debug("picked host",
		zap.String("service", cfg.Service),
		zap.String("addr", inst.Addr),
		zap.String("balancer", bal.Name()))

	if inst.Transport == "http" {
		return s.dialHTTP(cfg, inst.Addr), nil
	}
	return s.dialStream(ctx, cfg, inst.Addr)
}

package host

// Request processing pipeline for stream connections:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: acquire worker → go handleRequest
//	    → Codec.Decode → Middleware Chain → Registry.Respond → Codec.Encode → write response

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-bridge/codec"
	"mini-bridge/discovery"
	"mini-bridge/message"
	"mini-bridge/middleware"
	"mini-bridge/protocol"
	"mini-bridge/rpcerr"
)

const leaseTTL = 10 // seconds, kept alive by the discovery registry

// Server exposes a Registry to bridge clients.
type Server struct {
	registry *Registry
	logger   *zap.Logger
	workers  chan struct{} // semaphore bounding concurrent handlers

	middlewares []middleware.Middleware
	buildOnce   sync.Once
	handler     middleware.HandlerFunc // middleware(middleware(...(registry.Respond)))

	discovery   discovery.Registry
	serviceName string
	instance    discovery.ServiceInstance
	advertised  atomic.Bool

	ctx    context.Context // parent of every request context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}

	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool
}

// NewServer creates a server for reg.
func NewServer(reg *Registry, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		registry:  reg,
		logger:    zap.NewNop(),
		workers:   make(chan struct{}, 64),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use registers a middleware. Middlewares apply in the order added and must
// all be added before the first request is served.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// handle runs req through the middleware chain, built once on first use.
func (s *Server) handle(ctx context.Context, req *message.Message) *message.Message {
	s.buildOnce.Do(func() {
		s.handler = middleware.Chain(s.middlewares...)(s.registry.Respond)
	})
	return s.handler(ctx, req)
}

// acquire blocks for a worker slot. It fails once the server shuts down.
func (s *Server) acquire(ctx context.Context) bool {
	select {
	case s.workers <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) release() { <-s.workers }

// track counts a request as in flight unless Shutdown has begun. The check
// and the Add share s.mu with Shutdown so wg.Wait never races an Add.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// welcome answers a handshake hello.
func (s *Server) welcome(body []byte) ([]byte, error) {
	hello, err := message.UnmarshalHello(body)
	if err != nil {
		return nil, err
	}
	if hello.Version != message.ProtocolVersion {
		s.logger.Warn("client speaks another protocol version",
			zap.Int("client", hello.Version), zap.Int("host", message.ProtocolVersion))
	}
	s.logger.Debug("session opened", zap.String("session", hello.Session))
	return message.Welcome{
		Session:  hello.Session,
		Version:  message.ProtocolVersion,
		Commands: s.registry.Names(),
	}.Marshal()
}

// Serve listens on address and serves connections until Shutdown.
func (s *Server) Serve(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(ln)
}

// ServeListener accepts connections from ln until Shutdown. If discovery is
// configured the server is advertised before the first Accept.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listeners[ln] = struct{}{}
	if s.instance.Addr == "" {
		s.instance.Addr = ln.Addr().String()
	}
	if s.instance.Transport == "" {
		s.instance.Transport = "tcp"
	}
	s.mu.Unlock()

	if err := s.Advertise(s.ctx); err != nil {
		return err
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.ServeConn(conn)
	}
}

// Advertise registers the server with discovery. It is a no-op without
// discovery or when already advertised.
func (s *Server) Advertise(ctx context.Context) error {
	if s.discovery == nil || !s.advertised.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	inst := s.instance
	s.mu.Unlock()
	inst.Commands = s.registry.Names()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.discovery.Register(ctx, s.serviceName, inst, leaseTTL); err != nil {
		s.advertised.Store(false)
		return fmt.Errorf("host: advertise %s: %w", inst.Addr, err)
	}
	s.logger.Info("advertised", zap.String("service", s.serviceName), zap.String("addr", inst.Addr))
	return nil
}

// ServeConn serves a single connection until it closes. Reads happen on the
// calling goroutine; each request is handled on its own goroutine and
// responses share a per-connection write lock.
func (s *Server) ServeConn(conn net.Conn) {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	defer func() {
		cancel()
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	logger := s.logger.With(zap.Stringer("remote", conn.RemoteAddr()))
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			logger.Debug("connection closed", zap.Error(err))
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat, protocol.MsgTypeResponse:
			continue
		case protocol.MsgTypeHandshake:
			reply, err := s.welcome(body)
			if err != nil {
				logger.Warn("bad handshake", zap.Error(err))
				return
			}
			if err := s.write(conn, writeMu, header, protocol.MsgTypeHandshake, reply); err != nil {
				return
			}
			continue
		}

		if !s.acquire(ctx) {
			return
		}
		if !s.track() {
			s.release()
			return
		}
		go func() {
			defer s.wg.Done()
			defer s.release()
			s.handleRequest(ctx, logger, conn, writeMu, header, body)
		}()
	}
}

func (s *Server) handleRequest(ctx context.Context, logger *zap.Logger, conn net.Conn, writeMu *sync.Mutex, header *protocol.Header, body []byte) {
	cdc, err := codec.GetCodec(codec.CodecType(header.CodecType))
	if err != nil {
		logger.Warn("unsupported codec", zap.Error(err))
		return
	}

	var resp *message.Message
	req := &message.Message{}
	if err := cdc.Decode(body, req); err != nil {
		resp = message.Failure("", rpcerr.New(rpcerr.KindDecoding, "", err))
	} else {
		resp = s.handle(ctx, req)
	}

	out, err := cdc.Encode(resp)
	if err != nil {
		logger.Error("failed to encode response", zap.String("command", req.Command), zap.Error(err))
		return
	}
	if err := s.write(conn, writeMu, header, protocol.MsgTypeResponse, out); err != nil {
		logger.Debug("failed to write response", zap.Uint32("seq", header.Seq), zap.Error(err))
	}
}

// write sends a frame echoing the request's codec and seq.
func (s *Server) write(conn net.Conn, writeMu *sync.Mutex, req *protocol.Header, msgType protocol.MsgType, body []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	return protocol.Encode(conn, &protocol.Header{
		CodecType: req.CodecType,
		MsgType:   msgType,
		Seq:       req.Seq,
	}, body)
}

// Shutdown stops the server gracefully:
//  1. Deregister from discovery, so clients stop picking this host
//  2. Close listeners
//  3. Wait up to timeout for in-flight requests
//  4. Cancel what is left and close every connection
func (s *Server) Shutdown(timeout time.Duration) error {
	var errs error
	if s.discovery != nil && s.advertised.Load() {
		s.mu.Lock()
		addr := s.instance.Addr
		s.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		errs = multierr.Append(errs, s.discovery.Deregister(ctx, s.serviceName, addr))
		cancel()
	}

	s.mu.Lock()
	s.shutdown.Store(true)
	for ln := range s.listeners {
		errs = multierr.Append(errs, ln.Close())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		errs = multierr.Append(errs, fmt.Errorf("host: timeout waiting for in-flight requests"))
	}

	s.cancel()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	return errs
}

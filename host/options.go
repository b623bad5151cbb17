package host

import (
	"go.uber.org/zap"

	"mini-bridge/discovery"
)

type Option func(*Server)

// WithLogger sets the server logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithWorkers bounds how many handlers run at once across all connections.
func WithWorkers(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.workers = make(chan struct{}, n)
		}
	}
}

// WithDiscovery advertises the server under serviceName once it starts
// serving. An empty instance.Addr is filled in from the listener.
func WithDiscovery(reg discovery.Registry, serviceName string, instance discovery.ServiceInstance) Option {
	return func(s *Server) {
		s.discovery = reg
		s.serviceName = serviceName
		s.instance = instance
	}
}

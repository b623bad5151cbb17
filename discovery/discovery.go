// Package discovery lets hosts advertise themselves and clients find them.
//
// Two implementations share the Registry interface: EtcdRegistry for real
// deployments and MemoryRegistry for a single process and tests.
package discovery

import "context"

// ServiceInstance describes one reachable host.
type ServiceInstance struct {
	Addr      string   `json:"addr"`                // host:port for tcp, base URL for http
	Transport string   `json:"transport,omitempty"` // "tcp" (default) or "http"
	Weight    int      `json:"weight,omitempty"`    // Weight for load balancing
	Version   string   `json:"version,omitempty"`
	Commands  []string `json:"commands,omitempty"` // commands the host had registered at startup
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}

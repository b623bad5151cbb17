// Package loadbalance picks which host a client connects to when discovery
// returns more than one.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity hosts
//   - WeightedRandom:  hosts of different capacity
//   - ConsistentHash:  a session id always lands on the same host
package loadbalance

import (
	"fmt"

	"mini-bridge/discovery"
)

// Balancer is the interface for load balancing strategies. Implementations
// must be goroutine-safe.
type Balancer interface {
	// Pick selects one instance. key identifies the caller (the client's
	// session id); only key-affine strategies look at it.
	Pick(key string, instances []discovery.ServiceInstance) (*discovery.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch name {
	case "round_robin", "":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown balancer %q", name)
}

var errNoInstances = fmt.Errorf("no instances available")

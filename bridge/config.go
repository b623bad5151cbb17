package bridge

import (
	"time"

	"go.uber.org/zap"

	"mini-bridge/discovery"
)

// Config selects how a session reaches its host. Field tags drive the
// command-line parsing in cmd/.
type Config struct {
	Transport string        `long:"transport" description:"how to reach the host" choice:"tcp" choice:"http" choice:"discovery" default:"tcp"`
	Address   string        `short:"a" long:"address" description:"host address for the tcp transport" default:"127.0.0.1:7420"`
	URL       string        `short:"u" long:"url" description:"host base URL for the http transport"`
	Codec     string        `long:"codec" description:"envelope codec on stream connections" choice:"json" choice:"binary" choice:"cbor" default:"binary"`
	Endpoints []string      `long:"etcd" description:"etcd endpoint used by the discovery transport (repeatable)"`
	Service   string        `long:"service" description:"service name hosts advertise under" default:"bridge"`
	Balancer  string        `long:"balancer" description:"host selection strategy" choice:"round_robin" choice:"weighted_random" choice:"consistent_hash" default:"consistent_hash"`
	Timeout   time.Duration `long:"timeout" description:"default invocation timeout, 0 for none" default:"30s"`
	Heartbeat time.Duration `long:"heartbeat" description:"heartbeat interval on stream connections, 0 to disable" default:"30s"`

	// Discovery replaces the etcd registry built from Endpoints.
	Discovery discovery.Registry `no-flag:"true"`
	Logger    *zap.Logger        `no-flag:"true"`
}

// withDefaults fills the zero fields of a Config built in code rather than
// parsed from flags.
func (c Config) withDefaults() Config {
	if c.Transport == "" {
		c.Transport = "tcp"
	}
	if c.Address == "" {
		c.Address = "127.0.0.1:7420"
	}
	if c.Codec == "" {
		c.Codec = "binary"
	}
	if len(c.Endpoints) == 0 {
		c.Endpoints = []string{"127.0.0.1:2379"}
	}
	if c.Service == "" {
		c.Service = "bridge"
	}
	if c.Balancer == "" {
		c.Balancer = "consistent_hash"
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

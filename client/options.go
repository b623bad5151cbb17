package client

import (
	"time"

	"go.uber.org/zap"
)

type Option func(*Client)

// WithLogger sets the client logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDefaultTimeout bounds every invocation that does not set its own
// timeout. Zero means no bound.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

type callConfig struct {
	timeout time.Duration
}

type CallOption func(*callConfig)

// WithTimeout rejects the invocation with a Timeout error if no response
// arrives within d.
func WithTimeout(d time.Duration) CallOption {
	return func(cfg *callConfig) { cfg.timeout = d }
}

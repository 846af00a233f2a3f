package kya

import (
	"net/http"
	"time"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	httpClient *http.Client
	timeout    time.Duration
}

// WithHTTPClient supplies a custom HTTP client, e.g. one carrying
// transport-level auth for a gateway in front of the kernel.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) { cfg.httpClient = c }
}

// WithTimeout sets the per-request timeout. Ignored when a custom HTTP
// client is supplied.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) { cfg.timeout = d }
}

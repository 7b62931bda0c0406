package http

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds a single outbound request including reading the body.
const DefaultTimeout = 30 * time.Second

// HTTPClient is the subset of *http.Client used by the token and API clients.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns a client with the given overall timeout, or
// DefaultTimeout when timeout is not positive.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
			IdleConnTimeout:       30 * time.Second,
			MaxIdleConns:          4,
		},
	}
}

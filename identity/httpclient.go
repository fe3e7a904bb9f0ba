package identity

import (
	"net"
	"net/http"
	"time"
)

// newAuthHTTPClient builds a tuned HTTP client for calling the Auth
// collaborator. Unlike a multi-provider connector pool, this service
// only ever talks to one upstream (the account service), so a single
// shared transport is enough.
func newAuthHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

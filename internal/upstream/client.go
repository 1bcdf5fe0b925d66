// Package upstream implements the device-side of the tunnel: §4.5
// UpstreamProxyListener accepts overlay streams and §4.6 LocalHTTPClient
// forwards each parsed request to a pooled local HTTP client.
package upstream

import (
	"net"
	"net/http"
	"time"
)

// LocalHTTPClient is a pooled HTTP/1.1 client used to reach the device's
// local target for every stream the UpstreamProxyListener accepts. The
// Transport configuration is carried over from the teacher's
// proxy.ClientProxy.HTTPClient: persistent keep-alive connections, bounded
// idle pool, and an explicit idle timeout (§4.6: default 90s).
type LocalHTTPClient struct {
	HTTPClient *http.Client
}

// NewLocalHTTPClient builds a LocalHTTPClient. idleTimeout, connectTimeout,
// and requestTimeout of zero use the spec §5 defaults of 90s, 5s, and 30s
// respectively.
func NewLocalHTTPClient(idleTimeout, connectTimeout, requestTimeout time.Duration) *LocalHTTPClient {
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     false, // the local target speaks HTTP/1.1 framed requests
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       idleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &LocalHTTPClient{
		HTTPClient: &http.Client{
			Transport: transport,
			// Bounds the whole local round trip (§5 "local request");
			// per-stream cancellation still flows through the request's
			// own context.
			Timeout: requestTimeout,
		},
	}
}

// Do executes req against the local target and returns the raw response
// for the UpstreamProxyListener to re-frame onto the overlay stream.
func (c *LocalHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.HTTPClient.Do(req)
}

// Close releases idle connections held by the pool, for graceful shutdown.
func (c *LocalHTTPClient) Close() {
	if tr, ok := c.HTTPClient.Transport.(*http.Transport); ok {
		tr.CloseIdleConnections()
	}
}

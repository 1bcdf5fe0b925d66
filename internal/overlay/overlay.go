// Package overlay defines the opaque QUIC overlay transport contract:
// NodeId, Endpoint, Connection, and Stream. Nothing outside this package
// should assume a particular transport; gateway and upstream code talk only
// to these interfaces.
package overlay

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ALPN is the application protocol negotiated on every overlay QUIC
// connection.
const ALPN = "datum-connect/1"

// NodeId is an opaque fixed-size public key identifying one overlay peer.
// Beyond hex decoding and encoding, it is only compared for equality and
// used as a map key, never interpreted.
type NodeId [32]byte

// ParseNodeId decodes a hex-encoded NodeId, as accepted on the
// datum-node-id metadata header and the Host-subdomain directory lookup.
func ParseNodeId(s string) (NodeId, error) {
	var id NodeId
	s = strings.TrimSpace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("overlay: invalid node id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("overlay: node id %q has wrong length (%d, want %d)", s, len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

func (n NodeId) String() string { return hex.EncodeToString(n[:]) }

// IsZero reports whether n is the zero-value NodeId (never a valid peer).
func (n NodeId) IsZero() bool { return n == NodeId{} }

// ConnectionDetails is what the discovery collaborator resolves a NodeId
// to: resolve(node_id) -> ConnectionDetails{home_relay, direct_addrs} per
// the external interface contract. Discovery itself (DNS TXT or otherwise)
// is opaque to the core; overlay only consumes whatever addresses come
// back.
type ConnectionDetails struct {
	// DirectAddrs are host:port candidates tried first, in order.
	DirectAddrs []string
	// HomeRelay is a fallback host:port used when no direct address is
	// reachable.
	HomeRelay string
}

// PreferredAddr returns the address Connect should try: the first direct
// address if any are known, otherwise the home relay.
func (d ConnectionDetails) PreferredAddr() (string, bool) {
	if len(d.DirectAddrs) > 0 {
		return d.DirectAddrs[0], true
	}
	if d.HomeRelay != "" {
		return d.HomeRelay, true
	}
	return "", false
}

// Stream is a single bidirectional overlay stream. A Stream is opened fresh
// for every forwarded request and is never cached or reused across requests.
type Stream interface {
	io.Reader
	io.Writer

	// CloseWrite signals that no more data will be written on this stream,
	// analogous to a TCP half-close, without releasing read resources.
	CloseWrite() error

	// Close releases the stream. It implies CloseWrite if not already
	// called, and aborts any in-flight read.
	Close() error

	SetDeadline(t time.Time) error
}

// Connection is a single overlay connection to one NodeId. Connections are
// cached by ConnectionManager and shared across concurrently forwarded
// requests; only OpenStream's result is per-request.
type Connection interface {
	// OpenStream opens a fresh bidirectional stream on this connection.
	OpenStream(ctx context.Context) (Stream, error)

	// AcceptStream blocks until the peer opens a stream, or ctx is done.
	AcceptStream(ctx context.Context) (Stream, error)

	RemoteNodeId() NodeId

	// IsClosed reports whether the connection has already failed or been
	// closed, so a cache can evict it without attempting an operation.
	IsClosed() bool

	// Closed returns a channel closed exactly once, when the connection is
	// no longer usable, so a cache can react without polling IsClosed.
	Closed() <-chan struct{}

	Close() error
}

// Endpoint is the process-wide entry point to the overlay transport: one
// Endpoint per process, shared by every Connection it creates or accepts.
type Endpoint interface {
	// Connect dials a fresh overlay Connection to id. It does not consult or
	// populate any cache; that is ConnectionManager's job.
	Connect(ctx context.Context, id NodeId, details ConnectionDetails) (Connection, error)

	// Accept blocks until a peer opens an overlay connection to this
	// endpoint, or ctx is done. Used by the device-side UpstreamProxy.
	Accept(ctx context.Context) (Connection, error)

	Close() error
}

// ErrEndpointClosed is returned by Accept/Connect once the Endpoint has been
// closed.
var ErrEndpointClosed = errors.New("overlay: endpoint closed")

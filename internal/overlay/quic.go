package overlay

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICEndpointConfig configures a quic-go-backed Endpoint.
type QUICEndpointConfig struct {
	// ListenAddr, if non-empty, makes this Endpoint also accept inbound
	// overlay connections (the UpstreamProxy side). Leave empty for a
	// dial-only Endpoint (the Gateway side).
	ListenAddr string

	TLSConfig *tls.Config

	// KeepAlivePeriod keeps idle overlay connections alive through NATs.
	KeepAlivePeriod time.Duration

	// MaxIdleTimeout closes a connection that has been silent this long.
	MaxIdleTimeout time.Duration
}

type quicEndpoint struct {
	cfg      QUICEndpointConfig
	listener *quic.Listener

	closeOnce sync.Once
	closed    chan struct{}
}

// NewQUICEndpoint constructs an overlay Endpoint backed by quic-go, per
// spec: one Endpoint per process, negotiating ALPN "datum-connect/1".
func NewQUICEndpoint(cfg QUICEndpointConfig) (Endpoint, error) {
	tlsCfg := cfg.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{}
	}
	if len(tlsCfg.NextProtos) == 0 {
		tlsCfg = tlsCfg.Clone()
		tlsCfg.NextProtos = []string{ALPN}
	}

	ep := &quicEndpoint{cfg: cfg, closed: make(chan struct{})}

	if cfg.ListenAddr != "" {
		udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("overlay: resolve listen addr: %w", err)
		}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			return nil, fmt.Errorf("overlay: listen udp: %w", err)
		}
		transport := &quic.Transport{Conn: conn}
		ln, err := transport.Listen(tlsCfg, ep.quicConfig())
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("overlay: quic listen: %w", err)
		}
		ep.listener = ln
	}

	return ep, nil
}

func (e *quicEndpoint) quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: e.cfg.KeepAlivePeriod,
		MaxIdleTimeout:  e.cfg.MaxIdleTimeout,
	}
}

func (e *quicEndpoint) Connect(ctx context.Context, id NodeId, details ConnectionDetails) (Connection, error) {
	tlsCfg := e.cfg.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{}
	}
	if len(tlsCfg.NextProtos) == 0 {
		tlsCfg = tlsCfg.Clone()
		tlsCfg.NextProtos = []string{ALPN}
	}

	addrs := append([]string{}, details.DirectAddrs...)
	if details.HomeRelay != "" {
		addrs = append(addrs, details.HomeRelay)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("overlay: no direct address or home relay for %s", id)
	}

	var lastErr error
	for _, addr := range addrs {
		qc, err := quic.DialAddr(ctx, addr, tlsCfg, e.quicConfig())
		if err != nil {
			lastErr = fmt.Errorf("overlay: dial %s: %w", addr, err)
			continue
		}
		return newQUICConnection(qc, id), nil
	}
	return nil, lastErr
}

func (e *quicEndpoint) Accept(ctx context.Context) (Connection, error) {
	if e.listener == nil {
		return nil, fmt.Errorf("overlay: endpoint is not listening")
	}
	qc, err := e.listener.Accept(ctx)
	if err != nil {
		select {
		case <-e.closed:
			return nil, ErrEndpointClosed
		default:
		}
		return nil, fmt.Errorf("overlay: accept: %w", err)
	}
	// The remote NodeId is not known on the accept side and is not
	// extracted from the handshake, so an accepted connection reports the
	// zero NodeId from RemoteNodeId.
	return newQUICConnection(qc, NodeId{}), nil
}

func (e *quicEndpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	if e.listener != nil {
		return e.listener.Close()
	}
	return nil
}

type quicConnection struct {
	qc     quic.Connection
	nodeID NodeId

	closeOnce sync.Once
	closed    chan struct{}
}

func newQUICConnection(qc quic.Connection, id NodeId) *quicConnection {
	c := &quicConnection{qc: qc, nodeID: id, closed: make(chan struct{})}
	go c.watchClose()
	return c
}

func (c *quicConnection) watchClose() {
	<-c.qc.Context().Done()
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *quicConnection) OpenStream(ctx context.Context) (Stream, error) {
	s, err := c.qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("overlay: open stream: %w", err)
	}
	return quicStream{s}, nil
}

func (c *quicConnection) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.qc.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("overlay: accept stream: %w", err)
	}
	return quicStream{s}, nil
}

func (c *quicConnection) RemoteNodeId() NodeId { return c.nodeID }

func (c *quicConnection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *quicConnection) Closed() <-chan struct{} { return c.closed }

func (c *quicConnection) Close() error {
	return c.qc.CloseWithError(0, "closed")
}

// quicStream adapts quic-go's *quic.Stream to the overlay.Stream contract.
type quicStream struct {
	quic.Stream
}

// CloseWrite half-closes the write direction only (quic-go's Stream.Close
// sends a STREAM FIN without touching the read side), letting the caller
// still read a response after finishing a request.
func (s quicStream) CloseWrite() error {
	return s.Stream.Close()
}

// Close releases the stream fully: half-closes writing and aborts any
// further reading.
func (s quicStream) Close() error {
	err := s.Stream.Close()
	s.Stream.CancelRead(0)
	return err
}

func (s quicStream) SetDeadline(t time.Time) error {
	return s.Stream.SetDeadline(t)
}

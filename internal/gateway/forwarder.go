package gateway

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dalbodeule/hop-gate/internal/connmgr"
	"github.com/dalbodeule/hop-gate/internal/httpwire"
	"github.com/dalbodeule/hop-gate/internal/logging"
	"github.com/dalbodeule/hop-gate/internal/metrics"
	"github.com/dalbodeule/hop-gate/internal/overlay"
)

// Forwarder implements §4.4 RequestForwarder: for every inbound request it
// opens exactly one fresh overlay stream on the cached Connection for the
// routing key's NodeId, writes the request in absolute-form HTTP/1.1, reads
// back the response, and closes the stream. There is no retry: a failure at
// any stage is classified and returned once.
type Forwarder struct {
	Connections *connmgr.Manager
	Logger      logging.Logger

	// StreamOpenTimeout bounds how long OpenStream may block before Forward
	// gives up on a cached connection that accepted the dial but never
	// services new streams (e.g. a peer stuck at its concurrency ceiling).
	StreamOpenTimeout time.Duration

	// IdleReadTimeout (§5 "idle stream read") is applied as a fixed stream
	// deadline: from stream open when the caller's context carries no
	// deadline of its own, and again once the response headers have
	// arrived, for relaying the body. The deadline is not extended as bytes
	// arrive, so it bounds the total duration of each phase, not the gap
	// between reads.
	IdleReadTimeout time.Duration
}

// NewForwarder constructs a Forwarder. logger may be nil. streamOpenTimeout
// and idleReadTimeout of zero disable their respective deadlines.
func NewForwarder(connections *connmgr.Manager, logger logging.Logger, streamOpenTimeout, idleReadTimeout time.Duration) *Forwarder {
	if logger == nil {
		logger = logging.NewStdJSONLogger("forwarder")
	}
	return &Forwarder{
		Connections:       connections,
		Logger:            logger.With(logging.Fields{"component": "forwarder"}),
		StreamOpenTimeout: streamOpenTimeout,
		IdleReadTimeout:   idleReadTimeout,
	}
}

// Forward resolves key's overlay Connection, opens a fresh stream, and
// round-trips req across it, returning the upstream's response. The stream
// is never reused: it is opened here and closed before Forward returns (or,
// on success, once the caller finishes reading resp.Body — see the
// wrapping io.ReadCloser below).
func (f *Forwarder) Forward(ctx context.Context, key RoutingKey, req *http.Request) (*http.Response, error) {
	conn, err := f.Connections.Get(ctx, key.NodeID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctxError(ctx)
		}
		return nil, newError(KindConnectError, err)
	}

	openCtx := ctx
	if f.StreamOpenTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, f.StreamOpenTimeout)
		defer cancel()
	}

	stream, err := conn.OpenStream(openCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctxError(ctx)
		}
		if openCtx.Err() != nil {
			return nil, newError(KindTimeout, openCtx.Err())
		}
		return nil, newError(KindStreamError, err)
	}

	metrics.ActiveStreamsGauge.Inc()
	streamClosed := false
	closeStream := func() {
		if !streamClosed {
			streamClosed = true
			metrics.ActiveStreamsGauge.Dec()
		}
		_ = stream.Close()
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(dl)
	} else if f.IdleReadTimeout > 0 {
		_ = stream.SetDeadline(time.Now().Add(f.IdleReadTimeout))
	}

	// The metadata-header proto field only ever validates "tcp" (the
	// transport, not an application scheme); the on-stream wire format is
	// always plain HTTP/1.1, so the absolute-form target always uses the
	// http scheme.
	target := &url.URL{
		Scheme:   "http",
		Host:     key.Authority(),
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
	}
	outReq := req.Clone(ctx)
	outReq.URL = target
	outReq.RequestURI = ""

	if err := httpwire.WriteRequest(stream, outReq); err != nil {
		closeStream()
		return nil, classifyWireError(ctx, err)
	}
	if err := stream.CloseWrite(); err != nil {
		closeStream()
		return nil, classifyWireError(ctx, err)
	}

	br := bufio.NewReader(stream)
	resp, err := httpwire.ReadResponse(br, req.Method)
	if err != nil {
		closeStream()
		return nil, classifyWireError(ctx, err)
	}

	// The caller's deadline covers the round trip up to the response
	// headers; relaying the body is bounded by IdleReadTimeout alone.
	var bodyDeadline time.Time
	if f.IdleReadTimeout > 0 {
		bodyDeadline = time.Now().Add(f.IdleReadTimeout)
	}
	_ = stream.SetDeadline(bodyDeadline)

	// Closing the stream must wait until the caller is done reading the
	// response body; wrap Body so Close releases the stream exactly once.
	resp.Body = &streamClosingBody{ioReadCloser: resp.Body, stream: stream, onClose: func() { metrics.ActiveStreamsGauge.Dec() }}
	return resp, nil
}

// ctxError classifies a done context: an elapsed deadline (such as
// Handler.FullRequestTimeout) is a timeout, anything else a client cancel.
func ctxError(ctx context.Context) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(KindTimeout, ctx.Err())
	}
	return newError(KindCancelled, ctx.Err())
}

func classifyWireError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		return ctxError(ctx)
	}
	if _, ok := err.(*httpwire.FramingError); ok {
		return newError(KindFramingError, err)
	}
	if _, ok := err.(*httpwire.TruncatedError); ok {
		return newError(KindTruncated, err)
	}
	return newError(KindStreamError, err)
}

type streamClosingBody struct {
	ioReadCloser
	stream  overlay.Stream
	onClose func()

	closeOnce sync.Once
}

type ioReadCloser = interface {
	Read(p []byte) (n int, err error)
	Close() error
}

func (b *streamClosingBody) Close() error {
	err := b.ioReadCloser.Close()
	if cerr := b.stream.Close(); err == nil {
		err = cerr
	}
	b.closeOnce.Do(b.onClose)
	return err
}

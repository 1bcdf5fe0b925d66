package upstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/dalbodeule/hop-gate/internal/httpwire"
	"github.com/dalbodeule/hop-gate/internal/logging"
	"github.com/dalbodeule/hop-gate/internal/overlay"
)

// defaultMaxConcurrentStreams is the concurrency ceiling from §4.5/§5: the
// device handles at most this many requests at once; a further accepted
// stream waits for a free slot, protecting the local target from unbounded
// fan-in.
const defaultMaxConcurrentStreams = 1024

// Listener implements §4.5 UpstreamProxyListener: it accepts overlay
// streams from one Connection, one request/response per stream, up to a
// concurrency ceiling.
type Listener struct {
	Connection  overlay.Connection
	Client      *LocalHTTPClient
	Logger      logging.Logger
	MaxInFlight int

	// AllowLegacyConnect, when false (the default), answers CONNECT-form
	// requests with 501. When true, they are passed to Client like any other
	// request; no byte tunnel is set up, and Client cannot dial a target
	// without a scheme, so such requests are answered with 502.
	AllowLegacyConnect bool

	sem chan struct{}
}

// NewListener constructs a Listener with the default concurrency ceiling
// when maxInFlight is zero.
func NewListener(conn overlay.Connection, client *LocalHTTPClient, logger logging.Logger, maxInFlight int) *Listener {
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxConcurrentStreams
	}
	if logger == nil {
		logger = logging.NewStdJSONLogger("upstream")
	}
	return &Listener{
		Connection:  conn,
		Client:      client,
		Logger:      logger.With(logging.Fields{"component": "upstream_listener"}),
		MaxInFlight: maxInFlight,
		sem:         make(chan struct{}, maxInFlight),
	}
}

// Serve accepts streams from Connection until ctx is done or the
// connection closes, dispatching each to its own goroutine bounded by the
// concurrency ceiling.
func (l *Listener) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		stream, err := l.Connection.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("upstream: accept stream: %w", err)
		}

		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			_ = stream.Close()
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-l.sem }()
			l.handleStream(ctx, stream)
		}()
	}
}

func (l *Listener) handleStream(ctx context.Context, stream overlay.Stream) {
	defer stream.Close()

	br := bufio.NewReader(stream)
	req, err := httpwire.ReadRequest(br)
	if err != nil {
		l.Logger.Warn("failed to parse forwarded request", logging.Fields{"error": err.Error()})
		return
	}
	defer req.Body.Close()
	req = req.WithContext(ctx)
	// The request was parsed server-side; http.Client rejects requests that
	// still carry a RequestURI.
	req.RequestURI = ""

	if req.Method == http.MethodConnect && !l.AllowLegacyConnect {
		l.writeStatus(stream, http.StatusNotImplemented, "CONNECT is not enabled on this device")
		return
	}

	resp, err := l.Client.Do(req)
	if err != nil {
		l.Logger.Warn("local target request failed", logging.Fields{"error": err.Error(), "target": req.URL.Host})
		l.writeStatus(stream, http.StatusBadGateway, "local target unreachable")
		return
	}
	defer resp.Body.Close()

	if err := httpwire.WriteResponse(stream, resp); err != nil {
		l.Logger.Warn("failed to write response onto overlay stream", logging.Fields{"error": err.Error()})
	}
}

func (l *Listener) writeStatus(stream overlay.Stream, status int, msg string) {
	resp := &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(msg)),
		ContentLength: int64(len(msg)),
	}
	if err := httpwire.WriteResponse(stream, resp); err != nil {
		l.Logger.Warn("failed to write error status onto overlay stream", logging.Fields{"error": err.Error()})
	}
}

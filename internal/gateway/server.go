package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/dalbodeule/hop-gate/internal/errorpages"
	"github.com/dalbodeule/hop-gate/internal/logging"
	"github.com/dalbodeule/hop-gate/internal/metrics"
)

// Handler is the inbound HTTP/2 entrypoint (§6): it routes each request via
// Router, forwards it via Forwarder, and writes back whatever the upstream
// returned (or a classified error page on failure).
type Handler struct {
	Router    *Router
	Forwarder *Forwarder
	Logger    logging.Logger

	// FullRequestTimeout bounds the time from accepting the inbound request
	// to receiving the upstream's response headers (§5 "full request",
	// default 30s). Zero disables the deadline.
	FullRequestTimeout time.Duration
}

// NewHTTPServer builds an *http.Server with HTTP/2 configured, the same way
// the teacher's proxy package wires http2.ConfigureServer onto a plain
// *http.Server.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler}
	http2.ConfigureServer(srv, &http2.Server{})
	return srv
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := h.Logger
	if logger == nil {
		logger = logging.NewStdJSONLogger("gateway")
	}

	key, err := h.Router.Route(r)
	if err != nil {
		h.writeError(w, r, err, start)
		return
	}

	ctx := r.Context()
	if h.FullRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.FullRequestTimeout)
		defer cancel()
	}

	resp, err := h.Forwarder.Forward(ctx, key, r)
	if err != nil {
		h.writeError(w, r, err, start)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	written, _ := io.Copy(w, resp.Body)

	metrics.RoutingOutcomesTotal.WithLabelValues("ok").Inc()
	metrics.RequestDurationSeconds.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	metrics.BytesRelayedTotal.WithLabelValues("response").Add(float64(written))

	logger.Debug("forwarded request", logging.Fields{
		"node_id": key.NodeID.String(),
		"target":  key.Authority(),
		"status":  resp.StatusCode,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, start time.Time) {
	ge, ok := AsGatewayError(err)
	if !ok {
		ge = newError(KindStreamError, err)
	}

	metrics.RoutingOutcomesTotal.WithLabelValues(ge.Kind.String()).Inc()

	if ge.Kind == KindCancelled {
		// The caller is already gone; writing a response would be
		// pointless and may itself fail.
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = logging.NewStdJSONLogger("gateway")
	}
	logger.Warn("request forwarding failed", logging.Fields{
		"kind":  ge.Kind.String(),
		"error": ge.Error(),
	})
	errorpages.Render(w, r, ge.Kind.Status())
	metrics.RequestDurationSeconds.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
}

// Shutdown gracefully stops srv, matching the teacher's ServerProxy.Shutdown
// shape.
func Shutdown(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

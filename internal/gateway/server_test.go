package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalbodeule/hop-gate/internal/connmgr"
	"github.com/dalbodeule/hop-gate/internal/overlay"
)

// fakeStream is an overlay.Stream whose Read side replays a canned response
// and whose Write side captures the outgoing request, mirroring the fakes
// already used in connmgr_test.go and upstream/listener_test.go.
type fakeStream struct {
	*strings.Reader

	mu  sync.Mutex
	out bytes.Buffer
}

func newFakeStream(response string) *fakeStream {
	return &fakeStream{Reader: strings.NewReader(response)}
}

func (s *fakeStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *fakeStream) request() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.String()
}

func (s *fakeStream) CloseWrite() error         { return nil }
func (s *fakeStream) Close() error              { return nil }
func (s *fakeStream) SetDeadline(time.Time) error { return nil }

// fakeConnection hands out one stream per OpenStream call from a queue.
type fakeConnection struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (c *fakeConnection) OpenStream(ctx context.Context) (overlay.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.streams) == 0 {
		return nil, fmt.Errorf("fakeConnection: no more streams queued")
	}
	s := c.streams[0]
	c.streams = c.streams[1:]
	return s, nil
}

func (c *fakeConnection) AcceptStream(ctx context.Context) (overlay.Stream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConnection) RemoteNodeId() overlay.NodeId { return overlay.NodeId{1} }
func (c *fakeConnection) IsClosed() bool               { return false }
func (c *fakeConnection) Closed() <-chan struct{}      { return make(chan struct{}) }
func (c *fakeConnection) Close() error                 { return nil }

func newTestForwarder(conn overlay.Connection) *Forwarder {
	dialer := connmgr.DialerFunc(func(ctx context.Context, id overlay.NodeId) (overlay.Connection, error) {
		return conn, nil
	})
	mgr := connmgr.New(dialer, nil)
	return NewForwarder(mgr, nil, 0, 0)
}

func TestHandlerServeHTTPHappyPath(t *testing.T) {
	stream := newFakeStream("HTTP/1.1 200 OK\r\nX-Upstream: yes\r\nContent-Length: 5\r\n\r\nhello")
	conn := &fakeConnection{streams: []*fakeStream{stream}}

	h := &Handler{
		Router:    NewRouter(ModeMetadata, nil),
		Forwarder: newTestForwarder(conn),
	}

	req := httptest.NewRequest(http.MethodGet, "/widgets?x=1", nil)
	req.Header.Set(HeaderNodeID, testNodeIDHex)
	req.Header.Set(HeaderTargetHost, "127.0.0.1")
	req.Header.Set(HeaderTargetPort, "8080")
	req.Header.Set(HeaderTargetProto, "tcp")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Upstream") != "yes" {
		t.Fatalf("missing upstream header in response")
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "hello")
	}

	sent := stream.request()
	if !strings.HasPrefix(sent, "GET http://127.0.0.1:8080/widgets?x=1 HTTP/1.1") {
		t.Fatalf("unexpected absolute-form request line: %q", sent)
	}
}

func TestHandlerServeHTTPRouteErrorRendersErrorPage(t *testing.T) {
	h := &Handler{
		Router:    NewRouter(ModeMetadata, nil),
		Forwarder: newTestForwarder(&fakeConnection{}),
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil) // missing required headers
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlerServeHTTPForwardErrorRendersErrorPage(t *testing.T) {
	// No streams queued: OpenStream fails, Forward classifies it as a
	// stream error, and the handler must render the matching status
	// instead of hanging or panicking.
	conn := &fakeConnection{}
	h := &Handler{
		Router:    NewRouter(ModeMetadata, nil),
		Forwarder: newTestForwarder(conn),
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderNodeID, testNodeIDHex)
	req.Header.Set(HeaderTargetHost, "127.0.0.1")
	req.Header.Set(HeaderTargetPort, "8080")
	req.Header.Set(HeaderTargetProto, "tcp")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != KindStreamError.Status() {
		t.Fatalf("status = %d, want %d", rec.Code, KindStreamError.Status())
	}
}

package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalbodeule/hop-gate/internal/overlay"
)

func mustNodeID(t *testing.T, s string) overlay.NodeId {
	t.Helper()
	id, err := overlay.ParseNodeId(s)
	if err != nil {
		t.Fatalf("parse node id %q: %v", s, err)
	}
	return id
}

const testNodeIDHex = "aa000000000000000000000000000000000000000000000000000000000000bb"

func TestRouteMetadataHappyPath(t *testing.T) {
	rt := NewRouter(ModeMetadata, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set(HeaderNodeID, testNodeIDHex)
	req.Header.Set(HeaderTargetHost, "localhost")
	req.Header.Set(HeaderTargetPort, "5173")
	req.Header.Set(HeaderTargetProto, "tcp")

	key, err := rt.Route(req)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if key.TargetHost != "localhost" || key.TargetPort != 5173 {
		t.Fatalf("unexpected routing key: %+v", key)
	}
}

func TestRouteMetadataMissingHeaderIsBadRequest(t *testing.T) {
	rt := NewRouter(ModeMetadata, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := rt.Route(req)
	ge, ok := AsGatewayError(err)
	if !ok || ge.Kind != KindBadRequest {
		t.Fatalf("expected KindBadRequest, got %v", err)
	}
	if ge.Kind.Status() != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", ge.Kind.Status())
	}
}

func TestRouteMetadataRejectsNonTCPProto(t *testing.T) {
	rt := NewRouter(ModeMetadata, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderNodeID, testNodeIDHex)
	req.Header.Set(HeaderTargetHost, "localhost")
	req.Header.Set(HeaderTargetPort, "80")
	req.Header.Set(HeaderTargetProto, "udp")

	_, err := rt.Route(req)
	ge, ok := AsGatewayError(err)
	if !ok || ge.Kind != KindBadRequest {
		t.Fatalf("expected KindBadRequest for non-tcp proto, got %v", err)
	}
}

type staticDirectory map[string]RoutingKey

func (d staticDirectory) Resolve(codename string) (RoutingKey, error) {
	key, ok := d[codename]
	if !ok {
		return RoutingKey{}, errNoDirectory
	}
	return key, nil
}

func TestRouteCodenameUnknownIsNotFound(t *testing.T) {
	rt := NewRouter(ModeCodename, staticDirectory{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "unknown.example.com"

	_, err := rt.Route(req)
	ge, ok := AsGatewayError(err)
	if !ok || ge.Kind != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
	if ge.Kind.Status() != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", ge.Kind.Status())
	}
}

func TestRouteCodenameResolvesLeftmostLabel(t *testing.T) {
	want := RoutingKey{NodeID: mustNodeID(t, testNodeIDHex), TargetHost: "127.0.0.1", TargetPort: 8080}
	rt := NewRouter(ModeCodename, staticDirectory{"widget": want})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "widget.example.com"

	got, err := rt.Route(req)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestRouteForwardRequiresConnect(t *testing.T) {
	rt := NewRouter(ModeForward, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := rt.Route(req)
	ge, ok := AsGatewayError(err)
	if !ok || ge.Kind != KindBadRequest {
		t.Fatalf("expected KindBadRequest for non-CONNECT request, got %v", err)
	}
}

func TestRouteForwardDerivesTripleFromHeaderAndAuthority(t *testing.T) {
	rt := NewRouter(ModeForward, nil)
	req := httptest.NewRequest(http.MethodConnect, "/", nil)
	req.RequestURI = "localhost:9000"
	req.Header.Set(HeaderLegacyEndpointID, testNodeIDHex)

	key, err := rt.Route(req)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if key.TargetHost != "localhost" || key.TargetPort != 9000 {
		t.Fatalf("unexpected routing key: %+v", key)
	}
}

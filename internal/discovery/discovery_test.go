package discovery

import (
	"context"
	"testing"

	"github.com/dalbodeule/hop-gate/internal/overlay"
)

func TestParseTXTRecord(t *testing.T) {
	details := parseTXTRecord("relay=relay.example.com:4433;direct=10.0.0.1:4433,10.0.0.2:4433")

	if details.HomeRelay != "relay.example.com:4433" {
		t.Fatalf("home relay = %q", details.HomeRelay)
	}
	if len(details.DirectAddrs) != 2 || details.DirectAddrs[0] != "10.0.0.1:4433" {
		t.Fatalf("direct addrs = %v", details.DirectAddrs)
	}
}

func TestStaticResolverRoundTrip(t *testing.T) {
	s := NewStatic()
	id := overlay.NodeId{1, 2, 3}
	want := overlay.ConnectionDetails{DirectAddrs: []string{"127.0.0.1:9000"}}
	s.Set(id, want)

	got, err := s.Resolve(context.Background(), id)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got.DirectAddrs) != 1 || got.DirectAddrs[0] != want.DirectAddrs[0] {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestStaticResolverUnknownNode(t *testing.T) {
	s := NewStatic()
	_, err := s.Resolve(context.Background(), overlay.NodeId{9, 9})
	if err == nil {
		t.Fatalf("expected an error for an unregistered node id")
	}
}

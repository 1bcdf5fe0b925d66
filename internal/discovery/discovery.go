// Package discovery implements the resolve(node_id) -> ConnectionDetails
// collaborator from spec §6: opaque to the core, consumed only by the
// ConnectionManager's dialer. The dialer always holds a non-nil Resolver;
// without a DNS origin it is a Static resolver, so only statically
// registered addresses are usable (matching the teacher's n0des-optional
// discovery pattern in the original Rust node.rs).
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dalbodeule/hop-gate/internal/overlay"
)

// Resolver resolves a NodeId to connection details. Implementations may
// consult DNS, a relay directory, or nothing at all.
type Resolver interface {
	Resolve(ctx context.Context, id overlay.NodeId) (overlay.ConnectionDetails, error)
}

// Static is a Resolver backed by a fixed, in-process map, useful for tests
// and single-peer/local-only deployments (--discovery default with no
// origin configured).
type Static struct {
	mu      sync.RWMutex
	entries map[overlay.NodeId]overlay.ConnectionDetails
}

// NewStatic constructs an empty Static resolver.
func NewStatic() *Static {
	return &Static{entries: make(map[overlay.NodeId]overlay.ConnectionDetails)}
}

// Set registers or replaces the connection details for id.
func (s *Static) Set(id overlay.NodeId, details overlay.ConnectionDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = details
}

func (s *Static) Resolve(ctx context.Context, id overlay.NodeId) (overlay.ConnectionDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	details, ok := s.entries[id]
	if !ok {
		return overlay.ConnectionDetails{}, fmt.Errorf("discovery: no static entry for node %s", id)
	}
	return details, nil
}

// recordSeparator splits the two fields packed into one DNS TXT record:
// "relay=<host:port>;direct=<host:port>,<host:port>,...".
const recordSeparator = ";"

// parseTXTRecord turns one TXT record's content into ConnectionDetails.
// Shared by the DNS resolver and tests so both use the same parsing logic.
func parseTXTRecord(txt string) overlay.ConnectionDetails {
	var details overlay.ConnectionDetails
	for _, field := range strings.Split(txt, recordSeparator) {
		field = strings.TrimSpace(field)
		switch {
		case strings.HasPrefix(field, "relay="):
			details.HomeRelay = strings.TrimPrefix(field, "relay=")
		case strings.HasPrefix(field, "direct="):
			raw := strings.TrimPrefix(field, "direct=")
			for _, addr := range strings.Split(raw, ",") {
				addr = strings.TrimSpace(addr)
				if addr != "" {
					details.DirectAddrs = append(details.DirectAddrs, addr)
				}
			}
		}
	}
	return details
}

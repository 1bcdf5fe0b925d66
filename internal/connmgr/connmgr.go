// Package connmgr caches overlay connections per NodeId and collapses
// concurrent dial attempts to the same NodeId into a single connect() call,
// per the §4.2 ConnectionManager design: a cold cache entry under
// concurrent load must produce exactly one dial, not one per waiter.
package connmgr

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dalbodeule/hop-gate/internal/logging"
	"github.com/dalbodeule/hop-gate/internal/overlay"
)

// Dialer resolves and dials an overlay connection for a NodeId. It composes
// the discovery collaborator's address resolution and the overlay
// Endpoint's Connect, kept separate from this package so ConnectionManager
// never has to know about DNS or other discovery mechanics.
type Dialer interface {
	Dial(ctx context.Context, id overlay.NodeId) (overlay.Connection, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, id overlay.NodeId) (overlay.Connection, error)

func (f DialerFunc) Dial(ctx context.Context, id overlay.NodeId) (overlay.Connection, error) {
	return f(ctx, id)
}

// Manager is the §4.2 ConnectionManager: a cache of live overlay
// Connections keyed by NodeId, populated through a single-flight dial.
type Manager struct {
	dialer Dialer
	logger logging.Logger

	mu    sync.RWMutex
	conns map[overlay.NodeId]overlay.Connection

	group singleflight.Group
}

// New constructs a ConnectionManager. logger may be nil.
func New(dialer Dialer, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewStdJSONLogger("connmgr")
	}
	return &Manager{
		dialer: dialer,
		logger: logger.With(logging.Fields{"component": "connmgr"}),
		conns:  make(map[overlay.NodeId]overlay.Connection),
	}
}

// Get returns a live connection for id, dialing one if the cache is cold or
// the cached entry has since closed. Concurrent Get calls for the same cold
// id share one dial via double-checked locking plus singleflight: the
// read-locked fast path and the singleflight key both key on id, so ten
// concurrent callers for a brand-new NodeId produce exactly one Connect.
func (m *Manager) Get(ctx context.Context, id overlay.NodeId) (overlay.Connection, error) {
	if conn, ok := m.lookupLive(id); ok {
		return conn, nil
	}

	key := id.String()
	v, err, _ := m.group.Do(key, func() (any, error) {
		// Re-check under the singleflight key: another caller may have
		// populated the cache between our fast-path miss and acquiring the
		// singleflight slot.
		if conn, ok := m.lookupLive(id); ok {
			return conn, nil
		}

		conn, err := m.dialer.Dial(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("connmgr: dial %s: %w", id, err)
		}

		m.store(id, conn)
		m.logger.Info("overlay connection established", logging.Fields{"node_id": id.String()})
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(overlay.Connection), nil
}

func (m *Manager) lookupLive(id overlay.NodeId) (overlay.Connection, bool) {
	m.mu.RLock()
	conn, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if conn.IsClosed() {
		m.evict(id, conn)
		return nil, false
	}
	return conn, true
}

func (m *Manager) store(id overlay.NodeId, conn overlay.Connection) {
	m.mu.Lock()
	m.conns[id] = conn
	m.mu.Unlock()

	go func() {
		<-conn.Closed()
		m.evict(id, conn)
	}()
}

// evict removes conn from the cache if it is still the entry stored under
// id (a newer connection may have replaced it already).
func (m *Manager) evict(id overlay.NodeId, conn overlay.Connection) {
	m.mu.Lock()
	if cur, ok := m.conns[id]; ok && cur == conn {
		delete(m.conns, id)
	}
	m.mu.Unlock()
	m.logger.Info("overlay connection evicted", logging.Fields{"node_id": id.String()})
}

// Len reports the number of cached connections, for the cached-connections
// gauge (§6 metrics).
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// CloseAll closes every cached connection, for graceful shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]overlay.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[overlay.NodeId]overlay.Connection)
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

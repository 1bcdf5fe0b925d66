package connmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalbodeule/hop-gate/internal/overlay"
)

type fakeConn struct {
	id     overlay.NodeId
	closed chan struct{}
}

func newFakeConn(id overlay.NodeId) *fakeConn { return &fakeConn{id: id, closed: make(chan struct{})} }

func (c *fakeConn) OpenStream(ctx context.Context) (overlay.Stream, error)   { return nil, nil }
func (c *fakeConn) AcceptStream(ctx context.Context) (overlay.Stream, error) { return nil, nil }
func (c *fakeConn) RemoteNodeId() overlay.NodeId                            { return c.id }
func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
func (c *fakeConn) Closed() <-chan struct{} { return c.closed }
func (c *fakeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func TestGetSingleFlightsColdDial(t *testing.T) {
	var dials int64
	dialer := DialerFunc(func(ctx context.Context, id overlay.NodeId) (overlay.Connection, error) {
		atomic.AddInt64(&dials, 1)
		time.Sleep(10 * time.Millisecond)
		return newFakeConn(id), nil
	})

	m := New(dialer, nil)

	id := overlay.NodeId{1, 2, 3}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Get(context.Background(), id); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&dials); got != 1 {
		t.Fatalf("dial count = %d, want exactly 1 for 10 concurrent cold Get calls", got)
	}
	if m.Len() != 1 {
		t.Fatalf("cache size = %d, want 1", m.Len())
	}
}

func TestGetRedialsAfterEviction(t *testing.T) {
	var dials int64
	var conns []*fakeConn
	var mu sync.Mutex

	dialer := DialerFunc(func(ctx context.Context, id overlay.NodeId) (overlay.Connection, error) {
		atomic.AddInt64(&dials, 1)
		c := newFakeConn(id)
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		return c, nil
	})

	m := New(dialer, nil)
	id := overlay.NodeId{9}

	if _, err := m.Get(context.Background(), id); err != nil {
		t.Fatalf("first Get: %v", err)
	}

	mu.Lock()
	conns[0].Close()
	mu.Unlock()

	// Give the eviction goroutine a moment to run.
	deadline := time.Now().Add(time.Second)
	for m.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if m.Len() != 0 {
		t.Fatalf("expected closed connection to be evicted from the cache")
	}

	if _, err := m.Get(context.Background(), id); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if got := atomic.LoadInt64(&dials); got != 2 {
		t.Fatalf("dial count = %d, want 2 (one redial after eviction)", got)
	}
}

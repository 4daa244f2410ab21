package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketstream/internal/market"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSession feeds frames pushed by a test into the manager.
type fakeSession struct {
	stream string
	frames chan []byte
	fail   chan error
	closed atomic.Bool
	ended  chan struct{}
}

func (s *fakeSession) Listen(ctx context.Context, handle func([]byte)) error {
	defer close(s.ended)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.fail:
			return err
		case f := <-s.frames:
			handle(f)
		}
	}
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeDialer records every dial and can be told to refuse connections.
type fakeDialer struct {
	mu       sync.Mutex
	sessions map[string][]*fakeSession
	dials    atomic.Int32
	refuse   atomic.Bool
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{sessions: make(map[string][]*fakeSession)}
}

func (d *fakeDialer) Dial(ctx context.Context, stream string) (Session, error) {
	d.dials.Add(1)
	if d.refuse.Load() {
		return nil, errors.New("dial refused")
	}
	s := &fakeSession{
		stream: stream,
		frames: make(chan []byte, 512),
		fail:   make(chan error, 1),
		ended:  make(chan struct{}),
	}
	d.mu.Lock()
	d.sessions[stream] = append(d.sessions[stream], s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) count(stream string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions[stream])
}

// session waits for the n-th (1-based) session opened for stream.
func (d *fakeDialer) session(t *testing.T, stream string, n int) *fakeSession {
	t.Helper()
	require.Eventually(t, func() bool { return d.count(stream) >= n }, 2*time.Second, 5*time.Millisecond,
		"session %d for %s never dialed", n, stream)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[stream][n-1]
}

func newTestStream(t *testing.T, opts Options) (*Manager, *Multiplexer, *fakeDialer) {
	t.Helper()
	d := newFakeDialer()
	mgr, mux := New(d, opts, zap.NewNop())
	t.Cleanup(func() {
		mux.Shutdown()
		mgr.Close()
	})
	return mgr, mux, d
}

func klineFrame(symbol, interval string, openTime int64, closed bool) []byte {
	return []byte(fmt.Sprintf(
		`{"e":"kline","E":%d,"s":"%s","k":{"t":%d,"T":%d,"s":"%s","i":"%s","o":"100.0","c":"101.0","h":"102.0","l":"99.0","v":"5.5","n":7,"x":%t}}`,
		openTime+1, symbol, openTime, openTime+59999, symbol, interval, closed))
}

func recvBar(t *testing.T, sub *Subscription) market.Bar {
	t.Helper()
	select {
	case bar, ok := <-sub.C():
		require.True(t, ok, "subscription closed unexpectedly")
		return bar
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bar")
		return market.Bar{}
	}
}

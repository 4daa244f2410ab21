package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"marketstream/internal/market"
	"marketstream/pkg/binance"

	"go.uber.org/zap"
)

// State is the lifecycle of one channel's upstream connection.
type State int32

const (
	StateAbsent State = iota
	StateConnecting
	StateConnected
	StateRetrying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRetrying:
		return "retrying"
	case StateStopped:
		return "stopped"
	default:
		return "absent"
	}
}

// connection is the per-key ingestion task.
type connection struct {
	key    market.ChannelKey
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32
}

func (c *connection) setState(s State) { c.state.Store(int32(s)) }
func (c *connection) getState() State  { return State(c.state.Load()) }

// Manager owns at most one upstream connection per channel key. Each
// connection runs in its own goroutine, parses frames into bars, hands
// them to the multiplexer and reconnects after a fixed delay on failure.
type Manager struct {
	dialer Dialer
	mux    *Multiplexer
	opts   Options
	logger *zap.Logger

	locks keyLocks

	mu      sync.Mutex
	conns   map[market.ChannelKey]*connection
	stopped map[market.ChannelKey]struct{}
	closed  bool
}

// New builds a connected Manager and Multiplexer pair. Subscribing through
// the multiplexer starts ingestion through the manager, and the manager
// publishes every parsed bar to the multiplexer.
func New(dialer Dialer, opts Options, logger *zap.Logger) (*Manager, *Multiplexer) {
	opts = opts.withDefaults()
	mux := newMultiplexer(opts, logger.With(zap.String("component", "multiplexer")))
	mgr := &Manager{
		dialer:  dialer,
		mux:     mux,
		opts:    opts,
		logger:  logger.With(zap.String("component", "connection_manager")),
		conns:   make(map[market.ChannelKey]*connection),
		stopped: make(map[market.ChannelKey]struct{}),
	}
	mux.connector = mgr
	return mgr, mux
}

// EnsureConnection starts ingestion for symbol/interval unless a live
// connection already exists. Safe for concurrent use.
func (m *Manager) EnsureConnection(symbol, interval string) error {
	key := market.NewChannelKey(symbol, interval)
	if err := key.Validate(); err != nil {
		return err
	}
	return m.ensure(key)
}

// Stop disposes the connection for symbol/interval and waits for its
// goroutine to exit. It reports whether a connection existed.
func (m *Manager) Stop(symbol, interval string) bool {
	return m.stop(market.NewChannelKey(symbol, interval))
}

// State reports the lifecycle state of symbol/interval.
func (m *Manager) State(symbol, interval string) State {
	key := market.NewChannelKey(symbol, interval)

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[key]; ok {
		return c.getState()
	}
	if _, ok := m.stopped[key]; ok {
		return StateStopped
	}
	return StateAbsent
}

// Channels lists keys with a registered connection.
func (m *Manager) Channels() []market.ChannelKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]market.ChannelKey, 0, len(m.conns))
	for k, c := range m.conns {
		// A connection that gave up stays in the map until re-ensured.
		if c.getState() == StateStopped {
			continue
		}
		out = append(out, k)
	}
	return out
}

// Close stops every connection and waits for all of them. Later calls to
// EnsureConnection fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	conns := make([]*connection, 0, len(m.conns))
	for k, c := range m.conns {
		conns = append(conns, c)
		delete(m.conns, k)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.cancel()
	}
	for _, c := range conns {
		<-c.done
	}
	m.logger.Info("all connections closed", zap.Int("count", len(conns)))
}

func (m *Manager) ensure(key market.ChannelKey) error {
	unlock := m.locks.lock(key)
	defer unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	old, ok := m.conns[key]
	m.mu.Unlock()

	if ok {
		if old.getState() != StateStopped {
			return nil
		}
		// Gave up after repeated failures; make sure its goroutine is gone.
		<-old.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		key:    key,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.setState(StateConnecting)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return ErrClosed
	}
	m.conns[key] = c
	delete(m.stopped, key)
	m.mu.Unlock()

	m.mux.channel(key)
	go m.run(ctx, c)

	m.logger.Info("stream started", zap.String("channel", key.String()))
	return nil
}

func (m *Manager) stop(key market.ChannelKey) bool {
	unlock := m.locks.lock(key)
	defer unlock()

	m.mu.Lock()
	c, ok := m.conns[key]
	if ok {
		delete(m.conns, key)
		m.stopped[key] = struct{}{}
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	c.cancel()
	<-c.done
	m.logger.Info("stream stopped", zap.String("channel", key.String()))
	return true
}

// run dials, listens and reconnects until ctx is cancelled or the failure
// limit is reached. There is no backoff growth: every retry waits
// ReconnectDelay.
func (m *Manager) run(ctx context.Context, c *connection) {
	defer close(c.done)
	defer c.setState(StateStopped)

	log := m.logger.With(zap.String("channel", c.key.String()))
	stream := c.key.StreamName()
	failures := 0

	for {
		sess, err := m.dialer.Dial(ctx, stream)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			log.Error("WebSocket dial failed", zap.Int("attempt", failures), zap.Error(err))
			if m.opts.MaxConsecutiveFailures > 0 && failures >= m.opts.MaxConsecutiveFailures {
				log.Error("giving up on stream", zap.Int("failures", failures))
				return
			}
		} else {
			failures = 0
			c.setState(StateConnected)
			log.Info("WebSocket connected")

			err = sess.Listen(ctx, func(msg []byte) {
				m.handleFrame(c.key, msg, log)
			})
			_ = sess.Close()
			if ctx.Err() != nil {
				return
			}
			log.Warn("WebSocket disconnected", zap.Error(err))
		}

		c.setState(StateRetrying)
		timer := time.NewTimer(m.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		log.Info("Retrying reconnect...")
	}
}

// handleFrame parses one frame. Bad frames are dropped, never fatal.
func (m *Manager) handleFrame(key market.ChannelKey, msg []byte, log *zap.Logger) {
	bar, err := binance.ParseKlineFrame(key, msg)
	if err != nil {
		log.Warn("discarding frame", zap.Error(err), zap.Int("bytes", len(msg)))
		return
	}
	m.mux.Publish(key, bar)
}

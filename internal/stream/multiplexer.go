package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"marketstream/internal/market"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// connector is the part of Manager the multiplexer drives.
type connector interface {
	ensure(key market.ChannelKey) error
	stop(key market.ChannelKey) bool
}

// Multiplexer fans each channel's bars out to independent subscribers.
// Publish never blocks: every subscriber has a bounded queue and loses its
// oldest bar when the queue is full.
type Multiplexer struct {
	connector connector
	opts      Options
	logger    *zap.Logger

	mu       sync.RWMutex
	channels map[market.ChannelKey]*fanout
	closed   bool
}

// fanout is the per-key subscriber set.
type fanout struct {
	key market.ChannelKey

	mu   sync.Mutex
	subs map[string]*Subscription
	idle *time.Timer
	gen  uint64 // invalidates pending idle timers
}

func newMultiplexer(opts Options, logger *zap.Logger) *Multiplexer {
	return &Multiplexer{
		opts:     opts,
		logger:   logger,
		channels: make(map[market.ChannelKey]*fanout),
	}
}

// Subscribe registers a subscriber for symbol/interval and makes sure the
// upstream connection is running. The subscription ends when it is closed,
// when ctx is done, or when the multiplexer shuts down.
func (m *Multiplexer) Subscribe(ctx context.Context, symbol, interval string) (*Subscription, error) {
	key := market.NewChannelKey(symbol, interval)
	if err := key.Validate(); err != nil {
		return nil, err
	}

	f := m.channel(key)
	if f == nil {
		return nil, ErrClosed
	}

	sub := &Subscription{
		id:   uuid.NewString(),
		key:  key,
		ch:   make(chan market.Bar, m.opts.SubscriberBuffer),
		done: make(chan struct{}),
	}
	sub.release = func() { m.unsubscribe(f, sub) }

	f.mu.Lock()
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	f.subs[sub.id] = sub
	f.gen++
	if f.idle != nil {
		f.idle.Stop()
		f.idle = nil
	}
	count := len(f.subs)
	f.mu.Unlock()

	// Never call into the manager while holding fan-out locks: a stopping
	// connection may be blocked in Publish on the same fanout.
	if err := m.connector.ensure(key); err != nil {
		sub.Close()
		return nil, err
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Close()
			case <-sub.done:
			}
		}()
	}

	m.logger.Info("subscriber added",
		zap.String("channel", key.String()),
		zap.String("subscription", sub.id),
		zap.Int("subscribers", count))
	return sub, nil
}

// Publish delivers bar to every current subscriber of key without blocking.
func (m *Multiplexer) Publish(key market.ChannelKey, bar market.Bar) {
	m.mu.RLock()
	f := m.channels[key]
	m.mu.RUnlock()
	if f == nil {
		return
	}

	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.deliver(bar)
	}
}

// Subscribers returns the number of live subscribers for symbol/interval.
func (m *Multiplexer) Subscribers(symbol, interval string) int {
	key := market.NewChannelKey(symbol, interval)
	m.mu.RLock()
	f := m.channels[key]
	m.mu.RUnlock()
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Shutdown closes every subscription and rejects new ones.
func (m *Multiplexer) Shutdown() {
	m.mu.Lock()
	m.closed = true
	channels := make([]*fanout, 0, len(m.channels))
	for _, f := range m.channels {
		channels = append(channels, f)
	}
	m.mu.Unlock()

	var subs []*Subscription
	for _, f := range channels {
		f.mu.Lock()
		f.gen++
		if f.idle != nil {
			f.idle.Stop()
			f.idle = nil
		}
		for _, s := range f.subs {
			subs = append(subs, s)
		}
		f.mu.Unlock()
	}
	for _, s := range subs {
		s.Close()
	}
	m.logger.Info("multiplexer shut down", zap.Int("subscriptions", len(subs)))
}

// channel returns the fanout for key, creating it on first use.
// It returns nil after Shutdown.
func (m *Multiplexer) channel(key market.ChannelKey) *fanout {
	// Fast path: read lock only
	m.mu.RLock()
	f, ok := m.channels[key]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil
	}
	if ok {
		return f
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	if f, ok = m.channels[key]; !ok {
		f = &fanout{key: key, subs: make(map[string]*Subscription)}
		m.channels[key] = f
	}
	return f
}

func (m *Multiplexer) unsubscribe(f *fanout, sub *Subscription) {
	f.mu.Lock()
	if _, ok := f.subs[sub.id]; !ok {
		f.mu.Unlock()
		return
	}
	delete(f.subs, sub.id)
	remaining := len(f.subs)

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()

	if remaining == 0 && m.opts.IdleGrace > 0 && !closed {
		f.gen++
		gen := f.gen
		f.idle = time.AfterFunc(m.opts.IdleGrace, func() { m.reap(f, gen) })
	}
	f.mu.Unlock()

	m.logger.Info("subscriber removed",
		zap.String("channel", f.key.String()),
		zap.String("subscription", sub.id),
		zap.Uint64("dropped", sub.Dropped()),
		zap.Int("subscribers", remaining))
}

// reap stops an idle channel's connection once its grace period expires
// without a new subscriber.
func (m *Multiplexer) reap(f *fanout, gen uint64) {
	f.mu.Lock()
	if f.gen != gen || len(f.subs) > 0 {
		f.mu.Unlock()
		return
	}
	f.idle = nil
	f.mu.Unlock()

	if m.connector.stop(f.key) {
		m.logger.Info("idle stream torn down", zap.String("channel", f.key.String()))
	}

	// A subscriber may have arrived while the connection was stopping.
	f.mu.Lock()
	n := len(f.subs)
	f.mu.Unlock()
	if n > 0 {
		if err := m.connector.ensure(f.key); err != nil {
			m.logger.Warn("failed to restart stream", zap.String("channel", f.key.String()), zap.Error(err))
		}
	}
}

// Subscription is one subscriber's handle on a channel.
type Subscription struct {
	id      string
	key     market.ChannelKey
	ch      chan market.Bar
	done    chan struct{}
	release func()

	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

func (s *Subscription) ID() string             { return s.id }
func (s *Subscription) Key() market.ChannelKey { return s.key }

// C yields bars in upstream arrival order. It is closed when the
// subscription ends.
func (s *Subscription) C() <-chan market.Bar { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped counts bars discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close releases this handle only; the upstream connection keeps running.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	close(s.done)
	s.mu.Unlock()

	if s.release != nil {
		s.release()
	}
}

// deliver enqueues bar, evicting the oldest queued bar when full.
func (s *Subscription) deliver(bar market.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- bar:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

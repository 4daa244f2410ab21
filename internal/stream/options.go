package stream

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultReconnectDelay   = 3 * time.Second
	DefaultSubscriberBuffer = 256
	DefaultIdleGrace        = time.Minute
)

// ErrClosed is returned once the manager or multiplexer has been shut down.
var ErrClosed = errors.New("stream: closed")

// Options tunes connection recovery and fan-out.
type Options struct {
	// ReconnectDelay is the fixed wait before every reconnect attempt.
	ReconnectDelay time.Duration
	// MaxConsecutiveFailures stops a channel after this many failed dials
	// in a row. Zero retries forever.
	MaxConsecutiveFailures int
	// SubscriberBuffer is the per-subscriber queue length. When it is full
	// the oldest queued bar is dropped.
	SubscriberBuffer int
	// IdleGrace is how long a channel with no subscribers keeps its
	// connection. Zero keeps connections until stopped explicitly.
	IdleGrace time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ReconnectDelay:   DefaultReconnectDelay,
		SubscriberBuffer: DefaultSubscriberBuffer,
		IdleGrace:        DefaultIdleGrace,
	}
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if o.IdleGrace < 0 {
		o.IdleGrace = 0
	}
	if o.MaxConsecutiveFailures < 0 {
		o.MaxConsecutiveFailures = 0
	}
	return o
}

// Session is one live upstream socket.
type Session interface {
	// Listen delivers frames to handle until ctx ends (nil) or the socket fails.
	Listen(ctx context.Context, handle func([]byte)) error
	Close() error
}

// Dialer opens a Session for an exchange stream name.
type Dialer interface {
	Dial(ctx context.Context, stream string) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, stream string) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, stream string) (Session, error) {
	return f(ctx, stream)
}

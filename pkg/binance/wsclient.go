package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrStreamClosed is returned by Listen when the exchange closes the socket.
var ErrStreamClosed = errors.New("stream closed by remote")

// WSClient dials raw kline streams. It holds no connection state itself;
// every Dial yields an independent Session.
type WSClient struct {
	baseURL     string
	dialer      *websocket.Dialer
	readTimeout time.Duration
	logger      *zap.Logger
}

// NewWSClient creates a WebSocket client for the given stream root.
// readTimeout bounds the silence tolerated on a socket (0 disables it);
// server pings extend the deadline.
func NewWSClient(baseURL string, handshakeTimeout, readTimeout time.Duration, logger *zap.Logger) *WSClient {
	if baseURL == "" {
		baseURL = DefaultWSBaseURL
	}
	return &WSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeTimeout,
		},
		readTimeout: readTimeout,
		logger:      logger,
	}
}

// Dial opens <baseURL>/<stream>, e.g. ".../ws/btcusdt@kline_1m".
func (c *WSClient) Dial(ctx context.Context, stream string) (*Session, error) {
	u := c.baseURL + "/" + stream

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	c.logger.Debug("WebSocket connected", zap.String("url", u))

	return &Session{conn: conn, readTimeout: c.readTimeout}, nil
}

// Session is one live stream socket.
type Session struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

// Listen reads frames and passes each to handle until ctx is cancelled
// (returns nil) or the socket fails (returns the error). A clean close
// from the exchange is reported as ErrStreamClosed.
func (s *Session) Listen(ctx context.Context, handle func([]byte)) error {
	stop := make(chan struct{})
	defer close(stop)

	// Unblock ReadMessage when the context is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = s.conn.Close()
		case <-stop:
		}
	}()

	if s.readTimeout > 0 {
		s.conn.SetPingHandler(func(data string) error {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
			if errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return err
		})
	}

	for {
		if s.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("%w: %v", ErrStreamClosed, err)
			}
			return fmt.Errorf("read: %w", err)
		}
		handle(msg)
	}
}

func (s *Session) Close() error {
	return s.conn.Close()
}

package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// wsServer upgrades every request and hands the socket and request path to serve.
func wsServer(t *testing.T, serve func(conn *websocket.Conn, path string)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn, r.URL.Path)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// go test -v --run TestSessionListen
func TestSessionListen(t *testing.T) {
	paths := make(chan string, 1)
	srv, url := wsServer(t, func(conn *websocket.Conn, path string) {
		paths <- path
		_ = conn.WriteMessage(websocket.TextMessage, []byte(sampleFrame))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(100 * time.Millisecond)
	})
	defer srv.Close()

	client := NewWSClient(url, time.Second, time.Minute, zap.NewNop())

	sess, err := client.Dial(context.Background(), "btcusdt@kline_1m")
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, "/ws/btcusdt@kline_1m", <-paths)

	var frames []string
	err = sess.Listen(context.Background(), func(msg []byte) {
		frames = append(frames, string(msg))
	})

	assert.True(t, errors.Is(err, ErrStreamClosed), "got %v", err)
	assert.Equal(t, []string{sampleFrame, "garbage"}, frames)
}

func TestSessionListenCancel(t *testing.T) {
	srv, url := wsServer(t, func(conn *websocket.Conn, path string) {
		// Hold the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	client := NewWSClient(url, time.Second, 0, zap.NewNop())
	sess, err := client.Dial(context.Background(), "ethusdt@kline_5m")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Listen(ctx, func([]byte) {}) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), time.Second, 0, zap.NewNop())

	_, err := client.Dial(context.Background(), "nope@kline_1m")
	assert.Error(t, err)
}

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades and echoes every message back through a WebSocket transport.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws := NewWebSocket(conn)
		defer ws.Close()
		ctx := context.Background()
		for {
			msg, err := ws.Read(ctx)
			if err != nil {
				return
			}
			if err := ws.Write(ctx, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *WebSocket {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	ws := NewWebSocket(conn)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestWebSocketRoundTrip(t *testing.T) {
	ws := dial(t, echoServer(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, msg := range []string{`{"id":1}`, `{"id":2}`} {
		require.NoError(t, ws.Write(ctx, []byte(msg)))
		got, err := ws.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, msg, string(got))
	}
}

func TestWebSocketClose(t *testing.T) {
	ws := dial(t, echoServer(t))
	require.NoError(t, ws.Close())
	assert.NoError(t, ws.Close())
	assert.ErrorIs(t, ws.Write(context.Background(), []byte("{}")), ErrClosed)
	_, err := ws.Read(context.Background())
	assert.Error(t, err)
}

func TestWebSocketReadCancel(t *testing.T) {
	ws := dial(t, echoServer(t))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ws.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readLimit  = 4 << 20
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WebSocket carries one message per text frame.
type WebSocket struct {
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

// NewWebSocket wraps an upgraded connection and starts its keepalive pings.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	ws := &WebSocket{conn: conn, done: make(chan struct{})}
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go ws.pingLoop()
	return ws
}

func (ws *WebSocket) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ws.mu.Lock()
			err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			ws.mu.Unlock()
			if err != nil {
				_ = ws.Close()
				return
			}
		case <-ws.done:
			return
		}
	}
}

// Read returns the payload of the next data frame. Cancelling ctx closes the connection.
func (ws *WebSocket) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()
	_, data, err := ws.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrClosed
		}
		select {
		case <-ws.done:
			return nil, ErrClosed
		default:
		}
		return nil, err
	}
	return data, nil
}

// Write sends msg as one text frame.
func (ws *WebSocket) Write(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	select {
	case <-ws.done:
		return ErrClosed
	default:
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.conn.SetWriteDeadline(deadline)
	return ws.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close sends a close frame, best effort, and closes the connection.
func (ws *WebSocket) Close() error {
	var err error
	ws.once.Do(func() {
		close(ws.done)
		ws.mu.Lock()
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		ws.mu.Unlock()
		err = ws.conn.Close()
	})
	return err
}

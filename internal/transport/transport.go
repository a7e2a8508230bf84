// Package transport moves framed JSON-RPC messages between the server and one client.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Read and Write after Close or once the peer has gone.
var ErrClosed = errors.New("transport closed")

// Conn carries whole messages. Write may be called concurrently; Read may not.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, msg []byte) error
	Close() error
}

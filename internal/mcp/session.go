package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qiuxsgit/pdf-mcp/internal/transport"
)

const rootsTimeout = 30 * time.Second

// ErrCannotOperate ends a session that has no allowed directories and no way to get any.
var ErrCannotOperate = errors.New("server cannot operate: no allowed directories available")

const cannotOperateHint = "Server was started without command-line directories and client either does not support " +
	"MCP roots protocol or provided empty roots. Please either: 1) Start server with directory " +
	"arguments, or 2) Use a client that supports MCP roots protocol and provides valid root directories."

// Session is one stateful client connection (stdio or websocket). Requests
// are handled concurrently; the server can call back into the client,
// which is how roots are fetched.
type Session struct {
	ID     string
	server *Server
	conn   transport.Conn
	logger zerolog.Logger

	mu       sync.Mutex
	pending  map[string]chan *message
	inflight map[string]context.CancelFunc
	client   implementation
	roots    bool
	fatal    error
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

// Serve reads and dispatches messages until the connection closes, ctx is
// cancelled, or the session finds it cannot operate. A clean close returns nil.
func (sess *Session) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	sess.mu.Lock()
	sess.cancel = cancel
	sess.mu.Unlock()

	var readErr error
	for {
		data, err := sess.conn.Read(ctx)
		if err != nil {
			readErr = err
			break
		}
		sess.dispatch(ctx, data)
	}
	cancel()
	sess.wg.Wait()
	_ = sess.conn.Close()

	sess.mu.Lock()
	fatal := sess.fatal
	sess.mu.Unlock()
	switch {
	case fatal != nil:
		return fatal
	case errors.Is(readErr, transport.ErrClosed), errors.Is(readErr, context.Canceled):
		return nil
	default:
		return readErr
	}
}

func (sess *Session) dispatch(ctx context.Context, data []byte) {
	if len(data) > 0 && data[0] == '[' {
		sess.reply(ctx, nil, nil, &RPCError{Code: codeInvalidRequest, Message: "Batch requests are not supported"})
		return
	}
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		sess.reply(ctx, nil, nil, &RPCError{Code: codeParseError, Message: "Parse error"})
		return
	}
	if msg.JSONRPC != jsonRPCVersion {
		sess.reply(ctx, msg.ID, nil, &RPCError{Code: codeInvalidRequest, Message: "Invalid Request"})
		return
	}

	switch {
	case msg.isResponse():
		sess.deliver(&msg)
	case msg.isRequest():
		reqCtx, cancel := context.WithCancel(ctx)
		key := string(msg.ID)
		sess.mu.Lock()
		sess.inflight[key] = cancel
		sess.mu.Unlock()
		sess.wg.Add(1)
		go func() {
			defer sess.wg.Done()
			defer func() {
				sess.mu.Lock()
				delete(sess.inflight, key)
				sess.mu.Unlock()
				cancel()
			}()
			result, rpcErr := sess.server.handle(reqCtx, sess, &msg)
			if reqCtx.Err() != nil && ctx.Err() == nil {
				// Cancelled by the client: no response is sent.
				return
			}
			sess.reply(ctx, msg.ID, result, rpcErr)
		}()
	case msg.isNotification():
		sess.wg.Add(1)
		go func() {
			defer sess.wg.Done()
			sess.server.notify(ctx, sess, &msg)
		}()
	default:
		sess.reply(ctx, msg.ID, nil, &RPCError{Code: codeInvalidRequest, Message: "Invalid Request"})
	}
}

func (sess *Session) reply(ctx context.Context, id json.RawMessage, result any, rpcErr *RPCError) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	resp := response{JSONRPC: jsonRPCVersion, ID: id}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(response{JSONRPC: jsonRPCVersion, ID: id,
			Error: &RPCError{Code: codeInternalError, Message: "Internal error"}})
	}
	if err := sess.conn.Write(ctx, data); err != nil {
		sess.logger.Warn().Err(err).Msg("write response")
	}
}

// Call sends a request to the client and decodes its result into result (if non-nil).
func (sess *Session) Call(ctx context.Context, method string, params, result any) error {
	id := uuid.NewString()
	ch := make(chan *message, 1)
	sess.mu.Lock()
	sess.pending[id] = ch
	sess.mu.Unlock()
	defer func() {
		sess.mu.Lock()
		delete(sess.pending, id)
		sess.mu.Unlock()
	}()

	data, err := json.Marshal(outgoing{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	if err := sess.conn.Write(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify sends a notification to the client.
func (sess *Session) Notify(ctx context.Context, method string, params any) error {
	data, err := json.Marshal(outgoing{JSONRPC: jsonRPCVersion, Method: method, Params: params})
	if err != nil {
		return err
	}
	return sess.conn.Write(ctx, data)
}

func (sess *Session) deliver(msg *message) {
	var id string
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		sess.logger.Debug().RawJSON("id", msg.ID).Msg("response with unknown id")
		return
	}
	sess.mu.Lock()
	ch, ok := sess.pending[id]
	sess.mu.Unlock()
	if !ok {
		sess.logger.Debug().Str("id", id).Msg("response with unknown id")
		return
	}
	select {
	case ch <- msg:
	default:
		sess.logger.Debug().Str("id", id).Msg("duplicate response dropped")
	}
}

func (sess *Session) cancelRequest(id json.RawMessage, reason string) {
	sess.mu.Lock()
	cancel, ok := sess.inflight[string(id)]
	sess.mu.Unlock()
	if ok {
		sess.logger.Debug().RawJSON("id", id).Str("reason", reason).Msg("request cancelled by client")
		cancel()
	}
}

func (sess *Session) setClient(info implementation, roots bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.client = info
	sess.roots = roots
}

// SupportsRoots reports whether the client announced the roots capability.
func (sess *Session) SupportsRoots() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.roots
}

func (sess *Session) onInitialized(ctx context.Context) {
	sb := sess.server.sandbox
	if sess.SupportsRoots() {
		sess.refreshRoots(ctx, "roots/list")
		return
	}
	if sb.Ready() {
		sess.logger.Info().Strs("dirs", sb.ListAllowed()).
			Msg("Client does not support MCP Roots, using allowed directories set from server args")
		return
	}
	sess.logger.Error().Str("hint", cannotOperateHint).Msg(ErrCannotOperate.Error())
	sess.mu.Lock()
	sess.fatal = ErrCannotOperate
	cancel := sess.cancel
	sess.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// refreshRoots asks the client for its roots and installs the valid ones.
// Failures keep the current allowed directories.
func (sess *Session) refreshRoots(ctx context.Context, source string) {
	ctx, cancel := context.WithTimeout(ctx, rootsTimeout)
	defer cancel()
	var res rootsListResult
	if err := sess.Call(ctx, "roots/list", nil, &res); err != nil {
		sess.logger.Error().Err(err).Str("source", source).Msg("failed to request roots from client")
		return
	}
	if res.Roots == nil {
		sess.logger.Warn().Msg("client returned no roots set, keeping current settings")
		return
	}
	sess.server.sandbox.ApplyRoots(source, res.Roots)
}

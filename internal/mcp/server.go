// Package mcp serves the PDF tools over the Model Context Protocol (JSON-RPC 2.0).
package mcp

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qiuxsgit/pdf-mcp/internal/db"
	"github.com/qiuxsgit/pdf-mcp/internal/pdf"
	"github.com/qiuxsgit/pdf-mcp/internal/security"
	"github.com/qiuxsgit/pdf-mcp/internal/transport"
)

const (
	serverName    = "pdf-mcp"
	serverVersion = "0.1.0"
)

// AccessRecorder journals path decisions. *db.Store implements it; a nil *db.Store drops them.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, e db.AccessEntry) error
}

// Options configure a Server.
type Options struct {
	// IgnoreFile is the gitignore-style file consulted by find_pdf_files.
	IgnoreFile string
	Logger     zerolog.Logger
}

// Server answers MCP requests. It is shared by every session and by the
// stateless HTTP endpoint.
type Server struct {
	sandbox   *security.Sandbox
	extractor *pdf.Extractor
	journal   AccessRecorder
	opts      Options
	logger    zerolog.Logger
}

// NewServer returns a Server. journal may be nil.
func NewServer(sb *security.Sandbox, ex *pdf.Extractor, journal AccessRecorder, opts Options) *Server {
	return &Server{sandbox: sb, extractor: ex, journal: journal, opts: opts, logger: opts.Logger}
}

// NewSession starts a stateful session over a bidirectional connection.
// Call Serve to run it.
func (s *Server) NewSession(conn transport.Conn) *Session {
	id := uuid.NewString()
	return &Session{
		ID:       id,
		server:   s,
		conn:     conn,
		logger:   s.logger.With().Str("session", id).Logger(),
		pending:  make(map[string]chan *message),
		inflight: make(map[string]context.CancelFunc),
	}
}

// handle answers one request. sess is nil on the stateless HTTP endpoint.
func (s *Server) handle(ctx context.Context, sess *Session, msg *message) (any, *RPCError) {
	switch msg.Method {
	case "initialize":
		return s.handleInitialize(sess, msg.Params)
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return s.handleToolsList(), nil
	case "tools/call":
		return s.handleToolsCall(ctx, msg.Params)
	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: "Method not found"}
	}
}

// notify handles one notification. sess is nil on the stateless HTTP endpoint.
func (s *Server) notify(ctx context.Context, sess *Session, msg *message) {
	switch msg.Method {
	case "notifications/initialized", "initialized":
		if sess != nil {
			sess.onInitialized(ctx)
		}
	case "notifications/roots/list_changed":
		if sess != nil {
			sess.refreshRoots(ctx, "roots/list_changed")
		}
	case "notifications/cancelled":
		if sess != nil {
			var p cancelledParams
			if err := json.Unmarshal(msg.Params, &p); err == nil {
				sess.cancelRequest(p.RequestID, p.Reason)
			}
		}
	default:
		s.logger.Debug().Str("method", msg.Method).Msg("ignoring notification")
	}
}

func (s *Server) handleInitialize(sess *Session, params json.RawMessage) (*initResult, *RPCError) {
	var p initParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: "Invalid params"}
		}
	}
	if sess != nil {
		sess.setClient(p.ClientInfo, p.Capabilities.Roots != nil)
	}
	s.logger.Info().Str("client", p.ClientInfo.Name).Str("client_version", p.ClientInfo.Version).
		Bool("roots", p.Capabilities.Roots != nil).Msg("initialize")
	return &initResult{
		ProtocolVersion: negotiateVersion(p.ProtocolVersion),
		ServerInfo:      implementation{Name: serverName, Version: serverVersion},
	}, nil
}
